package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocols a client may ask for. A client that asks for none
// (the browser front-end) gets JSON.
const (
	SubprotocolJSON    = "knit.json"
	SubprotocolMsgpack = "knit.msgpack"
)

var Subprotocols = []string{SubprotocolJSON, SubprotocolMsgpack}

// Codec frames messages for one websocket connection.
type Codec interface {
	Name() string
	// FrameType is the websocket message type written by Marshal.
	FrameType() int
	Marshal(Message) ([]byte, error)
	Unmarshal([]byte, *Message) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return SubprotocolJSON }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Marshal(m Message) ([]byte, error) { return json.Marshal(m) }

func (jsonCodec) Unmarshal(p []byte, m *Message) error { return json.Unmarshal(p, m) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return SubprotocolMsgpack }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Marshal(m Message) ([]byte, error) { return msgpack.Marshal(m) }

func (msgpackCodec) Unmarshal(p []byte, m *Message) error { return msgpack.Unmarshal(p, m) }

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// ForSubprotocol picks the codec negotiated on a connection.
func ForSubprotocol(name string) Codec {
	if name == SubprotocolMsgpack {
		return Msgpack
	}
	return JSON
}

// Decode unmarshals and validates one frame.
func Decode(c Codec, p []byte) (Message, error) {
	var m Message
	if err := c.Unmarshal(p, &m); err != nil {
		return Message{}, fmt.Errorf("decode %s frame: %w", c.Name(), err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
