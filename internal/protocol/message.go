// Package protocol defines the messages exchanged between the knit server and
// its clients, and how they are framed on a websocket.
package protocol

import (
	"fmt"

	"collabknit/internal/codec"
	"collabknit/internal/palette"
	"collabknit/internal/textile"
)

type Type string

const (
	TypeAssignColor Type = "assign-color" // server -> client
	TypeSnapshot    Type = "snapshot"     // server -> client
	TypeDelta       Type = "delta"        // server -> client
	TypeAppend      Type = "append"       // client -> server
)

// Message is the envelope for every frame. Which fields are set depends on Type:
//
//	assign-color  Color
//	snapshot      Bits, Colors (same length)
//	delta         Bits, Color, Offset
//	append        Bits
type Message struct {
	Type   Type          `json:"type" msgpack:"type"`
	Bits   string        `json:"bits,omitempty" msgpack:"bits,omitempty"`
	Color  *palette.RGB  `json:"color,omitempty" msgpack:"color,omitempty"`
	Colors []palette.RGB `json:"colors,omitempty" msgpack:"colors,omitempty"`
	// Offset is the log index of the first bit of a delta.
	Offset *int `json:"offset,omitempty" msgpack:"offset,omitempty"`
}

func AssignColor(c palette.RGB) Message {
	return Message{Type: TypeAssignColor, Color: &c}
}

func Snapshot(bits codec.Bits, colors []palette.RGB) Message {
	return Message{Type: TypeSnapshot, Bits: bits.String(), Colors: colors}
}

// SnapshotOf captures l in a snapshot message.
func SnapshotOf(l *textile.Log) Message {
	return Snapshot(l.Snapshot())
}

func Delta(bits codec.Bits, c palette.RGB, offset int) Message {
	return Message{Type: TypeDelta, Bits: bits.String(), Color: &c, Offset: &offset}
}

func Append(bits codec.Bits) Message {
	return Message{Type: TypeAppend, Bits: bits.String()}
}

// Validate checks that the fields required by the message type are present.
func (m Message) Validate() error {
	switch m.Type {
	case TypeAssignColor:
		if m.Color == nil {
			return fmt.Errorf("%s: missing color", m.Type)
		}
	case TypeSnapshot:
		if len(m.Bits) != len(m.Colors) {
			return fmt.Errorf("%s: %d bits but %d colors", m.Type, len(m.Bits), len(m.Colors))
		}
	case TypeDelta:
		if m.Color == nil {
			return fmt.Errorf("%s: missing color", m.Type)
		}
	case TypeAppend:
		if m.Bits == "" {
			return fmt.Errorf("%s: %w", m.Type, codec.ErrEmptyPayload)
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if _, err := codec.ParseBits(m.Bits); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	return nil
}
