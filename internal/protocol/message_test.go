package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabknit/internal/codec"
	"collabknit/internal/palette"
)

var pink = palette.RGB{255, 150, 200}

func TestJSONWireShape(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "assign color",
			msg:  AssignColor(pink),
			want: `{"type":"assign-color","color":[255,150,200]}`,
		},
		{
			name: "snapshot",
			msg:  Snapshot(codec.MustParse("01"), []palette.RGB{pink, pink}),
			want: `{"type":"snapshot","bits":"01","colors":[[255,150,200],[255,150,200]]}`,
		},
		{
			name: "delta",
			msg:  Delta(codec.MustParse("1"), pink, 7),
			want: `{"type":"delta","bits":"1","color":[255,150,200],"offset":7}`,
		},
		{
			name: "append",
			msg:  Append(codec.MustParse("0100")),
			want: `{"type":"append","bits":"0100"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := JSON.Marshal(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `01000001`},
		{name: "unknown type", raw: `{"type":"erase","bits":"0"}`},
		{name: "bad bits", raw: `{"type":"append","bits":"02x1"}`},
		{name: "snapshot length mismatch", raw: `{"type":"snapshot","bits":"01","colors":[[1,2,3]]}`},
		{name: "delta without color", raw: `{"type":"delta","bits":"01"}`},
		{name: "empty append", raw: `{"type":"append","bits":""}`},
		{name: "append without bits", raw: `{"type":"append"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(JSON, []byte(tt.raw))
			assert.Error(t, err)
		})
	}

	_, err := Decode(JSON, []byte(`{"type":"append","bits":"02x1"}`))
	assert.ErrorIs(t, err, codec.ErrMalformedPayload)

	_, err = Decode(JSON, []byte(`{"type":"append","bits":""}`))
	assert.ErrorIs(t, err, codec.ErrEmptyPayload)
	assert.ErrorIs(t, err, codec.ErrMalformedPayload)
}

func TestMsgpackCarriesDelta(t *testing.T) {
	raw, err := Msgpack.Marshal(Delta(codec.MustParse("0110"), pink, 3))
	require.NoError(t, err)

	m, err := Decode(Msgpack, raw)
	require.NoError(t, err)
	assert.Equal(t, TypeDelta, m.Type)
	assert.Equal(t, "0110", m.Bits)
	require.NotNil(t, m.Color)
	assert.Equal(t, pink, *m.Color)
	require.NotNil(t, m.Offset)
	assert.Equal(t, 3, *m.Offset)
}

func TestForSubprotocol(t *testing.T) {
	assert.Equal(t, Msgpack, ForSubprotocol(SubprotocolMsgpack))
	assert.Equal(t, JSON, ForSubprotocol(SubprotocolJSON))
	assert.Equal(t, JSON, ForSubprotocol(""))
}
