package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "single char", in: "A", want: "01000001"},
		{name: "two chars", in: "AB", want: "0100000101000010"},
		{name: "latin-1", in: "é", want: "11101001"},
		{name: "nul", in: "\x00", want: "00000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Len(t, got, len([]rune(tt.in))*Width)
		})
	}
}

func TestEncodeRejectsWideRunes(t *testing.T) {
	bits, err := Encode("ok✓")
	assert.Nil(t, bits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnencodable))

	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, '✓', encErr.Char)
	assert.Equal(t, 2, encErr.Index)
}

func TestParseBits(t *testing.T) {
	bits, err := ParseBits("0110")
	require.NoError(t, err)
	assert.Equal(t, Bits{Zero, One, One, Zero}, bits)

	for _, bad := range []string{"02x1", "1 0", "abc", "0101\n"} {
		_, err := ParseBits(bad)
		assert.ErrorIs(t, err, ErrMalformedPayload, bad)
	}
}

func TestDecode(t *testing.T) {
	bits, err := Encode("knit & purl")
	require.NoError(t, err)
	text, err := Decode(bits)
	require.NoError(t, err)
	assert.Equal(t, "knit & purl", text)

	_, err = Decode(MustParse("0101"))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
