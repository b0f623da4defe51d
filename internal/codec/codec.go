// Package codec turns text into the bit sequence that is knitted into the
// textile, and validates bit strings coming off the wire.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Width is the number of bits produced for every character.
const Width = 8

var (
	// ErrUnencodable is returned for characters whose code point does not fit in Width bits.
	ErrUnencodable = errors.New("unencodable character")
	// ErrMalformedPayload is returned when a bit string contains anything other than '0' or '1'.
	ErrMalformedPayload = errors.New("malformed bit payload")
	// ErrEmptyPayload is returned for an append that carries no bits.
	ErrEmptyPayload = fmt.Errorf("%w: no bits", ErrMalformedPayload)
)

// Bit is a single stitch: Zero is knitted, One is purled.
type Bit uint8

const (
	Zero Bit = iota
	One
)

func (b Bit) String() string {
	if b == One {
		return "1"
	}
	return "0"
}

// Bits is an ordered bit sequence.
type Bits []Bit

// String renders the sequence in its wire form, e.g. "01000001".
func (bs Bits) String() string {
	var sb strings.Builder
	sb.Grow(len(bs))
	for _, b := range bs {
		if b == One {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// EncodingError reports the first character Encode could not represent.
type EncodingError struct {
	Char  rune
	Index int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("character %q (U+%04X) at index %d does not fit in %d bits", e.Char, e.Char, e.Index, Width)
}

func (e *EncodingError) Unwrap() error { return ErrUnencodable }

// Encode emits every character of text as its code point in Width bits,
// most significant bit first. Code points above 255 are rejected rather than
// truncated, and no partial output is returned.
func Encode(text string) (Bits, error) {
	out := make(Bits, 0, len(text)*Width)
	i := 0
	for _, r := range text {
		if r > 0xFF {
			return nil, &EncodingError{Char: r, Index: i}
		}
		for shift := Width - 1; shift >= 0; shift-- {
			out = append(out, Bit((r>>shift)&1))
		}
		i++
	}
	return out, nil
}

// Decode reverses Encode. The length of bits must be a multiple of Width.
func Decode(bits Bits) (string, error) {
	if len(bits)%Width != 0 {
		return "", fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedPayload, len(bits), Width)
	}
	var sb strings.Builder
	for i := 0; i < len(bits); i += Width {
		var r rune
		for _, b := range bits[i : i+Width] {
			r = r<<1 | rune(b)
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}

// ParseBits validates a wire bit string.
func ParseBits(s string) (Bits, error) {
	out := make(Bits, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
			out[i] = Zero
		case '1':
			out[i] = One
		default:
			return nil, fmt.Errorf("%w: symbol %q at index %d", ErrMalformedPayload, s[i], i)
		}
	}
	return out, nil
}

// MustParse is ParseBits for literals in tests and tables.
func MustParse(s string) Bits {
	bs, err := ParseBits(s)
	if err != nil {
		panic(err)
	}
	return bs
}
