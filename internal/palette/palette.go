package palette

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var ErrEmptyPalette = errors.New("palette has no colors")

// RGB is a contributor color. It marshals to JSON as [r,g,b].
type RGB [3]uint8

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// Darken scales each channel by factor, clamped to 0..255. Purl stitches are
// drawn with Darken(0.7).
func (c RGB) Darken(factor float64) RGB {
	var out RGB
	for i, v := range c {
		x := float64(v) * factor
		switch {
		case x < 0:
			x = 0
		case x > 255:
			x = 255
		}
		out[i] = uint8(x)
	}
	return out
}

type Palette []RGB

// Default is the rotation handed out to connections when nothing is configured.
var Default = Palette{
	{255, 150, 200},
	{150, 200, 255},
	{200, 255, 150},
	{255, 220, 150},
}

// ParsePalette reads "r,g,b;r,g,b;..." as used by KNIT_PALETTE and -palette.
func ParsePalette(s string) (Palette, error) {
	var p Palette
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("color %q: want 3 components, got %d", part, len(fields))
		}
		var c RGB
		for i, f := range fields {
			v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
			if err != nil {
				return nil, fmt.Errorf("color %q: %w", part, err)
			}
			c[i] = uint8(v)
		}
		p = append(p, c)
	}
	if len(p) == 0 {
		return nil, ErrEmptyPalette
	}
	return p, nil
}

// Allocator hands out colors round-robin, one per connection, for the life of
// the process. The counter is never reset, so disconnects do not give colors back.
type Allocator struct {
	mu      sync.Mutex
	palette Palette
	issued  uint64
}

func NewAllocator(p Palette) (*Allocator, error) {
	if len(p) == 0 {
		return nil, ErrEmptyPalette
	}
	cp := make(Palette, len(p))
	copy(cp, p)
	return &Allocator{palette: cp}, nil
}

// Next returns palette[issued mod len] and advances the counter.
func (a *Allocator) Next() RGB {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.palette[a.issued%uint64(len(a.palette))]
	a.issued++
	return c
}

// Issued is the number of colors handed out so far.
func (a *Allocator) Issued() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issued
}
