// Package render draws the replicated textile: knit stitches for zeros, purl
// stitches for ones, each in its contributor's color.
package render

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"collabknit/internal/codec"
	"collabknit/internal/palette"
	"collabknit/internal/replica"
	"collabknit/internal/textile"
)

const (
	knitGlyph = "v"
	purlGlyph = "-"
	// PurlShade darkens purl stitches relative to knit stitches.
	PurlShade = 0.7
)

// StitchColor is the color a stitch is drawn in.
func StitchColor(e textile.Entry) palette.RGB {
	if e.Bit == codec.One {
		return e.Color.Darken(PurlShade)
	}
	return e.Color
}

// Position maps a stitch index onto a grid of width columns. Rows alternate
// direction, the way a flat piece is knitted back and forth.
func Position(i, width int) (row, col int) {
	row = i / width
	col = i % width
	if row%2 == 1 {
		col = width - 1 - col
	}
	return row, col
}

// Terminal prints stitches as they arrive, one row per line. It is a
// replica.Observer: each update becomes a batch that is drawn on its own
// goroutine, and a snapshot cancels whatever batch is still being drawn.
type Terminal struct {
	out   io.Writer
	width int
	delay time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	grid    [][]string
	drawn   int
	pending chan batch
	done    chan struct{}
}

type batch struct {
	ctx    context.Context
	update replica.Update
}

// NewTerminal draws rows of width stitches to out. A non-zero delay animates
// the textile one stitch at a time.
func NewTerminal(out io.Writer, width int, delay time.Duration) *Terminal {
	if width <= 0 {
		width = 32
	}
	t := &Terminal{
		out:     out,
		width:   width,
		delay:   delay,
		ctx:     context.Background(),
		cancel:  func() {},
		pending: make(chan batch, 64),
		done:    make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Terminal) Observe(u replica.Update) {
	t.mu.Lock()
	if u.Reset {
		t.cancel()
		t.ctx, t.cancel = context.WithCancel(context.Background())
	}
	ctx := t.ctx
	t.mu.Unlock()
	t.pending <- batch{ctx: ctx, update: u}
}

// Close stops drawing once queued batches are done and prints the last,
// partial row.
func (t *Terminal) Close() {
	close(t.pending)
	<-t.done
	if t.drawn%t.width != 0 {
		t.flushRow(len(t.grid) - 1)
	}
}

func (t *Terminal) loop() {
	defer close(t.done)
	for b := range t.pending {
		if b.update.Reset {
			t.reset()
		}
		t.draw(b.ctx, b.update.Entries)
	}
}

func (t *Terminal) reset() {
	t.grid = nil
	t.drawn = 0
	io.WriteString(t.out, "\n")
}

func (t *Terminal) draw(ctx context.Context, entries []textile.Entry) {
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		row, col := Position(t.drawn, t.width)
		for len(t.grid) <= row {
			t.grid = append(t.grid, blankRow(t.width))
		}
		t.grid[row][col] = Stitch(e)
		t.drawn++
		if t.delay > 0 {
			select {
			case <-time.After(t.delay):
			case <-ctx.Done():
				return
			}
		}
		if t.drawn%t.width == 0 {
			t.flushRow(row)
		}
	}
}

func (t *Terminal) flushRow(row int) {
	io.WriteString(t.out, strings.TrimRight(strings.Join(t.grid[row], ""), " ")+"\n")
}

func blankRow(width int) []string {
	cells := make([]string, width)
	for c := range cells {
		cells[c] = " "
	}
	return cells
}

// Stitch renders a single entry as a colored glyph.
func Stitch(e textile.Entry) string {
	glyph := knitGlyph
	if e.Bit == codec.One {
		glyph = purlGlyph
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(StitchColor(e).Hex())).Render(glyph)
}
