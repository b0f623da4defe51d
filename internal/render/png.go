package render

import (
	"io"
	"math"

	"github.com/fogleman/gg"

	"collabknit/internal/codec"
	"collabknit/internal/textile"
)

const (
	stitchSize    = 30
	ellipseLength = 2.5
	ellipseWidth  = 1.3
	margin        = 16
)

// Image draws entries onto a gg context, cols stitches per row.
func Image(entries []textile.Entry, cols int) *gg.Context {
	if cols <= 0 {
		cols = 32
	}
	rows := (len(entries) + cols - 1) / cols
	if rows == 0 {
		rows = 1
	}
	dc := gg.NewContext(cols*stitchSize, rows*stitchSize+2*margin)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for i, e := range entries {
		row, col := Position(i, cols)
		x := float64(col*stitchSize) + stitchSize/2
		y := float64(row*stitchSize) + margin + stitchSize/2
		c := StitchColor(e)
		dc.SetRGB255(int(c[0]), int(c[1]), int(c[2]))
		if e.Bit == codec.One {
			drawPurl(dc, x, y)
		} else {
			drawKnit(dc, x, y)
		}
	}
	return dc
}

// WritePNG exports entries as a PNG image.
func WritePNG(w io.Writer, entries []textile.Entry, cols int) error {
	return Image(entries, cols).EncodePNG(w)
}

// drawKnit draws the two legs of a knit stitch as a V.
func drawKnit(dc *gg.Context, x, y float64) {
	r := stitchSize / 2.0
	leg(dc, x-5, y, math.Pi/3, r*ellipseLength/2, r*ellipseWidth/2)
	leg(dc, x+5, y, -math.Pi/3, r*ellipseLength/2, r*ellipseWidth/2)
}

// drawPurl draws the bump of a purl stitch.
func drawPurl(dc *gg.Context, x, y float64) {
	r := stitchSize / 2.0
	leg(dc, x-5, y, math.Pi/1.2, r*ellipseLength/1.1/2, r*ellipseWidth/2)
	leg(dc, x+5, y, -math.Pi/1.2, r*ellipseLength/1.1/2, r*ellipseWidth/2)
}

func leg(dc *gg.Context, x, y, angle, rx, ry float64) {
	dc.Push()
	dc.RotateAbout(angle, x, y)
	dc.DrawEllipse(x, y, rx, ry)
	dc.Fill()
	dc.Pop()
}
