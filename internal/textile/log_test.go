package textile

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabknit/internal/codec"
	"collabknit/internal/palette"
)

var (
	pink = palette.RGB{255, 150, 200}
	blue = palette.RGB{150, 200, 255}
)

func TestAppendAndSnapshot(t *testing.T) {
	l := New()

	off, err := l.Append(codec.MustParse("01"), pink)
	require.NoError(t, err)
	assert.Equal(t, 0, off)

	off, err = l.Append(codec.MustParse("110"), blue)
	require.NoError(t, err)
	assert.Equal(t, 2, off)

	bits, colors := l.Snapshot()
	assert.Equal(t, "01110", bits.String())
	assert.Equal(t, []palette.RGB{pink, pink, blue, blue, blue}, colors)
	assert.Equal(t, 5, l.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	_, err := l.Append(codec.MustParse("1"), pink)
	require.NoError(t, err)

	bits, colors := l.Snapshot()
	bits[0] = codec.Zero
	colors[0] = blue

	assert.Equal(t, []Entry{{Bit: codec.One, Color: pink}}, l.Entries(0))
}

func TestEmptySnapshot(t *testing.T) {
	bits, colors := New().Snapshot()
	assert.Len(t, bits, 0)
	assert.Len(t, colors, 0)
}

func TestEntries(t *testing.T) {
	l := New()
	_, err := l.Append(codec.MustParse("0101"), pink)
	require.NoError(t, err)

	assert.Len(t, l.Entries(-1), 4)
	assert.Equal(t, []Entry{{codec.Zero, pink}, {codec.One, pink}}, l.Entries(2))
	assert.Nil(t, l.Entries(4))
	assert.Nil(t, l.Entries(10))
}

func TestCapacity(t *testing.T) {
	l := New(WithCapacity(8))

	_, err := l.Append(codec.MustParse("010101"), pink)
	require.NoError(t, err)

	off, err := l.Append(codec.MustParse("111"), blue)
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, 6, off)
	assert.Equal(t, 6, l.Len())

	_, err = l.Append(codec.MustParse("11"), blue)
	require.NoError(t, err)
	assert.Equal(t, 8, l.Len())
}

func TestConcurrentAppendsStayContiguous(t *testing.T) {
	l := New()
	colors := []palette.RGB{pink, blue}

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(c palette.RGB) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = l.Append(codec.MustParse("01000001"), c)
			}
		}(colors[w])
	}
	wg.Wait()

	entries := l.Entries(0)
	require.Len(t, entries, 2*100*8)
	for i := 0; i < len(entries); i += 8 {
		for _, e := range entries[i : i+8] {
			assert.Equal(t, entries[i].Color, e.Color, "append split at %d", i)
		}
	}
}
