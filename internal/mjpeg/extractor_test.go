package mjpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFrame builds SOI + payloadLen filler bytes + EOI. The filler never
// contains 0xFF so it cannot alias a marker.
func testFrame(payloadLen int, fill byte) []byte {
	f := make([]byte, 0, payloadLen+4)
	f = append(f, soiMarker...)
	for i := 0; i < payloadLen; i++ {
		f = append(f, fill)
	}
	return append(f, eoiMarker...)
}

// noise returns n marker-free bytes.
func noise(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0x01
	}
	return out
}

type collector struct {
	frames [][]byte
}

func (c *collector) sink(frame []byte) {
	c.frames = append(c.frames, frame)
}

func newTestExtractor(stats Stats) (*Buffer, *Extractor, *collector) {
	b := NewBuffer(stats)
	c := &collector{}
	return b, NewExtractor(b, c.sink, nil), c
}

// feed appends the stream in the given chunk sizes, draining after each
// chunk the way the connection manager does after each transport read.
func feed(b *Buffer, e *Extractor, stream []byte, chunkSize int) {
	for len(stream) > 0 {
		n := chunkSize
		if n > len(stream) {
			n = len(stream)
		}
		b.Append(stream[:n])
		e.Drain()
		stream = stream[n:]
	}
}

func TestExtractorOrderAndNoiseFiltering(t *testing.T) {
	t.Parallel()

	// [noise][A:150B payload][B:50B payload][C:200B payload] — B is below
	// the minimum frame size and must be silently dropped; the noise
	// before A must be discarded. The result is identical for every
	// chunking of the same byte stream.
	frameA := testFrame(150, 0xAA)
	frameB := testFrame(50, 0xBB)
	frameC := testFrame(200, 0xCC)

	var stream []byte
	stream = append(stream, noise(37)...)
	stream = append(stream, frameA...)
	stream = append(stream, frameB...)
	stream = append(stream, frameC...)

	for _, chunkSize := range []int{1, len(stream)/3 + 1, len(stream)} {
		b, e, c := newTestExtractor(nil)
		feed(b, e, stream, chunkSize)

		require.Len(t, c.frames, 2, "chunk size %d", chunkSize)
		assert.Equal(t, frameA, c.frames[0])
		assert.Equal(t, frameC, c.frames[1])
	}
}

func TestExtractorNoStartMarkerClears(t *testing.T) {
	t.Parallel()
	stats := newRecordingStats()
	b, e, c := newTestExtractor(stats)

	b.Append(noise(500))
	e.Drain()

	assert.Equal(t, 0, b.Len())
	assert.Empty(t, c.frames)
	assert.Equal(t, 1, stats.clearCount(ClearNoStart))
}

func TestExtractorRetainsPartialFrame(t *testing.T) {
	t.Parallel()
	b, e, c := newTestExtractor(nil)

	// SOI plus payload but no EOI yet: everything is retained.
	partial := testFrame(300, 0xAA)
	split := len(partial) - 2
	b.Append(partial[:split])
	e.Drain()
	assert.Equal(t, split, b.Len())
	assert.Empty(t, c.frames)

	// The EOI arrives and the frame completes.
	b.Append(partial[split:])
	e.Drain()
	require.Len(t, c.frames, 1)
	assert.Equal(t, partial, c.frames[0])
	assert.Equal(t, 0, b.Len())
}

func TestExtractorUnterminatedFrameClears(t *testing.T) {
	t.Parallel()
	stats := newRecordingStats()
	b, e, c := newTestExtractor(stats)

	// A frame that never terminates within the bound poisons the buffer.
	b.Append(soiMarker)
	b.Append(noise(MaxUnterminatedBytes + 10))
	e.Drain()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, c.frames)
	assert.Equal(t, 1, stats.clearCount(ClearUnterminated))

	// A valid frame after the discard is still extracted.
	frame := testFrame(150, 0xAA)
	b.Append(frame)
	e.Drain()
	require.Len(t, c.frames, 1)
	assert.Equal(t, frame, c.frames[0])
}

func TestExtractorTinyFrameDropped(t *testing.T) {
	t.Parallel()
	stats := newRecordingStats()
	b, e, c := newTestExtractor(stats)

	small := testFrame(20, 0xBB)
	big := testFrame(150, 0xCC)
	b.Append(small)
	b.Append(big)
	e.Drain()

	require.Len(t, c.frames, 1)
	assert.Equal(t, big, c.frames[0])
	assert.Equal(t, []int{len(small)}, stats.discarded)
	assert.Equal(t, 0, b.Len())
}

func TestExtractorWaitsForSearchableBytes(t *testing.T) {
	t.Parallel()
	b, e, c := newTestExtractor(nil)

	// Noise pushes the buffer over the drain threshold, but only the SOI
	// itself has arrived: nothing to search yet, bytes are retained.
	b.Append(noise(MinFrameBytes + 10))
	b.Append(soiMarker)
	e.Drain()

	assert.Equal(t, MinFrameBytes+10+2, b.Len())
	assert.Empty(t, c.frames)
}

func TestExtractorBackToBackFramesSingleDrain(t *testing.T) {
	t.Parallel()
	b, e, c := newTestExtractor(nil)

	var stream []byte
	want := make([][]byte, 0, 5)
	for i := 0; i < 5; i++ {
		f := testFrame(120+i, byte(0xA0+i))
		want = append(want, f)
		stream = append(stream, f...)
	}
	b.Append(stream)
	e.Drain()

	require.Len(t, c.frames, 5)
	for i, f := range want {
		assert.Equal(t, f, c.frames[i], "frame %d", i)
	}
}
