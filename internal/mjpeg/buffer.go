package mjpeg

import "sync"

// Stats receives accounting callbacks from the buffer and extractor. All
// methods must be safe for concurrent use. A nil *Stats-style implementation
// is not supported; use Nop for tests that don't care.
type Stats interface {
	BufferCleared(reason string, droppedBytes int)
	FrameExtracted(size int)
	FrameDiscarded(size int)
}

// Nop is a Stats implementation that records nothing.
type Nop struct{}

func (Nop) BufferCleared(string, int) {}
func (Nop) FrameExtracted(int)        {}
func (Nop) FrameDiscarded(int)        {}

// Buffer accumulates raw bytes from the transport until the extractor can
// carve complete frames out of them. It is owned jointly by one producer
// (the transport read loop) and one consumer (the extraction worker); the
// mutex is the sole synchronization point between them and is never held
// across decode work.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	stats Stats
}

// NewBuffer creates an empty buffer reporting to stats.
func NewBuffer(stats Stats) *Buffer {
	if stats == nil {
		stats = Nop{}
	}
	return &Buffer{stats: stats}
}

// Append adds transport bytes to the buffer. If the total size exceeds
// MaxBufferBytes the entire buffer is discarded: a well-behaved server
// produces a complete frame long before the cap, so hitting it means the
// marker protocol has desynced and the accumulated bytes are garbage.
func (b *Buffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) > MaxBufferBytes {
		b.clearLocked(ClearOverflow)
	}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Clear discards all buffered bytes. Called on session start and stop so a
// new connection never scans leftovers from the previous one.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked(ClearReset)
}

func (b *Buffer) clearLocked(reason string) {
	if len(b.data) == 0 {
		return
	}
	b.stats.BufferCleared(reason, len(b.data))
	b.data = b.data[:0]
}

// consume removes n bytes from the front, compacting in place so the
// backing array never outgrows what Append allocated.
func (b *Buffer) consume(n int) {
	b.data = b.data[:copy(b.data, b.data[n:])]
}
