package mjpeg

import (
	"bytes"
	"log/slog"
)

// FrameSink receives complete marker-delimited frames in byte-stream
// arrival order. The extractor calls it with the buffer lock released, so
// implementations are free to do decode work.
type FrameSink func(frame []byte)

// Extractor scans a Buffer for complete SOI..EOI frames and forwards them
// to a sink. It runs on a single background worker; the left-to-right scan
// guarantees frames are emitted strictly in arrival order.
type Extractor struct {
	buf   *Buffer
	sink  FrameSink
	log   *slog.Logger
	stats Stats
}

// NewExtractor creates an Extractor draining buf into sink. If log is nil,
// slog.Default() is used.
func NewExtractor(buf *Buffer, sink FrameSink, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		buf:   buf,
		sink:  sink,
		log:   log.With("component", "extractor"),
		stats: buf.stats,
	}
}

// Drain extracts every complete frame currently buffered. It holds the
// buffer lock only while scanning and copying; extracted frames are handed
// to the sink after the lock is released.
//
// Partial frames are retained for the next call unless they exceed
// MaxUnterminatedBytes, in which case the buffer is discarded and scanning
// restarts from empty. Marker pairs enclosing at most MinFrameBytes are
// removed but not emitted.
func (e *Extractor) Drain() {
	b := e.buf

	b.mu.Lock()
	var frames [][]byte
	for len(b.data) > MinFrameBytes {
		start := bytes.Index(b.data, soiMarker)
		if start < 0 {
			// No frame can ever begin in these bytes.
			b.clearLocked(ClearNoStart)
			break
		}

		// Need at least the marker itself past SOI+2 before an EOI
		// search can succeed; otherwise wait for more data.
		if len(b.data)-start < len(soiMarker)+len(eoiMarker) {
			break
		}

		rel := bytes.Index(b.data[start+len(soiMarker):], eoiMarker)
		if rel < 0 {
			if len(b.data) > MaxUnterminatedBytes {
				// The frame will never terminate; the stream has desynced.
				b.clearLocked(ClearUnterminated)
			}
			break
		}

		end := start + len(soiMarker) + rel + len(eoiMarker)
		if end <= start || end > len(b.data) {
			b.clearLocked(ClearDesync)
			break
		}

		frame := make([]byte, end-start)
		copy(frame, b.data[start:end])
		b.consume(end)

		if len(frame) <= MinFrameBytes {
			// Marker pair too close together to be an image. Not an
			// error: interleaved noise is expected on these feeds.
			e.stats.FrameDiscarded(len(frame))
			continue
		}

		e.stats.FrameExtracted(len(frame))
		frames = append(frames, frame)
	}
	b.mu.Unlock()

	for _, f := range frames {
		e.sink(f)
	}
}
