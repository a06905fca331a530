// Package decode turns extracted JPEG frames into images at a bounded rate
// and hands them to a publish callback. Decode failures are dropped
// silently: a camera feed sheds corrupt frames as a matter of course and a
// bad frame says nothing about the health of the connection.
package decode

import (
	"bytes"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// MinInterval is the minimum spacing between decoded frames, capping
// publish rate at ~20 fps regardless of how fast frames arrive.
const MinInterval = 50 * time.Millisecond

// Decoder rate-limits and decodes frame bytes. Frames arriving faster than
// MinInterval are dropped before any decode work happens, which keeps the
// upstream buffer draining without burning CPU on images nobody will see.
type Decoder struct {
	log     *slog.Logger
	publish func(img image.Image)
	dropped func()
	failed  func()
	now     func() time.Time

	mu        sync.Mutex
	lastFrame time.Time
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithDropHook sets a callback invoked for each frame dropped by the rate gate.
func WithDropHook(fn func()) Option {
	return func(d *Decoder) { d.dropped = fn }
}

// WithFailureHook sets a callback invoked for each frame that fails to decode.
func WithFailureHook(fn func()) Option {
	return func(d *Decoder) { d.failed = fn }
}

// New creates a Decoder publishing decoded images via publish. If log is
// nil, slog.Default() is used.
func New(publish func(img image.Image), log *slog.Logger, opts ...Option) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	d := &Decoder{
		log:     log.With("component", "decoder"),
		publish: publish,
		dropped: func() {},
		failed:  func() {},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MaybeDecode decodes frame and publishes the image, unless the frame
// arrived within MinInterval of the last successful decode or the bytes do
// not decode. Either way the frame is consumed; the caller never retries.
func (d *Decoder) MaybeDecode(frame []byte) {
	d.mu.Lock()
	now := d.now()
	if !d.lastFrame.IsZero() && now.Sub(d.lastFrame) < MinInterval {
		d.mu.Unlock()
		d.dropped()
		return
	}
	d.mu.Unlock()

	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		d.log.Debug("frame decode failed", "bytes", len(frame), "error", err)
		d.failed()
		return
	}

	d.mu.Lock()
	d.lastFrame = now
	d.mu.Unlock()

	d.publish(img)
}

// Reset forgets the last decode time so the first frame of a new session
// publishes immediately.
func (d *Decoder) Reset() {
	d.mu.Lock()
	d.lastFrame = time.Time{}
	d.mu.Unlock()
}
