// Package mjpeg reassembles complete JPEG frames from an unframed byte
// stream. The feed carries concatenated JPEG images with no multipart
// boundaries or length headers; the only delimiters are the JPEG
// Start-Of-Image and End-Of-Image markers, which this package treats as an
// ad hoc framing protocol. Arbitrary chunk splits, garbage between frames,
// and servers that never emit a valid marker are all handled locally by
// discarding and rescanning rather than surfacing errors.
package mjpeg

// Byte limits that keep the accumulator bounded against a desynced or
// hostile server. A buffer that grows past MaxBufferBytes, or a frame that
// fails to terminate within MaxUnterminatedBytes, is discarded wholesale
// and scanning resumes from empty.
const (
	MaxBufferBytes       = 1_000_000
	MaxUnterminatedBytes = 500_000

	// MinFrameBytes is the smallest byte range treated as a real frame.
	// Marker pairs enclosing fewer bytes are stray noise, not images.
	MinFrameBytes = 100
)

// JPEG entropy-coded data never contains 0xFFD8 or 0xFFD9 (0xFF is always
// stuffed with 0x00), so a naive byte scan for the markers is safe.
var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// Clear reasons reported to the stats sink when the buffer is discarded.
const (
	ClearOverflow     = "overflow"
	ClearNoStart      = "no_start_marker"
	ClearUnterminated = "unterminated_frame"
	ClearDesync       = "desync"
	ClearReset        = "reset"
)
