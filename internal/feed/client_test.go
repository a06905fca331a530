package feed

import (
	"bytes"
	"image/color"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamPath = "/api/camera-stream"

// jpegFrame encodes a small solid-color image; real JPEG bytes so the
// decode stage publishes it.
func jpegFrame(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(8, 6, color.NRGBA{R: 10, G: 180, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

// newTestClient returns a client with the reconnect delays compressed so
// tests observe multiple attempts quickly.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := New(Options{Provider: "Camera"})
	c.sched.backoff = func(int) time.Duration { return 15 * time.Millisecond }
	c.sched.eofDelay = 15 * time.Millisecond
	t.Cleanup(c.Close)
	return c
}

// streamServer serves streamPath with handler and counts connections.
func streamServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var conns atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc(streamPath, func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &conns
}

// holdOpen writes one frame and keeps the response open until the client
// goes away.
func holdOpen(t *testing.T) http.HandlerFunc {
	frame := jpegFrame(t)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write(frame)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}
}

func TestStartIdempotent(t *testing.T) {
	t.Parallel()
	srv, conns := streamServer(t, holdOpen(t))
	c := newTestClient(t)

	c.Start(srv.URL + streamPath)
	c.Start(srv.URL + streamPath)
	// A doubled-slash spelling of the same URL is the same stream.
	c.Start(srv.URL + "//api//camera-stream")

	require.Eventually(t, func() bool {
		return c.State().IsStreaming
	}, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), conns.Load(), "same URL must reuse the single connection")
}

func TestStartInvalidURL(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)

	c.Start("http://")

	st := c.State()
	assert.Equal(t, MsgInvalidURL, st.ErrorMessage)
	assert.False(t, st.IsLoading)
	assert.False(t, st.IsStreaming)
}

func TestFramesPublished(t *testing.T) {
	t.Parallel()
	frame := jpegFrame(t)
	srv, _ := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			w.Write(frame)
			f.Flush()
			time.Sleep(60 * time.Millisecond)
		}
		<-r.Context().Done()
	})
	c := newTestClient(t)

	ch, cancel := c.Subscribe()
	defer cancel()

	c.Start(srv.URL + streamPath)

	require.Eventually(t, func() bool {
		st := c.State()
		return st.IsStreaming && st.CurrentImage != nil
	}, 3*time.Second, 5*time.Millisecond)

	// The subscription sees the same state the poll does.
	var sawImage bool
	for !sawImage {
		select {
		case st := <-ch:
			sawImage = st.CurrentImage != nil
		case <-time.After(time.Second):
			t.Fatal("subscriber never saw a frame")
		}
	}

	stats := c.Stats()
	assert.Positive(t, stats.BytesReceived)
	assert.Positive(t, stats.ReadCount)
	assert.Equal(t, 0, stats.RetryCount)
}

func TestCleanEOFReconnects(t *testing.T) {
	t.Parallel()
	frame := jpegFrame(t)
	srv, conns := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(frame)
		// Returning ends the body cleanly: an idle-close, not an error.
	})
	c := newTestClient(t)

	c.Start(srv.URL + streamPath)

	// Each clean EOF schedules a fast reconnect, and each successful
	// connect resets the retry budget, so reconnection continues.
	require.Eventually(t, func() bool {
		return conns.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)

	c.Stop()
}

func TestAuthRedirectIsTerminal(t *testing.T) {
	t.Parallel()
	var streamHits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc(streamPath, func(w http.ResponseWriter, r *http.Request) {
		streamHits.Add(1)
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>sign in</html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newTestClient(t)
	c.Start(srv.URL + streamPath)

	require.Eventually(t, func() bool {
		return c.State().ErrorMessage == AuthRequiredMessage("Camera")
	}, 3*time.Second, 5*time.Millisecond)

	// No automatic retry against an auth page.
	hits := streamHits.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, hits, streamHits.Load())
	assert.False(t, c.State().IsStreaming)
}

func TestRetryExhaustionIsTerminal(t *testing.T) {
	t.Parallel()

	// A listener that is already closed: every dial fails immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadURL := "http://" + ln.Addr().String() + streamPath
	require.NoError(t, ln.Close())

	c := newTestClient(t)
	c.Start(deadURL)

	// Five failures consume the budget; the sixth scheduled attempt is
	// rejected without a network call and publishes the terminal state.
	require.Eventually(t, func() bool {
		return c.State().ErrorMessage == MsgConnectionFailed
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, MaxRetries, c.Stats().RetryCount)
	assert.False(t, c.Stats().Active)

	// A manual restart without an intervening success is rejected too.
	c.Start(deadURL)
	assert.Equal(t, MsgConnectionFailed, c.State().ErrorMessage)
}

func TestStopMakesScheduledRetryNoop(t *testing.T) {
	t.Parallel()
	frame := jpegFrame(t)
	srv, conns := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(frame)
	})
	c := newTestClient(t)
	c.sched.eofDelay = 80 * time.Millisecond

	c.Start(srv.URL + streamPath)

	// Wait for the first session to end and a reconnect to be pending.
	require.Eventually(t, func() bool {
		return conns.Load() == 1 && c.State().ErrorMessage == MsgReconnecting
	}, 3*time.Second, 5*time.Millisecond)

	c.Stop()
	st := c.State()
	require.False(t, st.IsStreaming)
	require.False(t, st.IsLoading)

	// Well past the scheduled delay: no new connection, no state change.
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int64(1), conns.Load())
	after := c.State()
	assert.Equal(t, st.IsStreaming, after.IsStreaming)
	assert.Equal(t, st.IsLoading, after.IsLoading)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	c.Stop()
	c.Stop()
	st := c.State()
	assert.False(t, st.IsStreaming)
	assert.False(t, st.IsLoading)
}

func TestTimeoutClassification(t *testing.T) {
	t.Parallel()
	assert.True(t, isTimeout(&net.DNSError{IsTimeout: true}))
	assert.False(t, isTimeout(assert.AnError))
}
