// Package feed implements the resilient client for a live camera feed
// delivered over HTTP as an unbounded stream of concatenated JPEG images.
// It owns the streaming request lifecycle, reassembles frames from the
// unframed byte stream, decodes them at a bounded rate, and publishes an
// observable state that is the only thing consumers ever see.
//
// One Client means one physical connection: the composition root constructs
// a single instance and hands it to every consumer that wants the feed.
package feed

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/camlink/camlink/internal/decode"
	"github.com/camlink/camlink/internal/metrics"
	"github.com/camlink/camlink/internal/mjpeg"
)

const readChunkSize = 32 * 1024

// Options configures a Client.
type Options struct {
	// Provider names the feed source in the authentication-required
	// status message. Defaults to "Server".
	Provider string

	// Metrics receives client telemetry. A private unregistered set is
	// created when nil.
	Metrics *metrics.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// HTTPClient overrides the transport, used by tests. The default
	// client disables compression and caps connections per host at one.
	HTTPClient *http.Client
}

// Client manages the camera-feed connection: start/stop/reconnect, frame
// reassembly, rate-capped decoding, and state publication. All methods are
// safe for concurrent use.
type Client struct {
	log      *slog.Logger
	provider string
	httpc    *http.Client
	m        *metrics.Metrics
	sched    scheduler
	pub      *publisher
	buf      *mjpeg.Buffer
	ext      *mjpeg.Extractor
	dec      *decode.Decoder

	baseCtx    context.Context
	baseCancel context.CancelFunc
	drainCh    chan struct{}
	workerDone chan struct{}

	mu             sync.Mutex
	active         bool
	requestedURL   string
	retryCount     int
	sess           *session
	reconnectTimer *time.Timer
}

// New creates a Client. Call Close when the process is done with the feed.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "feed")

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{
			Transport: &http.Transport{
				Proxy:              http.ProxyFromEnvironment,
				MaxConnsPerHost:    1,
				DisableCompression: true,
			},
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		log:        log,
		provider:   opts.Provider,
		httpc:      httpc,
		m:          m,
		sched:      newScheduler(),
		pub:        newPublisher(),
		baseCtx:    ctx,
		baseCancel: cancel,
		drainCh:    make(chan struct{}, 1),
		workerDone: make(chan struct{}),
	}

	c.buf = mjpeg.NewBuffer(m)
	c.dec = decode.New(c.publishImage, log,
		decode.WithDropHook(m.FramesRateLimited.Inc),
		decode.WithFailureHook(m.DecodeFailures.Inc),
	)
	c.ext = mjpeg.NewExtractor(c.buf, c.dec.MaybeDecode, log)

	go c.drainLoop()
	return c
}

// State returns the current published state.
func (c *Client) State() State {
	return c.pub.snapshot()
}

// Subscribe returns a channel of state snapshots plus a cancel func.
// Delivery is latest-wins: a subscriber that falls behind sees the newest
// state, never a backlog. The channel is primed with the current state.
func (c *Client) Subscribe() (<-chan State, func()) {
	return c.pub.subscribe()
}

// Stats returns a snapshot of the current session's transport counters.
func (c *Client) Stats() SessionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var st SessionStats
	if c.sess != nil {
		st = c.sess.stats()
	}
	st.Active = c.active
	st.RetryCount = c.retryCount
	return st
}

// Start begins streaming from rawURL. Calling Start while already streaming
// the same normalized URL is a no-op, so any number of consumers can ask
// for the feed without opening extra connections. Starting a different URL
// cancels the current session and replaces it.
//
// Start is rejected with a terminal "connection failed" state while the
// retry budget is exhausted; only a successful connect replenishes it.
func (c *Client) Start(rawURL string) {
	normalized := NormalizeURL(rawURL)
	u, err := url.Parse(normalized)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.log.Warn("rejecting invalid stream url", "url", rawURL)
		c.pub.update(func(st *State) {
			st.IsLoading = false
			st.IsStreaming = false
			st.ErrorMessage = MsgInvalidURL
		})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active && c.requestedURL == normalized {
		if st := c.pub.snapshot(); st.IsStreaming || st.IsLoading {
			c.log.Debug("already streaming", "url", normalized)
			return
		}
	}
	c.startLocked(u, normalized)
}

// startLocked is the single entry point for opening a connection, shared by
// Start and scheduled reconnects so both honor the retry budget.
func (c *Client) startLocked(u *url.URL, normalized string) {
	if c.retryCount >= c.sched.maxRetries {
		c.active = false
		c.m.ConnectionState.Set(metrics.StateDisconnected)
		c.log.Warn("retry budget exhausted, refusing to connect", "url", normalized, "retries", c.retryCount)
		c.pub.update(func(st *State) {
			st.IsLoading = false
			st.IsStreaming = false
			st.ErrorMessage = MsgConnectionFailed
		})
		return
	}

	c.stopTimerLocked()
	if c.sess != nil {
		c.sess.cancel()
	}
	c.buf.Clear()
	c.dec.Reset()

	sess := newSession(c.baseCtx, u)
	c.sess = sess
	c.active = true
	c.requestedURL = normalized

	c.m.ConnectionState.Set(metrics.StateConnecting)
	c.pub.update(func(st *State) {
		st.IsLoading = true
		st.ErrorMessage = ""
	})
	c.log.Info("connecting", "url", normalized, "session", sess.id, "retry", c.retryCount)

	go c.run(sess)
}

// Stop cancels any in-flight request and clears the buffer. Idempotent.
// Scheduled reconnects that fire afterward find the client inactive and
// no-op. The retry count survives a stop on purpose.
func (c *Client) Stop() {
	c.mu.Lock()
	c.active = false
	c.stopTimerLocked()
	if c.sess != nil {
		c.sess.cancel()
	}
	c.mu.Unlock()

	c.buf.Clear()
	c.m.ConnectionState.Set(metrics.StateIdle)
	c.pub.update(func(st *State) {
		st.IsLoading = false
		st.IsStreaming = false
	})
	c.log.Info("stream stopped")
}

// Close stops streaming, releases the current image, and shuts down the
// extraction worker. The Client is unusable afterward.
func (c *Client) Close() {
	c.Stop()
	c.baseCancel()
	<-c.workerDone
	c.pub.update(func(st *State) {
		st.CurrentImage = nil
	})
}

// run is the transport receive loop for one session: issue the streaming
// GET, then feed body chunks into the buffer until the body ends.
func (c *Client) run(s *session) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.requestURL.String(), nil)
	if err != nil {
		c.onComplete(s, err, nil)
		return
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.onComplete(s, err, nil)
		return
	}
	defer resp.Body.Close()

	// Any response metadata counts as connected, whatever the status
	// code: the body is the protocol here.
	c.onConnected(s, resp)
	finalURL := resp.Request.URL

	buf := make([]byte, readChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			s.recordRead(n)
			c.m.BytesReceived.Add(float64(n))
			c.m.ReadsTotal.Inc()
			c.buf.Append(buf[:n])
			c.signalDrain()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.onComplete(s, nil, finalURL)
			} else {
				c.onComplete(s, err, finalURL)
			}
			return
		}
	}
}

func (c *Client) onConnected(s *session, resp *http.Response) {
	c.mu.Lock()
	if s != c.sess || !c.active {
		c.mu.Unlock()
		return
	}
	c.retryCount = 0
	c.mu.Unlock()

	s.markConnected()
	c.m.ConnectionState.Set(metrics.StateStreaming)
	c.log.Info("connected", "session", s.id, "status", resp.StatusCode)
	c.pub.update(func(st *State) {
		st.IsLoading = false
		st.IsStreaming = true
		st.ErrorMessage = ""
	})
}

// onComplete classifies how a session ended and decides what happens next:
// backoff reconnect, fast reconnect, terminal failure, or nothing.
func (c *Client) onComplete(s *session, err error, finalURL *url.URL) {
	c.mu.Lock()

	// A replaced or stopped session's completion is expected fallout of
	// cancellation, not a signal.
	if s != c.sess || !c.active {
		c.mu.Unlock()
		return
	}

	if err != nil {
		if c.retryCount < c.sched.maxRetries {
			c.retryCount++
			delay := c.sched.backoff(c.retryCount)
			msg := MsgReconnecting
			if isTimeout(err) {
				msg = MsgConnectionLost
			}
			c.scheduleReconnectLocked(delay)
			c.mu.Unlock()

			c.m.ConnectionState.Set(metrics.StateReconnectPending)
			c.m.Reconnects.WithLabelValues("error").Inc()
			c.log.Warn("stream error, reconnect scheduled",
				"session", s.id, "delay", delay, "error", err)
			c.pub.update(func(st *State) {
				st.IsLoading = false
				st.IsStreaming = false
				st.ErrorMessage = msg
			})
			return
		}

		c.active = false
		c.mu.Unlock()
		c.m.ConnectionState.Set(metrics.StateDisconnected)
		c.log.Error("stream error with retries exhausted", "session", s.id, "error", err)
		c.pub.update(func(st *State) {
			st.IsLoading = false
			st.IsStreaming = false
			st.ErrorMessage = MsgDisconnected
		})
		return
	}

	// Clean EOF. A final response URL that wandered off the stream path
	// means we were redirected, almost always to a login page; retrying
	// would just loop against it.
	if finalURL != nil && finalURL.Path != s.requestURL.Path {
		c.active = false
		c.mu.Unlock()
		c.m.ConnectionState.Set(metrics.StateAuthRequired)
		c.log.Warn("response url diverged from stream path",
			"session", s.id, "requested", s.requestURL.Path, "final", finalURL.Path)
		c.pub.update(func(st *State) {
			st.IsLoading = false
			st.IsStreaming = false
			st.ErrorMessage = AuthRequiredMessage(c.provider)
		})
		return
	}

	// Matching URL: a benign idle-close. Reconnect quickly, and to the
	// original requested URL rather than whatever the response settled on.
	if c.retryCount < c.sched.maxRetries {
		c.retryCount++
		c.scheduleReconnectLocked(c.sched.eofDelay)
		c.mu.Unlock()

		c.m.ConnectionState.Set(metrics.StateReconnectPending)
		c.m.Reconnects.WithLabelValues("clean_eof").Inc()
		c.log.Info("stream ended cleanly, reconnecting", "session", s.id, "delay", c.sched.eofDelay)
		c.pub.update(func(st *State) {
			st.IsLoading = false
			st.IsStreaming = false
			st.ErrorMessage = MsgReconnecting
		})
		return
	}

	c.mu.Unlock()
	c.pub.update(func(st *State) {
		st.IsStreaming = false
	})
}

// scheduleReconnectLocked arms the reconnect timer. At fire time the timer
// re-checks active under lock, so a Stop issued during the delay turns the
// reconnect into a no-op.
func (c *Client) scheduleReconnectLocked(delay time.Duration) {
	c.stopTimerLocked()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.active {
			return
		}
		u, err := url.Parse(c.requestedURL)
		if err != nil {
			return
		}
		c.startLocked(u, c.requestedURL)
	})
}

func (c *Client) stopTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// drainLoop is the single extraction consumer. The transport read loop
// signals it after every append; coalescing the signals through a
// one-slot channel keeps extraction off the transport goroutine without
// queueing redundant scans.
func (c *Client) drainLoop() {
	defer close(c.workerDone)
	for {
		select {
		case <-c.baseCtx.Done():
			return
		case <-c.drainCh:
			c.ext.Drain()
		}
	}
}

func (c *Client) signalDrain() {
	select {
	case c.drainCh <- struct{}{}:
	default:
	}
}

// publishImage receives decoded frames from the decoder. Frames decoded
// after a stop are discarded rather than resurrecting streaming state.
func (c *Client) publishImage(img image.Image) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}

	c.m.FramesDecoded.Inc()
	c.pub.update(func(st *State) {
		st.CurrentImage = img
		st.IsStreaming = true
		st.ErrorMessage = ""
	})
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
