package feed

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionStats is a point-in-time snapshot of the current streaming
// attempt, exposed via the status API for diagnosing source health.
type SessionStats struct {
	SessionID     string `json:"sessionId"`
	URL           string `json:"url"`
	Active        bool   `json:"active"`
	RetryCount    int    `json:"retryCount"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
}

// session is one logical streaming attempt. Creating a new session
// implicitly obsoletes the previous one: completion callbacks compare
// their session against the client's current one and no-op when stale.
type session struct {
	id         string
	requestURL *url.URL
	startedAt  time.Time
	ctx        context.Context
	cancel     context.CancelFunc

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	connectedAt   atomic.Int64 // unix ms, 0 until first response metadata
}

func newSession(parent context.Context, u *url.URL) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		id:         uuid.NewString(),
		requestURL: u,
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// recordRead accounts one successful transport read of n bytes.
func (s *session) recordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

func (s *session) markConnected() {
	s.connectedAt.Store(time.Now().UnixMilli())
}

func (s *session) stats() SessionStats {
	st := SessionStats{
		SessionID:     s.id,
		URL:           s.requestURL.String(),
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.connectedAt.Load(),
	}
	if st.ConnectedAt > 0 {
		st.UptimeMs = time.Now().UnixMilli() - st.ConnectedAt
	}
	return st
}
