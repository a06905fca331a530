package feed

import "time"

// MaxRetries bounds automatic reconnect attempts. Once the count is
// exhausted only an explicit Start can try again; the count resets solely
// on a successful connect, never on a manual restart, which stops callers
// from hammering a dead server by mashing reconnect.
const MaxRetries = 5

const (
	maxBackoff = 10 * time.Second

	// cleanEOFDelay is the fixed fast-reconnect delay after a clean EOF,
	// the common case for proxies that idle-close long-lived responses.
	cleanEOFDelay = time.Second
)

// BackoffDelay returns the error-triggered reconnect delay for the given
// retry count: min(2^count, 10) seconds.
func BackoffDelay(retryCount int) time.Duration {
	if retryCount > 3 {
		return maxBackoff
	}
	return time.Duration(1<<uint(retryCount)) * time.Second
}

// scheduler carries the retry policy. The delays are fields rather than
// constants so tests can compress them; production clients always use
// newScheduler's values.
type scheduler struct {
	maxRetries int
	backoff    func(retryCount int) time.Duration
	eofDelay   time.Duration
}

func newScheduler() scheduler {
	return scheduler{
		maxRetries: MaxRetries,
		backoff:    BackoffDelay,
		eofDelay:   cleanEOFDelay,
	}
}
