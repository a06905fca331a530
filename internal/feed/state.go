package feed

import (
	"image"
	"sync"
)

// Status strings surfaced to consumers. The vocabulary is fixed; the UI
// layer renders these verbatim and never needs buffer, retry, or marker
// details.
const (
	MsgInvalidURL       = "Invalid URL"
	MsgReconnecting     = "Reconnecting..."
	MsgConnectionLost   = "Connection lost - retrying..."
	MsgDisconnected     = "Disconnected"
	MsgConnectionFailed = "Connection failed. Please check server."
)

// AuthRequiredMessage is the terminal status shown when a clean EOF arrives
// with a response URL that no longer matches the stream path, which this
// client reads as a redirect to a login page.
func AuthRequiredMessage(provider string) string {
	if provider == "" {
		provider = "Server"
	}
	return provider + " authentication required"
}

// State is the complete observable output of the client. Consumers render
// strictly from it: loading spinner, live frame, or offline message.
type State struct {
	CurrentImage image.Image
	IsLoading    bool
	IsStreaming  bool
	ErrorMessage string
}

// publisher holds the current State and fans snapshots out to subscribers.
// Delivery is latest-wins: each subscriber channel has capacity one and a
// slow subscriber sees the newest snapshot, not a backlog.
type publisher struct {
	mu     sync.Mutex
	state  State
	nextID int
	subs   map[int]chan State
}

func newPublisher() *publisher {
	return &publisher{subs: make(map[int]chan State)}
}

func (p *publisher) snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// update applies fn to the state under lock and notifies all subscribers.
func (p *publisher) update(fn func(*State)) {
	p.mu.Lock()
	fn(&p.state)
	s := p.state
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			// Evict the stale snapshot, then offer the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
	p.mu.Unlock()
}

// subscribe registers a new subscriber. The returned cancel func must be
// called to release it; after cancel the channel is closed.
func (p *publisher) subscribe() (<-chan State, func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	ch := make(chan State, 1)
	p.subs[id] = ch
	// Prime with the current state so subscribers need no separate poll.
	ch <- p.state
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}
