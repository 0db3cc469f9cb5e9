package api

import (
	"sync"

	"github.com/web3devz/polytrader/internal/domain"
)

// replayLimit caps how many past events a late subscriber receives.
const replayLimit = 64

// eventHub drains each run's event channel and fans events out to stream
// subscribers. The engine blocks when its channel fills, so the hub always
// consumes; subscribers that fall behind are dropped instead.
type eventHub struct {
	mu   sync.Mutex
	runs map[string]*runFeed
}

type runFeed struct {
	history []domain.Event
	subs    map[chan domain.Event]struct{}
	closed  bool
}

func newEventHub() *eventHub {
	return &eventHub{runs: make(map[string]*runFeed)}
}

// consume drains events for a run until the channel closes. It is launched
// once per Start/Resume.
func (h *eventHub) consume(runID string, events <-chan domain.Event) {
	h.mu.Lock()
	feed, ok := h.runs[runID]
	if !ok || feed.closed {
		feed = &runFeed{subs: make(map[chan domain.Event]struct{})}
		if ok {
			// Resumed run: keep the pre-suspend history.
			feed.history = h.runs[runID].history
		}
		h.runs[runID] = feed
	}
	h.mu.Unlock()

	for ev := range events {
		h.mu.Lock()
		feed.history = append(feed.history, ev)
		if len(feed.history) > replayLimit {
			feed.history = feed.history[len(feed.history)-replayLimit:]
		}
		for sub := range feed.subs {
			select {
			case sub <- ev:
			default:
				delete(feed.subs, sub)
				close(sub)
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	feed.closed = true
	for sub := range feed.subs {
		close(sub)
	}
	feed.subs = make(map[chan domain.Event]struct{})
	h.mu.Unlock()
}

// subscribe returns buffered history plus a live channel. The channel is
// nil when the feed already ended.
func (h *eventHub) subscribe(runID string) ([]domain.Event, <-chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.runs[runID]
	if !ok {
		return nil, nil
	}
	history := make([]domain.Event, len(feed.history))
	copy(history, feed.history)

	if feed.closed {
		return history, nil
	}
	sub := make(chan domain.Event, replayLimit)
	feed.subs[sub] = struct{}{}
	return history, sub
}

// unsubscribe detaches a live subscriber.
func (h *eventHub) unsubscribe(runID string, sub <-chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.runs[runID]
	if !ok {
		return
	}
	for s := range feed.subs {
		if s == sub {
			delete(feed.subs, s)
			close(s)
			return
		}
	}
}
