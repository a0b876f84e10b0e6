package jobs

import (
	"log/slog"
	"sync"
	"time"
)

// FeedEventType names a job lifecycle transition.
type FeedEventType string

const (
	EventSubmitted FeedEventType = "submitted"
	EventProgress  FeedEventType = "progress"
	EventCancelled FeedEventType = "cancelled"
	EventReleased  FeedEventType = "released"
)

// FeedEvent is a job lifecycle notification.
type FeedEvent struct {
	Type  FeedEventType `json:"type"`
	JobID string        `json:"job_id"`
	Meta  *Meta         `json:"meta,omitempty"`
	Page  int           `json:"page,omitempty"`
	Total int           `json:"total,omitempty"`
	Time  time.Time     `json:"timestamp"`
}

// Feed fans job lifecycle events out to subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Feed struct {
	mu      sync.RWMutex
	subs    map[chan FeedEvent]struct{}
	bufSize int
	logger  *slog.Logger
}

// NewFeed creates a feed whose subscribers buffer up to bufSize events.
func NewFeed(bufSize int, logger *slog.Logger) *Feed {
	if bufSize <= 0 {
		bufSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		subs:    make(map[chan FeedEvent]struct{}),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Subscribe returns a channel of events and a function that ends the subscription.
func (f *Feed) Subscribe() (<-chan FeedEvent, func()) {
	ch := make(chan FeedEvent, f.bufSize)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	count := len(f.subs)
	f.mu.Unlock()
	f.logger.Debug("feed subscriber added", "subscribers", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with room for it.
func (f *Feed) Publish(ev FeedEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("feed subscriber lagging, dropping event", "type", ev.Type, "job_id", ev.JobID)
		}
	}
}

// Subscribers returns the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
