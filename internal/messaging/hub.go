package messaging

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mmcdole/reelcache/internal/domain"
)

const defaultBuffer = 16

// Hub fans notifications out to every subscriber. Delivery never blocks the
// sender: a subscriber whose buffer is full misses the message.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates a hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*Subscription]struct{})}
}

// Subscription is one listener's view of the hub.
type Subscription struct {
	C <-chan Message

	ch      chan Message
	hub     *Hub
	once    sync.Once
	dropped atomic.Int64
}

// Dropped returns how many messages were skipped because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe registers a listener. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Message, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast delivers msg to every subscriber and returns how many received it.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			sub.dropped.Add(1)
			h.logger.Debug("subscriber buffer full, dropping message", "kind", msg.Kind)
		}
	}
	return delivered
}

// Close detaches and closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// OnProgress turns sync progress into lifecycle notifications, so a hub can
// be handed to anything that reports through domain.SyncObserver.
func (h *Hub) OnProgress(p domain.SyncProgress) {
	switch {
	case p.Stage == domain.SyncStageStarted:
		h.Broadcast(SyncStarted().WithTag(SyncTagStore))
	case p.Done && p.Error != nil:
		h.Broadcast(SyncFailed(p.Error).WithTag(SyncTagStore))
	case p.Done:
		h.Broadcast(SyncSucceeded(p.Videos).WithTag(SyncTagStore))
	}
}

// ErrUnsupportedCommand is returned by handlers for commands they do not serve.
var ErrUnsupportedCommand = errors.New("unsupported command")
