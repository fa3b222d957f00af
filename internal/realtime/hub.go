package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kiranshivaraju/physique/pkg/models"
)

// Hub is an in-process broker. Publishing never blocks: a subscriber whose
// buffer is full misses the event, which the delivery core tolerates
// because the direct response covers missed events.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*hubSub]struct{}
	closed  bool
	dropped uint64
}

type hubSub struct {
	*subscription
	ch chan models.CompletionEvent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSub]struct{})}
}

func (h *Hub) Subscribe(_ context.Context, userID string) (Subscription, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	hs := &hubSub{ch: make(chan models.CompletionEvent, eventBuffer)}
	hs.subscription = newSubscription(func() error {
		h.remove(userID, hs)
		return nil
	})
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*hubSub]struct{})
	}
	h.subs[userID][hs] = struct{}{}

	go func() {
		defer hs.finish()
		for {
			select {
			case <-hs.done:
				return
			case ev, ok := <-hs.ch:
				if !ok || !hs.deliver(ev) {
					return
				}
			}
		}
	}()
	return hs, nil
}

func (h *Hub) Publish(_ context.Context, userID string, ev models.CompletionEvent) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for hs := range h.subs[userID] {
		select {
		case hs.ch <- ev:
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
	return nil
}

// Dropped returns how many events were discarded because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// Subscribers returns the live subscription count for a user.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close shuts the hub down and ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*hubSub
	for _, set := range h.subs {
		for hs := range set {
			all = append(all, hs)
		}
	}
	h.subs = nil
	h.mu.Unlock()

	for _, hs := range all {
		_ = hs.Close()
	}
}

func (h *Hub) remove(userID string, hs *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		return
	}
	delete(h.subs[userID], hs)
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
}

var (
	_ Subscriber = (*Hub)(nil)
	_ Publisher  = (*Hub)(nil)
)
