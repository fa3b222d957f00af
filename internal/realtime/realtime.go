// Package realtime carries job completion events to the user who started
// the job. Every transport exposes the same Subscriber/Publisher pair so the
// delivery core does not care whether events travel over Redis pub/sub, an
// SSE stream or an in-process hub.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/kiranshivaraju/physique/pkg/models"
)

var (
	ErrClosed        = errors.New("realtime broker closed")
	ErrEmptyUserID   = errors.New("realtime: user id is required")
	ErrSubscribeAuth = errors.New("realtime: subscription rejected")
)

// Subscription is one live channel scoped to one user. Close suppresses
// further events and closes Events; it is safe to call more than once.
type Subscription interface {
	Events() <-chan models.CompletionEvent
	Close() error
}

// Subscriber opens per-user subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

// Publisher fans a completion out to the user's topic.
type Publisher interface {
	Publish(ctx context.Context, userID string, ev models.CompletionEvent) error
}

// Topic returns the broadcast topic for a user.
func Topic(userID string) string {
	return "analysis:user:" + userID
}

const eventBuffer = 16

// subscription is the Subscription shared by all transports. The transport
// goroutine feeds events through deliver and calls finish when its source
// dries up.
type subscription struct {
	events  chan models.CompletionEvent
	done    chan struct{}
	once    sync.Once
	closeFn func() error
	closeMu sync.Mutex
	closed  bool
}

func newSubscription(closeFn func() error) *subscription {
	return &subscription{
		events:  make(chan models.CompletionEvent, eventBuffer),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
}

func (s *subscription) Events() <-chan models.CompletionEvent {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}

// deliver hands ev to the consumer unless the subscription was closed.
// Returns false once the subscription is closed.
func (s *subscription) deliver(ev models.CompletionEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// finish closes Events. Only the feeding goroutine may call it, once.
func (s *subscription) finish() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
