package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/physique/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisBroker publishes and subscribes through Redis pub/sub. Redis does
// not buffer for absent subscribers, so events published while nobody
// listens are lost.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, userID string, ev models.CompletionEvent) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}
	if err := b.client.Publish(ctx, Topic(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	ps := b.client.Subscribe(ctx, Topic(userID))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Topic(userID), err)
	}

	sub := newSubscription(ps.Close)
	msgs := ps.Channel()
	go func() {
		defer sub.finish()
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev models.CompletionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("dropping malformed completion event", "topic", msg.Channel, "error", err)
					continue
				}
				if !sub.deliver(ev) {
					return
				}
			}
		}
	}()
	return sub, nil
}

var (
	_ Subscriber = (*RedisBroker)(nil)
	_ Publisher  = (*RedisBroker)(nil)
)
