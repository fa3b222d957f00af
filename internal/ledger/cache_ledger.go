package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/physique/internal/cache"
)

// CacheLedger stores entries in a cache.Cache (Redis in production) with
// no TTL.
type CacheLedger struct {
	cache cache.Cache
}

func NewCacheLedger(c cache.Cache) *CacheLedger {
	return &CacheLedger{cache: c}
}

func (l *CacheLedger) Put(ctx context.Context, jobID string, e Entry) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	if err := l.cache.Set(ctx, Key(jobID), b, 0); err != nil {
		return fmt.Errorf("write ledger entry: %w", err)
	}
	return nil
}

func (l *CacheLedger) Get(ctx context.Context, jobID string) (Entry, error) {
	b, found, err := l.cache.Get(ctx, Key(jobID))
	if err != nil {
		return Entry{}, fmt.Errorf("read ledger entry: %w", err)
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode ledger entry: %w", err)
	}
	return e, nil
}

func (l *CacheLedger) Remove(ctx context.Context, jobID string) error {
	if err := l.cache.Delete(ctx, Key(jobID)); err != nil {
		return fmt.Errorf("remove ledger entry: %w", err)
	}
	return nil
}

func (l *CacheLedger) List(ctx context.Context) (map[string]Entry, error) {
	keys, err := l.cache.Keys(ctx, cache.PendingJobPrefix)
	if err != nil {
		return nil, fmt.Errorf("list ledger keys: %w", err)
	}
	out := make(map[string]Entry, len(keys))
	for _, k := range keys {
		id, ok := jobIDFromKey(k)
		if !ok {
			continue
		}
		e, err := l.Get(ctx, id)
		if err != nil {
			// Removed between scan and read, or unreadable; skip it.
			continue
		}
		out[id] = e
	}
	return out, nil
}

var _ Ledger = (*CacheLedger)(nil)
