package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileLedger keeps one JSON file per entry under a directory. Writes go to
// a temp file and are renamed into place so a crash never leaves a torn
// entry behind.
//
// Layout:
//
//	<root>/<query-escaped "analysis:"+jobID>.json
type FileLedger struct {
	root string
}

func NewFileLedger(root string) *FileLedger {
	return &FileLedger{root: strings.TrimSpace(root)}
}

func (l *FileLedger) RootDir() string {
	return l.root
}

func (l *FileLedger) path(jobID string) string {
	return filepath.Join(l.root, url.QueryEscape(Key(jobID))+".json")
}

func (l *FileLedger) ensureRoot() error {
	if l.root == "" {
		return fmt.Errorf("ledger root dir is empty")
	}
	return os.MkdirAll(l.root, 0o700)
}

func (l *FileLedger) Put(_ context.Context, jobID string, e Entry) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job id is required")
	}
	if err := l.ensureRoot(); err != nil {
		return err
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}

	tmp, err := os.CreateTemp(l.root, "entry.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, l.path(jobID)); err != nil {
		return fmt.Errorf("rename ledger file: %w", err)
	}
	return nil
}

func (l *FileLedger) Get(_ context.Context, jobID string) (Entry, error) {
	b, err := os.ReadFile(l.path(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read ledger file: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode ledger file: %w", err)
	}
	return e, nil
}

func (l *FileLedger) Remove(_ context.Context, jobID string) error {
	err := os.Remove(l.path(jobID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove ledger file: %w", err)
	}
	return nil
}

func (l *FileLedger) List(ctx context.Context) (map[string]Entry, error) {
	entries, err := os.ReadDir(l.root)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger dir: %w", err)
	}

	out := make(map[string]Entry, len(entries))
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key, err := url.QueryUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		id, ok := jobIDFromKey(key)
		if !ok {
			continue
		}
		e, err := l.Get(ctx, id)
		if err != nil {
			continue
		}
		out[id] = e
	}
	return out, nil
}

var _ Ledger = (*FileLedger)(nil)
