package realtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/physique/internal/api/response"
	"github.com/kiranshivaraju/physique/pkg/models"
)

const (
	sseEventName     = "analysis"
	defaultKeepAlive = 15 * time.Second
	maxSSELineBytes  = 1 << 20
)

// StreamHandler bridges a per-user subscription onto a text/event-stream
// response. userID resolves the authenticated user for the request.
func StreamHandler(sub Subscriber, userID func(*http.Request) (string, bool), keepAlive time.Duration) http.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required", nil)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", nil)
			return
		}

		// The stream outlives the server's WriteTimeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		s, err := sub.Subscribe(r.Context(), uid)
		if err != nil {
			slog.Error("event stream subscribe failed", "user_id", uid, "error", err)
			response.Error(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "Event stream unavailable", nil)
			return
		}
		defer s.Close()

		// Headers go out only after the subscription is live so a client
		// that sees 200 cannot miss an event published afterwards.
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, ok := <-s.Events():
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					slog.Error("marshal completion event", "job_id", ev.JobID, "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventName, payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// SSESubscriber consumes the server's /api/v1/events stream. The server
// scopes the stream to the user owning the API key, so Subscribe only
// requires a non-empty userID; events carry no user to filter on.
type SSESubscriber struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSSESubscriber creates a subscriber. client must not carry a Timeout,
// since the stream stays open for the life of the subscription.
func NewSSESubscriber(baseURL, apiKey string, client *http.Client) *SSESubscriber {
	if client == nil {
		client = &http.Client{}
	}
	return &SSESubscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (s *SSESubscriber) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.baseURL+"/api/v1/events", nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create event stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d", ErrSubscribeAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open event stream: status %d", resp.StatusCode)
	}

	sub := newSubscription(func() error {
		cancel()
		return nil
	})
	go func() {
		defer sub.finish()
		defer resp.Body.Close()
		readSSE(resp.Body, func(name string, data []byte) bool {
			if name != "" && name != sseEventName {
				return true
			}
			var ev models.CompletionEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				slog.Warn("dropping malformed completion event", "error", err)
				return true
			}
			return sub.deliver(ev)
		})
	}()
	return sub, nil
}

// readSSE dispatches each complete event to fn until the stream ends or fn
// returns false. Comment lines are ignored.
func readSSE(r io.Reader, fn func(name string, data []byte) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	var (
		name string
		data bytes.Buffer
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if !fn(name, data.Bytes()) {
					return
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

var _ Subscriber = (*SSESubscriber)(nil)
