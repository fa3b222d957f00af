package realtime_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/physique/internal/realtime"
	"github.com/kiranshivaraju/physique/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bearerUser(r *http.Request) (string, bool) {
	switch r.Header.Get("Authorization") {
	case "Bearer alice-key":
		return "alice", true
	default:
		return "", false
	}
}

func TestSSE_RoundTrip(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()

	mux := http.NewServeMux()
	mux.Handle("/api/v1/events", realtime.StreamHandler(hub, bearerUser, time.Second))
	api := httptest.NewServer(mux)
	defer api.Close()

	sub, err := realtime.NewSSESubscriber(api.URL+"/", "alice-key", nil).Subscribe(context.Background(), "alice")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, hub.Publish(context.Background(), "alice", models.CompletionEvent{
		JobID:  "job-1",
		Status: models.EventStatusCompleted,
		Result: &models.AnalysisResult{OverallRating: 7.5, Potential: 9, Symmetry: 8},
	}))

	ev := recv(t, sub)
	assert.Equal(t, "job-1", ev.JobID)
	assert.True(t, ev.Succeeded())
	require.NotNil(t, ev.Result)
	assert.Equal(t, 7.5, ev.Result.OverallRating)

	require.NoError(t, sub.Close())
	assertClosed(t, sub)
	assert.Eventually(t, func() bool { return hub.Subscribers("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSSE_Unauthorized(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()

	mux := http.NewServeMux()
	mux.Handle("/api/v1/events", realtime.StreamHandler(hub, bearerUser, time.Second))
	api := httptest.NewServer(mux)
	defer api.Close()

	_, err := realtime.NewSSESubscriber(api.URL, "wrong", nil).Subscribe(context.Background(), "alice")
	assert.ErrorIs(t, err, realtime.ErrSubscribeAuth)
}

func TestSSESubscriber_SkipsMalformedAndOtherEventNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "event: analysis\ndata: {not json\n\n")
		fmt.Fprint(w, "event: other\ndata: {\"jobId\":\"ignored\"}\n\n")
		fmt.Fprint(w, "event: analysis\ndata: {\"jobId\":\"job-2\",\"status\":\"error\",\"error\":\"model offline\"}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	sub, err := realtime.NewSSESubscriber(srv.URL, "k", nil).Subscribe(context.Background(), "alice")
	require.NoError(t, err)
	defer sub.Close()

	ev := recv(t, sub)
	assert.Equal(t, "job-2", ev.JobID)
	assert.Equal(t, models.EventStatusError, ev.Status)
	assert.Equal(t, "model offline", ev.Error)

	// Server hung up after the last event.
	assertClosed(t, sub)
}

func TestSSESubscriber_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := realtime.NewSSESubscriber(srv.URL, "k", nil).Subscribe(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSSESubscriber_RequiresUserID(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	_, err := realtime.NewSSESubscriber(srv.URL, "k", nil).Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, realtime.ErrEmptyUserID)
	assert.Zero(t, hits, "no request is made without a user")
}
