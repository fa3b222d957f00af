package realtime_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/kiranshivaraju/physique/internal/realtime"
	"github.com/kiranshivaraju/physique/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	broker := realtime.NewRedisBroker(setupRedis(t))
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()

	other, err := broker.Subscribe(ctx, "bob")
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, broker.Publish(ctx, "alice", models.CompletionEvent{JobID: "job-1", Status: models.EventStatusCompleted}))

	ev := recv(t, sub)
	assert.Equal(t, "job-1", ev.JobID)
	assert.Empty(t, other.Events())

	require.NoError(t, sub.Close())
	assertClosed(t, sub)
}

func TestRedisBroker_DropsMalformedPayload(t *testing.T) {
	client := setupRedis(t)
	broker := realtime.NewRedisBroker(client)
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, realtime.Topic("alice"), "{garbage").Err())
	require.NoError(t, broker.Publish(ctx, "alice", models.CompletionEvent{JobID: "job-2", Status: models.EventStatusError, Error: "boom"}))

	ev := recv(t, sub)
	assert.Equal(t, "job-2", ev.JobID)
	assert.Equal(t, "boom", ev.Error)
}
