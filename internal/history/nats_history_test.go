// Package history_test tests the NATS-backed feeling history store.
package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/reflection-service/internal/core"
	"github.com/book-expert/reflection-service/internal/history"
)

func startTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func newTestStore(t *testing.T) *history.NatsHistoryStore {
	t.Helper()

	natsServer, natsConnection := startTestServer(t)
	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := history.New(jetstreamContext, "FEELINGS_TEST")
	require.NoError(t, err)

	return store
}

func TestQuery_ReturnsEntriesStrictlyAfterSinceAscending(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC)
	feelings := []string{"tired", "hopeful", "grateful"}

	for i, feeling := range feelings {
		err := store.Append(ctx, core.FeelingEntry{
			Subscriber: "a@x.com",
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Feeling:    feeling,
		})
		require.NoError(t, err)
	}

	// since equal to the first entry's timestamp: strictly-after excludes it.
	entries, err := store.Query(ctx, "a@x.com", base)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hopeful", entries[0].Feeling)
	assert.Equal(t, "grateful", entries[1].Feeling)

	// since before everything: all three, oldest first.
	entries, err = store.Query(ctx, "a@x.com", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "tired", entries[0].Feeling)
	assert.Equal(t, "grateful", entries[2].Feeling)
}

func TestQuery_EmptyForUnknownSubscriber(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, core.FeelingEntry{
		Subscriber: "a@x.com",
		Timestamp:  time.Now().UTC(),
		Feeling:    "calm",
	})
	require.NoError(t, err)

	entries, err := store.Query(ctx, "b@x.com", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQuery_SubscribersDoNotCollide(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// The raw strings share a prefix; the encoded keys must not.
	err := store.Append(ctx, core.FeelingEntry{Subscriber: "a@x.com", Timestamp: now, Feeling: "one"})
	require.NoError(t, err)
	err = store.Append(ctx, core.FeelingEntry{Subscriber: "a@x.common", Timestamp: now, Feeling: "two"})
	require.NoError(t, err)

	entries, err := store.Query(ctx, "a@x.com", time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one", entries[0].Feeling)
}
