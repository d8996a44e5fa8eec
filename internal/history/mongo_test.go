package history

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidschrooten/docvault-search/config"
	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/mongodb"
)

func newTestMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("DOCSEARCH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DOCSEARCH_TEST_MONGO_URI not set")
	}

	client, err := mongodb.NewClient(config.MongoDBConfig{
		URI:      uri,
		Database: fmt.Sprintf("docsearch_history_%d", time.Now().UnixNano()),
		Timeout:  5,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Database().Drop(context.Background())
		_ = client.Disconnect()
	})

	store, err := NewMongoStore(context.Background(), client, "searchhistories", nil)
	require.NoError(t, err)
	return store
}

func TestMongoStore_RoundTrip(t *testing.T) {
	s := newTestMongoStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, entry("alice", "policy", t0.Add(time.Duration(i)*time.Minute), fmt.Sprintf("d%d", i))))
	}
	require.NoError(t, s.Append(ctx, entry("alice", "audit", t0.Add(time.Hour))))
	require.NoError(t, s.Append(ctx, entry("bob", "policy", t0)))

	p, err := s.List(ctx, "alice", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, p.Total)
	require.Len(t, p.Entries, 2)
	assert.Equal(t, "audit", p.Entries[0].Query)
	assert.Equal(t, []string{}, p.Entries[0].ResultIDs)
	assert.Equal(t, []string{"d2"}, p.Entries[1].ResultIDs)
	assert.Equal(t, domain.ResultTypeDocument, p.Entries[1].ResultType)

	stats, err := s.Aggregate(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "policy", stats[0].Query)
	assert.Equal(t, 3, stats[0].Count)
	assert.True(t, stats[0].LastSearched.Equal(t0.Add(2*time.Minute)))

	n, err := s.Purge(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	p, err = s.List(ctx, "bob", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Total)
}
