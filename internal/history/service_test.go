package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

type fakeResolver struct {
	titles map[domain.ResultType]map[string]string
	err    error
	calls  map[domain.ResultType][]string
}

func (f *fakeResolver) Resolve(_ context.Context, resultType domain.ResultType, ids []string) (map[string]string, error) {
	if f.calls == nil {
		f.calls = make(map[domain.ResultType][]string)
	}
	f.calls[resultType] = append(f.calls[resultType], ids...)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if title, ok := f.titles[resultType][id]; ok {
			out[id] = title
		}
	}
	return out, nil
}

func seededService(t *testing.T, resolver Resolver) *Service {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Append(ctx, NewEntry("alice", "policy", nil, domain.ResultTypeDocument, []string{"d1", "deleted"}, t0)))
	require.NoError(t, store.Append(ctx, NewEntry("alice", "scope", nil, domain.ResultTypeSection, []string{"s1"}, t0.Add(1))))
	require.NoError(t, store.Append(ctx, NewEntry("alice", "nothing", nil, domain.ResultTypeDocument, nil, t0.Add(2))))
	require.NoError(t, store.Append(ctx, NewEntry("alice", "policy", nil, domain.ResultTypeDocument, []string{"d1"}, t0.Add(3))))
	return NewService(store, resolver, nil)
}

func TestService_ListResolvesTitles(t *testing.T) {
	resolver := &fakeResolver{titles: map[domain.ResultType]map[string]string{
		domain.ResultTypeDocument: {"d1": "Retention policy"},
		domain.ResultTypeSection:  {"s1": "Scope"},
	}}
	svc := seededService(t, resolver)

	listing, err := svc.List(context.Background(), "alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, listing.History, 4)
	assert.EqualValues(t, 4, listing.Total)

	assert.Equal(t, []domain.ResultRef{{ID: "d1", Title: "Retention policy"}}, listing.History[0].Results)
	assert.Empty(t, listing.History[1].Results)
	assert.NotNil(t, listing.History[1].Results)
	assert.Equal(t, []domain.ResultRef{{ID: "s1", Title: "Scope"}}, listing.History[2].Results)
	assert.Equal(t, []domain.ResultRef{{ID: "d1", Title: "Retention policy"}, {ID: "deleted"}}, listing.History[3].Results)

	// Each id is resolved once per result type.
	assert.ElementsMatch(t, []string{"d1", "deleted"}, resolver.calls[domain.ResultTypeDocument])
}

func TestService_ListFailsSoft(t *testing.T) {
	svc := seededService(t, &fakeResolver{err: errors.New("store offline")})

	listing, err := svc.List(context.Background(), "alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, listing.History, 4)
	assert.Equal(t, []domain.ResultRef{{ID: "d1"}, {ID: "deleted"}}, listing.History[3].Results)
}

func TestService_ListWithoutResolver(t *testing.T) {
	listing, err := seededService(t, nil).List(context.Background(), "alice", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.ResultRef{{ID: "d1"}}, listing.History[0].Results)
}

func TestService_PurgeAndTop(t *testing.T) {
	svc := seededService(t, nil)
	ctx := context.Background()

	top, err := svc.Top(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "policy", top[0].Query)
	assert.Equal(t, 2, top[0].Count)

	n, err := svc.Purge(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	listing, err := svc.List(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, listing.History)
}
