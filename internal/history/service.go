package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

// Resolver looks up the titles of result ids that still exist.
type Resolver interface {
	Resolve(ctx context.Context, resultType domain.ResultType, ids []string) (map[string]string, error)
}

// ListedEntry is a history entry with its results resolved.
type ListedEntry struct {
	domain.HistoryEntry
	Results []domain.ResultRef `json:"results"`
}

// Listing is the response shape of a history page.
type Listing struct {
	History []ListedEntry `json:"history"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
	Total   int64         `json:"total"`
}

// Service fronts a Store and resolves result ids when listing.
type Service struct {
	store    Store
	resolver Resolver
	logger   *zap.Logger
}

// NewService wires a store with an optional resolver.
func NewService(store Store, resolver Resolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, resolver: resolver, logger: logger}
}

// Append records one executed search.
func (s *Service) Append(ctx context.Context, entry domain.HistoryEntry) error {
	return s.store.Append(ctx, entry)
}

// List returns a newest-first page. Ids of records that no longer exist, or
// that could not be resolved, are returned without a title.
func (s *Service) List(ctx context.Context, user string, page, limit int) (*Listing, error) {
	p, err := s.store.List(ctx, user, page, limit)
	if err != nil {
		return nil, err
	}

	titles := s.resolve(ctx, p.Entries)

	listing := &Listing{
		History: make([]ListedEntry, 0, len(p.Entries)),
		Page:    p.Page,
		Limit:   p.Limit,
		Total:   p.Total,
	}
	for _, e := range p.Entries {
		refs := make([]domain.ResultRef, 0, len(e.ResultIDs))
		for _, id := range e.ResultIDs {
			refs = append(refs, domain.ResultRef{ID: id, Title: titles[e.ResultType][id]})
		}
		listing.History = append(listing.History, ListedEntry{HistoryEntry: e, Results: refs})
	}
	return listing, nil
}

func (s *Service) resolve(ctx context.Context, entries []domain.HistoryEntry) map[domain.ResultType]map[string]string {
	titles := make(map[domain.ResultType]map[string]string)
	if s.resolver == nil {
		return titles
	}

	ids := make(map[domain.ResultType][]string)
	seen := make(map[domain.ResultType]map[string]bool)
	for _, e := range entries {
		if seen[e.ResultType] == nil {
			seen[e.ResultType] = make(map[string]bool)
		}
		for _, id := range e.ResultIDs {
			if !seen[e.ResultType][id] {
				seen[e.ResultType][id] = true
				ids[e.ResultType] = append(ids[e.ResultType], id)
			}
		}
	}

	for resultType, list := range ids {
		resolved, err := s.resolver.Resolve(ctx, resultType, list)
		if err != nil {
			s.logger.Warn("failed to resolve history results",
				zap.String("resultType", string(resultType)),
				zap.Int("ids", len(list)),
				zap.Error(err),
			)
			continue
		}
		titles[resultType] = resolved
	}
	return titles
}

// Purge deletes every entry of user.
func (s *Service) Purge(ctx context.Context, user string) (int64, error) {
	return s.store.Purge(ctx, user)
}

// Top returns the user's n most frequent queries.
func (s *Service) Top(ctx context.Context, user string, n int) ([]QueryStat, error) {
	return s.store.Aggregate(ctx, user, n)
}
