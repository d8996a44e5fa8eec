package history

import (
	"context"
	"sort"
	"sync"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

// MemoryStore keeps history in process. It is used when no MongoDB is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]domain.HistoryEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]domain.HistoryEntry)}
}

func (s *MemoryStore) Append(ctx context.Context, entry domain.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkEntry(entry); err != nil {
		return err
	}
	if entry.ID == "" {
		entry = NewEntry(entry.User, entry.Query, entry.Filters, entry.ResultType, entry.ResultIDs, entry.Timestamp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.User] = append(s.entries[entry.User], entry)
	return nil
}

// newestFirst returns a copy of the user's entries, newest first. Entries
// with equal timestamps keep reverse append order.
func (s *MemoryStore) newestFirst(user string) []domain.HistoryEntry {
	s.mu.RLock()
	stored := s.entries[user]
	out := make([]domain.HistoryEntry, len(stored))
	for i, e := range stored {
		out[len(stored)-1-i] = e
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (s *MemoryStore) List(ctx context.Context, user string, page, limit int) (*Page, error) {
	if err := checkPage(user, page, limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := s.newestFirst(user)
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	return &Page{
		Entries: all[start:end],
		Total:   int64(len(all)),
		Page:    page,
		Limit:   limit,
	}, nil
}

func (s *MemoryStore) Purge(ctx context.Context, user string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.entries[user]))
	delete(s.entries, user)
	return n, nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, user string, n int) ([]QueryStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byQuery := make(map[string]*QueryStat)
	for _, e := range s.newestFirst(user) {
		if !countable(e.Query) {
			continue
		}
		stat, ok := byQuery[e.Query]
		if !ok {
			stat = &QueryStat{Query: e.Query, LastSearched: e.Timestamp}
			byQuery[e.Query] = stat
		}
		stat.Count++
		if e.Timestamp.After(stat.LastSearched) {
			stat.LastSearched = e.Timestamp
		}
	}

	stats := make([]QueryStat, 0, len(byQuery))
	for _, stat := range byQuery {
		stats = append(stats, *stat)
	}
	sortStats(stats)
	if n > 0 && len(stats) > n {
		stats = stats[:n]
	}
	return stats, nil
}

// sortStats orders by count, then recency, then query text.
func sortStats(stats []QueryStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		if !stats[i].LastSearched.Equal(stats[j].LastSearched) {
			return stats[i].LastSearched.After(stats[j].LastSearched)
		}
		return stats[i].Query < stats[j].Query
	})
}
