// Package history keeps the append-only log of executed searches per user.
package history

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidschrooten/docvault-search/internal/domain"
)

// Store is a history backend. Entries are never mutated; Purge is the only
// way to delete them.
type Store interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
	List(ctx context.Context, user string, page, limit int) (*Page, error)
	Purge(ctx context.Context, user string) (int64, error)
	Aggregate(ctx context.Context, user string, n int) ([]QueryStat, error)
}

// Page is one newest-first slice of a user's history.
type Page struct {
	Entries []domain.HistoryEntry
	Total   int64
	Page    int
	Limit   int
}

// QueryStat is how often a user ran one query.
type QueryStat struct {
	Query        string    `json:"query"`
	Count        int       `json:"count"`
	LastSearched time.Time `json:"lastSearched"`
}

// NewEntry builds an entry with a fresh id. resultIDs is copied and never nil.
func NewEntry(user, query string, filters map[string]string, resultType domain.ResultType, resultIDs []string, at time.Time) domain.HistoryEntry {
	ids := make([]string, len(resultIDs))
	copy(ids, resultIDs)

	var f map[string]string
	if len(filters) > 0 {
		f = make(map[string]string, len(filters))
		for k, v := range filters {
			f[k] = v
		}
	}

	return domain.HistoryEntry{
		ID:         uuid.NewString(),
		User:       user,
		Query:      query,
		Filters:    f,
		ResultType: resultType,
		ResultIDs:  ids,
		Timestamp:  at.UTC(),
	}
}

func checkEntry(entry domain.HistoryEntry) error {
	if entry.User == "" {
		return fmt.Errorf("%w: entry has no user", domain.ErrHistoryWriteFailed)
	}
	return nil
}

func checkPage(user string, page, limit int) error {
	if user == "" {
		return fmt.Errorf("%w: missing user", domain.ErrInvalidRequest)
	}
	if page < 1 || limit < 1 {
		return fmt.Errorf("%w: page and limit must be positive", domain.ErrInvalidRequest)
	}
	if !domain.WithinWindow(page, limit, math.MaxInt) {
		return fmt.Errorf("%w: page %d is out of range", domain.ErrInvalidRequest, page)
	}
	return nil
}

// countable reports whether a query takes part in aggregation. Browsing
// without query text is not a query.
func countable(query string) bool {
	return strings.TrimSpace(query) != ""
}
