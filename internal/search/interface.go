package search

import (
	"context"
	"time"

	"github.com/davidschrooten/docvault-search/internal/query"
)

// SearchEngine defines the interface for search engine operations
// This interface allows for easy mocking and testing
type SearchEngine interface {
	// Index management
	Bootstrap() error
	IndexExists(indexName string) bool
	ListIndexes() ([]IndexInfo, error)
	RemoveIndex(indexName string) error

	// Document operations
	Upsert(ctx context.Context, indexName string, doc Indexable) error
	UpsertBatch(ctx context.Context, indexName string, docs []Indexable) error
	Delete(ctx context.Context, indexName, docID string) error
	DeleteByQuery(ctx context.Context, indexName string, q query.Node) (int, error)

	// Search operations
	Search(ctx context.Context, indexName string, q *query.EngineQuery) (*SearchResult, error)

	// Sync tracking
	UpdateLastSync(indexName string, syncTime time.Time)

	// Lifecycle
	Close() error
}
