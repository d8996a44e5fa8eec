// Package search is the Bleve-backed full-text engine adapter.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/config"
	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/query"
)

// deletePageSize bounds the ids collected per delete-by-query round.
const deletePageSize = 500

// ErrIndexNotFound is returned for operations on an index that is not open.
var ErrIndexNotFound = errors.New("index not found")

// Engine manages one Bleve index per namespace
type Engine struct {
	indexes   map[string]bleve.Index
	indexPath string
	analyzer  string
	mutex     sync.RWMutex
	lastSync  map[string]time.Time // Track last sync time for each index
	syncMutex sync.RWMutex         // Separate mutex for sync times
	logger    *zap.Logger
}

// SearchResult represents raw engine results in engine order
type SearchResult struct {
	Hits     []SearchHit `json:"hits"`
	Total    int         `json:"total"`
	MaxScore float64     `json:"maxScore"`
}

// SearchHit represents a single search result
type SearchHit struct {
	ID     string                 `json:"_id"`
	Score  float64                `json:"score"`
	Source map[string]interface{} `json:"source"`
}

// IndexInfo represents information about an index
type IndexInfo struct {
	Name     string     `json:"name"`
	DocCount uint64     `json:"docCount"`
	Status   string     `json:"status"`
	LastSync *time.Time `json:"lastSync,omitempty"`
}

// NewEngine creates a new search engine
func NewEngine(cfg config.SearchConfig, logger *zap.Logger) (*Engine, error) {
	if err := os.MkdirAll(cfg.IndexPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		indexes:   make(map[string]bleve.Index),
		indexPath: cfg.IndexPath,
		analyzer:  cfg.Analyzer,
		lastSync:  make(map[string]time.Time),
		logger:    logger,
	}, nil
}

// Bootstrap opens or creates every namespace index. Safe to call repeatedly.
func (e *Engine) Bootstrap() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	for _, schema := range Schemas() {
		if err := e.openOrCreate(schema); err != nil {
			return err
		}
	}
	return nil
}

// openOrCreate must be called with the write lock held.
func (e *Engine) openOrCreate(schema Schema) error {
	if _, exists := e.indexes[schema.Name]; exists {
		return nil
	}

	indexPath := filepath.Join(e.indexPath, schema.Name)

	// Try to open existing index first
	if e.existsOnDisk(schema.Name) {
		index, err := bleve.Open(indexPath)
		if err != nil {
			return fmt.Errorf("failed to open index %s: %w", schema.Name, err)
		}
		e.indexes[schema.Name] = index
		e.logger.Info("opened index", zap.String("index", schema.Name))
		return nil
	}

	index, err := bleve.New(indexPath, createMapping(schema, e.analyzer))
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", schema.Name, err)
	}
	e.indexes[schema.Name] = index
	e.logger.Info("created index", zap.String("index", schema.Name))
	return nil
}

func (e *Engine) existsOnDisk(indexName string) bool {
	_, err := os.Stat(filepath.Join(e.indexPath, indexName, "index_meta.json"))
	return err == nil
}

// IndexExists reports whether the index is open or present on disk
func (e *Engine) IndexExists(indexName string) bool {
	e.mutex.RLock()
	_, open := e.indexes[indexName]
	e.mutex.RUnlock()
	return open || e.existsOnDisk(indexName)
}

func (e *Engine) getIndex(indexName string) (bleve.Index, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	index, exists := e.indexes[indexName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, indexName)
	}
	return index, nil
}

// ListIndexes returns information about all open indexes
func (e *Engine) ListIndexes() ([]IndexInfo, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	indexes := make([]IndexInfo, 0, len(e.indexes))

	for name, index := range e.indexes {
		docCount, err := index.DocCount()
		if err != nil {
			// If we can't get doc count, set it to 0 and continue
			docCount = 0
		}

		indexInfo := IndexInfo{
			Name:     name,
			DocCount: docCount,
			Status:   "active",
		}

		// Get last sync time if available
		e.syncMutex.RLock()
		if lastSync, exists := e.lastSync[name]; exists {
			indexInfo.LastSync = &lastSync
		}
		e.syncMutex.RUnlock()

		indexes = append(indexes, indexInfo)
	}

	return indexes, nil
}

// RemoveIndex closes an index and deletes it from disk. Bootstrap recreates
// it empty.
func (e *Engine) RemoveIndex(indexName string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if index, exists := e.indexes[indexName]; exists {
		if err := index.Close(); err != nil {
			return fmt.Errorf("failed to close index %s: %w", indexName, err)
		}
		delete(e.indexes, indexName)
	}

	// Remove sync tracking
	e.syncMutex.Lock()
	delete(e.lastSync, indexName)
	e.syncMutex.Unlock()

	// Delete the index directory
	indexPath := filepath.Join(e.indexPath, indexName)
	if err := os.RemoveAll(indexPath); err != nil {
		return fmt.Errorf("failed to remove index directory %s: %w", indexPath, err)
	}

	e.logger.Info("removed index", zap.String("index", indexName))
	return nil
}

// Upsert indexes a projection, replacing any previous version with the same id
func (e *Engine) Upsert(ctx context.Context, indexName string, doc Indexable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	index, err := e.getIndex(indexName)
	if err != nil {
		return err
	}

	fields, err := doc.Fields()
	if err != nil {
		return err
	}
	return index.Index(doc.IndexID(), fields)
}

// UpsertBatch indexes multiple projections in a batch for better performance
func (e *Engine) UpsertBatch(ctx context.Context, indexName string, docs []Indexable) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	index, err := e.getIndex(indexName)
	if err != nil {
		return err
	}

	// Create a batch for bulk indexing
	batch := index.NewBatch()
	for _, doc := range docs {
		fields, err := doc.Fields()
		if err != nil {
			return fmt.Errorf("document %s: %w", doc.IndexID(), err)
		}
		if err := batch.Index(doc.IndexID(), fields); err != nil {
			return fmt.Errorf("document %s: %w", doc.IndexID(), err)
		}
	}

	// Execute the batch
	return index.Batch(batch)
}

// Delete removes a document from the index. Deleting a missing id is a no-op.
func (e *Engine) Delete(ctx context.Context, indexName, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	index, err := e.getIndex(indexName)
	if err != nil {
		return err
	}
	return index.Delete(docID)
}

// DeleteByQuery removes every document matching q and returns the count.
func (e *Engine) DeleteByQuery(ctx context.Context, indexName string, q query.Node) (int, error) {
	index, err := e.getIndex(indexName)
	if err != nil {
		return 0, err
	}

	bleveQuery, err := convertQuery(q)
	if err != nil {
		return 0, fmt.Errorf("failed to convert query: %w", err)
	}

	deleted := 0
	for {
		req := bleve.NewSearchRequestOptions(bleveQuery, deletePageSize, 0, false)
		res, err := index.SearchInContext(ctx, req)
		if err != nil {
			return deleted, fmt.Errorf("delete by query failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}

		batch := index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := index.Batch(batch); err != nil {
			return deleted, fmt.Errorf("delete by query failed: %w", err)
		}
		deleted += len(res.Hits)

		if len(res.Hits) < deletePageSize {
			return deleted, nil
		}
	}
}

// Search executes q against one index. The caller's context bounds the search.
func (e *Engine) Search(ctx context.Context, indexName string, q *query.EngineQuery) (*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.From < 0 || q.Size < 0 || q.From > domain.MaxResultWindow-q.Size {
		return nil, fmt.Errorf("%w: from %d size %d is outside the result window", domain.ErrInvalidRequest, q.From, q.Size)
	}
	index, err := e.getIndex(indexName)
	if err != nil {
		return nil, err
	}

	// Convert query to Bleve query
	bleveQuery, err := convertQuery(q.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to convert query: %w", err)
	}

	// Create search request
	searchReq := bleve.NewSearchRequestOptions(bleveQuery, q.Size, q.From, false)
	searchReq.Fields = []string{FieldSource}
	if sortOrder := sortOrderOf(q.Sort); len(sortOrder) > 0 {
		searchReq.SortBy(sortOrder)
	}

	// Execute search
	searchResult, err := index.SearchInContext(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	// Convert to our result format
	return e.convertSearchResult(searchResult), nil
}

// sortOrderOf renders sort keys in Bleve's "-field" notation.
func sortOrderOf(fields []query.SortField) []string {
	order := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Desc {
			order = append(order, "-"+f.Field)
		} else {
			order = append(order, f.Field)
		}
	}
	return order
}

// convertSearchResult converts Bleve search result to our format
func (e *Engine) convertSearchResult(result *bleve.SearchResult) *SearchResult {
	hits := make([]SearchHit, len(result.Hits))

	for i, hit := range result.Hits {
		source := make(map[string]interface{})
		if raw, ok := hit.Fields[FieldSource].(string); ok {
			if err := json.Unmarshal([]byte(raw), &source); err != nil {
				e.logger.Warn("unreadable stored source", zap.String("id", hit.ID), zap.Error(err))
			}
		}

		hits[i] = SearchHit{
			ID:     hit.ID,
			Score:  hit.Score,
			Source: source,
		}
	}

	return &SearchResult{
		Hits:     hits,
		Total:    int(result.Total),
		MaxScore: result.MaxScore,
	}
}

// UpdateLastSync updates the last sync time for an index
func (e *Engine) UpdateLastSync(indexName string, syncTime time.Time) {
	e.syncMutex.Lock()
	defer e.syncMutex.Unlock()
	e.lastSync[indexName] = syncTime
}

// Close closes all indexes
func (e *Engine) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var errs []error
	for name, index := range e.indexes {
		if err := index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index %s: %w", name, err))
		}
	}
	e.indexes = make(map[string]bleve.Index)

	return errors.Join(errs...)
}
