package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/search"
)

// Scanner walks every document of the primary store in batches.
type Scanner interface {
	EachDocument(ctx context.Context, batchSize int, fn func([]domain.Document) error) error
}

// RebuildStats reports what a rebuild wrote.
type RebuildStats struct {
	Documents int `json:"documents"`
	Sections  int `json:"sections"`
}

// Rebuild re-projects the whole primary store synchronously, bypassing the
// queue. With drop set both indexes are recreated empty first.
func (w *Writer) Rebuild(ctx context.Context, scanner Scanner, batchSize int, drop bool) (RebuildStats, error) {
	var stats RebuildStats

	names := []string{search.DocumentsIndex, search.SectionsIndex}
	if drop {
		for _, name := range names {
			if !w.engine.IndexExists(name) {
				continue
			}
			if err := w.engine.RemoveIndex(name); err != nil {
				return stats, fmt.Errorf("failed to drop index %s: %w", name, err)
			}
		}
	}
	for _, name := range names {
		if !w.engine.IndexExists(name) {
			if err := w.engine.Bootstrap(); err != nil {
				return stats, err
			}
			break
		}
	}

	err := scanner.EachDocument(ctx, batchSize, func(docs []domain.Document) error {
		batch := make([]search.Indexable, 0, len(docs))
		for _, doc := range docs {
			batch = append(batch, search.ProjectDocument(doc))
		}
		if err := w.engine.UpsertBatch(ctx, search.DocumentsIndex, batch); err != nil {
			return fmt.Errorf("failed to index document batch: %w", err)
		}
		stats.Documents += len(docs)

		for _, doc := range docs {
			sections, err := w.store.ListSections(ctx, doc.ID)
			if err != nil {
				return fmt.Errorf("failed to list sections of %s: %w", doc.ID, err)
			}
			secBatch := make([]search.Indexable, 0, len(sections))
			for _, sec := range sections {
				secBatch = append(secBatch, search.ProjectSection(sec, doc))
			}
			if err := w.engine.UpsertBatch(ctx, search.SectionsIndex, secBatch); err != nil {
				return fmt.Errorf("failed to index sections of %s: %w", doc.ID, err)
			}
			stats.Sections += len(sections)
		}

		w.logger.Info("rebuild progress", zap.Int("documents", stats.Documents), zap.Int("sections", stats.Sections))
		return ctx.Err()
	})
	if err != nil {
		return stats, err
	}

	w.logger.Info("rebuild completed", zap.Int("documents", stats.Documents), zap.Int("sections", stats.Sections))
	return stats, nil
}
