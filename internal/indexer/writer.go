// Package indexer keeps the search indexes in step with the primary store.
// Writes are queued and applied by background workers; a failed or dropped
// write is logged and never reaches the caller of the primary write.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/metrics"
	"github.com/davidschrooten/docvault-search/internal/query"
	"github.com/davidschrooten/docvault-search/internal/search"
)

// Operation names used in logs and metrics.
const (
	OpIndexDocument     = "index_document"
	OpIndexSection      = "index_section"
	OpRemoveDocument    = "remove_document"
	OpRemoveSections    = "remove_sections"
	OpRemoveSection     = "remove_section"
	OpReindexDocument   = "reindex_document"
	OpReindexSection    = "reindex_section"
	OpPermissionChanged = "permissions_changed"
)

// PrimaryStore is the read side of the primary document store.
type PrimaryStore interface {
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	GetSection(ctx context.Context, id string) (*domain.Section, error)
	ListSections(ctx context.Context, documentID string) ([]domain.Section, error)
}

// Options tunes the writer.
type Options struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

// indexingJob is one queued index mutation.
type indexingJob struct {
	op  string
	id  string
	run func(ctx context.Context) error
}

// Writer applies index mutations asynchronously. Document jobs are routed by
// document id and section jobs by section id, so writes for one record are
// applied in submission order.
type Writer struct {
	engine  search.SearchEngine
	store   PrimaryStore
	logger  *zap.Logger
	timeout time.Duration

	workerPool []chan indexingJob
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// NewWriter starts the worker pool.
func NewWriter(engine search.SearchEngine, store PrimaryStore, opts Options, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	w := &Writer{
		engine:     engine,
		store:      store,
		logger:     logger,
		timeout:    opts.WriteTimeout,
		workerPool: make([]chan indexingJob, opts.Workers),
	}
	for i := range w.workerPool {
		ch := make(chan indexingJob, opts.QueueSize)
		w.workerPool[i] = ch
		w.wg.Add(1)
		go w.worker(ch)
	}
	return w
}

// Close stops accepting jobs, drains the queues and waits for the workers.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, ch := range w.workerPool {
		close(ch)
	}
	w.mu.Unlock()

	w.wg.Wait()
}

// IndexDocument upserts a document and refreshes the copies of its owner and
// read access held by its sections.
func (w *Writer) IndexDocument(doc domain.Document) bool {
	return w.enqueue(OpIndexDocument, doc.ID, doc.ID, func(ctx context.Context) error {
		return w.indexDocument(ctx, doc)
	})
}

// IndexSection upserts a section. The parent document is loaded for its
// owner and read access; a section whose parent is gone is not indexed.
func (w *Writer) IndexSection(sec domain.Section) bool {
	return w.enqueue(OpIndexSection, sec.ID, sec.ID, func(ctx context.Context) error {
		return w.indexSection(ctx, sec)
	})
}

// RemoveDocument deletes a document and every section that belongs to it.
func (w *Writer) RemoveDocument(id string) bool {
	return w.enqueue(OpRemoveDocument, id, id, func(ctx context.Context) error {
		return w.removeDocument(ctx, id)
	})
}

// RemoveSectionsByDocument deletes every section of a document.
func (w *Writer) RemoveSectionsByDocument(documentID string) bool {
	return w.enqueue(OpRemoveSections, documentID, documentID, func(ctx context.Context) error {
		_, err := w.engine.DeleteByQuery(ctx, search.SectionsIndex, sectionsOf(documentID))
		return err
	})
}

// RemoveSection deletes one section.
func (w *Writer) RemoveSection(id string) bool {
	return w.enqueue(OpRemoveSection, id, id, func(ctx context.Context) error {
		return w.engine.Delete(ctx, search.SectionsIndex, id)
	})
}

// ReindexDocument re-projects a document from the primary store, removing it
// when the store no longer has it.
func (w *Writer) ReindexDocument(id string) bool {
	return w.enqueue(OpReindexDocument, id, id, func(ctx context.Context) error {
		return w.reindexDocument(ctx, id)
	})
}

// ReindexSection re-projects a section from the primary store, removing it
// when the store no longer has it.
func (w *Writer) ReindexSection(id string) bool {
	return w.enqueue(OpReindexSection, id, id, func(ctx context.Context) error {
		sec, err := w.store.GetSection(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return w.engine.Delete(ctx, search.SectionsIndex, id)
		}
		if err != nil {
			return err
		}
		return w.indexSection(ctx, *sec)
	})
}

// PermissionsChanged re-projects a document and its sections with the
// store's current owner and read access.
func (w *Writer) PermissionsChanged(documentID string) bool {
	return w.enqueue(OpPermissionChanged, documentID, documentID, func(ctx context.Context) error {
		return w.reindexDocument(ctx, documentID)
	})
}

// enqueue never blocks: a full or closed queue drops the job.
func (w *Writer) enqueue(op, id, routeKey string, run func(ctx context.Context) error) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(op, id, "writer closed")
		return false
	}

	ch := w.workerPool[fnv32(routeKey)%uint32(len(w.workerPool))]
	metrics.IndexQueueDepth.Inc()
	select {
	case ch <- indexingJob{op: op, id: id, run: run}:
		return true
	default:
		metrics.IndexQueueDepth.Dec()
		w.drop(op, id, "queue full")
		return false
	}
}

func (w *Writer) drop(op, id, reason string) {
	metrics.IndexWritesTotal.WithLabelValues(op, "dropped").Inc()
	w.logger.Error("index write dropped",
		zap.String("op", op),
		zap.String("id", id),
		zap.String("reason", reason),
		zap.Error(domain.ErrIndexWriteFailed),
	)
}

func (w *Writer) worker(jobs <-chan indexingJob) {
	defer w.wg.Done()

	for job := range jobs {
		metrics.IndexQueueDepth.Dec()
		w.process(job)
	}
}

func (w *Writer) process(job indexingJob) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := job.run(ctx); err != nil {
		metrics.IndexWritesTotal.WithLabelValues(job.op, "failed").Inc()
		w.logger.Error("index write failed",
			zap.String("op", job.op),
			zap.String("id", job.id),
			zap.Error(fmt.Errorf("%w: %w", domain.ErrIndexWriteFailed, err)),
		)
		return
	}
	metrics.IndexWritesTotal.WithLabelValues(job.op, "ok").Inc()
	w.logger.Debug("index write applied", zap.String("op", job.op), zap.String("id", job.id))
}

func (w *Writer) indexDocument(ctx context.Context, doc domain.Document) error {
	if err := w.engine.Upsert(ctx, search.DocumentsIndex, search.ProjectDocument(doc)); err != nil {
		return err
	}
	return w.refreshSections(ctx, doc)
}

// refreshSections re-projects the stored sections of doc.
func (w *Writer) refreshSections(ctx context.Context, doc domain.Document) error {
	sections, err := w.store.ListSections(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to list sections: %w", err)
	}
	batch := make([]search.Indexable, 0, len(sections))
	for _, sec := range sections {
		batch = append(batch, search.ProjectSection(sec, doc))
	}
	return w.engine.UpsertBatch(ctx, search.SectionsIndex, batch)
}

func (w *Writer) indexSection(ctx context.Context, sec domain.Section) error {
	parent, err := w.store.GetDocument(ctx, sec.DocumentID)
	if errors.Is(err, domain.ErrNotFound) {
		// The parent was removed; make sure no stale copy survives.
		if delErr := w.engine.Delete(ctx, search.SectionsIndex, sec.ID); delErr != nil {
			return delErr
		}
		return fmt.Errorf("section %s: parent %s: %w", sec.ID, sec.DocumentID, err)
	}
	if err != nil {
		return err
	}
	return w.engine.Upsert(ctx, search.SectionsIndex, search.ProjectSection(sec, *parent))
}

func (w *Writer) removeDocument(ctx context.Context, id string) error {
	if err := w.engine.Delete(ctx, search.DocumentsIndex, id); err != nil {
		return err
	}
	_, err := w.engine.DeleteByQuery(ctx, search.SectionsIndex, sectionsOf(id))
	return err
}

func (w *Writer) reindexDocument(ctx context.Context, id string) error {
	doc, err := w.store.GetDocument(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return w.removeDocument(ctx, id)
	}
	if err != nil {
		return err
	}
	return w.indexDocument(ctx, *doc)
}

func sectionsOf(documentID string) query.Node {
	return query.Term{Field: query.FieldDocumentID, Value: documentID}
}

// fnv32 implements a simple 32-bit FNV-1a hash
func fnv32(data string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)

	hash := uint32(offset32)
	for _, b := range []byte(data) {
		hash ^= uint32(b)
		hash *= prime32
	}
	return hash
}
