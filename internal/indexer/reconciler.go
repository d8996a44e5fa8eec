package indexer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/search"
	syncstate "github.com/davidschrooten/docvault-search/internal/sync"
)

// ChangeFeed lists primary-store records in (updatedAt, id) order, starting
// after the given position. An empty afterID skips every record at since.
type ChangeFeed interface {
	DocumentsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.Document, error)
	SectionsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.Section, error)
	LastUpdated(ctx context.Context, source string) (time.Time, error)
}

// Reconciler polls the primary store for records updated since the last poll
// and queues them on the writer. It catches writes whose hook was lost;
// deletions still require the remove hooks.
type Reconciler struct {
	writer    *Writer
	feed      ChangeFeed
	state     *syncstate.StateManager
	engine    search.SearchEngine
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	now       func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReconciler creates a reconciler; Start launches its polling loop.
func NewReconciler(writer *Writer, feed ChangeFeed, state *syncstate.StateManager, engine search.SearchEngine,
	interval time.Duration, batchSize int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reconciler{
		writer:    writer,
		feed:      feed,
		state:     state,
		engine:    engine,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins periodic polling and periodic state saving.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.state.StartPeriodicSave(r.interval, r.stopCh, &r.wg)

	r.wg.Add(1)
	go r.pollForChanges(ctx)
}

// Stop ends polling and saves the poll state.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reconciler) pollForChanges(ctx context.Context) {
	defer r.wg.Done()

	r.logger.Info("starting reconciler", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.PollOnce(ctx)
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

// PollOnce queues every record changed since the last poll and returns how
// many were queued.
func (r *Reconciler) PollOnce(ctx context.Context) int {
	docs := r.pollSource(ctx, search.DocumentsIndex, func(from pollCursor) (int, pollCursor, error) {
		records, err := r.feed.DocumentsUpdatedSince(ctx, from.at, from.id, r.batchSize)
		if err != nil || len(records) == 0 {
			return 0, from, err
		}
		for _, doc := range records {
			r.writer.IndexDocument(doc)
		}
		last := records[len(records)-1]
		return len(records), pollCursor{at: last.UpdatedAt, id: last.ID}, nil
	})

	sections := r.pollSource(ctx, search.SectionsIndex, func(from pollCursor) (int, pollCursor, error) {
		records, err := r.feed.SectionsUpdatedSince(ctx, from.at, from.id, r.batchSize)
		if err != nil || len(records) == 0 {
			return 0, from, err
		}
		for _, sec := range records {
			r.writer.IndexSection(sec)
		}
		last := records[len(records)-1]
		return len(records), pollCursor{at: last.UpdatedAt, id: last.ID}, nil
	})

	return docs + sections
}

// pollCursor is the (updatedAt, id) of the last queued record.
type pollCursor struct {
	at time.Time
	id string
}

func (c pollCursor) equal(other pollCursor) bool {
	return c.at.Equal(other.at) && c.id == other.id
}

// pollSource drains one source in batches, advancing the persisted cursor.
func (r *Reconciler) pollSource(ctx context.Context, source string, fetch func(from pollCursor) (int, pollCursor, error)) int {
	state := r.state.GetSourceState(source)
	if state == nil {
		// Start from the newest record; a rebuild covers anything older.
		last, err := r.feed.LastUpdated(ctx, source)
		if err != nil || last.IsZero() {
			if err != nil {
				r.logger.Warn("failed to read last update, starting from now", zap.String("source", source), zap.Error(err))
			}
			last = r.now()
		}
		state = &syncstate.SourceState{LastPollTime: last, IndexName: source, Source: source}
		r.state.UpdateSourceState(source, state)
		r.logger.Info("initialized poll state", zap.String("source", source), zap.Time("since", last))
	}

	total := 0
	cursor := pollCursor{at: state.LastPollTime, id: state.LastPollID}
	for {
		count, next, err := fetch(cursor)
		if err != nil {
			r.logger.Error("failed to poll for changes", zap.String("source", source), zap.Error(err))
			break
		}
		total += count
		advanced := !next.equal(cursor)
		if advanced {
			cursor = next
			r.state.SetPollCursor(source, cursor.at, cursor.id)
		}
		if count < r.batchSize || !advanced || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		r.state.IncrementRecordsIndexed(source, int64(total))
		r.logger.Info("queued changed records", zap.String("source", source), zap.Int("count", total))
	}

	now := r.now()
	r.state.SetLastSyncTime(source, now)
	r.engine.UpdateLastSync(source, now)
	return total
}
