// Package executor runs built queries against the engine, shapes the result
// envelope and logs each executed search to the history store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/history"
	"github.com/davidschrooten/docvault-search/internal/metrics"
	"github.com/davidschrooten/docvault-search/internal/query"
	"github.com/davidschrooten/docvault-search/internal/search"
)

// Searcher is the read side of the search engine.
type Searcher interface {
	Search(ctx context.Context, index string, q *query.EngineQuery) (*search.SearchResult, error)
}

// Appender records executed searches.
type Appender interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
}

// Options bounds engine and history calls.
type Options struct {
	SearchTimeout time.Duration
	AppendTimeout time.Duration
	MaxLimit      int
}

// Executor is safe for concurrent use. Searches share no mutable state.
type Executor struct {
	engine  Searcher
	history Appender
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	pending sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// New creates an executor. history may be nil to disable logging searches.
func New(engine Searcher, hist Appender, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 2 * time.Second
	}
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = 500 * time.Millisecond
	}
	return &Executor{
		engine:  engine,
		history: hist,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Explain returns the engine query a request would run.
func (e *Executor) Explain(req domain.SearchRequest, target domain.Target) (*query.EngineQuery, error) {
	if e.opts.MaxLimit > 0 && req.Limit > e.opts.MaxLimit {
		return nil, fmt.Errorf("%w: limit must not exceed %d", domain.ErrInvalidRequest, e.opts.MaxLimit)
	}
	return query.NewBuilder(target).Build(req)
}

// Search runs req against target. Engine errors and timeouts surface as
// domain.ErrSearchUnavailable with no partial result. On success one history
// entry is appended in the background; the caller never waits for it.
func (e *Executor) Search(ctx context.Context, req domain.SearchRequest, target domain.Target) (*domain.SearchResult, error) {
	label := string(target)

	q, err := e.Explain(req, target)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(label, "invalid").Inc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()

	start := time.Now()
	raw, err := e.engine.Search(ctx, target.Index(), q)
	metrics.SearchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(label, "unavailable").Inc()
		reason := "engine error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		e.logger.Error("search failed",
			zap.String("target", label),
			zap.String("user", req.RequesterID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSearchUnavailable, reason, err)
	}
	metrics.SearchRequestsTotal.WithLabelValues(label, "ok").Inc()

	result := normalize(raw, req)
	e.record(req, target, result.IDs())
	return result, nil
}

// normalize keeps the engine's hit order.
func normalize(raw *search.SearchResult, req domain.SearchRequest) *domain.SearchResult {
	hits := make([]domain.Hit, 0, len(raw.Hits))
	for _, h := range raw.Hits {
		source := h.Source
		if source == nil {
			source = map[string]interface{}{}
		}
		hits = append(hits, domain.Hit{ID: h.ID, Score: h.Score, Source: source})
	}
	return &domain.SearchResult{
		Hits:       hits,
		Total:      raw.Total,
		Page:       req.Page,
		Limit:      req.Limit,
		TotalPages: domain.TotalPages(raw.Total, req.Limit),
	}
}

// record appends the history entry on its own goroutine and deadline.
func (e *Executor) record(req domain.SearchRequest, target domain.Target, ids []string) {
	if e.history == nil {
		return
	}
	entry := history.NewEntry(req.RequesterID, req.QueryText, req.Filters, target.ResultType(), ids, e.now())

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.historyFailed(entry, errors.New("executor closed"))
		return
	}

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.opts.AppendTimeout)
		defer cancel()

		if err := e.history.Append(ctx, entry); err != nil {
			e.historyFailed(entry, err)
			return
		}
		metrics.HistoryWritesTotal.WithLabelValues("ok").Inc()
	}()
}

func (e *Executor) historyFailed(entry domain.HistoryEntry, err error) {
	metrics.HistoryWritesTotal.WithLabelValues("failed").Inc()
	if !errors.Is(err, domain.ErrHistoryWriteFailed) {
		err = fmt.Errorf("%w: %w", domain.ErrHistoryWriteFailed, err)
	}
	e.logger.Warn("history append dropped",
		zap.String("user", entry.User),
		zap.String("query", entry.Query),
		zap.Error(err),
	)
}

// Close waits for in-flight history appends. Searches after Close still run
// but are not logged.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.pending.Wait()
}
