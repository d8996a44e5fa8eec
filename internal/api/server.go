// Package api exposes search, history, index hooks and operational
// endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/config"
	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/events"
	"github.com/davidschrooten/docvault-search/internal/history"
	"github.com/davidschrooten/docvault-search/internal/logger"
	"github.com/davidschrooten/docvault-search/internal/metrics"
	"github.com/davidschrooten/docvault-search/internal/query"
	"github.com/davidschrooten/docvault-search/internal/search"
	syncstate "github.com/davidschrooten/docvault-search/internal/sync"
)

// Searcher runs and explains searches.
type Searcher interface {
	Search(ctx context.Context, req domain.SearchRequest, target domain.Target) (*domain.SearchResult, error)
	Explain(req domain.SearchRequest, target domain.Target) (*query.EngineQuery, error)
}

// HistoryService reads and purges search history.
type HistoryService interface {
	List(ctx context.Context, user string, page, limit int) (*history.Listing, error)
	Purge(ctx context.Context, user string) (int64, error)
	Top(ctx context.Context, user string, n int) ([]history.QueryStat, error)
}

// IndexQueue accepts index hooks from the application. Each call reports
// whether the job was queued.
type IndexQueue interface {
	ReindexDocument(id string) bool
	RemoveDocument(id string) bool
	ReindexSection(id string) bool
	RemoveSection(id string) bool
	PermissionsChanged(documentID string) bool
}

// IndexCatalog lists the engine's indexes.
type IndexCatalog interface {
	ListIndexes() ([]search.IndexInfo, error)
}

// SyncStates exposes reconciler progress.
type SyncStates interface {
	GetAllSourceStates() map[string]*syncstate.SourceState
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the server. Bus, State and Store are optional.
type Deps struct {
	Engine   IndexCatalog
	Searcher Searcher
	History  HistoryService
	Writer   IndexQueue
	Bus      events.Bus
	State    SyncStates
	Store    Pinger
}

// Server represents the API server
type Server struct {
	deps     Deps
	config   *config.Config
	logger   *zap.Logger
	limiters *limiterSet
	now      func() time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		deps:     deps,
		config:   cfg,
		logger:   log,
		limiters: newLimiterSet(cfg.Server.RateLimit, cfg.Server.RateBurst),
		now:      time.Now,
	}
}

// Router setups the API routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.With(s.rateLimit).Get("/search/documents", s.handleSearch(domain.TargetDocuments))
			r.With(s.rateLimit).Get("/search/sections", s.handleSearch(domain.TargetSections))
			r.Get("/search/explain", s.handleExplain)
			r.Get("/search/history", s.handleListHistory)
			r.Delete("/search/history", s.handlePurgeHistory)
			r.Get("/search/history/top", s.handleTopQueries)
		})

		r.Route("/index", func(r chi.Router) {
			r.Use(s.requireHookToken)

			r.Post("/documents/{id}", s.handleIndexHook(func(id string) bool { return s.deps.Writer.ReindexDocument(id) }))
			r.Delete("/documents/{id}", s.handleIndexHook(func(id string) bool { return s.deps.Writer.RemoveDocument(id) }))
			r.Post("/documents/{id}/permissions", s.handlePermissionsChanged)
			r.Post("/sections/{id}", s.handleIndexHook(func(id string) bool { return s.deps.Writer.ReindexSection(id) }))
			r.Delete("/sections/{id}", s.handleIndexHook(func(id string) bool { return s.deps.Writer.RemoveSection(id) }))
		})

		r.Get("/indexes", s.handleListIndexes)
		r.Get("/indexes/{index}", s.handleStatus)
	})

	return r
}

func (s *Server) handleSearch(target domain.Target) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.parseSearchRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.deps.Searcher.Search(r.Context(), req, target)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.response(w, http.StatusOK, result)
	}
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	target := domain.TargetDocuments
	if raw := r.URL.Query().Get("target"); raw != "" {
		parsed, err := domain.ParseTarget(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		target = parsed
	}

	req, err := s.parseSearchRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q, err := s.deps.Searcher.Explain(req, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.response(w, http.StatusOK, map[string]interface{}{
		"target": target,
		"index":  target.Index(),
		"query":  q,
	})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	page, limit, err := s.parsePaging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	listing, err := s.deps.History.List(r.Context(), userFrom(r.Context()), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.response(w, http.StatusOK, listing)
}

func (s *Server) handlePurgeHistory(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.deps.History.Purge(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.response(w, http.StatusOK, map[string]interface{}{
		"message": "search history cleared",
		"deleted": deleted,
	})
}

func (s *Server) handleTopQueries(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", s.config.History.TopN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if n < 1 || n > s.config.Search.MaxLimit {
		s.writeError(w, r, invalidf("n must be between 1 and %d", s.config.Search.MaxLimit))
		return
	}

	stats, err := s.deps.History.Top(r.Context(), userFrom(r.Context()), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.response(w, http.StatusOK, map[string]interface{}{"queries": stats})
}

// handleIndexHook queues one index job for the {id} of the route.
func (s *Server) handleIndexHook(queue func(id string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			s.writeError(w, r, invalidf("id parameter is required"))
			return
		}

		if !queue(id) {
			s.response(w, http.StatusServiceUnavailable, map[string]string{"message": "index queue full, job dropped"})
			return
		}
		s.response(w, http.StatusAccepted, map[string]string{"message": "index job queued"})
	}
}

// handlePermissionsChanged publishes on the bus, falling back to the writer
// when no bus is configured or publishing fails.
func (s *Server) handlePermissionsChanged(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeError(w, r, invalidf("id parameter is required"))
		return
	}

	if s.deps.Bus != nil {
		err := s.deps.Bus.Publish(r.Context(), events.PermissionChange{DocumentID: id, At: s.now().UTC()})
		if err == nil {
			s.response(w, http.StatusAccepted, map[string]string{"message": "permission change published"})
			return
		}
		logger.FromContext(r.Context()).Warn("failed to publish permission change, queueing directly",
			zap.String("id", id), zap.Error(err))
	}

	if !s.deps.Writer.PermissionsChanged(id) {
		s.response(w, http.StatusServiceUnavailable, map[string]string{"message": "index queue full, job dropped"})
		return
	}
	s.response(w, http.StatusAccepted, map[string]string{"message": "index job queued"})
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	indexes, err := s.deps.Engine.ListIndexes()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })

	s.response(w, http.StatusOK, map[string]interface{}{
		"indexes": indexes,
		"total":   len(indexes),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")

	indexes, err := s.deps.Engine.ListIndexes()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Find the specific index
	var target *search.IndexInfo
	for i, idx := range indexes {
		if idx.Name == name {
			target = &indexes[i]
			break
		}
	}
	if target == nil {
		s.response(w, http.StatusNotFound, map[string]string{"message": "index not found"})
		return
	}

	status := map[string]interface{}{
		"service": "docvault-search",
		"status":  "running",
		"index":   *target,
	}
	if s.deps.State != nil {
		if state, ok := s.deps.State.GetAllSourceStates()[name]; ok {
			status["sync"] = state
		}
	}

	s.response(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.response(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if s.deps.Engine == nil || s.deps.Searcher == nil {
		checks["searchEngine"] = "not initialized"
		ready = false
	} else if indexes, err := s.deps.Engine.ListIndexes(); err != nil {
		checks["searchEngine"] = err.Error()
		ready = false
	} else {
		checks["searchEngine"] = "ok"
		open := make(map[string]bool, len(indexes))
		for _, idx := range indexes {
			open[idx.Name] = true
		}
		checks["indexes"] = "ok"
		for _, name := range []string{search.DocumentsIndex, search.SectionsIndex} {
			if !open[name] {
				checks["indexes"] = "missing " + name
				ready = false
			}
		}
	}

	if s.deps.Writer == nil {
		checks["indexWriter"] = "not initialized"
		ready = false
	} else {
		checks["indexWriter"] = "ok"
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			checks["primaryStore"] = err.Error()
			ready = false
		} else {
			checks["primaryStore"] = "ok"
		}
	}

	if !ready {
		s.logger.Warn("readiness check failed", zap.Any("checks", checks))
		s.response(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"checks": checks,
		})
		return
	}

	s.response(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// writeError maps domain errors to status codes. The body is {message}.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrRateLimited):
		status, message = http.StatusTooManyRequests, err.Error()
	case errors.Is(err, domain.ErrSearchUnavailable):
		status, message = http.StatusServiceUnavailable, "search is temporarily unavailable"
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	}

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}

	s.response(w, status, map[string]string{"message": message})
}

func (s *Server) response(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("unable to encode response", zap.Error(err))
	}
}
