package indexer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidschrooten/docvault-search/config"
	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/query"
	"github.com/davidschrooten/docvault-search/internal/search"
)

// memStore is an in-memory primary store.
type memStore struct {
	mu       sync.Mutex
	docs     map[string]domain.Document
	sections map[string]domain.Section
	failList bool
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]domain.Document{}, sections: map[string]domain.Section{}}
}

func (s *memStore) putDocument(d domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.ID] = d
}

func (s *memStore) putSection(sec domain.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[sec.ID] = sec
}

func (s *memStore) deleteDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	for sid, sec := range s.sections {
		if sec.DocumentID == id {
			delete(s.sections, sid)
		}
	}
}

func (s *memStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return &d, nil
}

func (s *memStore) GetSection(_ context.Context, id string) (*domain.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[id]
	if !ok {
		return nil, fmt.Errorf("section %s: %w", id, domain.ErrNotFound)
	}
	return &sec, nil
}

func (s *memStore) ListSections(_ context.Context, documentID string) ([]domain.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, fmt.Errorf("store offline")
	}
	var out []domain.Section
	for _, sec := range s.sections {
		if sec.DocumentID == documentID {
			out = append(out, sec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) EachDocument(_ context.Context, batchSize int, fn func([]domain.Document) error) error {
	s.mu.Lock()
	all := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		all = append(all, d)
	}
	s.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// pastCursor mirrors the (updatedAt, _id) paging of the MongoDB store.
func pastCursor(updated time.Time, id string, since time.Time, afterID string) bool {
	if updated.After(since) {
		return true
	}
	return afterID != "" && updated.Equal(since) && id > afterID
}

func cursorOrder(ti, tj time.Time, idi, idj string) bool {
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	return idi < idj
}

func (s *memStore) DocumentsUpdatedSince(_ context.Context, since time.Time, afterID string, limit int) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, d := range s.docs {
		if pastCursor(d.UpdatedAt, d.ID, since, afterID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return cursorOrder(out[i].UpdatedAt, out[j].UpdatedAt, out[i].ID, out[j].ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) SectionsUpdatedSince(_ context.Context, since time.Time, afterID string, limit int) ([]domain.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Section
	for _, sec := range s.sections {
		if pastCursor(sec.UpdatedAt, sec.ID, since, afterID) {
			out = append(out, sec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return cursorOrder(out[i].UpdatedAt, out[j].UpdatedAt, out[i].ID, out[j].ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LastUpdated(_ context.Context, source string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	if source == search.SectionsIndex {
		for _, sec := range s.sections {
			if sec.UpdatedAt.After(last) {
				last = sec.UpdatedAt
			}
		}
		return last, nil
	}
	for _, d := range s.docs {
		if d.UpdatedAt.After(last) {
			last = d.UpdatedAt
		}
	}
	return last, nil
}

func newTestEngine(t *testing.T) *search.Engine {
	t.Helper()
	engine, err := search.NewEngine(config.SearchConfig{IndexPath: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, engine.Bootstrap())
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func newTestWriter(t *testing.T, engine search.SearchEngine, store PrimaryStore) *Writer {
	t.Helper()
	w := NewWriter(engine, store, Options{Workers: 4, QueueSize: 64, WriteTimeout: 5 * time.Second}, nil)
	t.Cleanup(w.Close)
	return w
}

// visible returns the ids a user can see in one index, in id order.
func visible(t *testing.T, engine search.SearchEngine, target domain.Target, user string) []string {
	t.Helper()
	req := domain.SearchRequest{Page: 1, Limit: 100, RequesterID: user, Sort: &domain.Sort{Field: "_id", Order: domain.SortAsc}}
	q, err := query.NewBuilder(target).Build(req)
	require.NoError(t, err)
	res, err := engine.Search(context.Background(), target.Index(), q)
	require.NoError(t, err)
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func sourceOf(t *testing.T, engine search.SearchEngine, target domain.Target, user, id string) map[string]interface{} {
	t.Helper()
	req := domain.SearchRequest{Page: 1, Limit: 100, RequesterID: user}
	q, err := query.NewBuilder(target).Build(req)
	require.NoError(t, err)
	res, err := engine.Search(context.Background(), target.Index(), q)
	require.NoError(t, err)
	for _, h := range res.Hits {
		if h.ID == id {
			return h.Source
		}
	}
	return nil
}

// gateEngine blocks Upsert until the gate closes.
type gateEngine struct {
	search.SearchEngine
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gateEngine) Upsert(ctx context.Context, _ string, _ search.Indexable) error {
	g.once.Do(func() { close(g.started) })
	<-g.gate
	return nil
}

func (g *gateEngine) UpsertBatch(context.Context, string, []search.Indexable) error {
	return nil
}

// failingEngine rejects every write.
type failingEngine struct {
	search.SearchEngine
}

func (failingEngine) Upsert(context.Context, string, search.Indexable) error {
	return fmt.Errorf("engine offline")
}
