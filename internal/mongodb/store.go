package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davidschrooten/docvault-search/config"
	"github.com/davidschrooten/docvault-search/internal/domain"
)

// Store is a read-only view of the documents and sections collections.
type Store struct {
	client   *Client
	docs     string
	sections string
}

// NewStore returns the primary-store reader
func NewStore(client *Client, cfg config.MongoDBConfig) *Store {
	return &Store{
		client:   client,
		docs:     cfg.DocumentsColl,
		sections: cfg.SectionsColl,
	}
}

// GetDocument loads one document; domain.ErrNotFound when it does not exist.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	var rec documentRecord
	err := s.client.Collection(s.docs).FindOne(ctx, idFilter("_id", id)).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	doc := rec.toDomain()
	return &doc, nil
}

// GetSection loads one section; domain.ErrNotFound when it does not exist.
func (s *Store) GetSection(ctx context.Context, id string) (*domain.Section, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	var rec sectionRecord
	err := s.client.Collection(s.sections).FindOne(ctx, idFilter("_id", id)).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("section %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load section %s: %w", id, err)
	}
	sec := rec.toDomain()
	return &sec, nil
}

// ListSections returns every section of a document ordered by page
func (s *Store) ListSections(ctx context.Context, documentID string) ([]domain.Section, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "pageNumber", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.client.Collection(s.sections).Find(ctx, idFilter("document", documentID), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections of %s: %w", documentID, err)
	}

	var recs []sectionRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode sections of %s: %w", documentID, err)
	}

	sections := make([]domain.Section, 0, len(recs))
	for _, rec := range recs {
		sections = append(sections, rec.toDomain())
	}
	return sections, nil
}

// DocumentsUpdatedSince returns up to limit documents past the (since, afterID)
// position, in updatedAt then _id order
func (s *Store) DocumentsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.Document, error) {
	var recs []documentRecord
	if err := s.findSince(ctx, s.docs, since, afterID, limit, &recs); err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(recs))
	for _, rec := range recs {
		docs = append(docs, rec.toDomain())
	}
	return docs, nil
}

// SectionsUpdatedSince returns up to limit sections past the (since, afterID)
// position, in updatedAt then _id order
func (s *Store) SectionsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.Section, error) {
	var recs []sectionRecord
	if err := s.findSince(ctx, s.sections, since, afterID, limit, &recs); err != nil {
		return nil, err
	}
	sections := make([]domain.Section, 0, len(recs))
	for _, rec := range recs {
		sections = append(sections, rec.toDomain())
	}
	return sections, nil
}

func (s *Store) findSince(ctx context.Context, collection string, since time.Time, afterID string, limit int, out interface{}) error {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.client.Collection(collection).Find(ctx, sinceFilter(since, afterID), opts)
	if err != nil {
		return fmt.Errorf("failed to find %s since %v: %w", collection, since, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", collection, err)
	}
	return nil
}

// LastUpdated returns the newest updatedAt of a source, or the zero time
func (s *Store) LastUpdated(ctx context.Context, source string) (time.Time, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	collection := s.docs
	if source == domain.TargetSections.Index() {
		collection = s.sections
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}}).SetProjection(bson.M{"updatedAt": 1})
	var result struct {
		UpdatedAt time.Time `bson:"updatedAt"`
	}
	err := s.client.Collection(collection).FindOne(ctx, bson.M{}, opts).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last update of %s: %w", collection, err)
	}
	return result.UpdatedAt, nil
}

// EachDocument streams every document in batches. fn may stop the walk by
// returning an error.
func (s *Store) EachDocument(ctx context.Context, batchSize int, fn func([]domain.Document) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	opts := options.Find().SetBatchSize(int32(batchSize)).SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.client.Collection(s.docs).Find(ctx, bson.M{}, opts)
	if err != nil {
		return fmt.Errorf("failed to scan documents: %w", err)
	}
	defer cursor.Close(ctx)

	batch := make([]domain.Document, 0, batchSize)
	for cursor.Next(ctx) {
		var rec documentRecord
		if err := cursor.Decode(&rec); err != nil {
			return fmt.Errorf("failed to decode document: %w", err)
		}
		batch = append(batch, rec.toDomain())

		if len(batch) >= batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]domain.Document, 0, batchSize)
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("document scan failed: %w", err)
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Resolve returns the titles of the given ids that still exist.
func (s *Store) Resolve(ctx context.Context, resultType domain.ResultType, ids []string) (map[string]string, error) {
	titles := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}

	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	collection := s.docs
	if resultType == domain.ResultTypeSection {
		collection = s.sections
	}

	opts := options.Find().SetProjection(bson.M{"title": 1})
	cursor, err := s.client.Collection(collection).Find(ctx, idsFilter("_id", ids), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s ids: %w", collection, err)
	}

	var recs []struct {
		ID    interface{} `bson:"_id"`
		Title string      `bson:"title"`
	}
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode %s titles: %w", collection, err)
	}
	for _, rec := range recs {
		titles[idString(rec.ID)] = rec.Title
	}
	return titles, nil
}
