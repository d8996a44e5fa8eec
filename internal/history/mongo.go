package history

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/mongodb"
)

// entryRecord is the stored shape of a history entry.
type entryRecord struct {
	ID         string            `bson:"_id"`
	User       string            `bson:"user"`
	Query      string            `bson:"query"`
	Filters    map[string]string `bson:"filters,omitempty"`
	Results    []string          `bson:"results"`
	ResultType string            `bson:"resultType"`
	Timestamp  time.Time         `bson:"timestamp"`
}

func (r entryRecord) toDomain() domain.HistoryEntry {
	results := r.Results
	if results == nil {
		results = []string{}
	}
	return domain.HistoryEntry{
		ID:         r.ID,
		User:       r.User,
		Query:      r.Query,
		Filters:    r.Filters,
		ResultType: domain.ResultType(r.ResultType),
		ResultIDs:  results,
		Timestamp:  r.Timestamp.UTC(),
	}
}

// MongoStore keeps history in a MongoDB collection.
type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
	logger  *zap.Logger
}

// NewMongoStore opens the collection and ensures the per-user index.
func NewMongoStore(ctx context.Context, client *mongodb.Client, collection string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MongoStore{
		coll:    client.Collection(collection),
		timeout: client.Timeout(),
		logger:  logger,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}, {Key: "timestamp", Value: -1}},
		Options: options.Index().SetName("user_timestamp"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}
	logger.Info("history store ready", zap.String("collection", collection))
	return s, nil
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) Append(ctx context.Context, entry domain.HistoryEntry) error {
	if err := checkEntry(entry); err != nil {
		return err
	}
	if entry.ID == "" {
		entry = NewEntry(entry.User, entry.Query, entry.Filters, entry.ResultType, entry.ResultIDs, entry.Timestamp)
	}
	results := entry.ResultIDs
	if results == nil {
		results = []string{}
	}

	_, err := s.coll.InsertOne(ctx, entryRecord{
		ID:         entry.ID,
		User:       entry.User,
		Query:      entry.Query,
		Filters:    entry.Filters,
		Results:    results,
		ResultType: string(entry.ResultType),
		Timestamp:  entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrHistoryWriteFailed, err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, user string, page, limit int) (*Page, error) {
	if err := checkPage(user, page, limit); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"user": user}
	result := &Page{Page: page, Limit: limit, Entries: []domain.HistoryEntry{}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, err := s.coll.CountDocuments(gctx, filter)
		if err != nil {
			return fmt.Errorf("failed to count history: %w", err)
		}
		result.Total = total
		return nil
	})
	g.Go(func() error {
		opts := options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
			SetSkip(int64((page - 1) * limit)).
			SetLimit(int64(limit))
		cursor, err := s.coll.Find(gctx, filter, opts)
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		var recs []entryRecord
		if err := cursor.All(gctx, &recs); err != nil {
			return fmt.Errorf("failed to decode history: %w", err)
		}
		entries := make([]domain.HistoryEntry, 0, len(recs))
		for _, rec := range recs {
			entries = append(entries, rec.toDomain())
		}
		result.Entries = entries
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *MongoStore) Purge(ctx context.Context, user string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.coll.DeleteMany(ctx, bson.M{"user": user})
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}
	s.logger.Info("purged search history", zap.String("user", user), zap.Int64("deleted", res.DeletedCount))
	return res.DeletedCount, nil
}

func (s *MongoStore) Aggregate(ctx context.Context, user string, n int) ([]QueryStat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user": user, "query": bson.M{"$regex": `\S`}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$query",
			"count":        bson.M{"$sum": 1},
			"lastSearched": bson.M{"$max": "$timestamp"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "lastSearched", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if n > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: n}})
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate history: %w", err)
	}

	var rows []struct {
		Query        string    `bson:"_id"`
		Count        int       `bson:"count"`
		LastSearched time.Time `bson:"lastSearched"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode history aggregate: %w", err)
	}

	stats := make([]QueryStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, QueryStat{Query: row.Query, Count: row.Count, LastSearched: row.LastSearched.UTC()})
	}
	return stats, nil
}
