package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CedrosPay/server/internal/metrics"
)

const dlqCollection = "dead_letter_queue"

// MongoDBStore implements Store using MongoDB, the third DLQ backend
// alongside memory and postgres.
type MongoDBStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics collector so query latency is observed under
// the "mongodb" backend label. Safe to call with nil.
func (s *MongoDBStore) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewMongoDBStore connects to MongoDB and builds a MongoDBStore.
func NewMongoDBStore(connectionString, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(dlqCollection)
	store := &MongoDBStore{client: client, coll: coll}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "eventid", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextretryat", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create dlq indexes: %w", err)
	}
	return nil
}

// Close disconnects the underlying MongoDB client.
func (s *MongoDBStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *MongoDBStore) Enqueue(ctx context.Context, eventID, errMsg string) (*Entry, error) {
	defer metrics.MeasureDBQuery(s.metrics, "enqueue", "mongodb")()

	now := time.Now().UTC()

	var existing Entry
	err := s.coll.FindOne(ctx, bson.M{"eventid": eventID}).Decode(&existing)
	if err == nil {
		if existing.Status == StatusAbandoned {
			return &existing, nil
		}
		existing.ErrorMessage = errMsg
		existing.RetryCount++
		existing.LastRetryAt = &now
		existing.UpdatedAt = now
		if existing.RetryCount >= existing.MaxRetries {
			existing.Status = StatusAbandoned
			existing.NextRetryAt = nil
		} else {
			next := now.Add(backoffDelay(existing.RetryCount))
			existing.Status = StatusPending
			existing.NextRetryAt = &next
		}
		_, err := s.coll.ReplaceOne(ctx, bson.M{"id": existing.ID}, existing)
		if err != nil {
			return nil, fmt.Errorf("update dlq entry: %w", err)
		}
		return &existing, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("lookup dlq entry: %w", err)
	}

	next := now.Add(1 * time.Second)
	entry := Entry{
		ID:           "dlq_" + uuid.NewString(),
		EventID:      eventID,
		ErrorMessage: errMsg,
		RetryCount:   0,
		MaxRetries:   DefaultMaxRetries,
		NextRetryAt:  &next,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.coll.InsertOne(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert dlq entry: %w", err)
	}
	return &entry, nil
}

func (s *MongoDBStore) GetByEventID(ctx context.Context, eventID string) (*Entry, error) {
	var entry Entry
	err := s.coll.FindOne(ctx, bson.M{"eventid": eventID}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dlq entry: %w", err)
	}
	return &entry, nil
}

func (s *MongoDBStore) GetPendingRetries(ctx context.Context, limit int) ([]*Entry, error) {
	filter := bson.M{
		"status":      bson.M{"$in": []Status{StatusPending, StatusRetrying}},
		"nextretryat": bson.M{"$lte": time.Now().UTC()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "nextretryat", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query dlq entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode dlq entries: %w", err)
	}
	return entries, nil
}

func (s *MongoDBStore) MarkRetrying(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"status":      StatusRetrying,
		"lastretryat": now,
		"updatedat":   now,
	}})
	if err != nil {
		return fmt.Errorf("mark dlq entry retrying: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) MarkResolved(ctx context.Context, id, note string) error {
	now := time.Now().UTC()
	result, err := s.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"status":         StatusResolved,
		"resolvedat":     now,
		"resolutionnote": note,
		"nextretryat":    nil,
		"updatedat":      now,
	}})
	if err != nil {
		return fmt.Errorf("mark dlq entry resolved: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	for status, counter := range map[Status]*int{
		StatusPending:   &stats.Pending,
		StatusRetrying:  &stats.Retrying,
		StatusResolved:  &stats.Resolved,
		StatusAbandoned: &stats.Abandoned,
	} {
		count, err := s.coll.CountDocuments(ctx, bson.M{"status": status})
		if err != nil {
			return Stats{}, fmt.Errorf("count dlq entries: %w", err)
		}
		*counter = int(count)
	}
	return stats, nil
}
