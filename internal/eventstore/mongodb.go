package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CedrosPay/server/internal/metrics"
)

const eventsCollection = "events"

// MongoDBStore implements Store using MongoDB, the third Event Repository
// backend alongside memory and postgres.
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

// NewMongoDBStore connects to MongoDB and builds a MongoDBStore, creating
// the indexes the store's lookups rely on.
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

	coll := client.Database(database).Collection(eventsCollection)
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
		{
			Keys: bson.D{{Key: "provider", Value: 1}, {Key: "externalid", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"externalid": bson.M{"$gt": ""}},
			),
		},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}
	return nil
}

// Close disconnects the underlying MongoDB client.
func (s *MongoDBStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *MongoDBStore) CreateEvent(ctx context.Context, provider, eventType string, raw, normalized json.RawMessage, externalID, userIdentifier, orgID string) (*Event, error) {
	defer metrics.MeasureDBQuery(s.metrics, "create_event", "mongodb")()

	if externalID != "" {
		var existing Event
		err := s.coll.FindOne(ctx, bson.M{"provider": provider, "externalid": externalID}).Decode(&existing)
		if err == nil {
			return &existing, nil
		}
		if err != mongo.ErrNoDocuments {
			return nil, fmt.Errorf("lookup existing event: %w", err)
		}
	}

	event := Event{
		ID:                generateEventID(),
		Provider:          provider,
		EventType:         eventType,
		ExternalID:        externalID,
		UserIdentifier:    userIdentifier,
		OrganizationID:    orgID,
		RawPayload:        raw,
		NormalizedPayload: normalized,
		Status:            StatusReceived,
		ReceivedAt:        time.Now().UTC(),
	}

	if _, err := s.coll.InsertOne(ctx, event); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &event, nil
}

func (s *MongoDBStore) GetByID(ctx context.Context, id string) (*Event, error) {
	var event Event
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&event)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &event, nil
}

func (s *MongoDBStore) GetByExternalID(ctx context.Context, provider, externalID string) (*Event, error) {
	var event Event
	err := s.coll.FindOne(ctx, bson.M{"provider": provider, "externalid": externalID}).Decode(&event)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event by external id: %w", err)
	}
	return &event, nil
}

func (s *MongoDBStore) transition(ctx context.Context, id string, from []Status, to Status, extra bson.M) error {
	set := bson.M{"status": to}
	for k, v := range extra {
		set[k] = v
	}
	filter := bson.M{"id": id, "status": bson.M{"$in": from}}
	result, err := s.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("transition event: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *MongoDBStore) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, []Status{StatusReceived}, StatusProcessing, nil)
}

// MarkProcessed allows processing -> processed on the normal fast path, and
// failed -> processed on DLQ recovery once a retried dispatch succeeds.
func (s *MongoDBStore) MarkProcessed(ctx context.Context, id string) error {
	return s.transition(ctx, id, []Status{StatusProcessing, StatusFailed}, StatusProcessed, bson.M{"processedat": time.Now().UTC()})
}

func (s *MongoDBStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	return s.transition(ctx, id, []Status{StatusReceived, StatusProcessing}, StatusFailed, bson.M{"errormessage": errMsg})
}

func (s *MongoDBStore) ListFailed(ctx context.Context, provider string, limit int) ([]*Event, error) {
	filter := bson.M{"status": StatusFailed}
	if provider != "" {
		filter["provider"] = provider
	}

	opts := options.Find().SetSort(bson.D{{Key: "receivedat", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query failed events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode failed events: %w", err)
	}
	return events, nil
}
