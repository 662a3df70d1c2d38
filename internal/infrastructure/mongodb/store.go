// Package mongodb provides a document-store inventory adapter. Batches are
// embedded in their item document, so item and batch counters change in a
// single atomic update.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
)

const (
	itemsCollection     = "inventory_items"
	movementsCollection = "stock_movements"
)

// Store is an inventory store on MongoDB.
type Store struct {
	db        *mongo.Database
	items     *mongo.Collection
	movements *mongo.Collection
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Connect opens a client for uri, verifies it and returns a store on database.
func Connect(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return New(client.Database(database), logger), nil
}

// New creates a store on db.
func New(db *mongo.Database, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:        db,
		items:     db.Collection(itemsCollection),
		movements: db.Collection(movementsCollection),
		logger:    logger,
		tracer:    otel.Tracer("mongodb-inventory"),
	}
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// EnsureIndexes creates the lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pharmacyId", Value: 1}, {Key: "itemId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create item index: %w", err)
	}
	_, err = s.movements.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "pharmacyId", Value: 1}, {Key: "itemId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create movement index: %w", err)
	}
	return nil
}

func itemFilter(pharmacyID, itemID string) bson.M {
	return bson.M{"pharmacyId": pharmacyID, "itemId": itemID}
}

// UpsertItem replaces the item document, batches included.
func (s *Store) UpsertItem(ctx context.Context, item inventory.Item) error {
	for i := range item.Batches {
		if item.Batches[i].Status == "" {
			item.Batches[i].Status = inventory.BatchActive
		}
	}
	_, err := s.items.ReplaceOne(ctx, itemFilter(item.PharmacyID, item.ID), item, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	return nil
}

// Snapshot returns the pharmacy's items ordered by id.
func (s *Store) Snapshot(ctx context.Context, pharmacyID string) ([]inventory.Item, error) {
	ctx, span := s.tracer.Start(ctx, "mongodb_snapshot", trace.WithAttributes(attribute.String("pharmacy_id", pharmacyID)))
	defer span.End()

	cursor, err := s.items.Find(ctx, bson.M{"pharmacyId": pharmacyID},
		options.Find().SetSort(bson.D{{Key: "itemId", Value: 1}}))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("find items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []inventory.Item
	if err := cursor.All(ctx, &items); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode items: %w", err)
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	return items, nil
}

// incrementUpdate builds the filter and $inc update for ref. A batch ref
// updates the matched array element through the positional operator.
func incrementUpdate(pharmacyID string, ref inventory.StockRef, delta float64) (bson.M, bson.M) {
	filter := itemFilter(pharmacyID, ref.ItemID)
	inc := bson.M{"currentStock": delta}
	if ref.BatchID != "" {
		filter["batches.id"] = ref.BatchID
		inc["batches.$.quantity"] = delta
	}
	return filter, bson.M{"$inc": inc}
}

// IncrementStock applies delta with a single $inc.
func (s *Store) IncrementStock(ctx context.Context, pharmacyID string, ref inventory.StockRef, delta float64) error {
	filter, update := incrementUpdate(pharmacyID, ref, delta)
	res, err := s.items.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", inventory.ErrItemNotFound, ref.ItemID, ref.BatchID)
	}
	return nil
}

// AppendMovement inserts a movement document.
func (s *Store) AppendMovement(ctx context.Context, m *inventory.StockMovement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.movements.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	return nil
}

// ApplyMovement increments stock and appends m in one session transaction.
// Transactions need a replica set.
func (s *Store) ApplyMovement(ctx context.Context, m *inventory.StockMovement) error {
	ctx, span := s.tracer.Start(ctx, "mongodb_apply_movement",
		trace.WithAttributes(
			attribute.String("item_id", m.ItemID),
			attribute.Float64("delta", m.Delta),
		))
	defer span.End()

	session, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		ref := inventory.StockRef{ItemID: m.ItemID, BatchID: m.BatchID}
		if err := s.IncrementStock(sessCtx, m.PharmacyID, ref, m.Delta); err != nil {
			return nil, err
		}
		return nil, s.AppendMovement(sessCtx, m)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ListMovements returns an item's movements, oldest first.
func (s *Store) ListMovements(ctx context.Context, pharmacyID, itemID string) ([]inventory.StockMovement, error) {
	cursor, err := s.movements.Find(ctx, itemFilter(pharmacyID, itemID),
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find movements: %w", err)
	}
	defer cursor.Close(ctx)

	var out []inventory.StockMovement
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode movements: %w", err)
	}
	return out, nil
}
