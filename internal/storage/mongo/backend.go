// Package mongo implements storage.Backend on MongoDB. Every logical collection
// maps onto one MongoDB collection and the document identity onto _id.
package mongo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"livesync/internal/storage"
	"livesync/pkg/model"
)

const watchBufferSize = 1024

type Backend struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend connects to MongoDB and verifies the connection.
func NewBackend(ctx context.Context, uri string, dbName string) (*Backend, error) {
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, model.NewStoreError("connect", "", "", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, model.NewStoreError("ping", "", "", err)
	}

	return &Backend{
		client: client,
		db:     client.Database(dbName),
	}, nil
}

func (m *Backend) DB() *mongo.Database {
	return m.db
}

// EnsureIndexes creates ascending single-field indexes used by sorted queries.
func (m *Backend) EnsureIndexes(ctx context.Context, collection string, fields []string) error {
	coll := m.db.Collection(collection)
	for _, field := range fields {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: mapField(field), Value: 1}},
			Options: options.Index().SetUnique(false),
		})
		if err != nil {
			return model.NewStoreError("ensure_index", "", collection+"."+field, err)
		}
	}
	return nil
}

func (m *Backend) Find(ctx context.Context, q storage.Query) ([]model.Document, error) {
	filter, err := makeFilterBSON(q.Filters)
	if err != nil {
		return nil, err
	}
	if q.IDs != nil {
		mergeOp(filter, "_id", "$in", q.IDs)
	}

	findOptions := options.Find()
	if q.Skip > 0 {
		findOptions.SetSkip(int64(q.Skip))
	}
	if q.Limit > 0 {
		findOptions.SetLimit(int64(q.Limit))
	}
	if len(q.OrderBy) > 0 {
		findOptions.SetSort(makeSortBSON(q.OrderBy))
	}
	if len(q.Select) > 0 {
		findOptions.SetProjection(makeProjectionBSON(q.Select))
	}

	cursor, err := m.db.Collection(q.Collection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, model.NewStoreError("find", "", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, model.NewStoreError("find", "", q.Collection, err)
	}

	docs := make([]model.Document, 0, len(raw))
	for _, r := range raw {
		docs = append(docs, fromBSONDocument(r))
	}
	if len(q.Select) > 0 {
		// _id is always returned by the server unless excluded; keep the
		// identity semantics of storage.ApplySelect.
		for i, d := range docs {
			docs[i] = storage.ApplySelect(d, q.Select)
		}
	}
	return storage.Populate(ctx, m, docs, q.Populate)
}

func (m *Backend) FindOne(ctx context.Context, q storage.Query) (model.Document, error) {
	q.Limit = 1
	docs, err := m.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, model.ErrNotFound
	}
	return docs[0], nil
}

func (m *Backend) Get(ctx context.Context, collection, id string) (model.Document, error) {
	var raw bson.M
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrNotFound
		}
		return nil, model.NewStoreError("get", id, collection, err)
	}
	return fromBSONDocument(raw), nil
}

func (m *Backend) Create(ctx context.Context, collection string, doc model.Document) error {
	id := doc.GetID()
	_, err := m.db.Collection(collection).InsertOne(ctx, toBSONDocument(doc))
	if mongo.IsDuplicateKeyError(err) {
		return model.ErrExists
	}
	return model.NewStoreError("create", id, collection, err)
}

func (m *Backend) Replace(ctx context.Context, collection string, doc model.Document) error {
	id := doc.GetID()
	result, err := m.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, toBSONDocument(doc))
	if err != nil {
		return model.NewStoreError("replace", id, collection, err)
	}
	if result.MatchedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (m *Backend) Delete(ctx context.Context, collection, id string) error {
	result, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return model.NewStoreError("delete", id, collection, err)
	}
	if result.DeletedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
	DocumentKey   struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
	Ns struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

// Watch opens a change stream on one collection, or on the whole database when
// collection is empty. Requires a replica set.
func (m *Backend) Watch(ctx context.Context, collection string) (<-chan storage.Event, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
	}
	// We need 'updateLookup' to get the full document after an update
	changeStreamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	var (
		stream *mongo.ChangeStream
		err    error
	)
	if collection == "" {
		stream, err = m.db.Watch(ctx, pipeline, changeStreamOpts)
	} else {
		stream, err = m.db.Collection(collection).Watch(ctx, pipeline, changeStreamOpts)
	}
	if err != nil {
		return nil, model.NewStoreError("watch", "", collection, err)
	}

	out := make(chan storage.Event, watchBufferSize)

	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var ce changeEvent
			if err := stream.Decode(&ce); err != nil {
				slog.Warn("[Warn][Mongo] Failed to decode change event", "collection", collection, "error", err)
				continue
			}

			evt, ok := toEvent(ce)
			if !ok {
				continue
			}

			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && !model.IsCanceled(err) {
			slog.Error("[Error][Mongo] Change stream stopped", "collection", collection, "error", err)
		}
	}()

	return out, nil
}

func toEvent(ce changeEvent) (storage.Event, bool) {
	evt := storage.Event{
		Collection: ce.Ns.Coll,
		Timestamp:  time.Now().UnixMilli(),
	}

	switch ce.OperationType {
	case "insert":
		evt.Type = storage.EventCreate
	case "update", "replace":
		evt.Type = storage.EventUpdate
	case "delete":
		evt.Type = storage.EventRemove
		evt.Document = model.Document{model.FieldID: fromBSON(ce.DocumentKey.ID)}
		return evt, true
	default:
		return evt, false
	}

	// Document was removed before the update could be looked up.
	if ce.FullDocument == nil {
		return evt, false
	}
	evt.Document = fromBSONDocument(ce.FullDocument)
	return evt, true
}

func (m *Backend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
