package persist

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"roomsync/common"
)

// RoomMetadata is what the cold-start path needs to know about a room before
// any snapshot exists: how the room was provisioned by the surrounding
// platform.
type RoomMetadata struct {
	RoomKey  string `bson:"room_key"`
	Language string `bson:"language"`
	Status   string `bson:"status"`
	OwnerID  string `bson:"owner_id"`
	OrgID    string `bson:"org_id"`
}

// RoomRecord is the denormalized relational row kept alongside the opaque
// snapshot for non-realtime consumers (search, listings, reporting).
type RoomRecord struct {
	RoomKey          string        `bson:"room_key"`
	Code             string        `bson:"code"`
	Language         string        `bson:"language"`
	Status           string        `bson:"status"`
	Instructions     string        `bson:"instructions"`
	ExecutionHistory []interface{} `bson:"execution_history"`
	Snapshot         string        `bson:"snapshot"` // base64 of the full document
	OwnerID          string        `bson:"owner_id"`
	OrgID            string        `bson:"org_id"`
	UpdatedAt        time.Time     `bson:"updated_at"`
}

// EncodeSnapshot converts a raw snapshot into its base64-safe stored form.
func EncodeSnapshot(snapshot []byte) string {
	return base64.StdEncoding.EncodeToString(snapshot)
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(stored string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored snapshot: %w", err)
	}
	return data, nil
}

// RecordAccess is the record-store surface the room engine depends on.
// Satisfied by RecordStore and by in-memory fakes in tests.
type RecordAccess interface {
	Metadata(ctx context.Context, roomKey string) (*RoomMetadata, error)
	Initialized(ctx context.Context, roomKey string) (bool, error)
	MarkInitialized(ctx context.Context, roomKey string) (bool, error)
	Snapshot(ctx context.Context, roomKey string) ([]byte, error)
	Upsert(ctx context.Context, record *RoomRecord) error
}

// RecordStore reads room metadata and upserts denormalized room rows in
// MongoDB.
type RecordStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewRecordStore creates a store over the given collection.
func NewRecordStore(collection *mongo.Collection, logger *zap.Logger) *RecordStore {
	return &RecordStore{collection: collection, logger: logger}
}

// Metadata resolves a room key to its provisioning metadata. A missing row
// means the room does not exist: hydration must fail closed.
func (s *RecordStore) Metadata(ctx context.Context, roomKey string) (*RoomMetadata, error) {
	var meta RoomMetadata
	err := s.collection.FindOne(ctx, bson.M{"room_key": roomKey}).Decode(&meta)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.ErrRoomNotFound{RoomKey: roomKey}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room metadata: %w", err)
	}
	return &meta, nil
}

// MarkInitialized flips the room's persisted initialized flag. It returns
// true only for the caller that performed the flip, so concurrent cold
// starts across processes cannot double-initialize a room.
func (s *RecordStore) MarkInitialized(ctx context.Context, roomKey string) (bool, error) {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"room_key": roomKey, "initialized": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"initialized": true, "initialized_at": time.Now()}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark room initialized: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// Initialized reports whether the room's default initialization already ran.
// Cold starts that find no cached snapshot consult this before bootstrapping:
// a set flag means the document already exists somewhere durable.
func (s *RecordStore) Initialized(ctx context.Context, roomKey string) (bool, error) {
	var row struct {
		Initialized bool `bson:"initialized"`
	}
	err := s.collection.FindOne(ctx, bson.M{"room_key": roomKey}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, common.ErrRoomNotFound{RoomKey: roomKey}
	}
	if err != nil {
		return false, fmt.Errorf("failed to read room record: %w", err)
	}
	return row.Initialized, nil
}

// Snapshot returns the full document encoding stored on the room row, the
// durable fallback for cold starts whose snapshot cache was evicted. Returns
// ErrSnapshotNotFound when the row carries no snapshot yet.
func (s *RecordStore) Snapshot(ctx context.Context, roomKey string) ([]byte, error) {
	var row struct {
		Snapshot string `bson:"snapshot"`
	}
	err := s.collection.FindOne(ctx, bson.M{"room_key": roomKey}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read room record: %w", err)
	}
	if row.Snapshot == "" {
		return nil, ErrSnapshotNotFound
	}
	return DecodeSnapshot(row.Snapshot)
}

// Upsert writes the denormalized row. The write is idempotent: upserting the
// same state twice is harmless.
func (s *RecordStore) Upsert(ctx context.Context, record *RoomRecord) error {
	record.UpdatedAt = time.Now()

	update := bson.M{
		"$set": bson.M{
			"code":              record.Code,
			"language":          record.Language,
			"status":            record.Status,
			"instructions":      record.Instructions,
			"execution_history": record.ExecutionHistory,
			"snapshot":          record.Snapshot,
			"updated_at":        record.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"room_key":   record.RoomKey,
			"owner_id":   record.OwnerID,
			"org_id":     record.OrgID,
			"created_at": record.UpdatedAt,
		},
	}

	_, err := s.collection.UpdateOne(ctx,
		bson.M{"room_key": record.RoomKey},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert room record: %w", err)
	}
	return nil
}
