package catalog

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/frostline/updated/pkg/apperr"
)

// UpsertChunk records a received chunk. Duplicate offsets within the
// same epoch are silently idempotent: $setOnInsert leaves an existing
// row untouched.
func (s *Store) UpsertChunk(ctx context.Context, uploadID primitive.ObjectID, concurrentID string, offset, size int64) error {
	filter := bson.M{"upload_id": uploadID, "concurrent_id": concurrentID, "offset": offset}
	update := bson.M{"$setOnInsert": bson.M{
		"upload_id":     uploadID,
		"concurrent_id": concurrentID,
		"offset":        offset,
		"size":          size,
		"created_at":    time.Now().UTC(),
	}}

	_, err := s.chunks.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return apperr.Dependency("mongodb", err)
	}
	return nil
}

// CountChunks returns the number of chunk rows in the given epoch.
func (s *Store) CountChunks(ctx context.Context, uploadID primitive.ObjectID, concurrentID string) (int64, error) {
	n, err := s.chunks.CountDocuments(ctx, bson.M{"upload_id": uploadID, "concurrent_id": concurrentID})
	if err != nil {
		return 0, apperr.Dependency("mongodb", err)
	}
	return n, nil
}

// ChunkOffsets returns the offsets stored in the given epoch, unsorted.
func (s *Store) ChunkOffsets(ctx context.Context, uploadID primitive.ObjectID, concurrentID string) ([]int64, error) {
	cur, err := s.chunks.Find(ctx,
		bson.M{"upload_id": uploadID, "concurrent_id": concurrentID},
		options.Find().SetProjection(bson.M{"offset": 1}),
	)
	if err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	defer cur.Close(ctx)

	var offsets []int64
	for cur.Next(ctx) {
		var row struct {
			Offset int64 `bson:"offset"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, apperr.Dependency("mongodb", err)
		}
		offsets = append(offsets, row.Offset)
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	return offsets, nil
}

// DeleteChunks removes every chunk row belonging to an upload,
// regardless of epoch. Used on epoch rotation and after reassembly.
func (s *Store) DeleteChunks(ctx context.Context, uploadID primitive.ObjectID) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"upload_id": uploadID}); err != nil {
		return apperr.Dependency("mongodb", err)
	}
	return nil
}
