package catalog

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/frostline/updated/pkg/apperr"
)

// GetUploadByVersion fetches the upload row attached to a version.
func (s *Store) GetUploadByVersion(ctx context.Context, versionID primitive.ObjectID) (*Upload, error) {
	var u Upload
	err := s.uploads.FindOne(ctx, bson.M{"version_id": versionID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("upload for version", versionID.Hex())
	}
	if err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	return &u, nil
}

// GetUpload fetches an upload row scoped to its current epoch. A row
// whose concurrent_id has rotated away is treated as absent.
func (s *Store) GetUpload(ctx context.Context, uploadID primitive.ObjectID, concurrentID string) (*Upload, error) {
	var u Upload
	err := s.uploads.FindOne(ctx, bson.M{"_id": uploadID, "concurrent_id": concurrentID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("upload", uploadID.Hex())
	}
	if err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	return &u, nil
}

// InsertUpload inserts a fresh upload row. The unique index on
// version_id makes a concurrent first StartUpload lose with a Conflict,
// which the coordinator resolves by re-reading.
func (s *Store) InsertUpload(ctx context.Context, u *Upload) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if _, err := s.uploads.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("upload for version %s already exists", u.VersionID.Hex())
		}
		return apperr.Dependency("mongodb", err)
	}
	return nil
}

// RotateUploadEpoch replaces the upload parameters and epoch in one
// atomic update, conditional on the row still carrying the old epoch.
// The caller cleans up the previous epoch's chunk rows and blobs.
func (s *Store) RotateUploadEpoch(ctx context.Context, uploadID primitive.ObjectID, oldConcurrentID string, u *Upload) error {
	res, err := s.uploads.UpdateOne(ctx,
		bson.M{"_id": uploadID, "concurrent_id": oldConcurrentID},
		bson.M{"$set": bson.M{
			"concurrent_id": u.ConcurrentID,
			"hash":          u.Hash,
			"chunk_size":    u.ChunkSize,
			"file_size":     u.FileSize,
			"chunks_count":  u.ChunksCount,
			"state":         UploadNone,
			"updated_at":    time.Now().UTC(),
		}},
	)
	if err != nil {
		return apperr.Dependency("mongodb", err)
	}
	if res.MatchedCount == 0 {
		return apperr.Conflict("upload %s epoch already rotated", uploadID.Hex())
	}
	return nil
}

// CASUploadState advances the upload state from the expected previous
// state, scoped to the current epoch.
func (s *Store) CASUploadState(ctx context.Context, uploadID primitive.ObjectID, concurrentID string, from, to UploadState) error {
	res, err := s.uploads.UpdateOne(ctx,
		bson.M{"_id": uploadID, "concurrent_id": concurrentID, "state": from},
		bson.M{"$set": bson.M{"state": to, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return apperr.Dependency("mongodb", err)
	}
	if res.MatchedCount == 0 {
		return apperr.Conflict("upload %s is not in state %s", uploadID.Hex(), from)
	}
	return nil
}
