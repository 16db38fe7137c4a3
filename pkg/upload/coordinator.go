// Package upload implements the chunked-upload coordinator: the upload
// state machine, concurrent-epoch resolution and missing-range math.
//
// An upload attaches one archive to a version. Chunks may arrive in any
// order and from several clients at once; the concurrent_id epoch lets
// a client that lost track of its state start over without observing
// chunks from the previous attempt.
package upload

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/frostline/updated/internal/logger"
	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/queue"
	"github.com/frostline/updated/pkg/storage"
)

// Upload parameter bounds.
const (
	MinChunkSize = 16 * 1024
	MaxChunkSize = 512 * 1024
	MinFileSize  = 1024
	MaxFileSize  = 5 * 1024 * 1024 * 1024
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Catalog is the slice of the catalog store the coordinator drives.
type Catalog interface {
	GetVersion(ctx context.Context, id primitive.ObjectID) (*catalog.Version, error)
	GetUploadByVersion(ctx context.Context, versionID primitive.ObjectID) (*catalog.Upload, error)
	GetUpload(ctx context.Context, uploadID primitive.ObjectID, concurrentID string) (*catalog.Upload, error)
	InsertUpload(ctx context.Context, u *catalog.Upload) error
	RotateUploadEpoch(ctx context.Context, uploadID primitive.ObjectID, oldConcurrentID string, u *catalog.Upload) error
	CASUploadState(ctx context.Context, uploadID primitive.ObjectID, concurrentID string, from, to catalog.UploadState) error
	UpsertChunk(ctx context.Context, uploadID primitive.ObjectID, concurrentID string, offset, size int64) error
	CountChunks(ctx context.Context, uploadID primitive.ObjectID, concurrentID string) (int64, error)
	ChunkOffsets(ctx context.Context, uploadID primitive.ObjectID, concurrentID string) ([]int64, error)
	DeleteChunks(ctx context.Context, uploadID primitive.ObjectID) error
}

// Blobs is the slice of the Input store the coordinator writes to.
type Blobs interface {
	UploadBuffer(ctx context.Context, data []byte, dstKey string, progress storage.ProgressFunc) error
	DeleteFolder(ctx context.Context, prefix string) error
}

// Enqueuer submits pipeline jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, id string, p queue.Payload) (bool, error)
}

// Coordinator is the chunked-upload state machine.
type Coordinator struct {
	store Catalog
	input Blobs
	jobs  Enqueuer
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(store Catalog, input Blobs, jobs Enqueuer) *Coordinator {
	return &Coordinator{store: store, input: input, jobs: jobs}
}

// StartParams are the client-declared parameters of an upload attempt.
type StartParams struct {
	VersionID primitive.ObjectID
	Hash      string
	ChunkSize int64
	FileSize  int64
}

// Validate enforces the upload parameter bounds.
func (p StartParams) Validate() error {
	if !hashPattern.MatchString(p.Hash) {
		return apperr.Validation("hash: must be 64 lowercase hex characters")
	}
	if p.ChunkSize < MinChunkSize || p.ChunkSize > MaxChunkSize {
		return apperr.Validation("chunkSize: must be in [%d, %d]", MinChunkSize, MaxChunkSize)
	}
	if p.ChunkSize&(p.ChunkSize-1) != 0 {
		return apperr.Validation("chunkSize: must be a power of two")
	}
	if p.FileSize < MinFileSize || p.FileSize > MaxFileSize {
		return apperr.Validation("fileSize: must be in [%d, %d]", MinFileSize, MaxFileSize)
	}
	return nil
}

// ChunksCount is ceil(FileSize / ChunkSize).
func (p StartParams) ChunksCount() int64 {
	return (p.FileSize + p.ChunkSize - 1) / p.ChunkSize
}

// StartResult is the reply to StartUpload.
type StartResult struct {
	UploadID      primitive.ObjectID `json:"uploadId"`
	ConcurrentID  string             `json:"concurrentId"`
	ChunksCount   int64              `json:"chunksCount"`
	MissingRanges []Range            `json:"missingRanges"`
}

// StartUpload creates or resumes the upload row for a version.
//
// A missing row is inserted fresh. An existing row whose declared hash
// and chunk size match is resumed: the caller gets the current epoch
// and the offsets it still owes. Changed parameters rotate the epoch,
// discarding the previous attempt's chunk rows and blobs.
func (c *Coordinator) StartUpload(ctx context.Context, p StartParams) (*StartResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	version, err := c.store.GetVersion(ctx, p.VersionID)
	if err != nil {
		return nil, err
	}
	if version.State == catalog.VersionReady {
		return nil, apperr.Conflict("version %s is already published", version.ID.Hex())
	}

	existing, err := c.store.GetUploadByVersion(ctx, p.VersionID)
	if apperr.IsNotFound(err) {
		fresh := &catalog.Upload{
			ID:           primitive.NewObjectID(),
			VersionID:    p.VersionID,
			ConcurrentID: uuid.NewString(),
			Hash:         p.Hash,
			ChunkSize:    p.ChunkSize,
			FileSize:     p.FileSize,
			ChunksCount:  p.ChunksCount(),
			State:        catalog.UploadNone,
		}
		err := c.store.InsertUpload(ctx, fresh)
		if apperr.IsConflict(err) {
			// Lost the race against another first StartUpload.
			// The winner's row decides; re-read and resume against it.
			existing, err = c.store.GetUploadByVersion(ctx, p.VersionID)
			if err != nil {
				return nil, err
			}
			return c.resumeOrRotate(ctx, existing, p)
		}
		if err != nil {
			return nil, err
		}
		return &StartResult{
			UploadID:      fresh.ID,
			ConcurrentID:  fresh.ConcurrentID,
			ChunksCount:   fresh.ChunksCount,
			MissingRanges: MissingRanges(nil, fresh.ChunksCount),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return c.resumeOrRotate(ctx, existing, p)
}

func (c *Coordinator) resumeOrRotate(ctx context.Context, existing *catalog.Upload, p StartParams) (*StartResult, error) {
	if existing.Hash == p.Hash && existing.ChunkSize == p.ChunkSize {
		offsets, err := c.store.ChunkOffsets(ctx, existing.ID, existing.ConcurrentID)
		if err != nil {
			return nil, err
		}
		return &StartResult{
			UploadID:      existing.ID,
			ConcurrentID:  existing.ConcurrentID,
			ChunksCount:   existing.ChunksCount,
			MissingRanges: MissingRanges(offsets, existing.ChunksCount),
		}, nil
	}

	rotated := &catalog.Upload{
		ConcurrentID: uuid.NewString(),
		Hash:         p.Hash,
		ChunkSize:    p.ChunkSize,
		FileSize:     p.FileSize,
		ChunksCount:  p.ChunksCount(),
	}
	err := c.store.RotateUploadEpoch(ctx, existing.ID, existing.ConcurrentID, rotated)
	if apperr.IsConflict(err) {
		// Another caller rotated first; resume against whatever won.
		won, err := c.store.GetUploadByVersion(ctx, existing.VersionID)
		if err != nil {
			return nil, err
		}
		return c.resumeOrRotate(ctx, won, p)
	}
	if err != nil {
		return nil, err
	}

	if err := c.store.DeleteChunks(ctx, existing.ID); err != nil {
		return nil, err
	}
	if err := c.input.DeleteFolder(ctx, ChunkPrefix(existing.HexUpper(), existing.Hash)); err != nil {
		// The new epoch's blobs live under a different prefix, so a
		// leaked old prefix is garbage, not corruption.
		logger.Warn("stale chunk prefix not removed",
			"component", "upload",
			"upload_id", existing.ID.Hex(),
			"error", err)
	}

	return &StartResult{
		UploadID:      existing.ID,
		ConcurrentID:  rotated.ConcurrentID,
		ChunksCount:   rotated.ChunksCount,
		MissingRanges: MissingRanges(nil, rotated.ChunksCount),
	}, nil
}

// ChunkResult is the reply to UploadChunk.
type ChunkResult struct {
	Finished bool `json:"finished"`
}

// UploadChunk validates and stores one chunk of the current epoch. The
// arrival that brings the stored count to chunks_count flips the upload
// NONE -> PENDING and enqueues the reassembly job; duplicate offsets
// are silently idempotent.
func (c *Coordinator) UploadChunk(ctx context.Context, uploadID primitive.ObjectID, concurrentID string, offset int64, data []byte) (*ChunkResult, error) {
	u, err := c.store.GetUpload(ctx, uploadID, concurrentID)
	if err != nil {
		return nil, err
	}

	if offset < 0 || offset >= u.ChunksCount {
		return nil, apperr.Validation("offset: must be in [0, %d)", u.ChunksCount)
	}
	expected := u.ChunkSize
	if offset == u.ChunksCount-1 {
		expected = u.FileSize - u.ChunkSize*(u.ChunksCount-1)
	}
	if int64(len(data)) != expected {
		return nil, apperr.Validation("data: chunk at offset %d must be %d bytes, got %d", offset, expected, len(data))
	}

	key := ChunkKey(u.HexUpper(), u.Hash, offset)
	if err := c.input.UploadBuffer(ctx, data, key, nil); err != nil {
		return nil, apperr.Dependency("input storage", err)
	}
	if err := c.store.UpsertChunk(ctx, u.ID, u.ConcurrentID, offset, expected); err != nil {
		return nil, err
	}

	count, err := c.store.CountChunks(ctx, u.ID, u.ConcurrentID)
	if err != nil {
		return nil, err
	}
	if count < u.ChunksCount {
		return &ChunkResult{Finished: false}, nil
	}

	err = c.store.CASUploadState(ctx, u.ID, u.ConcurrentID, catalog.UploadNone, catalog.UploadPending)
	if apperr.IsConflict(err) {
		// A concurrent arrival already flipped the state and enqueued.
		return &ChunkResult{Finished: true}, nil
	}
	if err != nil {
		return nil, err
	}

	jobID := queue.UploadJobID(u.VersionID.Hex(), u.ID.Hex(), u.ConcurrentID)
	added, err := c.jobs.Enqueue(ctx, jobID, queue.Payload{
		Kind:         queue.KindProcessUpload,
		VersionID:    u.VersionID.Hex(),
		UploadID:     u.ID.Hex(),
		ConcurrentID: u.ConcurrentID,
	})
	if err != nil {
		return nil, apperr.Dependency("job queue", err)
	}
	logger.Info("upload complete, reassembly enqueued",
		"component", "upload",
		"upload_id", u.ID.Hex(),
		"version_id", u.VersionID.Hex(),
		"job_id", jobID,
		"enqueued", added)

	return &ChunkResult{Finished: true}, nil
}

// FetchUpload returns the upload row attached to a version.
func (c *Coordinator) FetchUpload(ctx context.Context, versionID primitive.ObjectID) (*catalog.Upload, error) {
	return c.store.GetUploadByVersion(ctx, versionID)
}
