package grpcapi

import (
	"time"

	"github.com/frostline/updated/pkg/upload"
)

// Message shapes of the UpdateService RPCs. They mirror the HTTP
// contracts; the wire contract is documented in proto/updates.proto.

type CreateVersionRequest struct {
	Type        int    `json:"type"`
	Description string `json:"description"`
}

type CreateVersionResponse struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type EditVersionRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type EditVersionResponse struct {
	Success bool `json:"success"`
}

type FetchVersionRequest struct {
	ID string `json:"id"`
}

type VersionDocument struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Major       int32     `json:"major"`
	Minor       int32     `json:"minor"`
	Revision    int32     `json:"revision"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	FilesCount  int64     `json:"filesCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ListVersionsRequest struct {
	Page int64 `json:"page"`
	Size int64 `json:"size"`
}

type ListVersionsResponse struct {
	Versions []VersionDocument `json:"versions"`
	Total    int64             `json:"total"`
	Page     int64             `json:"page"`
	Size     int64             `json:"size"`
}

type FetchUploadsRequest struct {
	VersionID string `json:"versionId"`
}

type UploadDocument struct {
	ID           string    `json:"id"`
	VersionID    string    `json:"versionId"`
	ConcurrentID string    `json:"concurrentId"`
	Hash         string    `json:"hash"`
	ChunkSize    int64     `json:"chunkSize"`
	FileSize     int64     `json:"fileSize"`
	ChunksCount  int64     `json:"chunksCount"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type StartUploadVersionRequest struct {
	VersionID string `json:"versionId"`
	Hash      string `json:"hash"`
	ChunkSize int64  `json:"chunkSize"`
	FileSize  int64  `json:"fileSize"`
}

type StartUploadVersionResponse struct {
	UploadID      string         `json:"uploadId"`
	ConcurrentID  string         `json:"concurrentId"`
	ChunksCount   int64          `json:"chunksCount"`
	MissingRanges []upload.Range `json:"missingRanges"`
}

type UploadVersionChunkRequest struct {
	UploadID     string `json:"uploadId"`
	ConcurrentID string `json:"concurrentId"`
	Offset       int64  `json:"offset"`
	Data         []byte `json:"data"`
}

type UploadVersionChunkResponse struct {
	Finished bool `json:"finished"`
}

type ProcessVersionRequest struct {
	ID string `json:"id"`
}

type ProcessVersionResponse struct {
	JobID string `json:"jobId"`
}
