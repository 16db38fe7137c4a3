// Package storage provides the blob abstraction used by the upload
// coordinator and the update pipeline.
//
// The service owns two logical stores built from the same abstraction:
// Input (transient upload chunks and reassembled zips) and Output
// (published packed files). Backends form a closed set: local
// filesystem, S3-compatible object stores and Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider identifies a blob backend.
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when a requested object doesn't exist.
	ErrNotFound = errors.New("object not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// ProgressFunc receives monotonically non-decreasing values in [0.0, 1.0].
// Implementations report at least once when complete. A nil ProgressFunc
// is always valid.
type ProgressFunc func(fraction float64)

func (p ProgressFunc) report(fraction float64) {
	if p != nil {
		p(fraction)
	}
}

// Store defines the operations the core performs against a blob store.
//
// Every operation may fail with a transient error (retried by the
// backend or the caller) or a permanent one (reported). Object keys use
// forward slashes regardless of the host platform.
type Store interface {
	// UploadFile performs a single-object PUT from a local file.
	UploadFile(ctx context.Context, srcPath, dstKey string, progress ProgressFunc) error

	// UploadBuffer has UploadFile semantics with an in-memory source.
	UploadBuffer(ctx context.Context, data []byte, dstKey string, progress ProgressFunc) error

	// DownloadFile writes the object atomically to a local path.
	// On failure the partial destination is removed.
	DownloadFile(ctx context.Context, srcKey, dstPath string, progress ProgressFunc) error

	// Delete removes a single object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteFolder removes all objects under prefix. Idempotent.
	DeleteFolder(ctx context.Context, prefix string) error

	// List returns the keys of all objects under prefix, relative to the
	// store root (prefix included).
	List(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies the store is accessible.
	HealthCheck(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Options configures a Store instance.
type Options struct {
	Provider Provider

	// Bucket is the bucket name for aws/gcp, or the root directory for local.
	Bucket string

	// Subpath is an optional key prefix applied to every operation.
	Subpath string

	// Region and Endpoint configure the aws provider. Endpoint overrides
	// the default S3 endpoint for S3-compatible stores.
	Region   string
	Endpoint string

	// AccessKey and SecretKey are optional static aws credentials.
	AccessKey string
	SecretKey string

	// CredentialsFile is an optional service-account JSON path for gcp.
	CredentialsFile string
}

// New builds a Store for the configured provider.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Provider {
	case ProviderLocal:
		return newLocalStore(opts)
	case ProviderAWS:
		return newS3Store(ctx, opts)
	case ProviderGCP:
		return newGCSStore(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", opts.Provider)
	}
}

// NormalizeKey converts a path to object-key form: forward slashes,
// no leading slash, no duplicate separators.
func NormalizeKey(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimPrefix(p, "/")
}

// JoinKey joins key segments with forward slashes, skipping empty parts.
func JoinKey(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, strings.Trim(p, "/"))
		}
	}
	return NormalizeKey(strings.Join(kept, "/"))
}
