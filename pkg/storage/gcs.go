package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gcsStore stores blobs in a Google Cloud Storage bucket.
type gcsStore struct {
	client  *gcs.Client
	bucket  string
	subpath string
}

func newGCSStore(ctx context.Context, opts Options) (*gcsStore, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &gcsStore{client: client, bucket: opts.Bucket, subpath: NormalizeKey(opts.Subpath)}, nil
}

func (s *gcsStore) objectKey(key string) string {
	return JoinKey(s.subpath, key)
}

func (s *gcsStore) object(key string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.objectKey(key))
}

func (s *gcsStore) UploadFile(ctx context.Context, srcPath, dstKey string, progress ProgressFunc) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer f.Close()

	w := s.object(dstKey).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", dstKey, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", dstKey, err)
	}
	progress.report(1.0)
	return nil
}

func (s *gcsStore) UploadBuffer(ctx context.Context, data []byte, dstKey string, progress ProgressFunc) error {
	w := s.object(dstKey).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", dstKey, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", dstKey, err)
	}
	progress.report(1.0)
	return nil
}

func (s *gcsStore) DownloadFile(ctx context.Context, srcKey, dstPath string, progress ProgressFunc) error {
	r, err := s.object(srcKey).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("%s: %w", srcKey, ErrNotFound)
		}
		return fmt.Errorf("read object %s: %w", srcKey, err)
	}
	defer r.Close()

	if err := writeAtomic(dstPath, r); err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}

func (s *gcsStore) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *gcsStore) DeleteFolder(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *gcsStore) List(ctx context.Context, prefix string) ([]string, error) {
	objPrefix := s.objectKey(prefix)
	if objPrefix != "" && !strings.HasSuffix(objPrefix, "/") {
		objPrefix += "/"
	}

	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: objPrefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", objPrefix, err)
		}
		key := attrs.Name
		if s.subpath != "" {
			key = strings.TrimPrefix(strings.TrimPrefix(key, s.subpath), "/")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *gcsStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *gcsStore) Close() error {
	return s.client.Close()
}
