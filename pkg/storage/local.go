package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// localStore keeps blobs as plain files under a root directory.
// Object keys map to relative paths below the root.
type localStore struct {
	root string

	mu     sync.RWMutex
	closed bool
}

func newLocalStore(opts Options) (*localStore, error) {
	root := filepath.Join(opts.Bucket, filepath.FromSlash(opts.Subpath))
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &localStore{root: root}, nil
}

// keyPath maps an object key to a filesystem path under the root.
// Keys escaping the root are rejected.
func (s *localStore) keyPath(key string) (string, error) {
	key = NormalizeKey(key)
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(os.PathSeparator)) && p != filepath.Clean(s.root) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return p, nil
}

func (s *localStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *localStore) UploadFile(ctx context.Context, srcPath, dstKey string, progress ProgressFunc) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := s.keyPath(dstKey)
	if err != nil {
		return err
	}
	if err := writeAtomic(dst, src); err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}

func (s *localStore) UploadBuffer(ctx context.Context, data []byte, dstKey string, progress ProgressFunc) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dst, err := s.keyPath(dstKey)
	if err != nil {
		return err
	}
	if err := writeAtomic(dst, bytes.NewReader(data)); err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}

func (s *localStore) DownloadFile(ctx context.Context, srcKey, dstPath string, progress ProgressFunc) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := s.keyPath(srcKey)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", srcKey, ErrNotFound)
		}
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	if err := writeAtomic(dstPath, f); err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *localStore) DeleteFolder(ctx context.Context, prefix string) error {
	if err := s.guard(); err != nil {
		return err
	}
	p, err := s.keyPath(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}

func (s *localStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	base, err := s.keyPath(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // empty prefix is not an error
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *localStore) HealthCheck(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := os.Stat(s.root)
	return err
}

func (s *localStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// writeAtomic streams r into path via a temp file and rename so readers
// never observe a partial file. The temp file is removed on failure.
func writeAtomic(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
