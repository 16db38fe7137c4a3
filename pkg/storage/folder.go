package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// folderConcurrency bounds the fan-out of folder transfers.
const folderConcurrency = 10

// monotonicProgress serializes progress reports from concurrent
// transfers so the caller only ever observes non-decreasing fractions.
type monotonicProgress struct {
	mu   sync.Mutex
	last float64
	fn   ProgressFunc
}

func (m *monotonicProgress) report(fraction float64) {
	if m.fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fraction >= m.last {
		m.last = fraction
		m.fn(fraction)
	}
}

// DownloadFolder downloads every object under srcPrefix into dstDir,
// preserving the key structure below the prefix. Transfers run with a
// bounded fan-out; any per-file failure is fatal to the whole call.
func DownloadFolder(ctx context.Context, s Store, srcPrefix, dstDir string, progress ProgressFunc) error {
	keys, err := s.List(ctx, srcPrefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		progress.report(1.0)
		return nil
	}

	mp := &monotonicProgress{fn: progress}
	var done atomic.Int64
	total := int64(len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(folderConcurrency)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			rel := strings.TrimPrefix(strings.TrimPrefix(key, srcPrefix), "/")
			dst := filepath.Join(dstDir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return err
			}
			if err := s.DownloadFile(gctx, key, dst, nil); err != nil {
				return err
			}
			mp.report(float64(done.Add(1)) / float64(total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}

// UploadFolder uploads every regular file under srcDir to dstPrefix,
// preserving the directory structure in the object keys. Transfers run
// with the same bounded fan-out as DownloadFolder.
func UploadFolder(ctx context.Context, s Store, srcDir, dstPrefix string, progress ProgressFunc) error {
	var files []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		progress.report(1.0)
		return nil
	}

	mp := &monotonicProgress{fn: progress}
	var done atomic.Int64
	total := int64(len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(folderConcurrency)

	for _, file := range files {
		file := file
		g.Go(func() error {
			rel, err := filepath.Rel(srcDir, file)
			if err != nil {
				return err
			}
			key := JoinKey(dstPrefix, NormalizeKey(filepath.ToSlash(rel)))
			if err := s.UploadFile(gctx, file, key, nil); err != nil {
				return err
			}
			mp.report(float64(done.Add(1)) / float64(total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}
