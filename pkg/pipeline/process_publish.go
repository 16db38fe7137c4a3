package pipeline

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/frostline/updated/internal/logger"
	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/queue"
	"github.com/frostline/updated/pkg/storage"
	"github.com/frostline/updated/pkg/upload"
)

// ErrEmptyUpdate fails a publish job whose archive contains no
// classifiable file.
var ErrEmptyUpdate = errors.New("empty update folder")

// processPublish turns a verified archive into a published version: it
// extracts the archive, classifies every entry by its top-level folder,
// compresses and fingerprints each file into the packed tree, uploads
// the packed tree to the Output store and commits the file rows plus
// the READY flip in one transaction.
func (w *Worker) processPublish(ctx context.Context, p queue.Payload, progress func(int)) error {
	versionID, err := catalog.ParseID(p.VersionID)
	if err != nil {
		return err
	}

	if err := w.store.CASVersionState(ctx, versionID, catalog.VersionPending, catalog.VersionProcessing); err != nil {
		if !apperr.IsConflict(err) {
			return err
		}
		// Re-drive after an earlier failure is allowed; anything else
		// (already READY) is a real conflict.
		v, gerr := w.store.GetVersion(ctx, versionID)
		if gerr != nil {
			return gerr
		}
		if v.State != catalog.VersionProcessing {
			return err
		}
		logger.Info("re-driving publish of processing version",
			"component", "pipeline", "version_id", p.VersionID)
	}

	scratch, err := os.MkdirTemp(w.workDir, "publish-")
	if err != nil {
		return apperr.Internal("create scratch dir: %v", err)
	}
	defer os.RemoveAll(scratch)

	vidUpper := strings.ToUpper(p.VersionID)
	zipPath := filepath.Join(scratch, "update.zip")
	if err := w.input.DownloadFile(ctx, upload.AssembledKey(vidUpper), zipPath, stage(progress, 0, 20)); err != nil {
		return apperr.Dependency("input storage", err)
	}

	extractedDir := filepath.Join(scratch, "extracted")
	if err := unzip(zipPath, extractedDir); err != nil {
		return apperr.Internal("extract archive: %v", err)
	}
	progress(25)

	entries, err := classifyTree(extractedDir)
	if err != nil {
		return apperr.Internal("scan archive tree: %v", err)
	}
	if len(entries) == 0 {
		return ErrEmptyUpdate
	}

	packedDir := filepath.Join(scratch, "packed")
	files, err := packEntries(entries, packedDir, progress)
	if err != nil {
		return err
	}

	if err := storage.UploadFolder(ctx, w.output, packedDir, "publish/"+vidUpper, stage(progress, 50, 90)); err != nil {
		return apperr.Dependency("output storage", err)
	}

	if err := w.store.PublishVersion(ctx, versionID, files); err != nil {
		return err
	}
	progress(100)

	logger.Info("version published",
		"component", "pipeline",
		"version_id", p.VersionID,
		"files", len(files))
	return nil
}

type archiveEntry struct {
	absPath   string
	category  catalog.Category
	localPath string
}

// classifyTree walks the extracted archive and classifies every file by
// its path relative to the archive root. Unclassified files are dropped
// silently.
func classifyTree(root string) ([]archiveEntry, error) {
	var entries []archiveEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		category, localPath, ok := Classify(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		entries = append(entries, archiveEntry{
			absPath:   path,
			category:  category,
			localPath: localPath,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// packEntries compresses every classified file into the packed tree,
// grouped by category folder, and returns the catalog rows describing
// them. Progress owns the 25-50 window, reported every 100 files.
func packEntries(entries []archiveEntry, packedDir string, progress func(int)) ([]catalog.UpdateFile, error) {
	files := make([]catalog.UpdateFile, 0, len(entries))
	for i, e := range entries {
		data, err := os.ReadFile(e.absPath)
		if err != nil {
			return nil, apperr.Internal("read archive entry: %v", err)
		}
		packed, crcHex, err := Pack(data)
		if err != nil {
			return nil, apperr.Internal("compress %s: %v", e.localPath, err)
		}

		name := PackedName(crcHex)
		dst := filepath.Join(packedDir, e.category.Folder(), name+PackedExtension)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return nil, apperr.Internal("create packed dir: %v", err)
		}
		if err := os.WriteFile(dst, packed, 0644); err != nil {
			return nil, apperr.Internal("write packed file: %v", err)
		}

		files = append(files, catalog.UpdateFile{
			Category:   e.category,
			FileName:   name,
			Extension:  PackedExtension,
			LocalPath:  e.localPath,
			PackedSize: int64(len(packed)),
			FileSize:   int64(len(data)),
			CRC32:      crcHex,
		})
		if (i+1)%100 == 0 || i+1 == len(entries) {
			progress(25 + 25*(i+1)/len(entries))
		}
	}
	return files, nil
}

// unzip extracts the archive into dstDir, rejecting entries that would
// escape it.
func unzip(zipPath, dstDir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer zr.Close()

	cleanRoot := filepath.Clean(dstDir) + string(os.PathSeparator)
	for _, f := range zr.File {
		dst := filepath.Join(dstDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(dst, cleanRoot) {
			return errors.New("archive entry escapes extraction root: " + f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := extractFile(f, dst); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
