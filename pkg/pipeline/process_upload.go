package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
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

// processUpload reassembles a completed chunked upload: it downloads
// the epoch's chunk blobs, concatenates them in offset order, verifies
// the SHA-256 against the declared hash, stores the assembled archive
// and retires the chunks.
//
// A hash mismatch is terminal without a state change: the upload stays
// PROCESSING so an operator can investigate rather than having the
// client silently retry against corrupted state.
func (w *Worker) processUpload(ctx context.Context, p queue.Payload, progress func(int)) error {
	versionID, err := catalog.ParseID(p.VersionID)
	if err != nil {
		return err
	}
	uploadID, err := catalog.ParseID(p.UploadID)
	if err != nil {
		return err
	}

	u, err := w.store.GetUpload(ctx, uploadID, p.ConcurrentID)
	if err != nil {
		return err
	}
	if u.VersionID != versionID {
		return apperr.Internal("upload %s belongs to version %s, job names %s",
			u.ID.Hex(), u.VersionID.Hex(), versionID.Hex())
	}

	if err := w.store.CASUploadState(ctx, u.ID, u.ConcurrentID, catalog.UploadPending, catalog.UploadProcessing); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(w.workDir, "reassemble-")
	if err != nil {
		return apperr.Internal("create scratch dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	chunkDir := filepath.Join(tmpDir, "chunks")
	prefix := upload.ChunkPrefix(u.HexUpper(), u.Hash)
	if err := storage.DownloadFolder(ctx, w.input, prefix, chunkDir, stage(progress, 0, 50)); err != nil {
		return apperr.Dependency("input storage", err)
	}

	zipPath := filepath.Join(tmpDir, "update.zip")
	sum, err := assemble(chunkDir, zipPath, stage(progress, 50, 90))
	if err != nil {
		return apperr.Internal("assemble archive: %v", err)
	}
	if sum != u.Hash {
		return apperr.Integrity("assembled archive hash %s does not match declared %s", sum, u.Hash)
	}

	key := upload.AssembledKey(strings.ToUpper(p.VersionID))
	if err := w.input.UploadFile(ctx, zipPath, key, stage(progress, 90, 100)); err != nil {
		return apperr.Dependency("input storage", err)
	}

	if err := w.store.CASUploadState(ctx, u.ID, u.ConcurrentID, catalog.UploadProcessing, catalog.UploadReady); err != nil {
		return err
	}

	if err := w.input.DeleteFolder(ctx, prefix); err != nil {
		logger.Warn("chunk blob prefix not removed",
			"component", "pipeline",
			"upload_id", u.ID.Hex(),
			"prefix", prefix,
			"error", err)
	}
	if err := w.store.DeleteChunks(ctx, u.ID); err != nil {
		logger.Warn("chunk rows not removed",
			"component", "pipeline",
			"upload_id", u.ID.Hex(),
			"error", err)
	}
	return nil
}

// assemble concatenates the chunk files in dir into dstPath, hashing as
// it writes. Chunk filenames zero-pad the offset, so the lexical order
// os.ReadDir returns is the numerical offset order.
func assemble(dir, dstPath string, progress storage.ProgressFunc) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	h := sha256.New()
	out := io.MultiWriter(dst, h)
	for i, name := range names {
		src, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		_, err = io.Copy(out, src)
		src.Close()
		if err != nil {
			return "", err
		}
		progress(float64(i+1) / float64(len(names)))
	}
	if err := dst.Sync(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
