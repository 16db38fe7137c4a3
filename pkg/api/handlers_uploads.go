package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/metrics"
	"github.com/frostline/updated/pkg/upload"
)

type startUploadRequest struct {
	ID        string `json:"id" validate:"required"`
	Hash      string `json:"hash" validate:"required"`
	ChunkSize int64  `json:"chunkSize" validate:"required"`
	FileSize  int64  `json:"fileSize" validate:"required"`
}

func (h *handlers) startUpload(w http.ResponseWriter, r *http.Request) {
	var req startUploadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperr.Validation("%v", err))
		return
	}
	versionID, err := catalog.ParseID(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.deps.Uploads.StartUpload(r.Context(), upload.StartParams{
		VersionID: versionID,
		Hash:      req.Hash,
		ChunkSize: req.ChunkSize,
		FileSize:  req.FileSize,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// uploadChunk receives one raw chunk body. The upload identity travels
// in query parameters so the body stays untouched binary data.
func (h *handlers) uploadChunk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uploadID, err := catalog.ParseID(q.Get("uploadId"))
	if err != nil {
		writeError(w, r, apperr.Validation("uploadId: invalid identifier"))
		return
	}
	concurrentID := q.Get("concurrentId")
	if concurrentID == "" {
		writeError(w, r, apperr.Validation("concurrentId: required"))
		return
	}
	offset, err := strconv.ParseInt(q.Get("offset"), 10, 64)
	if err != nil || offset < 0 {
		writeError(w, r, apperr.Validation("offset: must be a non-negative integer"))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, upload.MaxChunkSize))
	if err != nil {
		writeError(w, r, apperr.Validation("data: body exceeds the maximum chunk size"))
		return
	}

	res, err := h.deps.Uploads.UploadChunk(r.Context(), uploadID, concurrentID, offset, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.ChunksReceived.Inc()
	writeJSON(w, http.StatusOK, res)
}

// fetchUploads returns the upload row attached to a version.
func (h *handlers) fetchUploads(w http.ResponseWriter, r *http.Request) {
	versionID, err := catalog.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.deps.Uploads.FetchUpload(r.Context(), versionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
