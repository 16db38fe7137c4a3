package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/queue"
)

var validate = validator.New()

type handlers struct {
	deps Deps
}

type createVersionRequest struct {
	Type        int    `json:"type" validate:"min=0,max=2"`
	Description string `json:"description" validate:"required,min=1,max=256"`
}

type createVersionResponse struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

func (h *handlers) createVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperr.Validation("%v", err))
		return
	}

	v, err := h.deps.Store.CreateVersion(r.Context(), catalog.BumpType(req.Type), req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createVersionResponse{
		ID:      v.ID.Hex(),
		Version: v.Semantic(),
	})
}

type editVersionRequest struct {
	ID          string `json:"id" validate:"required"`
	Description string `json:"description" validate:"required,min=1,max=256"`
}

func (h *handlers) editVersion(w http.ResponseWriter, r *http.Request) {
	var req editVersionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperr.Validation("%v", err))
		return
	}
	id, err := catalog.ParseID(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.deps.Store.UpdateVersionDescription(r.Context(), id, req.Description); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type processVersionRequest struct {
	ID string `json:"id" validate:"required"`
}

// processVersion enqueues the publish job for a version whose upload
// has been reassembled and verified. The job id keyed by the version
// keeps concurrent publish requests collapsed into one job.
func (h *handlers) processVersion(w http.ResponseWriter, r *http.Request) {
	var req processVersionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperr.Validation("%v", err))
		return
	}
	id, err := catalog.ParseID(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()

	v, err := h.deps.Store.GetVersion(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if v.State == catalog.VersionReady {
		writeError(w, r, apperr.Conflict("version %s is already published", v.Semantic()))
		return
	}

	u, err := h.deps.Uploads.FetchUpload(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if u.State != catalog.UploadReady {
		writeError(w, r, apperr.Conflict("upload for version %s is not reassembled yet", v.Semantic()))
		return
	}

	jobID := queue.PublishJobID(id.Hex())
	if _, err := h.deps.Jobs.Enqueue(ctx, jobID, queue.Payload{
		Kind:      queue.KindProcessPublish,
		VersionID: id.Hex(),
	}); err != nil {
		writeError(w, r, apperr.Dependency("job queue", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID})
}

type versionDocument struct {
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

func versionDoc(v *catalog.Version, filesCount int64) versionDocument {
	return versionDocument{
		ID:          v.ID.Hex(),
		Version:     v.Semantic(),
		Major:       v.Major,
		Minor:       v.Minor,
		Revision:    v.Revision,
		Description: v.Description,
		State:       string(v.State),
		FilesCount:  filesCount,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}

type listVersionsResponse struct {
	Versions []versionDocument `json:"versions"`
	Total    int64             `json:"total"`
	Page     int64             `json:"page"`
	Size     int64             `json:"size"`
}

func (h *handlers) listVersions(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.ParseInt(r.URL.Query().Get("page"), 10, 64)
	if err != nil || page < 0 {
		writeError(w, r, apperr.Validation("page: must be a non-negative integer"))
		return
	}
	size, err := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	if err != nil || size < 4 || size > 50 {
		writeError(w, r, apperr.Validation("size: must be an integer in [4, 50]"))
		return
	}

	ctx := r.Context()
	versions, total, err := h.deps.Store.ListVersions(ctx, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}

	docs := make([]versionDocument, 0, len(versions))
	for i := range versions {
		filesCount, err := h.deps.Store.CountFilesForVersion(ctx, versions[i].ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		docs = append(docs, versionDoc(&versions[i], filesCount))
	}
	writeJSON(w, http.StatusOK, listVersionsResponse{
		Versions: docs,
		Total:    total,
		Page:     page,
		Size:     size,
	})
}

func (h *handlers) fetchVersion(w http.ResponseWriter, r *http.Request) {
	id, err := catalog.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()

	v, err := h.deps.Store.GetVersion(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filesCount, err := h.deps.Store.CountFilesForVersion(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versionDoc(v, filesCount))
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.deps.Jobs.List(r.Context())
	if err != nil {
		writeError(w, r, apperr.Dependency("job queue", err))
		return
	}
	if jobs == nil {
		jobs = []queue.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
