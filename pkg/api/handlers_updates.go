package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/frostline/updated/pkg/apperr"
)

// versionPattern bounds the client-held version string: up to two
// major digits, three minor, five revision.
var versionPattern = regexp.MustCompile(`^(\d{1,2})\.(\d{1,3})\.(\d{1,5})$`)

func (h *handlers) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.deps.Store.ListServerURLs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if servers == nil {
		servers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"servers": servers})
}

// resolveManifest serves the delta manifest for a client at
// /list/{version}/{os}/{texture}/{offset}. The offset segment is kept
// for wire compatibility; manifests are not paginated.
func (h *handlers) resolveManifest(w http.ResponseWriter, r *http.Request) {
	m := versionPattern.FindStringSubmatch(chi.URLParam(r, "version"))
	if m == nil {
		writeError(w, r, apperr.Validation("version: must match maj.min.rev"))
		return
	}
	major, _ := strconv.ParseInt(m[1], 10, 32)
	minor, _ := strconv.ParseInt(m[2], 10, 32)
	revision, _ := strconv.ParseInt(m[3], 10, 32)

	os, err := strconv.Atoi(chi.URLParam(r, "os"))
	if err != nil {
		writeError(w, r, apperr.Validation("os: must be an integer"))
		return
	}
	texture, err := strconv.Atoi(chi.URLParam(r, "texture"))
	if err != nil {
		writeError(w, r, apperr.Validation("texture: must be an integer"))
		return
	}
	if offset, err := strconv.Atoi(chi.URLParam(r, "offset")); err != nil || offset < 0 {
		writeError(w, r, apperr.Validation("offset: must be a non-negative integer"))
		return
	}

	manifest, err := h.deps.Resolver.Resolve(r.Context(), int32(major), int32(minor), int32(revision), os, texture)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (h *handlers) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readiness probes every registered dependency with a short deadline.
func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	for name, probe := range h.deps.Health {
		if err := probe(ctx); err != nil {
			checks[name] = fmt.Sprintf("unhealthy: %v", err)
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}
