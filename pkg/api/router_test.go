package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/auth"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/manifest"
	"github.com/frostline/updated/pkg/queue"
	"github.com/frostline/updated/pkg/upload"
)

type fakeStore struct {
	versions map[primitive.ObjectID]*catalog.Version
	servers  []string

	nextSemantic [3]int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		versions:     map[primitive.ObjectID]*catalog.Version{},
		nextSemantic: [3]int32{1, 0, 0},
	}
}

func (f *fakeStore) CreateVersion(_ context.Context, bump catalog.BumpType, description string) (*catalog.Version, error) {
	if !bump.Valid() {
		return nil, apperr.Validation("type: unknown bump type")
	}
	v := &catalog.Version{
		ID:          primitive.NewObjectID(),
		Major:       f.nextSemantic[0],
		Minor:       f.nextSemantic[1],
		Revision:    f.nextSemantic[2],
		Description: description,
		State:       catalog.VersionPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	f.versions[v.ID] = v
	return v, nil
}

func (f *fakeStore) GetVersion(_ context.Context, id primitive.ObjectID) (*catalog.Version, error) {
	v, ok := f.versions[id]
	if !ok {
		return nil, apperr.NotFound("version", id.Hex())
	}
	return v, nil
}

func (f *fakeStore) UpdateVersionDescription(_ context.Context, id primitive.ObjectID, description string) error {
	v, ok := f.versions[id]
	if !ok {
		return apperr.NotFound("version", id.Hex())
	}
	v.Description = description
	return nil
}

func (f *fakeStore) ListVersions(_ context.Context, page, size int64) ([]catalog.Version, int64, error) {
	var out []catalog.Version
	for _, v := range f.versions {
		out = append(out, *v)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) CountFilesForVersion(context.Context, primitive.ObjectID) (int64, error) {
	return 0, nil
}

func (f *fakeStore) ListServerURLs(context.Context) ([]string, error) {
	return f.servers, nil
}

type fakeResolver struct {
	manifest *manifest.Manifest
}

func (f *fakeResolver) Resolve(_ context.Context, major, minor, revision int32, os, texture int) (*manifest.Manifest, error) {
	if os < 0 || os > 5 {
		return nil, apperr.Validation("os: out of range")
	}
	if texture < 0 || texture > 4 {
		return nil, apperr.Validation("texture: out of range")
	}
	if f.manifest != nil {
		return f.manifest, nil
	}
	return &manifest.Manifest{
		Version: fmt.Sprintf("%d.%d.%d", major, minor, revision),
		Files:   []manifest.File{},
	}, nil
}

type fakeUploader struct {
	start  *upload.StartResult
	upload *catalog.Upload
	chunks []int64
}

func (f *fakeUploader) StartUpload(_ context.Context, p upload.StartParams) (*upload.StartResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return f.start, nil
}

func (f *fakeUploader) UploadChunk(_ context.Context, uploadID primitive.ObjectID, concurrentID string, offset int64, data []byte) (*upload.ChunkResult, error) {
	if f.upload == nil || f.upload.ID != uploadID || f.upload.ConcurrentID != concurrentID {
		return nil, apperr.NotFound("upload", uploadID.Hex())
	}
	f.chunks = append(f.chunks, offset)
	return &upload.ChunkResult{Finished: int64(len(f.chunks)) == f.upload.ChunksCount}, nil
}

func (f *fakeUploader) FetchUpload(_ context.Context, versionID primitive.ObjectID) (*catalog.Upload, error) {
	if f.upload == nil || f.upload.VersionID != versionID {
		return nil, apperr.NotFound("upload for version", versionID.Hex())
	}
	return f.upload, nil
}

type fakeJobs struct {
	enqueued []string
	statuses []queue.Status
}

func (f *fakeJobs) Enqueue(_ context.Context, id string, p queue.Payload) (bool, error) {
	f.enqueued = append(f.enqueued, id)
	return true, nil
}

func (f *fakeJobs) List(context.Context) ([]queue.Status, error) {
	return f.statuses, nil
}

// fakeVerifier maps token strings to role sets.
type fakeVerifier struct {
	tokens map[string][]string
}

func (f *fakeVerifier) Introspect(_ context.Context, token string) (*auth.Identity, error) {
	roles, ok := f.tokens[token]
	if !ok {
		return nil, apperr.Unauthenticated("token is not active")
	}
	return &auth.Identity{Subject: "tester", Roles: roles}, nil
}

type testEnv struct {
	store    *fakeStore
	resolver *fakeResolver
	uploads  *fakeUploader
	jobs     *fakeJobs
	srv      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newFakeStore(),
		resolver: &fakeResolver{},
		uploads:  &fakeUploader{},
		jobs:     &fakeJobs{},
	}
	router := NewRouter(Deps{
		Store:    env.store,
		Resolver: env.resolver,
		Uploads:  env.uploads,
		Jobs:     env.jobs,
		Auth: &fakeVerifier{tokens: map[string][]string{
			"editor": {auth.RoleEdit, auth.RoleView},
			"viewer": {auth.RoleView},
		}},
		Health: map[string]func(context.Context) error{
			"test": func(context.Context) error { return nil },
		},
	})
	env.srv = httptest.NewServer(router)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListServers(t *testing.T) {
	env := newTestEnv(t)
	env.store.servers = []string{"https://cdn-a.example.com", "https://cdn-b.example.com"}

	resp := env.do(t, http.MethodGet, "/api/v1/updates/servers/list", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]string
	decodeInto(t, resp, &body)
	assert.Equal(t, env.store.servers, body["servers"])
}

func TestResolveManifestRoute(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/updates/list/0.0.0/0/0/0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var m manifest.Manifest
	decodeInto(t, resp, &m)
	assert.Equal(t, "0.0.0", m.Version)
	assert.Empty(t, m.Files)
}

func TestResolveManifestValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/v1/updates/list/abc/0/0/0",
		"/api/v1/updates/list/1.0/0/0/0",
		"/api/v1/updates/list/123.0.0/0/0/0",
		"/api/v1/updates/list/0.0.0/9/0/0",
		"/api/v1/updates/list/0.0.0/0/7/0",
		"/api/v1/updates/list/0.0.0/0/0/x",
	} {
		resp := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestManagerAuth(t *testing.T) {
	env := newTestEnv(t)
	body := createVersionRequest{Type: 0, Description: "v1"}

	// No token
	resp := env.do(t, http.MethodPost, "/api/v1/updates/manager/version/create", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown token
	resp = env.do(t, http.MethodPost, "/api/v1/updates/manager/version/create", "stranger", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Viewer cannot write
	resp = env.do(t, http.MethodPost, "/api/v1/updates/manager/version/create", "viewer", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Viewer can read
	resp = env.do(t, http.MethodGet, "/api/v1/updates/manager/version/list?page=0&size=10", "viewer", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndFetchVersion(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/updates/manager/version/create", "editor",
		createVersionRequest{Type: 0, Description: "first release"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created createVersionResponse
	decodeInto(t, resp, &created)
	assert.Equal(t, "1.0.0", created.Version)
	require.NotEmpty(t, created.ID)

	resp = env.do(t, http.MethodGet, "/api/v1/updates/manager/version/fetch/"+created.ID, "viewer", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc versionDocument
	decodeInto(t, resp, &doc)
	assert.Equal(t, "1.0.0", doc.Version)
	assert.Equal(t, string(catalog.VersionPending), doc.State)
	assert.Zero(t, doc.FilesCount)
}

func TestCreateVersionValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []createVersionRequest{
		{Type: 3, Description: "bad type"},
		{Type: 0, Description: ""},
		{Type: 0, Description: strings.Repeat("x", 257)},
	} {
		resp := env.do(t, http.MethodPost, "/api/v1/updates/manager/version/create", "editor", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestEditVersion(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.store.CreateVersion(context.Background(), catalog.BumpMajor, "original")
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/api/v1/updates/manager/version/edit", "editor",
		editVersionRequest{ID: v.ID.Hex(), Description: "amended"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "amended", env.store.versions[v.ID].Description)

	resp = env.do(t, http.MethodPost, "/api/v1/updates/manager/version/edit", "editor",
		editVersionRequest{ID: primitive.NewObjectID().Hex(), Description: "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcessVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v, err := env.store.CreateVersion(ctx, catalog.BumpMajor, "v1")
	require.NoError(t, err)
	env.uploads.upload = &catalog.Upload{
		ID:        primitive.NewObjectID(),
		VersionID: v.ID,
		State:     catalog.UploadReady,
	}

	resp := env.do(t, http.MethodPut, "/api/v1/updates/manager/version/process", "editor",
		processVersionRequest{ID: v.ID.Hex()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeInto(t, resp, &body)
	assert.Equal(t, "version-"+v.ID.Hex(), body["jobId"])
	assert.Equal(t, []string{"version-" + v.ID.Hex()}, env.jobs.enqueued)
}

func TestProcessVersionGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Missing upload
	v, err := env.store.CreateVersion(ctx, catalog.BumpMajor, "v1")
	require.NoError(t, err)
	resp := env.do(t, http.MethodPut, "/api/v1/updates/manager/version/process", "editor",
		processVersionRequest{ID: v.ID.Hex()})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Upload not reassembled yet
	env.uploads.upload = &catalog.Upload{
		ID:        primitive.NewObjectID(),
		VersionID: v.ID,
		State:     catalog.UploadPending,
	}
	resp = env.do(t, http.MethodPut, "/api/v1/updates/manager/version/process", "editor",
		processVersionRequest{ID: v.ID.Hex()})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Already published
	env.uploads.upload.State = catalog.UploadReady
	env.store.versions[v.ID].State = catalog.VersionReady
	resp = env.do(t, http.MethodPut, "/api/v1/updates/manager/version/process", "editor",
		processVersionRequest{ID: v.ID.Hex()})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListVersionsValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, query := range []string{
		"page=-1&size=10",
		"page=0&size=3",
		"page=0&size=51",
		"size=10",
		"page=0",
	} {
		resp := env.do(t, http.MethodGet, "/api/v1/updates/manager/version/list?"+query, "viewer", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestUploadRoutes(t *testing.T) {
	env := newTestEnv(t)
	versionID := primitive.NewObjectID()
	uploadID := primitive.NewObjectID()
	env.uploads.start = &upload.StartResult{
		UploadID:      uploadID,
		ConcurrentID:  "epoch-1",
		ChunksCount:   2,
		MissingRanges: []upload.Range{{Start: 0, End: 1}},
	}
	env.uploads.upload = &catalog.Upload{
		ID:           uploadID,
		VersionID:    versionID,
		ConcurrentID: "epoch-1",
		ChunksCount:  2,
		State:        catalog.UploadNone,
	}

	resp := env.do(t, http.MethodPost, "/api/v1/updates/manager/version/upload/start", "editor",
		startUploadRequest{
			ID:        versionID.Hex(),
			Hash:      strings.Repeat("ab", 32),
			ChunkSize: 16 * 1024,
			FileSize:  32 * 1024,
		})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started upload.StartResult
	decodeInto(t, resp, &started)
	assert.Equal(t, "epoch-1", started.ConcurrentID)
	assert.Equal(t, []upload.Range{{Start: 0, End: 1}}, started.MissingRanges)

	chunkPath := fmt.Sprintf(
		"/api/v1/updates/manager/version/upload/chunk?uploadId=%s&concurrentId=epoch-1&offset=%d",
		uploadID.Hex(), 0)
	resp = env.do(t, http.MethodPut, chunkPath, "editor", make([]byte, 16*1024))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var chunk upload.ChunkResult
	decodeInto(t, resp, &chunk)
	assert.False(t, chunk.Finished)
	assert.Equal(t, []int64{0}, env.uploads.chunks)

	resp = env.do(t, http.MethodGet, "/api/v1/updates/manager/uploads/"+versionID.Hex(), "viewer", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched catalog.Upload
	decodeInto(t, resp, &fetched)
	assert.Equal(t, uploadID, fetched.ID)
}

func TestUploadChunkParamValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, query := range []string{
		"uploadId=nope&concurrentId=e&offset=0",
		"uploadId=" + primitive.NewObjectID().Hex() + "&offset=0",
		"uploadId=" + primitive.NewObjectID().Hex() + "&concurrentId=e&offset=-1",
	} {
		resp := env.do(t, http.MethodPut,
			"/api/v1/updates/manager/version/upload/chunk?"+query, "editor", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.statuses = []queue.Status{
		{ID: "version-abc", State: queue.StateActive, Progress: 40,
			Payload: queue.Payload{Kind: queue.KindProcessPublish, VersionID: "abc"}},
	}

	resp := env.do(t, http.MethodGet, "/api/v1/updates/manager/version/jobs", "viewer", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Jobs []queue.Status `json:"jobs"`
	}
	decodeInto(t, resp, &body)
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "version-abc", body.Jobs[0].ID)
}
