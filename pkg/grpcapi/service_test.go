package grpcapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/auth"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/queue"
	"github.com/frostline/updated/pkg/upload"
)

type fakeStore struct {
	versions map[primitive.ObjectID]*catalog.Version
}

func (f *fakeStore) CreateVersion(_ context.Context, bump catalog.BumpType, description string) (*catalog.Version, error) {
	v := &catalog.Version{
		ID:          primitive.NewObjectID(),
		Major:       1,
		Description: description,
		State:       catalog.VersionPending,
		CreatedAt:   time.Now().UTC(),
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

func (f *fakeStore) ListServerURLs(context.Context) ([]string, error) { return nil, nil }

type fakeUploader struct {
	upload *catalog.Upload
}

func (f *fakeUploader) StartUpload(_ context.Context, p upload.StartParams) (*upload.StartResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &upload.StartResult{
		UploadID:      primitive.NewObjectID(),
		ConcurrentID:  "epoch-1",
		ChunksCount:   p.ChunksCount(),
		MissingRanges: upload.MissingRanges(nil, p.ChunksCount()),
	}, nil
}

func (f *fakeUploader) UploadChunk(context.Context, primitive.ObjectID, string, int64, []byte) (*upload.ChunkResult, error) {
	return &upload.ChunkResult{Finished: false}, nil
}

func (f *fakeUploader) FetchUpload(_ context.Context, versionID primitive.ObjectID) (*catalog.Upload, error) {
	if f.upload == nil || f.upload.VersionID != versionID {
		return nil, apperr.NotFound("upload for version", versionID.Hex())
	}
	return f.upload, nil
}

type fakeJobs struct {
	enqueued []string
}

func (f *fakeJobs) Enqueue(_ context.Context, id string, p queue.Payload) (bool, error) {
	f.enqueued = append(f.enqueued, id)
	return true, nil
}

func (f *fakeJobs) List(context.Context) ([]queue.Status, error) { return nil, nil }

func newTestService() (*Service, *fakeStore, *fakeUploader, *fakeJobs) {
	store := &fakeStore{versions: map[primitive.ObjectID]*catalog.Version{}}
	uploads := &fakeUploader{}
	jobs := &fakeJobs{}
	return &Service{Store: store, Uploads: uploads, Jobs: jobs}, store, uploads, jobs
}

func TestCreateVersionRPC(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.CreateVersion(ctx, &CreateVersionRequest{Type: 0, Description: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.NotEmpty(t, resp.ID)

	_, err = svc.CreateVersion(ctx, &CreateVersionRequest{Type: 7, Description: "v1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.CreateVersion(ctx, &CreateVersionRequest{Type: 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestFetchVersionRPC(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()
	v, err := store.CreateVersion(ctx, catalog.BumpMajor, "v1")
	require.NoError(t, err)

	doc, err := svc.FetchVersion(ctx, &FetchVersionRequest{ID: v.ID.Hex()})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", doc.Version)
	assert.Equal(t, string(catalog.VersionPending), doc.State)

	_, err = svc.FetchVersion(ctx, &FetchVersionRequest{ID: primitive.NewObjectID().Hex()})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = svc.FetchVersion(ctx, &FetchVersionRequest{ID: "bogus"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestProcessVersionRPC(t *testing.T) {
	svc, store, uploads, jobs := newTestService()
	ctx := context.Background()
	v, err := store.CreateVersion(ctx, catalog.BumpMajor, "v1")
	require.NoError(t, err)

	// No upload yet
	_, err = svc.ProcessVersion(ctx, &ProcessVersionRequest{ID: v.ID.Hex()})
	assert.Equal(t, codes.NotFound, status.Code(err))

	// Upload not reassembled
	uploads.upload = &catalog.Upload{
		ID:        primitive.NewObjectID(),
		VersionID: v.ID,
		State:     catalog.UploadPending,
	}
	_, err = svc.ProcessVersion(ctx, &ProcessVersionRequest{ID: v.ID.Hex()})
	assert.Equal(t, codes.Aborted, status.Code(err))

	// Ready
	uploads.upload.State = catalog.UploadReady
	resp, err := svc.ProcessVersion(ctx, &ProcessVersionRequest{ID: v.ID.Hex()})
	require.NoError(t, err)
	assert.Equal(t, "version-"+v.ID.Hex(), resp.JobID)
	assert.Equal(t, []string{"version-" + v.ID.Hex()}, jobs.enqueued)
}

func TestStartUploadVersionRPC(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.StartUploadVersion(ctx, &StartUploadVersionRequest{
		VersionID: primitive.NewObjectID().Hex(),
		Hash:      "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		ChunkSize: 16 * 1024,
		FileSize:  48 * 1024,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, resp.ChunksCount)
	assert.Equal(t, []upload.Range{{Start: 0, End: 2}}, resp.MissingRanges)

	_, err = svc.StartUploadVersion(ctx, &StartUploadVersionRequest{
		VersionID: primitive.NewObjectID().Hex(),
		Hash:      "SHOUTING",
		ChunkSize: 16 * 1024,
		FileSize:  48 * 1024,
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

type staticVerifier struct {
	roles map[string][]string
}

func (s *staticVerifier) Introspect(_ context.Context, token string) (*auth.Identity, error) {
	roles, ok := s.roles[token]
	if !ok {
		return nil, apperr.Unauthenticated("token is not active")
	}
	return &auth.Identity{Subject: "tester", Roles: roles}, nil
}

func TestAuthInterceptor(t *testing.T) {
	interceptor := authInterceptor(&staticVerifier{roles: map[string][]string{
		"editor": {auth.RoleEdit, auth.RoleView},
		"viewer": {auth.RoleView},
	}})

	invoke := func(token, method string) error {
		ctx := context.Background()
		if token != "" {
			ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", "Bearer "+token))
		}
		_, err := interceptor(ctx, nil,
			&grpc.UnaryServerInfo{FullMethod: "/" + serviceName + "/" + method},
			func(context.Context, any) (any, error) { return "ok", nil })
		return err
	}

	assert.NoError(t, invoke("editor", "CreateVersion"))
	assert.NoError(t, invoke("viewer", "ListVersions"))
	assert.Equal(t, codes.PermissionDenied, status.Code(invoke("viewer", "CreateVersion")))
	assert.Equal(t, codes.Unauthenticated, status.Code(invoke("", "ListVersions")))
	assert.Equal(t, codes.Unauthenticated, status.Code(invoke("stranger", "ListVersions")))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{apperr.Validation("bad"), codes.InvalidArgument},
		{apperr.Unauthenticated("no token"), codes.Unauthenticated},
		{apperr.PermissionDenied("no role"), codes.PermissionDenied},
		{apperr.NotFound("version", "x"), codes.NotFound},
		{apperr.Conflict("raced"), codes.Aborted},
		{apperr.Dependency("mongodb", assert.AnError), codes.Unavailable},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(toStatus(tt.err)))
	}
	assert.NoError(t, toStatus(nil))
}
