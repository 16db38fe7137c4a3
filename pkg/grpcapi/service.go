// Package grpcapi exposes the management operations as unary gRPC
// RPCs. Messages travel through a JSON codec, so the service shares its
// shapes with the HTTP API and ships no generated code; the wire
// contract lives in proto/updates.proto.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/frostline/updated/pkg/api"
	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/queue"
	"github.com/frostline/updated/pkg/upload"
)

const serviceName = "updates.v1.UpdateService"

// UpdateServiceServer is the RPC surface registered on the server.
type UpdateServiceServer interface {
	CreateVersion(ctx context.Context, in *CreateVersionRequest) (*CreateVersionResponse, error)
	EditVersion(ctx context.Context, in *EditVersionRequest) (*EditVersionResponse, error)
	FetchVersion(ctx context.Context, in *FetchVersionRequest) (*VersionDocument, error)
	ListVersions(ctx context.Context, in *ListVersionsRequest) (*ListVersionsResponse, error)
	FetchUploads(ctx context.Context, in *FetchUploadsRequest) (*UploadDocument, error)
	StartUploadVersion(ctx context.Context, in *StartUploadVersionRequest) (*StartUploadVersionResponse, error)
	UploadVersionChunk(ctx context.Context, in *UploadVersionChunkRequest) (*UploadVersionChunkResponse, error)
	ProcessVersion(ctx context.Context, in *ProcessVersionRequest) (*ProcessVersionResponse, error)
}

// Service implements the UpdateService RPCs on the same collaborators
// as the HTTP handlers.
type Service struct {
	Store   api.Catalog
	Uploads api.Uploader
	Jobs    api.Jobs
}

// toStatus maps a core error kind to its gRPC code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	msg := "internal error"

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		code, msg = codes.InvalidArgument, err.Error()
	case apperr.KindAuth:
		code, msg = codes.Unauthenticated, err.Error()
	case apperr.KindPermissionDenied:
		code, msg = codes.PermissionDenied, err.Error()
	case apperr.KindNotFound:
		code, msg = codes.NotFound, err.Error()
	case apperr.KindConflict:
		code, msg = codes.Aborted, err.Error()
	case apperr.KindDependencyUnavailable:
		code, msg = codes.Unavailable, "a backing service is unavailable"
	}
	return status.Error(code, msg)
}

func (s *Service) CreateVersion(ctx context.Context, in *CreateVersionRequest) (*CreateVersionResponse, error) {
	if !catalog.BumpType(in.Type).Valid() {
		return nil, toStatus(apperr.Validation("type: must be in [0, 2]"))
	}
	if len(in.Description) == 0 || len(in.Description) > 256 {
		return nil, toStatus(apperr.Validation("description: must be 1 to 256 characters"))
	}

	v, err := s.Store.CreateVersion(ctx, catalog.BumpType(in.Type), in.Description)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateVersionResponse{ID: v.ID.Hex(), Version: v.Semantic()}, nil
}

func (s *Service) EditVersion(ctx context.Context, in *EditVersionRequest) (*EditVersionResponse, error) {
	if len(in.Description) == 0 || len(in.Description) > 256 {
		return nil, toStatus(apperr.Validation("description: must be 1 to 256 characters"))
	}
	id, err := catalog.ParseID(in.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.Store.UpdateVersionDescription(ctx, id, in.Description); err != nil {
		return nil, toStatus(err)
	}
	return &EditVersionResponse{Success: true}, nil
}

func versionDoc(v *catalog.Version, filesCount int64) VersionDocument {
	return VersionDocument{
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

func (s *Service) FetchVersion(ctx context.Context, in *FetchVersionRequest) (*VersionDocument, error) {
	id, err := catalog.ParseID(in.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	v, err := s.Store.GetVersion(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	filesCount, err := s.Store.CountFilesForVersion(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	doc := versionDoc(v, filesCount)
	return &doc, nil
}

func (s *Service) ListVersions(ctx context.Context, in *ListVersionsRequest) (*ListVersionsResponse, error) {
	if in.Page < 0 {
		return nil, toStatus(apperr.Validation("page: must be non-negative"))
	}
	if in.Size < 4 || in.Size > 50 {
		return nil, toStatus(apperr.Validation("size: must be in [4, 50]"))
	}

	versions, total, err := s.Store.ListVersions(ctx, in.Page, in.Size)
	if err != nil {
		return nil, toStatus(err)
	}
	docs := make([]VersionDocument, 0, len(versions))
	for i := range versions {
		filesCount, err := s.Store.CountFilesForVersion(ctx, versions[i].ID)
		if err != nil {
			return nil, toStatus(err)
		}
		docs = append(docs, versionDoc(&versions[i], filesCount))
	}
	return &ListVersionsResponse{Versions: docs, Total: total, Page: in.Page, Size: in.Size}, nil
}

func (s *Service) FetchUploads(ctx context.Context, in *FetchUploadsRequest) (*UploadDocument, error) {
	versionID, err := catalog.ParseID(in.VersionID)
	if err != nil {
		return nil, toStatus(err)
	}
	u, err := s.Uploads.FetchUpload(ctx, versionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &UploadDocument{
		ID:           u.ID.Hex(),
		VersionID:    u.VersionID.Hex(),
		ConcurrentID: u.ConcurrentID,
		Hash:         u.Hash,
		ChunkSize:    u.ChunkSize,
		FileSize:     u.FileSize,
		ChunksCount:  u.ChunksCount,
		State:        string(u.State),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}, nil
}

func (s *Service) StartUploadVersion(ctx context.Context, in *StartUploadVersionRequest) (*StartUploadVersionResponse, error) {
	versionID, err := catalog.ParseID(in.VersionID)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.Uploads.StartUpload(ctx, upload.StartParams{
		VersionID: versionID,
		Hash:      in.Hash,
		ChunkSize: in.ChunkSize,
		FileSize:  in.FileSize,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &StartUploadVersionResponse{
		UploadID:      res.UploadID.Hex(),
		ConcurrentID:  res.ConcurrentID,
		ChunksCount:   res.ChunksCount,
		MissingRanges: res.MissingRanges,
	}, nil
}

func (s *Service) UploadVersionChunk(ctx context.Context, in *UploadVersionChunkRequest) (*UploadVersionChunkResponse, error) {
	uploadID, err := catalog.ParseID(in.UploadID)
	if err != nil {
		return nil, toStatus(err)
	}
	if in.ConcurrentID == "" {
		return nil, toStatus(apperr.Validation("concurrentId: required"))
	}
	res, err := s.Uploads.UploadChunk(ctx, uploadID, in.ConcurrentID, in.Offset, in.Data)
	if err != nil {
		return nil, toStatus(err)
	}
	return &UploadVersionChunkResponse{Finished: res.Finished}, nil
}

func (s *Service) ProcessVersion(ctx context.Context, in *ProcessVersionRequest) (*ProcessVersionResponse, error) {
	id, err := catalog.ParseID(in.ID)
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.Store.GetVersion(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	if v.State == catalog.VersionReady {
		return nil, toStatus(apperr.Conflict("version %s is already published", v.Semantic()))
	}
	u, err := s.Uploads.FetchUpload(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	if u.State != catalog.UploadReady {
		return nil, toStatus(apperr.Conflict("upload for version %s is not reassembled yet", v.Semantic()))
	}

	jobID := queue.PublishJobID(id.Hex())
	if _, err := s.Jobs.Enqueue(ctx, jobID, queue.Payload{
		Kind:      queue.KindProcessPublish,
		VersionID: id.Hex(),
	}); err != nil {
		return nil, toStatus(apperr.Dependency("job queue", err))
	}
	return &ProcessVersionResponse{JobID: jobID}, nil
}

// unaryHandler adapts one typed method into a grpc.MethodDesc handler.
func unaryHandler[Req any, Resp any](
	method string,
	call func(*Service, context.Context, *Req) (*Resp, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(*Service), ctx, req.(*Req))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		return interceptor(ctx, in, info, handler)
	}
}

// serviceDesc is the hand-written descriptor; the JSON codec means no
// protobuf stubs are generated.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*UpdateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateVersion", Handler: unaryHandler("CreateVersion", (*Service).CreateVersion)},
		{MethodName: "EditVersion", Handler: unaryHandler("EditVersion", (*Service).EditVersion)},
		{MethodName: "FetchVersion", Handler: unaryHandler("FetchVersion", (*Service).FetchVersion)},
		{MethodName: "ListVersions", Handler: unaryHandler("ListVersions", (*Service).ListVersions)},
		{MethodName: "FetchUploads", Handler: unaryHandler("FetchUploads", (*Service).FetchUploads)},
		{MethodName: "StartUploadVersion", Handler: unaryHandler("StartUploadVersion", (*Service).StartUploadVersion)},
		{MethodName: "UploadVersionChunk", Handler: unaryHandler("UploadVersionChunk", (*Service).UploadVersionChunk)},
		{MethodName: "ProcessVersion", Handler: unaryHandler("ProcessVersion", (*Service).ProcessVersion)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/updates.proto",
}
