package grpcapi

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/frostline/updated/internal/logger"
	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/auth"
)

// methodRoles maps each RPC to the capability it requires.
var methodRoles = map[string]string{
	"CreateVersion":      auth.RoleEdit,
	"EditVersion":        auth.RoleEdit,
	"ProcessVersion":     auth.RoleEdit,
	"StartUploadVersion": auth.RoleEdit,
	"UploadVersionChunk": auth.RoleEdit,
	"FetchVersion":       auth.RoleView,
	"ListVersions":       auth.RoleView,
	"FetchUploads":       auth.RoleView,
}

// authInterceptor resolves the bearer token from the request metadata
// and enforces the per-method capability.
func authInterceptor(verifier auth.Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]
		role, ok := methodRoles[method]
		if !ok {
			return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}

		token := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			for _, v := range md.Get("authorization") {
				if len(v) > 7 && strings.EqualFold(v[:7], "Bearer ") {
					token = strings.TrimSpace(v[7:])
				}
			}
		}
		if token == "" {
			return nil, toStatus(apperr.Unauthenticated("missing bearer token"))
		}
		if _, err := auth.Require(ctx, verifier, token, role); err != nil {
			return nil, toStatus(err)
		}
		return handler(ctx, req)
	}
}

// logInterceptor logs each RPC with its outcome and duration.
func logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	logArgs := []any{
		"component", "grpc",
		"method", info.FullMethod,
		"duration", time.Since(start).String(),
	}
	if err != nil {
		logger.Warn("rpc failed", append(logArgs, "error", err)...)
	} else {
		logger.Info("rpc completed", logArgs...)
	}
	return resp, err
}

// Server is the gRPC front of the service.
type Server struct {
	grpc     *grpc.Server
	port     int
	stopOnce sync.Once
}

// NewServer builds the gRPC server on the given port.
func NewServer(port int, svc *Service, verifier auth.Verifier) *Server {
	gs := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(logInterceptor, authInterceptor(verifier)),
	)
	gs.RegisterService(&serviceDesc, svc)
	return &Server{grpc: gs, port: port}
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", "component", "grpc", "port", s.port)
		if err := s.grpc.Serve(lis); err != nil {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("gRPC server shutdown signal received", "component", "grpc")
		s.Stop()
		return nil
	case err := <-errChan:
		return fmt.Errorf("gRPC server failed: %w", err)
	}
}

// Stop drains in-flight RPCs. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.grpc.GracefulStop()
		logger.Info("gRPC server stopped gracefully", "component", "grpc")
	})
}
