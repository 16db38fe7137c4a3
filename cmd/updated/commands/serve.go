package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/frostline/updated/internal/logger"
	"github.com/frostline/updated/pkg/api"
	"github.com/frostline/updated/pkg/auth"
	"github.com/frostline/updated/pkg/cache"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/config"
	"github.com/frostline/updated/pkg/grpcapi"
	"github.com/frostline/updated/pkg/manifest"
	"github.com/frostline/updated/pkg/pipeline"
	"github.com/frostline/updated/pkg/queue"
	"github.com/frostline/updated/pkg/storage"
	"github.com/frostline/updated/pkg/upload"
)

const connectTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the update distribution service",
	Long: `Start the HTTP and gRPC servers and, when UPDATES_QUEUE_PROCESS is at
least 1, that many pipeline workers leasing jobs from the shared queue.

All configuration comes from the environment; an invalid configuration
is a startup failure and the process exits non-zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// allowAllVerifier grants every capability. Used only when no
// introspection endpoint is configured.
type allowAllVerifier struct{}

func (allowAllVerifier) Introspect(_ context.Context, token string) (*auth.Identity, error) {
	return &auth.Identity{Subject: "anonymous", Roles: []string{auth.RoleEdit, auth.RoleView}}, nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Username: cfg.User,
		Password: cfg.Pass,
	}
	if cfg.SSL {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

func storageOptions(sc config.StorageConfig) storage.Options {
	return storage.Options{
		Provider:        storage.Provider(sc.Provider),
		Bucket:          sc.Bucket,
		Subpath:         sc.Subpath,
		Region:          sc.Region,
		Endpoint:        sc.Endpoint,
		AccessKey:       sc.AccessKey,
		SecretKey:       sc.SecretKey,
		CredentialsFile: sc.CredentialsFile,
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	logger.Info("starting updated",
		"version", Version,
		"log_level", cfg.Logging.Level,
		"api_port", cfg.API.Port,
		"grpc_port", cfg.GRPC.Port,
		"workers", cfg.Queue.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	store, err := catalog.Connect(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		logger.Error("catalog connection failed", "error", err)
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("catalog close failed", "error", err)
		}
	}()

	rdb := newRedisClient(cfg.Redis)
	defer rdb.Close()

	manifestCache := cache.New(rdb)
	jobs := queue.New(rdb, cfg.Queue.Name)

	input, err := storage.New(connectCtx, storageOptions(cfg.Input))
	if err != nil {
		logger.Error("input storage init failed", "error", err)
		return err
	}
	defer input.Close()

	output, err := storage.New(connectCtx, storageOptions(cfg.Output))
	if err != nil {
		logger.Error("output storage init failed", "error", err)
		return err
	}
	defer output.Close()

	var verifier auth.Verifier
	if cfg.OpenID.IntrospectionURL != "" {
		verifier = auth.NewIntrospector(auth.Config{
			IntrospectionURL: cfg.OpenID.IntrospectionURL,
			ClientID:         cfg.OpenID.ClientID,
			ClientSecret:     cfg.OpenID.ClientSecret,
		})
	} else {
		logger.Warn("no introspection endpoint configured, management routes are unprotected")
		verifier = allowAllVerifier{}
	}

	uploads := upload.NewCoordinator(store, input, jobs)
	resolver := manifest.NewResolver(store, manifestCache)

	deps := api.Deps{
		Store:    store,
		Resolver: resolver,
		Uploads:  uploads,
		Jobs:     jobs,
		Auth:     verifier,
		Health: map[string]func(context.Context) error{
			"mongodb":        store.HealthCheck,
			"redis":          manifestCache.HealthCheck,
			"input-storage":  input.HealthCheck,
			"output-storage": output.HealthCheck,
		},
	}

	httpServer := api.NewServer(api.Options{
		Port:            cfg.API.Port,
		ReadTimeout:     cfg.API.ReadTimeout,
		WriteTimeout:    cfg.API.WriteTimeout,
		IdleTimeout:     cfg.API.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, deps)
	grpcServer := grpcapi.NewServer(cfg.GRPC.Port, &grpcapi.Service{
		Store:   store,
		Uploads: uploads,
		Jobs:    jobs,
	}, verifier)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpServer.Start(gctx) })
	g.Go(func() error { return grpcServer.Start(gctx) })

	for i := 0; i < cfg.Queue.Workers; i++ {
		worker := pipeline.NewWorker(jobs, store, input, output, os.TempDir())
		g.Go(func() error {
			if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("service terminated with error", "error", err)
		return err
	}
	logger.Info("service stopped gracefully")
	return nil
}
