// Package config loads and validates the service configuration.
//
// Configuration is environment-driven. Every knob has a well-known
// environment variable name; defaults cover local development against a
// filesystem Input/Output store and a localhost Mongo/Redis pair.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the update distribution service configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables
//  2. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// API configures the HTTP transport.
	API APIConfig `mapstructure:"api"`

	// GRPC configures the gRPC transport.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// Mongo configures the catalog database connection.
	Mongo MongoConfig `mapstructure:"mongo"`

	// Redis configures the cache and queue connection.
	Redis RedisConfig `mapstructure:"redis"`

	// Queue configures the update-processing job queue.
	Queue QueueConfig `mapstructure:"queue"`

	// Input is the transient store for upload chunks and assembled zips.
	Input StorageConfig `mapstructure:"input"`

	// Output is the durable store for published packed files.
	Output StorageConfig `mapstructure:"output"`

	// OpenID configures the external token-introspection endpoint.
	OpenID OpenIDConfig `mapstructure:"openid"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// GRPCConfig configures the gRPC server.
type GRPCConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// MongoConfig configures the catalog database.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string `mapstructure:"uri" validate:"required"`

	// Database is the database holding the catalog collections.
	Database string `mapstructure:"database" validate:"required"`
}

// RedisConfig configures the Redis connection shared by the manifest
// cache and the job queue.
type RedisConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	SSL  bool   `mapstructure:"ssl"`
}

// Addr returns the host:port address of the Redis server.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig configures the update-processing job queue.
type QueueConfig struct {
	// Name is the queue key prefix in Redis.
	Name string `mapstructure:"name" validate:"required"`

	// Workers is the number of worker loops leasing jobs.
	// Workers run iff Workers >= 1.
	Workers int `mapstructure:"workers" validate:"min=0"`
}

// StorageConfig configures one blob store (Input or Output).
type StorageConfig struct {
	// Provider selects the backend: local, aws or gcp.
	Provider string `mapstructure:"provider" validate:"required,oneof=local aws gcp"`

	// Bucket is the bucket name for aws/gcp, or the root directory for local.
	Bucket string `mapstructure:"bucket" validate:"required"`

	// Subpath is an optional key prefix inside the bucket.
	Subpath string `mapstructure:"subpath"`

	// Region is the AWS region (aws provider only).
	Region string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint (for S3-compatible stores).
	Endpoint string `mapstructure:"endpoint"`

	// AccessKey and SecretKey are static credentials (aws provider only).
	// When empty the default credential chain is used.
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// CredentialsFile is a service-account JSON path (gcp provider only).
	// When empty application default credentials are used.
	CredentialsFile string `mapstructure:"credentials_file"`
}

// OpenIDConfig configures the external token-introspection service.
type OpenIDConfig struct {
	// IntrospectionURL is the RFC 7662 introspection endpoint.
	// When empty, authorization is disabled (local development only).
	IntrospectionURL string `mapstructure:"introspection_url"`

	// ClientID and ClientSecret authenticate this service against the
	// introspection endpoint.
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// envBindings maps config keys to their environment variable names.
var envBindings = map[string]string{
	"logging.level":           "LOG_LEVEL",
	"logging.format":          "LOG_FORMAT",
	"logging.output":          "LOG_OUTPUT",
	"api.port":                "API_PORT",
	"grpc.port":               "GRPC_PORT",
	"mongo.uri":               "MONGODB_URI",
	"mongo.database":          "MONGODB_DATABASE",
	"redis.host":              "REDIS_HOST",
	"redis.port":              "REDIS_PORT",
	"redis.user":              "REDIS_USER",
	"redis.pass":              "REDIS_PASS",
	"redis.ssl":               "REDIS_SSL",
	"queue.name":              "UPDATES_QUEUE_NAME",
	"queue.workers":           "UPDATES_QUEUE_PROCESS",
	"input.provider":          "INPUT_STORAGE_PROVIDER",
	"input.bucket":            "INPUT_STORAGE_BUCKET",
	"input.subpath":           "INPUT_STORAGE_SUBPATH",
	"input.region":            "INPUT_STORAGE_REGION",
	"input.endpoint":          "INPUT_STORAGE_ENDPOINT",
	"input.access_key":        "INPUT_STORAGE_ACCESS_KEY",
	"input.secret_key":        "INPUT_STORAGE_SECRET_KEY",
	"input.credentials_file":  "INPUT_STORAGE_CREDENTIALS_FILE",
	"output.provider":         "OUTPUT_STORAGE_PROVIDER",
	"output.bucket":           "OUTPUT_STORAGE_BUCKET",
	"output.subpath":          "OUTPUT_STORAGE_SUBPATH",
	"output.region":           "OUTPUT_STORAGE_REGION",
	"output.endpoint":         "OUTPUT_STORAGE_ENDPOINT",
	"output.access_key":       "OUTPUT_STORAGE_ACCESS_KEY",
	"output.secret_key":       "OUTPUT_STORAGE_SECRET_KEY",
	"output.credentials_file": "OUTPUT_STORAGE_CREDENTIALS_FILE",
	"openid.introspection_url": "OPENID_INTROSPECTION_URL",
	"openid.client_id":         "OPENID_CLIENT_ID",
	"openid.client_secret":     "OPENID_CLIENT_SECRET",
	"shutdown_timeout":         "SHUTDOWN_TIMEOUT",
}

// Load reads configuration from the environment, applies defaults and
// validates the result. An invalid configuration is a startup failure;
// callers exit non-zero.
func Load() (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	return &cfg, nil
}

// Validate checks the configuration against its constraints.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		var sb strings.Builder
		if ok := asValidationErrors(err, &errs); ok {
			for i, fe := range errs {
				if i > 0 {
					sb.WriteString("; ")
				}
				fmt.Fprintf(&sb, "%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid configuration: %s", sb.String())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, sc := range map[string]StorageConfig{"input": cfg.Input, "output": cfg.Output} {
		if sc.Provider == "aws" && sc.Region == "" && sc.Endpoint == "" {
			return fmt.Errorf("invalid configuration: %s storage: aws provider requires a region or endpoint", name)
		}
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	errs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = errs
	}
	return ok
}
