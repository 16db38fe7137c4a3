package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIPort, cfg.API.Port)
	assert.Equal(t, DefaultGRPCPort, cfg.GRPC.Port)
	assert.Equal(t, DefaultMongoURI, cfg.Mongo.URI)
	assert.Equal(t, DefaultQueueName, cfg.Queue.Name)
	assert.Equal(t, 0, cfg.Queue.Workers)
	assert.Equal(t, "local", cfg.Input.Provider)
	assert.Equal(t, "local", cfg.Output.Provider)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_PORT", "9000")
	t.Setenv("GRPC_PORT", "9001")
	t.Setenv("MONGODB_URI", "mongodb://mongo.internal:27017")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("UPDATES_QUEUE_NAME", "updates-staging")
	t.Setenv("UPDATES_QUEUE_PROCESS", "2")
	t.Setenv("INPUT_STORAGE_PROVIDER", "aws")
	t.Setenv("INPUT_STORAGE_BUCKET", "updates-input")
	t.Setenv("INPUT_STORAGE_REGION", "eu-west-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, 9001, cfg.GRPC.Port)
	assert.Equal(t, "mongodb://mongo.internal:27017", cfg.Mongo.URI)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, "updates-staging", cfg.Queue.Name)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, "aws", cfg.Input.Provider)
	assert.Equal(t, "updates-input", cfg.Input.Bucket)
}

func TestValidateRejectsBadProvider(t *testing.T) {
	t.Setenv("INPUT_STORAGE_PROVIDER", "azure")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestValidateRequiresRegionForAWS(t *testing.T) {
	t.Setenv("OUTPUT_STORAGE_PROVIDER", "aws")
	t.Setenv("OUTPUT_STORAGE_BUCKET", "updates-output")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region or endpoint")
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "LOUD")

	_, err := Load()
	require.Error(t, err)
}
