package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for local development. Production deployments override
// everything through the environment.
const (
	DefaultAPIPort  = 8080
	DefaultGRPCPort = 50051

	DefaultMongoURI      = "mongodb://localhost:27017"
	DefaultMongoDatabase = "updates"

	DefaultRedisHost = "localhost"
	DefaultRedisPort = 6379

	DefaultQueueName = "updates"

	DefaultShutdownTimeout = 30 * time.Second
)

func applyDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("api.port", DefaultAPIPort)
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 60*time.Second)
	v.SetDefault("api.idle_timeout", 120*time.Second)

	v.SetDefault("grpc.port", DefaultGRPCPort)

	v.SetDefault("mongo.uri", DefaultMongoURI)
	v.SetDefault("mongo.database", DefaultMongoDatabase)

	v.SetDefault("redis.host", DefaultRedisHost)
	v.SetDefault("redis.port", DefaultRedisPort)
	v.SetDefault("redis.ssl", false)

	v.SetDefault("queue.name", DefaultQueueName)
	v.SetDefault("queue.workers", 0)

	v.SetDefault("input.provider", "local")
	v.SetDefault("input.bucket", "/var/lib/updated/input")
	v.SetDefault("output.provider", "local")
	v.SetDefault("output.bucket", "/var/lib/updated/output")

	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout)
}
