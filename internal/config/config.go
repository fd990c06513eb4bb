package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Log       LogConfig       `mapstructure:"log"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

type QueueConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Name          string `mapstructure:"name"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	MaxActiveJobs int    `mapstructure:"max_active_jobs"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
}

// BatchConfig holds defaults for local batch runs.
type BatchConfig struct {
	Workers     int    `mapstructure:"workers"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	Store       string `mapstructure:"store"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type WebhookConfig struct {
	SigningSecret string        `mapstructure:"signing_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

// RateLimitConfig describes the API token bucket. Capacity is counted in
// batch items, not requests.
type RateLimitConfig struct {
	Capacity     int           `mapstructure:"capacity"`
	Window       time.Duration `mapstructure:"window"`
	UserIDHeader string        `mapstructure:"user_id_header"`
}

type TraceConfig struct {
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	// SampleRatio applies to root spans; 0 or 1 samples everything.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var envBindings = map[string]string{
	"api.addr":                  "PIXELBATCH_API_ADDR",
	"queue.redis_addr":          "REDIS_ADDR",
	"queue.redis_password":      "REDIS_PASSWORD",
	"queue.redis_db":            "REDIS_DB",
	"queue.name":                "ASYNC_QUEUE",
	"worker.concurrency":        "WORKER_CONCURRENCY",
	"worker.max_active_jobs":    "WORKER_MAX_ACTIVE_JOBS",
	"worker.metrics_addr":       "WORKER_METRICS_ADDR",
	"batch.workers":             "PIXELBATCH_WORKERS",
	"batch.jpeg_quality":        "PIXELBATCH_JPEG_QUALITY",
	"batch.store":               "PIXELBATCH_STORE",
	"storage.endpoint":          "MINIO_ENDPOINT",
	"storage.access_key":        "MINIO_ACCESS_KEY",
	"storage.secret_key":        "MINIO_SECRET_KEY",
	"storage.bucket":            "MINIO_BUCKET",
	"storage.use_ssl":           "MINIO_USE_SSL",
	"database.dsn":              "POSTGRES_DSN",
	"webhook.signing_secret":    "WEBHOOK_SIGNING_SECRET",
	"webhook.timeout":           "WEBHOOK_TIMEOUT",
	"webhook.max_attempts":      "WEBHOOK_MAX_ATTEMPTS",
	"rate_limit.capacity":       "RATE_LIMIT_CAPACITY",
	"rate_limit.window":         "RATE_LIMIT_WINDOW",
	"rate_limit.user_id_header": "RATE_LIMIT_USER_ID_HEADER",
	"trace.exporter":            "OTEL_TRACES_EXPORTER",
	"trace.otlp_endpoint":       "OTEL_EXPORTER_OTLP_ENDPOINT",
	"trace.otlp_insecure":       "OTEL_EXPORTER_OTLP_INSECURE",
	"trace.sample_ratio":        "OTEL_TRACES_SAMPLER_ARG",
	"log.level":                 "PIXELBATCH_LOG_LEVEL",
	"log.format":                "PIXELBATCH_LOG_FORMAT",
}

// Load reads configuration from the environment into v, which may already
// carry bound command line flags. A nil v uses a fresh viper instance.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "default")
	v.SetDefault("worker.concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker.max_active_jobs", max(1, runtime.NumCPU()/2))
	v.SetDefault("worker.metrics_addr", ":9091")
	v.SetDefault("batch.workers", 0)
	v.SetDefault("batch.jpeg_quality", 90)
	v.SetDefault("batch.store", "local")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "pixelbatch")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("rate_limit.capacity", 0)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.user_id_header", "X-User-ID")
	v.SetDefault("trace.exporter", "none")
	v.SetDefault("trace.sample_ratio", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
