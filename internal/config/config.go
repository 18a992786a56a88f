package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Storage     StorageConfig
	Queue       QueueConfig
	Auth        AuthConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
	Tracing     TracingConfig
	Media       MediaConfig
	Transcriber TranscriberConfig
	Translator  TranslatorConfig
	Pipeline    PipelineConfig
	Worker      WorkerConfig
	Webhook     WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	UploadPartBytes int64
	RateLimitRPS    int
	RateLimitBurst  int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// ProgressTTL bounds how long job progress and cancel flags live
	ProgressTTL time.Duration
	// CacheTTL bounds cached video and finished job metadata
	CacheTTL time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PresignExpiry   time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// MediaConfig holds ffmpeg settings
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	// NoiseFloor is passed to the afftdn filter (dB)
	NoiseFloor float64
	// NoiseReduction is the afftdn reduction amount (dB)
	NoiseReduction float64
}

// TranscriberConfig holds the speech-to-text capability settings
type TranscriberConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// TranslatorConfig holds the neural translation capability settings
type TranslatorConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// PipelineConfig holds orchestration policies
type PipelineConfig struct {
	OutputDir string
	// FailurePolicy is "partial" or "abort"
	FailurePolicy string
	// DenoiseFailure is "continue" or "abort"
	DenoiseFailure       string
	PreviewSegments      int
	DefaultDurationLimit time.Duration
}

// WorkerConfig holds job consumer settings
type WorkerConfig struct {
	Concurrency int
	MaxRetries  int
	// SweepInterval is how often stale jobs are looked for; zero disables the sweep
	SweepInterval   time.Duration
	PendingAfter    time.Duration
	ProcessingAfter time.Duration
}

// WebhookConfig holds job callback delivery settings
type WebhookConfig struct {
	// Secret signs callback bodies; empty disables the signature header
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Pipeline policy values
const (
	FailurePolicyPartial   = "partial"
	FailurePolicyAbort     = "abort"
	DenoiseFailureContinue = "continue"
	DenoiseFailureAbort    = "abort"
)

// Load reads configuration from file and environment variables.
// A .env file next to the process, when present, is loaded first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// Validate rejects unknown policy values
func (c *Config) Validate() error {
	switch c.Pipeline.FailurePolicy {
	case FailurePolicyPartial, FailurePolicyAbort:
	default:
		return fmt.Errorf("invalid pipeline.failurePolicy %q", c.Pipeline.FailurePolicy)
	}

	switch c.Pipeline.DenoiseFailure {
	case DenoiseFailureContinue, DenoiseFailureAbort:
	default:
		return fmt.Errorf("invalid pipeline.denoiseFailure %q", c.Pipeline.DenoiseFailure)
	}

	if c.Pipeline.PreviewSegments < 0 {
		return fmt.Errorf("pipeline.previewSegments must not be negative")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.maxUploadBytes", 2*1024*1024*1024) // 2GB
	v.SetDefault("server.uploadPartBytes", 8*1024*1024)
	v.SetDefault("server.rateLimitRPS", 10)
	v.SetDefault("server.rateLimitBurst", 20)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "globalsound")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.progressTTL", "24h")
	v.SetDefault("redis.cacheTTL", "10m")

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "videos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.presignExpiry", "1h")

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtSecret", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Observability defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "globalsound")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Media defaults
	v.SetDefault("media.ffmpegPath", "ffmpeg")
	v.SetDefault("media.ffprobePath", "ffprobe")
	v.SetDefault("media.tempDir", "/tmp/globalsound")
	v.SetDefault("media.noiseFloor", -25.0)
	v.SetDefault("media.noiseReduction", 12.0)

	// Capability defaults
	v.SetDefault("transcriber.endpoint", "http://localhost:9000/v1/audio/transcriptions")
	v.SetDefault("transcriber.model", "base")
	v.SetDefault("transcriber.timeout", "30m")
	v.SetDefault("translator.endpoint", "http://localhost:9100/translate")
	v.SetDefault("translator.model", "facebook/mbart-large-50-many-to-many-mmt")
	v.SetDefault("translator.timeout", "10m")

	// Pipeline defaults
	v.SetDefault("pipeline.outputDir", "/tmp/globalsound/out")
	v.SetDefault("pipeline.failurePolicy", FailurePolicyPartial)
	v.SetDefault("pipeline.denoiseFailure", DenoiseFailureContinue)
	v.SetDefault("pipeline.previewSegments", 5)
	v.SetDefault("pipeline.defaultDurationLimit", "0s")

	// Worker defaults
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.maxRetries", 3)
	v.SetDefault("worker.sweepInterval", "1m")
	v.SetDefault("worker.pendingAfter", "5m")
	v.SetDefault("worker.processingAfter", "2h")

	// Webhook defaults
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "30s")
	v.SetDefault("webhook.maxAttempts", 3)
	v.SetDefault("webhook.retryDelay", "5s")
}
