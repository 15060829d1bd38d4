// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Serving   ServingConfig   `mapstructure:"serving"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StorageConfig selects the lake backend and per-layer buckets.
type StorageConfig struct {
	Backend string        `mapstructure:"backend"`
	Buckets BucketsConfig `mapstructure:"buckets"`
	Local   LocalConfig   `mapstructure:"local"`
	S3      S3Config      `mapstructure:"s3"`
	GCS     GCSConfig     `mapstructure:"gcs"`
}

// BucketsConfig names the bucket behind each lake layer.
type BucketsConfig struct {
	Bronze    string `mapstructure:"bronze"`
	Silver    string `mapstructure:"silver"`
	Gold      string `mapstructure:"gold"`
	Artifacts string `mapstructure:"artifacts"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// S3Config configures the S3/MinIO backend.
type S3Config struct {
	Region          string `mapstructure:"region"`
	EndpointURL     string `mapstructure:"endpoint_url"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GCSConfig configures the GCS backend.
type GCSConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Endpoint  string `mapstructure:"endpoint"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// QueueConfig configures job delivery and the worker retry policy.
type QueueConfig struct {
	Backend        string `mapstructure:"backend"`
	Depth          int    `mapstructure:"depth"`
	Workers        int    `mapstructure:"workers"`
	ProjectID      string `mapstructure:"project_id"`
	Topic          string `mapstructure:"topic"`
	Subscription   string `mapstructure:"subscription"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BackoffSeconds []int  `mapstructure:"backoff_seconds"`
	JobTimeoutSec  int    `mapstructure:"job_timeout_seconds"`
}

// CrawlerConfig governs the place-page crawler.
type CrawlerConfig struct {
	// Mode is headless, static or auto (static first, browser on demand).
	Mode              string  `mapstructure:"mode"`
	UserAgent         string  `mapstructure:"user_agent"`
	RetryCount        int     `mapstructure:"retry_count"`
	RetryDelaySeconds float64 `mapstructure:"retry_delay_seconds"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	ScrollRounds      int     `mapstructure:"scroll_rounds"`
	PerDomainQPS      float64 `mapstructure:"per_domain_qps"`
	DebugScreenshots  bool    `mapstructure:"debug_screenshots"`
}

// AnalysisConfig configures the generative backend and the chunked aggregator.
type AnalysisConfig struct {
	APIKey            string   `mapstructure:"api_key"`
	BaseURL           string   `mapstructure:"base_url"`
	Model             string   `mapstructure:"model"`
	FallbackModels    []string `mapstructure:"fallback_models"`
	PromptVersion     string   `mapstructure:"prompt_version"`
	PromptDir         string   `mapstructure:"prompt_dir"`
	ChunkSize         int      `mapstructure:"chunk_size"`
	ChunkConcurrency  int      `mapstructure:"chunk_concurrency"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_seconds"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	ParserVersion     string   `mapstructure:"parser_version"`
	CrawlerVersion    string   `mapstructure:"crawler_version"`
}

// EmbeddingConfig configures store-document embeddings.
type EmbeddingConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Model          string   `mapstructure:"model"`
	FallbackModels []string `mapstructure:"fallback_models"`
	Dimension      int      `mapstructure:"dimension"`
}

// QualityConfig configures the data-quality gate.
type QualityConfig struct {
	BoilerplateMarkers []string `mapstructure:"boilerplate_markers"`
	MinMarkerHits      int      `mapstructure:"min_marker_hits"`
}

// ServingConfig configures the read-side projection.
type ServingConfig struct {
	ReviewWindow      int      `mapstructure:"review_window"`
	ReviewLogCap      int      `mapstructure:"review_log_cap"`
	LowQualityMarkers []string `mapstructure:"low_quality_markers"`
	DefaultListLimit  int      `mapstructure:"default_list_limit"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HIDDENSPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultBoilerplateMarkers are chrome phrases of the map portal the crawler
// targets. A review carrying two or more of them is not place content.
var DefaultBoilerplateMarkers = []string{
	"지도",
	"길찾기",
	"거리뷰",
	"저장",
	"공유",
	"검색",
	"로그인",
	"메뉴",
	"내 주변",
	"Google",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.buckets.bronze", "hidden-spot-bronze")
	v.SetDefault("storage.buckets.silver", "hidden-spot-silver")
	v.SetDefault("storage.buckets.gold", "hidden-spot-gold")
	v.SetDefault("storage.buckets.artifacts", "hidden-spot-artifacts")
	v.SetDefault("storage.local.base_dir", "./data/lake")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.force_path_style", true)

	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.topic", "hidden-spot-jobs")
	v.SetDefault("queue.subscription", "hidden-spot-jobs-worker")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_seconds", []int{10, 30, 60})
	v.SetDefault("queue.job_timeout_seconds", 900)

	v.SetDefault("crawler.mode", "headless")
	v.SetDefault("crawler.user_agent", "hidden-spot-bot/0.1")
	v.SetDefault("crawler.retry_count", 2)
	v.SetDefault("crawler.retry_delay_seconds", 1.5)
	v.SetDefault("crawler.nav_timeout_seconds", 45)
	v.SetDefault("crawler.scroll_rounds", 12)
	v.SetDefault("crawler.per_domain_qps", 0.5)
	v.SetDefault("crawler.debug_screenshots", true)

	v.SetDefault("analysis.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("analysis.model", "gemini-1.5-flash")
	v.SetDefault("analysis.fallback_models", []string{"gemini-2.0-flash", "gemini-1.5-flash-latest", "gemini-1.5-pro"})
	v.SetDefault("analysis.prompt_version", "v1")
	v.SetDefault("analysis.prompt_dir", "prompts")
	v.SetDefault("analysis.chunk_size", 80)
	v.SetDefault("analysis.chunk_concurrency", 2)
	v.SetDefault("analysis.request_timeout_seconds", 60)
	v.SetDefault("analysis.requests_per_second", 1.0)
	v.SetDefault("analysis.parser_version", "v1")
	v.SetDefault("analysis.crawler_version", "v1")

	v.SetDefault("embedding.enabled", true)
	v.SetDefault("embedding.model", "text-embedding-004")
	v.SetDefault("embedding.fallback_models", []string{"gemini-embedding-001", "embedding-001"})
	v.SetDefault("embedding.dimension", 768)

	v.SetDefault("quality.boilerplate_markers", DefaultBoilerplateMarkers)
	v.SetDefault("quality.min_marker_hits", 2)

	v.SetDefault("serving.review_window", 20)
	v.SetDefault("serving.review_log_cap", 50)
	v.SetDefault("serving.low_quality_markers", DefaultBoilerplateMarkers)
	v.SetDefault("serving.default_list_limit", 100)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "hidden-spot")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "gcs", "s3":
	case "local":
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic and queue.subscription are required for pubsub")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	switch c.Crawler.Mode {
	case "headless", "static", "auto":
	default:
		return fmt.Errorf("crawler.mode %q is not supported", c.Crawler.Mode)
	}
	if c.Crawler.RetryCount < 0 {
		return fmt.Errorf("crawler.retry_count must be >= 0")
	}
	if c.Analysis.ChunkSize <= 0 {
		return fmt.Errorf("analysis.chunk_size must be > 0")
	}
	if c.Analysis.ChunkConcurrency <= 0 {
		return fmt.Errorf("analysis.chunk_concurrency must be > 0")
	}
	if c.Embedding.Enabled && c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be > 0 when embeddings are enabled")
	}
	if c.Quality.MinMarkerHits <= 0 {
		return fmt.Errorf("quality.min_marker_hits must be > 0")
	}
	return nil
}

// QueueBackoff converts the configured backoff schedule into durations.
func (c Config) QueueBackoff() []time.Duration {
	out := make([]time.Duration, 0, len(c.Queue.BackoffSeconds))
	for _, s := range c.Queue.BackoffSeconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// CrawlRetryDelay is the base delay between crawl attempts.
func (c Config) CrawlRetryDelay() time.Duration {
	return time.Duration(c.Crawler.RetryDelaySeconds * float64(time.Second))
}

// AnalysisTimeout bounds a single generative request.
func (c Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Analysis.RequestTimeoutSec) * time.Second
}

// DBMaxConnLifetime is the pool's connection recycle interval.
func (c Config) DBMaxConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute
}

// JobTimeout bounds one full pipeline invocation.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Queue.JobTimeoutSec) * time.Second
}
