package domain

import "time"

// Config holds the complete FraudLens configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server" validate:"required"`

	// Tier determines feature availability
	Tier Tier `koanf:"tier" validate:"oneof=community pro enterprise"`

	// Detection holds the model settings applied to every run.
	Detection DetectionConfig `koanf:"detection" validate:"required"`

	// Narrative holds severity classifier overrides.
	Narrative NarrativeConfig `koanf:"narrative"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus"`

	// Upload throttling and quotas
	Limits LimitsConfig `koanf:"limits"`

	// Async analysis worker
	Worker WorkerConfig `koanf:"worker"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// DetectionConfig controls the isolation forest and attribution stages.
type DetectionConfig struct {
	// Contamination is the expected share of anomalies in a batch.
	Contamination float64 `koanf:"contamination" validate:"gt=0,lte=0.5"`

	// Trees is the number of isolation trees.
	Trees int `koanf:"trees" validate:"gte=1"`

	// SampleSize is rows drawn per tree; 0 means min(256, rows).
	SampleSize int `koanf:"sample_size" validate:"gte=0"`

	// Seed makes a run reproducible.
	Seed int64 `koanf:"seed"`

	// TopN is the number of reasons kept per flagged transaction.
	TopN int `koanf:"top_n" validate:"gte=1"`

	// BackgroundSize caps the reference sample used for attribution.
	BackgroundSize int `koanf:"background_size" validate:"gte=1"`

	// Workers bounds tree construction and attribution parallelism; 0 means GOMAXPROCS.
	Workers int `koanf:"workers" validate:"gte=0"`
}

// NarrativeConfig holds explanation overrides. Keys are canonical feature names.
type NarrativeConfig struct {
	// Classifiers are CEL expressions over value returning a severity label.
	Classifiers map[string]string `koanf:"classifiers"`

	// Phrases replace the built-in feature descriptions.
	Phrases map[string]string `koanf:"phrases"`
}

// LimitsConfig bounds what a single tenant may submit.
type LimitsConfig struct {
	// MaxUploadBytes caps the request body of POST /analyze.
	MaxUploadBytes int64 `koanf:"max_upload_bytes" validate:"gte=1024"`

	// MaxRows caps the number of rows in one dataset; 0 disables the check.
	MaxRows int `koanf:"max_rows" validate:"gte=0"`

	// RequestsPerSecond and Burst configure the per-tenant upload limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int     `koanf:"burst" validate:"gte=0"`

	// RunsPerHour is the per-tenant run quota; 0 disables it.
	RunsPerHour int64 `koanf:"runs_per_hour" validate:"gte=0"`
}

// WorkerConfig controls the in-process consumer of async analysis jobs.
type WorkerConfig struct {
	// Enabled starts the worker alongside the HTTP server.
	Enabled bool `koanf:"enabled"`

	// Concurrency bounds simultaneous async runs; 0 means GOMAXPROCS.
	Concurrency int `koanf:"concurrency" validate:"gte=0"`

	// Tenants also receive jobs published under their own bus key.
	Tenants []string `koanf:"tenants"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	ExporterType string `koanf:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `koanf:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultDetectionConfig returns the model settings used when nothing is configured.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Contamination:  0.05,
		Trees:          100,
		Seed:           42,
		TopN:           3,
		BackgroundSize: 100,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier:      TierCommunity,
		Detection: DefaultDetectionConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudlens.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			SummaryTTL:   10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Limits: LimitsConfig{
			MaxUploadBytes:    32 << 20,
			MaxRows:           200000,
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Worker: WorkerConfig{
			Enabled:     true,
			Concurrency: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudlens",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "fraudlens",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		SummaryTTL:     10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Limits.RunsPerHour = 100
	cfg.Tracing.Enabled = true
	return cfg
}
