// Package domain defines the core interfaces and types for FraudLens.
package domain

import (
	"context"
	"time"
)

// Repository persists finished result tables for presentation layers.
// The fitted model is never stored. All methods require tenantID for
// strict multi-tenancy isolation.
type Repository interface {
	// Run operations
	SaveRun(ctx context.Context, tenantID string, table *ResultTable) error
	GetRun(ctx context.Context, tenantID string, runID string) (*ResultTable, error)
	GetRunSummary(ctx context.Context, tenantID string, runID string) (*RunSummary, error)
	ListRuns(ctx context.Context, tenantID string, limit int) ([]*RunSummary, error)
	DeleteRun(ctx context.Context, tenantID string, runID string) error

	// Failed async runs
	SaveRunFailure(ctx context.Context, tenantID string, failure *RunFailure) error
	GetRunFailure(ctx context.Context, tenantID string, runID string) (*RunFailure, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RunFailure records why an asynchronous run produced no table.
type RunFailure struct {
	RunID     string    `json:"runId"`
	TenantID  string    `json:"tenantId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
