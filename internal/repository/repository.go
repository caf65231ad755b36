// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a result table and all its rows in one transaction.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, table *domain.ResultTable) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if table == nil || table.RunID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}

	params, _ := json.Marshal(table.Params)
	timings, _ := json.Marshal(table.Timings)
	extras, _ := json.Marshal(table.ExtraColumns)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	runQuery := `
		INSERT INTO runs (
			id, tenant_id, source, created_at, row_count,
			flagged_count, extra_columns, params, timings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(runQuery),
		table.RunID, tenantID, table.Source, table.CreatedAt,
		len(table.Records), table.FlaggedCount,
		string(extras), string(params), string(timings),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO run_records (
			tenant_id, run_id, row_index, transaction_id, anomaly_score,
			is_fraud, fraud_probability, fraud_explanation, record, attribution
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i := range table.Records {
		rec := &table.Records[i]

		raw, err := json.Marshal(rec.TransactionRecord)
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		var attribution sql.NullString
		if rec.Attribution != nil {
			b, err := json.Marshal(rec.Attribution)
			if err != nil {
				return fmt.Errorf("failed to encode attribution for row %d: %w", i, err)
			}
			attribution = sql.NullString{String: string(b), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			tenantID, table.RunID, i, rec.TransactionID, rec.AnomalyScore,
			boolToInt(rec.IsFraud), rec.FraudProbability, rec.FraudExplanation,
			string(raw), attribution,
		); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a full result table with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.ResultTable, error) {
	summary, extras, err := r.getRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT anomaly_score, is_fraud, fraud_probability, fraud_explanation, record, attribution
		FROM run_records
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY row_index
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := &domain.ResultTable{
		RunID:        summary.RunID,
		TenantID:     summary.TenantID,
		Source:       summary.Source,
		CreatedAt:    summary.CreatedAt,
		FlaggedCount: summary.FlaggedCount,
		ExtraColumns: extras,
		Params:       summary.Params,
		Timings:      summary.Timings,
		Records:      make([]domain.ScoredRecord, 0, summary.Rows),
	}

	for rows.Next() {
		var rec domain.ScoredRecord
		var isFraud int
		var explanation, attribution sql.NullString
		var raw string

		if err := rows.Scan(
			&rec.AnomalyScore, &isFraud, &rec.FraudProbability,
			&explanation, &raw, &attribution,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(raw), &rec.TransactionRecord); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		rec.IsFraud = isFraud == 1
		rec.FraudExplanation = explanation.String
		if attribution.Valid && attribution.String != "" {
			rec.Attribution = &domain.Attribution{}
			if err := json.Unmarshal([]byte(attribution.String), rec.Attribution); err != nil {
				return nil, fmt.Errorf("failed to parse attribution: %w", err)
			}
		}
		table.Records = append(table.Records, rec)
	}

	return table, rows.Err()
}

// GetRunSummary retrieves run metadata without rows.
func (r *SQLRepository) GetRunSummary(ctx context.Context, tenantID string, runID string) (*domain.RunSummary, error) {
	summary, _, err := r.getRun(ctx, tenantID, runID)
	return summary, err
}

func (r *SQLRepository) getRun(ctx context.Context, tenantID string, runID string) (*domain.RunSummary, []string, error) {
	if tenantID == "" {
		return nil, nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, source, created_at, row_count, flagged_count, extra_columns, params, timings
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	s, extras, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return s, extras, nil
}

// ListRuns retrieves the most recent runs for a tenant, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string, limit int) ([]*domain.RunSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, tenant_id, source, created_at, row_count, flagged_count, extra_columns, params, timings
		FROM runs
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunSummary
	for rows.Next() {
		s, _, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, s)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run and its rows.
func (r *SQLRepository) DeleteRun(ctx context.Context, tenantID string, runID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM runs WHERE tenant_id = ? AND id = ?`), tenantID, runID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM run_records WHERE tenant_id = ? AND run_id = ?`), tenantID, runID); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveRunFailure records why an asynchronous run did not complete.
func (r *SQLRepository) SaveRunFailure(ctx context.Context, tenantID string, failure *domain.RunFailure) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO run_failures (id, tenant_id, kind, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		failure.RunID, tenantID, failure.Kind, failure.Message, failure.CreatedAt,
	)
	return err
}

// GetRunFailure retrieves a recorded failure.
func (r *SQLRepository) GetRunFailure(ctx context.Context, tenantID string, runID string) (*domain.RunFailure, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, kind, message, created_at
		FROM run_failures
		WHERE tenant_id = ? AND id = ?
	`

	var f domain.RunFailure
	var kind sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&f.RunID, &f.TenantID, &kind, &f.Message, &f.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Kind = kind.String
	return &f, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunSummary, []string, error) {
	var s domain.RunSummary
	var source, extras sql.NullString
	var params, timings string

	if err := row.Scan(
		&s.RunID, &s.TenantID, &source, &s.CreatedAt,
		&s.Rows, &s.FlaggedCount, &extras, &params, &timings,
	); err != nil {
		return nil, nil, err
	}

	s.Source = source.String
	if err := json.Unmarshal([]byte(params), &s.Params); err != nil {
		return nil, nil, fmt.Errorf("failed to parse params for run %s: %w", s.RunID, err)
	}
	if err := json.Unmarshal([]byte(timings), &s.Timings); err != nil {
		return nil, nil, fmt.Errorf("failed to parse timings for run %s: %w", s.RunID, err)
	}

	var cols []string
	if extras.Valid && extras.String != "" {
		json.Unmarshal([]byte(extras.String), &cols)
	}
	return &s, cols, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
