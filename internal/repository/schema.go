package repository

// Schema definitions for the FraudLens run store.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    source TEXT,
    created_at TIMESTAMP NOT NULL,
    row_count INTEGER NOT NULL,
    flagged_count INTEGER NOT NULL,
    extra_columns TEXT,
    params TEXT NOT NULL,
    timings TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(tenant_id, created_at);
`

// schemaRunRecords stores one row per scored transaction.
// The input record and attribution are kept as JSON documents.
const schemaRunRecords = `
CREATE TABLE IF NOT EXISTS run_records (
    tenant_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    row_index INTEGER NOT NULL,
    transaction_id TEXT NOT NULL,
    anomaly_score REAL NOT NULL,
    is_fraud INTEGER NOT NULL,
    fraud_probability REAL NOT NULL,
    fraud_explanation TEXT,
    record TEXT NOT NULL,
    attribution TEXT,
    PRIMARY KEY (tenant_id, run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_run_records_tx ON run_records(tenant_id, run_id, transaction_id);
CREATE INDEX IF NOT EXISTS idx_run_records_fraud ON run_records(tenant_id, run_id, is_fraud);
`

const schemaRunFailures = `
CREATE TABLE IF NOT EXISTS run_failures (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    kind TEXT,
    message TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaRunRecords,
		schemaRunFailures,
	}
}
