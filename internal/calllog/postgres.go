package calllog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists call records in PostgreSQL. All operations are safe
// for concurrent use; the pool handles connection management.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, verifies the connection,
// and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// schema is idempotent; Migrate may run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS call_records (
	id              BIGSERIAL PRIMARY KEY,
	call_id         UUID        NOT NULL,
	call_context    TEXT        NOT NULL DEFAULT '',
	provider        TEXT        NOT NULL,
	profile         TEXT        NOT NULL,
	profile_source  TEXT        NOT NULL,
	wire            TEXT        NOT NULL,
	provider_input  TEXT        NOT NULL,
	provider_output TEXT        NOT NULL,
	remediation     TEXT        NOT NULL DEFAULT '',
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ NOT NULL,
	played_ms       BIGINT      NOT NULL DEFAULT 0,
	underflows      BIGINT      NOT NULL DEFAULT 0,
	gate_closures   BIGINT      NOT NULL DEFAULT 0,
	drift_percent   DOUBLE PRECISION NOT NULL DEFAULT 0,
	end_reason      TEXT        NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS call_records_started_at_idx
	ON call_records (started_at DESC);
`

// Migrate ensures the call_records table exists.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("calllog: apply schema: %w", err)
	}
	return nil
}

// Insert implements [Store].
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_records (
			call_id, call_context, provider, profile, profile_source,
			wire, provider_input, provider_output, remediation,
			started_at, ended_at, played_ms, underflows, gate_closures,
			drift_percent, end_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.CallID, rec.Context, rec.Provider, rec.Profile, rec.ProfileSource,
		rec.Wire, rec.ProviderInput, rec.ProviderOutput, rec.Remediation,
		rec.StartedAt, rec.EndedAt, rec.PlayedMs, rec.Underflows, rec.GateClosures,
		rec.DriftPercent, rec.EndReason,
	)
	if err != nil {
		return fmt.Errorf("calllog: insert record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT call_id, call_context, provider, profile, profile_source,
		       wire, provider_input, provider_output, remediation,
		       started_at, ended_at, played_ms, underflows, gate_closures,
		       drift_percent, end_reason
		FROM call_records
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("calllog: query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.CallID, &rec.Context, &rec.Provider, &rec.Profile, &rec.ProfileSource,
			&rec.Wire, &rec.ProviderInput, &rec.ProviderOutput, &rec.Remediation,
			&rec.StartedAt, &rec.EndedAt, &rec.PlayedMs, &rec.Underflows, &rec.GateClosures,
			&rec.DriftPercent, &rec.EndReason,
		); err != nil {
			return nil, fmt.Errorf("calllog: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calllog: iterate records: %w", err)
	}
	return out, nil
}

// Healthy implements [Store].
func (s *PostgresStore) Healthy(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() {
	s.pool.Close()
}
