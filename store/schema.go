package store

import (
	"context"
	"fmt"
)

// The worker owns its schema through idempotent statements run at boot.
// Every statement is best-effort: a failure degrades the related feature and
// is logged at WARN, it does not halt startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bus_messages (
		id            UUID PRIMARY KEY,
		source_module TEXT NOT NULL,
		source_stream TEXT,
		created_at    TIMESTAMPTZ NOT NULL,
		raw_json      JSONB NOT NULL,
		tags_json     JSONB,
		from_name     TEXT,
		message       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS bus_messages_created_at_idx
		ON bus_messages (created_at)`,
	`CREATE TABLE IF NOT EXISTS bus_reemit_dedupe (
		message_id      UUID PRIMARY KEY,
		last_emitted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bus_contexts (
		id            UUID PRIMARY KEY,
		owner_module  TEXT NOT NULL,
		source_key    TEXT NOT NULL,
		summary_short TEXT NOT NULL,
		summary_long  TEXT NOT NULL,
		key_points    JSONB,
		version       INTEGER NOT NULL DEFAULT 1,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (owner_module, source_key)
	)`,
	`CREATE TABLE IF NOT EXISTS bus_context_messages (
		context_id UUID NOT NULL,
		message_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (context_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		id           UUID PRIMARY KEY,
		module       TEXT NOT NULL,
		queue        TEXT NOT NULL,
		job          TEXT NOT NULL,
		status       TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_json JSONB,
		started_at   TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ,
		error        TEXT,
		metrics_json JSONB,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS job_states (
		module          TEXT NOT NULL,
		job             TEXT NOT NULL,
		last_run_at     TIMESTAMPTZ,
		last_success_at TIMESTAMPTZ,
		last_error_at   TIMESTAMPTZ,
		last_error      TEXT,
		last_metrics    JSONB,
		PRIMARY KEY (module, job)
	)`,
}

// EnsureSchema creates the worker-owned tables.
func (s *Store) EnsureSchema(ctx context.Context) {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			s.logger.Warn("schema ensure failed", "error", err)
		}
	}
}

// maxANNDim is the largest embedding dimension the cosine ANN index supports.
const maxANNDim = 2000

// EnsureVector aligns the vector extension, the bus_contexts.embedding column
// and the ANN cosine index with the configured embedding dimension. The index
// exists only when 1 <= dim <= maxANNDim; outside that range it is dropped
// and queries fall back to sequential scans.
func (s *Store) EnsureVector(ctx context.Context, dim int) {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		s.logger.Warn("vector extension ensure failed", "error", err)
	}

	addCol := fmt.Sprintf(
		`ALTER TABLE bus_contexts ADD COLUMN IF NOT EXISTS embedding vector(%d)`, dim)
	if _, err := s.pool.Exec(ctx, addCol); err != nil {
		s.logger.Warn("embedding column ensure failed", "dim", dim, "error", err)
	}

	// Retype only on a real dimension change; the USING NULL rewrite drops
	// stored embeddings, which cannot be converted between dimensions.
	var colType string
	err := s.pool.QueryRow(ctx,
		`SELECT format_type(a.atttypid, a.atttypmod)
		   FROM pg_attribute a
		  WHERE a.attrelid = 'bus_contexts'::regclass
		    AND a.attname = 'embedding' AND NOT a.attisdropped`).Scan(&colType)
	switch {
	case err != nil:
		s.logger.Warn("embedding column type lookup failed", "error", err)
	case colType != fmt.Sprintf("vector(%d)", dim):
		alterCol := fmt.Sprintf(
			`ALTER TABLE bus_contexts ALTER COLUMN embedding TYPE vector(%d) USING NULL`, dim)
		if _, err := s.pool.Exec(ctx, alterCol); err != nil {
			s.logger.Warn("embedding column retype failed", "dim", dim, "from", colType, "error", err)
		} else {
			s.logger.Info("embedding column retyped", "from", colType, "dim", dim)
		}
	}

	if dim >= 1 && dim <= maxANNDim {
		idx := `CREATE INDEX IF NOT EXISTS bus_contexts_embedding_cos_idx
			ON bus_contexts USING hnsw (embedding vector_cosine_ops)`
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			s.logger.Warn("embedding index ensure failed", "dim", dim, "error", err)
		}
	} else {
		s.logger.Warn("embedding dimension outside ANN index range, dropping index", "dim", dim)
		if _, err := s.pool.Exec(ctx, `DROP INDEX IF EXISTS bus_contexts_embedding_cos_idx`); err != nil {
			s.logger.Warn("embedding index drop failed", "error", err)
		}
	}
}
