package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/feedeater/feedeater/wire"
)

// ContextUpsert is the input to UpsertContext. Embedding must already be
// gated by the caller: nil means persist NULL.
type ContextUpsert struct {
	OwnerModule  string
	SourceKey    string
	SummaryShort string
	SummaryLong  string
	KeyPoints    []string
	Embedding    []float32
	UpdatedAt    time.Time
}

// UpsertContext inserts or version-bumps the (ownerModule, sourceKey) context
// row and returns its id and the resulting version. Concurrent writers to the
// same key linearize on the row lock taken by ON CONFLICT DO UPDATE.
func (s *Store) UpsertContext(ctx context.Context, up ContextUpsert) (string, int, error) {
	var keyPoints any
	if len(up.KeyPoints) > 0 {
		var codec wire.Codec
		b, err := codec.Marshal(up.KeyPoints)
		if err != nil {
			return "", 0, fmt.Errorf("encode key points: %w", err)
		}
		keyPoints = b
	}

	var embedding any
	if up.Embedding != nil {
		embedding = pgvector.NewVector(up.Embedding)
	}

	var id string
	var version int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bus_contexts
			(id, owner_module, source_key, summary_short, summary_long,
			 key_points, embedding, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)
		ON CONFLICT (owner_module, source_key) DO UPDATE SET
			summary_short = EXCLUDED.summary_short,
			summary_long  = EXCLUDED.summary_long,
			key_points    = EXCLUDED.key_points,
			embedding     = EXCLUDED.embedding,
			version       = bus_contexts.version + 1,
			updated_at    = EXCLUDED.updated_at
		RETURNING id, version`,
		uuid.NewString(),
		up.OwnerModule,
		up.SourceKey,
		up.SummaryShort,
		up.SummaryLong,
		keyPoints,
		embedding,
		up.UpdatedAt,
	).Scan(&id, &version)
	if err != nil {
		return "", 0, fmt.Errorf("upsert context %s/%s: %w", up.OwnerModule, up.SourceKey, err)
	}
	return id, version, nil
}

// LinkContextMessage records that messageID contributed to contextID. The
// link is created at most once per pair.
func (s *Store) LinkContextMessage(ctx context.Context, contextID, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bus_context_messages (context_id, message_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		contextID, messageID)
	if err != nil {
		return fmt.Errorf("link context %s to message %s: %w", contextID, messageID, err)
	}
	return nil
}
