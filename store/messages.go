package store

import (
	"context"
	"fmt"
	"time"

	"github.com/feedeater/feedeater/wire"
)

// ArchivedMessage is one replayable row from the bus archive.
type ArchivedMessage struct {
	ID        string
	CreatedAt time.Time
	Raw       []byte
}

// InsertMessage archives one normalized message keyed by the publisher's
// stable id. Re-deliveries are no-ops: at-most-once archive per unique id.
func (s *Store) InsertMessage(ctx context.Context, msg wire.NormalizedMessage, raw []byte) error {
	var tagsJSON any
	if len(msg.Tags) > 0 {
		var codec wire.Codec
		b, err := codec.Marshal(msg.Tags)
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
		tagsJSON = b
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bus_messages
			(id, source_module, source_stream, created_at, raw_json, tags_json, from_name, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID,
		msg.Source.Module,
		nullIfEmpty(msg.Source.Stream),
		msg.CreatedAt,
		raw,
		tagsJSON,
		nullIfEmpty(msg.From),
		nullIfEmpty(msg.Message),
	)
	if err != nil {
		return fmt.Errorf("archive message %s: %w", msg.ID, err)
	}
	return nil
}

// PurgeDedupe deletes re-emit markers older than the lookback window so the
// next replay pass can emit those messages again.
func (s *Store) PurgeDedupe(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM bus_reemit_dedupe WHERE last_emitted_at < $1`, before)
	if err != nil {
		return fmt.Errorf("purge reemit dedupe: %w", err)
	}
	return nil
}

// ListReplayable returns archived messages created at or after since that
// have no dedupe marker, in ascending createdAt order.
func (s *Store) ListReplayable(ctx context.Context, since time.Time) ([]ArchivedMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.created_at, m.raw_json
		  FROM bus_messages m
		  LEFT JOIN bus_reemit_dedupe d ON d.message_id = m.id
		 WHERE m.created_at >= $1 AND d.message_id IS NULL
		 ORDER BY m.created_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("list replayable messages: %w", err)
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.ID, &m.CreatedAt, &m.Raw); err != nil {
			return nil, fmt.Errorf("scan archived message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived messages: %w", err)
	}
	return out, nil
}

// MarkEmitted records that messageID was re-emitted at emittedAt.
func (s *Store) MarkEmitted(ctx context.Context, messageID string, emittedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bus_reemit_dedupe (message_id, last_emitted_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO UPDATE SET last_emitted_at = EXCLUDED.last_emitted_at`,
		messageID, emittedAt)
	if err != nil {
		return fmt.Errorf("mark message %s emitted: %w", messageID, err)
	}
	return nil
}
