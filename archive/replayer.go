package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/store"
	"github.com/feedeater/feedeater/wire"
)

// ReplayStore reads the archive and tracks re-emissions.
type ReplayStore interface {
	PurgeDedupe(ctx context.Context, before time.Time) error
	ListReplayable(ctx context.Context, since time.Time) ([]store.ArchivedMessage, error)
	MarkEmitted(ctx context.Context, messageID string, emittedAt time.Time) error
}

// Replayer re-emits recently archived messages at startup so late subscribers
// see a bounded history window. The dedupe table makes each message re-emit
// at most once per window; running replay at every startup is safe.
type Replayer struct {
	store  ReplayStore
	pub    bus.Publisher
	codec  wire.Codec
	logger *slog.Logger
	window time.Duration
	now    func() time.Time
}

// NewReplayer creates a replayer over the given lookback window.
func NewReplayer(rs ReplayStore, pub bus.Publisher, window time.Duration, logger *slog.Logger) *Replayer {
	return &Replayer{store: rs, pub: pub, logger: logger, window: window, now: time.Now}
}

// Run performs one replay pass: purge expired dedupe markers, then re-emit
// every archived message inside the window that has no marker, oldest first.
// Re-emitted envelopes carry realtime=false so consumers can tell history
// from live traffic.
func (r *Replayer) Run(ctx context.Context) error {
	now := r.now().UTC()
	cutoff := now.Add(-r.window)

	if err := r.store.PurgeDedupe(ctx, cutoff); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	messages, err := r.store.ListReplayable(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	emitted := 0
	for _, m := range messages {
		var msg wire.NormalizedMessage
		if err := r.codec.Unmarshal(m.Raw, &msg); err != nil {
			r.logger.Warn("replay: undecodable archived message", "id", m.ID, "error", err)
			continue
		}

		realtime := false
		msg.Realtime = &realtime

		data, err := r.codec.Marshal(wire.Envelope(msg))
		if err != nil {
			r.logger.Warn("replay: encode envelope", "id", m.ID, "error", err)
			continue
		}
		subject := bus.MessageCreatedSubject(msg.Source.Module)
		if err := r.pub.Publish(ctx, subject, data); err != nil {
			r.logger.Warn("replay: publish failed", "id", m.ID, "subject", subject, "error", err)
			continue
		}

		if err := r.store.MarkEmitted(ctx, m.ID, r.now().UTC()); err != nil {
			r.logger.Warn("replay: mark emitted failed", "id", m.ID, "error", err)
		}
		emitted++
	}

	r.logger.Info("replay complete",
		"window", r.window, "candidates", len(messages), "emitted", emitted)
	return nil
}
