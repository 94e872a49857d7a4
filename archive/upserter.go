package archive

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/store"
	"github.com/feedeater/feedeater/wire"
)

// SummaryShortLimit is the persisted length cap for summaryShort, in runes.
const SummaryShortLimit = 128

// ContextStore persists context projections.
type ContextStore interface {
	UpsertContext(ctx context.Context, up store.ContextUpsert) (id string, version int, err error)
	LinkContextMessage(ctx context.Context, contextID, messageID string) error
}

// Upserter applies ContextUpdated events as versioned upserts. The embedding
// dimension is fixed at boot; vectors of any other length persist as NULL.
type Upserter struct {
	bus      bus.Subscriber
	store    ContextStore
	embedDim int
	codec    wire.Codec
	logger   *slog.Logger
	now      func() time.Time

	sub bus.Subscription

	applied atomic.Int64
	dropped atomic.Int64
}

// NewUpserter creates an upserter that accepts embeddings of length embedDim.
func NewUpserter(b bus.Subscriber, cs ContextStore, embedDim int, logger *slog.Logger) *Upserter {
	return &Upserter{bus: b, store: cs, embedDim: embedDim, logger: logger, now: time.Now}
}

// Start subscribes to the contextUpdated wildcard.
func (u *Upserter) Start(ctx context.Context) error {
	sub, err := u.bus.Subscribe(bus.SubjectContextsWildcard, func(subject string, data []byte) {
		u.handle(ctx, subject, data)
	})
	if err != nil {
		return err
	}
	u.sub = sub
	u.logger.Info("context upserter started",
		"subject", bus.SubjectContextsWildcard, "embed_dim", u.embedDim)
	return nil
}

func (u *Upserter) handle(ctx context.Context, subject string, data []byte) {
	var ev wire.ContextUpdated
	if err := u.codec.Unmarshal(data, &ev); err != nil {
		u.dropped.Add(1)
		u.logger.Warn("context upserter: undecodable event", "subject", subject, "error", err)
		return
	}
	if err := u.apply(ctx, ev); err != nil {
		u.dropped.Add(1)
		u.logger.Warn("context upserter: apply failed",
			"owner", ev.Context.OwnerModule, "error", err)
		return
	}
	u.applied.Add(1)
}

func (u *Upserter) apply(ctx context.Context, ev wire.ContextUpdated) error {
	sourceKey := ev.Context.SourceKey
	if sourceKey == "" {
		sourceKey = ev.MessageID
	}
	if sourceKey == "" {
		sourceKey = uuid.NewString()
	}

	var embedding []float32
	if n := len(ev.Context.Embedding); n > 0 && n == u.embedDim {
		embedding = ev.Context.Embedding
	}

	id, version, err := u.store.UpsertContext(ctx, store.ContextUpsert{
		OwnerModule:  ev.Context.OwnerModule,
		SourceKey:    sourceKey,
		SummaryShort: truncateRunes(ev.Context.SummaryShort, SummaryShortLimit),
		SummaryLong:  ev.Context.SummaryLong,
		KeyPoints:    ev.Context.KeyPoints,
		Embedding:    embedding,
		UpdatedAt:    u.now().UTC(),
	})
	if err != nil {
		return err
	}

	u.logger.Debug("context applied",
		"owner", ev.Context.OwnerModule, "source_key", sourceKey, "version", version)

	if ev.MessageID != "" {
		if err := u.store.LinkContextMessage(ctx, id, ev.MessageID); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels the subscription.
func (u *Upserter) Stop() {
	if u.sub != nil {
		_ = u.sub.Unsubscribe()
	}
}

// Applied returns the number of events applied since start.
func (u *Upserter) Applied() int64 { return u.applied.Load() }

// Dropped returns the number of events dropped since start.
func (u *Upserter) Dropped() int64 { return u.dropped.Load() }

// truncateRunes shortens s to at most n runes without splitting a multibyte
// character.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
