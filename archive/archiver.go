// Package archive is the durable side of the message bus: it archives every
// published message, applies context updates as versioned upserts, and
// re-emits recent history at startup with per-message deduplication.
package archive

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/wire"
)

// MessageStore persists archived messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg wire.NormalizedMessage, raw []byte) error
}

// Archiver subscribes to every module's messageCreated subject and persists
// each message exactly once per unique id. Persist failures drop the message
// with an ERROR log; replay on a later startup backfills subscribers, not
// the archive.
type Archiver struct {
	bus    bus.Subscriber
	store  MessageStore
	codec  wire.Codec
	logger *slog.Logger

	sub bus.Subscription

	archived atomic.Int64
	dropped  atomic.Int64
}

// NewArchiver creates an archiver over the given bus and store.
func NewArchiver(b bus.Subscriber, store MessageStore, logger *slog.Logger) *Archiver {
	return &Archiver{bus: b, store: store, logger: logger}
}

// Start subscribes to the messageCreated wildcard. ctx bounds the lifetime
// of persist calls for messages delivered after cancellation.
func (a *Archiver) Start(ctx context.Context) error {
	sub, err := a.bus.Subscribe(bus.SubjectMessagesWildcard, func(subject string, data []byte) {
		a.handle(ctx, subject, data)
	})
	if err != nil {
		return err
	}
	a.sub = sub
	a.logger.Info("bus archiver started", "subject", bus.SubjectMessagesWildcard)
	return nil
}

func (a *Archiver) handle(ctx context.Context, subject string, data []byte) {
	msg, err := wire.UnwrapMessage(data)
	if err != nil {
		a.dropped.Add(1)
		a.logger.Error("archiver: undecodable message", "subject", subject, "error", err)
		return
	}

	// Store the canonical bare form so replay decodes one shape regardless
	// of whether the publisher sent an envelope.
	raw, err := a.codec.Marshal(msg)
	if err != nil {
		a.dropped.Add(1)
		a.logger.Error("archiver: re-encode message", "id", msg.ID, "error", err)
		return
	}

	if err := a.store.InsertMessage(ctx, msg, raw); err != nil {
		a.dropped.Add(1)
		a.logger.Error("archiver: persist failed", "id", msg.ID, "module", msg.Source.Module, "error", err)
		return
	}
	a.archived.Add(1)
}

// Stop cancels the subscription.
func (a *Archiver) Stop() {
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}
}

// Archived returns the number of messages persisted since start.
func (a *Archiver) Archived() int64 { return a.archived.Load() }

// Dropped returns the number of messages dropped since start.
func (a *Archiver) Dropped() int64 { return a.dropped.Load() }
