// Package heartbeat is a built-in module: every scheduled run publishes one
// digest message. It exists to prove the dispatch pipeline end to end on a
// fresh install and doubles as the reference for writing module entries.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/wire"
)

// EntryName is the runtime entry manifests reference.
const EntryName = "heartbeat"

func init() {
	module.RegisterEntry(EntryName, New)
}

// New builds the heartbeat runtime. Every job in the manifest gets the same
// beat handler.
func New(m module.Manifest) (*module.Runtime, error) {
	rt := module.NewRuntime()
	for _, j := range m.Jobs {
		rt.Handle(j.Queue, j.Name, beat(m.Name))
	}
	return rt, nil
}

func beat(moduleName string) module.Handler {
	return func(ctx context.Context, ec *module.ExecContext, _ module.JobInput) (*module.Result, error) {
		now := time.Now().UTC()
		msg := wire.NormalizedMessage{
			ID:              uuid.NewString(),
			CreatedAt:       now,
			Source:          wire.MessageSource{Module: moduleName, Stream: "heartbeat"},
			Message:         fmt.Sprintf("heartbeat at %s", now.Format(time.RFC3339)),
			From:            "feedeater",
			IsDigest:        true,
			IsSystemMessage: true,
		}

		data, err := ec.Codec.Marshal(wire.Envelope(msg))
		if err != nil {
			return nil, fmt.Errorf("encode heartbeat: %w", err)
		}
		if err := ec.Bus.Publish(ctx, bus.MessageCreatedSubject(moduleName), data); err != nil {
			return nil, fmt.Errorf("publish heartbeat: %w", err)
		}

		return &module.Result{Metrics: map[string]any{"published": 1}}, nil
	}
}
