// Package dispatch turns job-run events on the bus into handler executions
// with a persisted lifecycle, and feeds the bus from the other side: cron
// schedules, external-event trigger bridges, and the in-process queue shim
// all emit the same canonical job-run event.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/wire"
)

// emitJobRun publishes ev on its canonical subject, stamping the event type
// and defaulting requestedAt.
func emitJobRun(ctx context.Context, pub bus.Publisher, codec wire.Codec, ev wire.JobRunEvent) error {
	ev.Type = wire.TypeJobRun
	if ev.RequestedAt.IsZero() {
		ev.RequestedAt = time.Now().UTC()
	}

	data, err := codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode job-run event %s/%s/%s: %w", ev.Module, ev.Queue, ev.Job, err)
	}

	subject := bus.JobRunSubject(ev.Module, ev.Queue, ev.Job)
	if err := pub.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish job-run event on %s: %w", subject, err)
	}
	return nil
}
