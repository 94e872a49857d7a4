package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedeater/feedeater/bus"
	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/wire"
)

// Triggers bridges external bus subjects to job runs. Each manifest job with
// a triggeredBy subject gets a subscription that republishes deliveries as
// canonical job-run events with an event trigger. When the payload parses as
// a message (enveloped or bare) its id rides along so the handler can
// correlate.
type Triggers struct {
	logger *slog.Logger
	subs   []bus.Subscription
}

// StartTriggers binds every triggeredBy subject across the given modules.
func StartTriggers(ctx context.Context, b bus.Bus, modules []*module.Module, logger *slog.Logger) (*Triggers, error) {
	var codec wire.Codec
	t := &Triggers{logger: logger}

	for _, m := range modules {
		moduleName := m.Manifest.Name
		for _, j := range m.Manifest.Jobs {
			if j.TriggeredBy == "" {
				continue
			}

			job := j
			sub, err := b.Subscribe(j.TriggeredBy, func(subject string, data []byte) {
				messageID := ""
				if msg, err := wire.UnwrapMessage(data); err == nil {
					messageID = msg.ID
				}

				ev := wire.JobRunEvent{
					Module: moduleName,
					Queue:  job.Queue,
					Job:    job.Name,
					Trigger: wire.Trigger{
						Type:      wire.TriggerEvent,
						Subject:   subject,
						MessageID: messageID,
					},
					Data: map[string]any{
						"trigger": map[string]any{
							"subject":   subject,
							"messageId": messageID,
						},
					},
				}
				if err := emitJobRun(ctx, b, codec, ev); err != nil {
					logger.Error("trigger bridge publish failed",
						"module", moduleName, "job", job.Name, "subject", subject, "error", err)
				}
			})
			if err != nil {
				t.Stop()
				return nil, fmt.Errorf("module %s job %s: subscribe %s: %w",
					moduleName, j.Name, j.TriggeredBy, err)
			}
			t.subs = append(t.subs, sub)

			logger.Info("trigger bound",
				"module", moduleName, "job", j.Name, "subject", j.TriggeredBy)
		}
	}
	return t, nil
}

// Stop cancels every bridge subscription.
func (t *Triggers) Stop() {
	for _, s := range t.subs {
		_ = s.Unsubscribe()
	}
}
