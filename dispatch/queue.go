package dispatch

import (
	"context"

	"github.com/feedeater/feedeater/module"
	"github.com/feedeater/feedeater/wire"
)

// busQueue is the in-process queue shim handed to handlers. Add publishes a
// canonical job-run event with an internal event trigger, so enqueued jobs go
// through the same dispatch path as everything else.
type busQueue struct {
	dispatcher *Dispatcher
	module     string
	queue      string
}

func (d *Dispatcher) queueFor(moduleName, queueName string) module.Queue {
	return busQueue{dispatcher: d, module: moduleName, queue: queueName}
}

func (q busQueue) Add(ctx context.Context, jobName string, data map[string]any) error {
	return emitJobRun(ctx, q.dispatcher.bus, q.dispatcher.codec, wire.JobRunEvent{
		Module: q.module,
		Queue:  q.queue,
		Job:    jobName,
		Trigger: wire.Trigger{
			Type:    wire.TriggerEvent,
			Subject: wire.SubjectInternal,
		},
		Data: data,
	})
}
