// Package wire defines the event types carried on the feedeater bus and the
// canonical JSON codec used to encode them.
package wire

import (
	"fmt"
	"time"
)

// Event type discriminators carried in the "type" field of bus payloads.
const (
	TypeMessageCreated = "MessageCreated"
	TypeContextUpdated = "ContextUpdated"
	TypeJobRun         = "JobRun"
)

// MessageSource identifies the module (and optional stream within it) that
// produced a message.
type MessageSource struct {
	Module string `json:"module"`
	Stream string `json:"stream,omitempty"`
}

// ContextRef points a message at the context record it belongs to.
type ContextRef struct {
	OwnerModule string `json:"ownerModule"`
	SourceKey   string `json:"sourceKey"`
}

// NormalizedMessage is the canonical shape every module publishes on
// feedeater.<module>.messageCreated. The publisher derives a stable UUID for
// ID; the archiver treats it as the primary key. The capitalized Message and
// From keys are part of the wire contract.
type NormalizedMessage struct {
	ID              string        `json:"id"`
	CreatedAt       time.Time     `json:"createdAt"`
	Source          MessageSource `json:"source"`
	Message         string        `json:"Message,omitempty"`
	From            string        `json:"From,omitempty"`
	IsDirectMention bool          `json:"isDirectMention,omitempty"`
	IsDigest        bool          `json:"isDigest,omitempty"`
	IsSystemMessage bool          `json:"isSystemMessage,omitempty"`
	Likes           *int          `json:"likes,omitempty"`
	Tags            []string      `json:"tags,omitempty"`
	ContextRef      *ContextRef   `json:"contextRef,omitempty"`
	FollowMePanel   RawJSON       `json:"followMePanel,omitempty"`
	Realtime        *bool         `json:"realtime,omitempty"`
}

// MessageCreated is the enveloped form of NormalizedMessage. Publishers may
// send either the envelope or the bare message; UnwrapMessage accepts both.
type MessageCreated struct {
	Type    string            `json:"type"`
	Message NormalizedMessage `json:"message"`
}

// ContextPayload is the context body carried by a ContextUpdated event.
type ContextPayload struct {
	OwnerModule  string    `json:"ownerModule"`
	SourceKey    string    `json:"sourceKey,omitempty"`
	SummaryShort string    `json:"summaryShort"`
	SummaryLong  string    `json:"summaryLong"`
	KeyPoints    []string  `json:"keyPoints,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
}

// ContextUpdated announces a new or refreshed per-source context.
type ContextUpdated struct {
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	MessageID string         `json:"messageId,omitempty"`
	Context   ContextPayload `json:"context"`
}

// Trigger classification for job runs.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerEvent    = "event"
)

// SubjectInternal marks job runs enqueued through the in-process queue shim.
const SubjectInternal = "internal"

// Trigger records what caused a job run.
type Trigger struct {
	Type      string `json:"type"`
	Subject   string `json:"subject,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// JobRunEvent is the canonical job-run request published on
// feedeater.jobs.<module>.<queue>.<job>. RunID is assigned by the dispatcher
// when absent.
type JobRunEvent struct {
	Type        string         `json:"type"`
	Module      string         `json:"module"`
	Queue       string         `json:"queue"`
	Job         string         `json:"job"`
	RequestedAt time.Time      `json:"requestedAt"`
	RunID       string         `json:"runId,omitempty"`
	Trigger     Trigger        `json:"trigger"`
	Data        map[string]any `json:"data,omitempty"`
}

// Validate checks the fields the dispatcher cannot default.
func (e *JobRunEvent) Validate() error {
	if e.Type != "" && e.Type != TypeJobRun {
		return fmt.Errorf("unexpected event type %q", e.Type)
	}
	if e.Module == "" || e.Queue == "" || e.Job == "" {
		return fmt.Errorf("job-run event missing module/queue/job")
	}
	switch e.Trigger.Type {
	case TriggerSchedule, TriggerManual, TriggerEvent:
	default:
		return fmt.Errorf("unknown trigger type %q", e.Trigger.Type)
	}
	return nil
}

// LogEvent is the structured log record published on feedeater.worker.log.
type LogEvent struct {
	Level   string         `json:"level"`
	Module  string         `json:"module"`
	Source  string         `json:"source"`
	At      time.Time      `json:"at"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}
