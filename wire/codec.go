package wire

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// RawJSON is an opaque, pre-encoded JSON fragment.
type RawJSON = json.RawMessage

// Codec is the canonical JSON encoder shared by the worker and module
// handlers. It is a value type; the zero value is ready to use.
type Codec struct{}

// Marshal encodes v as canonical JSON.
func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes canonical JSON into v.
func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// UnwrapMessage decodes a messageCreated payload that is either a bare
// NormalizedMessage or a {type:"MessageCreated", message:{…}} envelope.
func UnwrapMessage(data []byte) (NormalizedMessage, error) {
	var env MessageCreated
	if err := json.Unmarshal(data, &env); err == nil && env.Type == TypeMessageCreated {
		if env.Message.ID == "" {
			return NormalizedMessage{}, fmt.Errorf("messageCreated envelope has no message id")
		}
		return env.Message, nil
	}

	var msg NormalizedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return NormalizedMessage{}, fmt.Errorf("decode normalized message: %w", err)
	}
	if msg.ID == "" {
		return NormalizedMessage{}, fmt.Errorf("normalized message has no id")
	}
	return msg, nil
}

// Envelope wraps a message for publishing in the enveloped form.
func Envelope(msg NormalizedMessage) MessageCreated {
	return MessageCreated{Type: TypeMessageCreated, Message: msg}
}
