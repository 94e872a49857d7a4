package bus

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Bus with NATS subject-pattern semantics. Delivery
// is synchronous in Publish, which keeps tests deterministic. It backs unit
// tests and any embedded usage that does not need a broker.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*memorySub
}

type memorySub struct {
	id      int
	pattern string
	handler Handler
	bus     *Memory
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]*memorySub)}
}

// Publish delivers data to every subscription whose pattern matches subject.
func (m *Memory) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	matched := make([]*memorySub, 0, len(m.subs))
	for _, s := range m.subs {
		if SubjectMatches(s.pattern, subject) {
			matched = append(matched, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range matched {
		s.handler(subject, data)
	}
	return nil
}

// Subscribe attaches handler to a subject pattern.
func (m *Memory) Subscribe(pattern string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	s := &memorySub{id: m.nextID, pattern: pattern, handler: handler, bus: m}
	m.subs[s.id] = s
	return s, nil
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}

// SubjectMatches reports whether a concrete subject matches a NATS subject
// pattern: "*" matches exactly one token, ">" matches one or more trailing
// tokens.
func SubjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
