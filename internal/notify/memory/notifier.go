// Package memory keeps published run notifications in memory, for tests and
// for running without a message bus.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Notifier stores published payloads for inspection.
type Notifier struct {
	mu       sync.RWMutex
	messages []Message
	err      error
}

// Message captures one publish call.
type Message struct {
	Topic   string
	Payload any
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes subsequent publishes return err. Pass nil to clear.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Publish records the message and returns a pseudo ID.
func (n *Notifier) Publish(_ context.Context, topic string, payload any) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return "", n.err
	}
	n.messages = append(n.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(n.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (n *Notifier) Messages() []Message {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Message, len(n.messages))
	copy(out, n.messages)
	return out
}
