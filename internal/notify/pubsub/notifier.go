// Package pubsub publishes run notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Notifier publishes JSON payloads to Pub/Sub topics.
type Notifier struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Notifier for client.
func New(client *pubsub.Client) *Notifier {
	return &Notifier{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish marshals the payload to JSON and publishes it to topic, waiting for
// the server-assigned message ID.
func (n *Notifier) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if n.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	result := n.topic(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (n *Notifier) topic(name string) *pubsub.Topic {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.topics[name]
	if !ok {
		t = n.client.Topic(name)
		n.topics[name] = t
	}
	return t
}

// Close flushes pending messages and closes the client.
func (n *Notifier) Close() error {
	n.mu.Lock()
	for _, t := range n.topics {
		t.Stop()
	}
	n.topics = make(map[string]*pubsub.Topic)
	n.mu.Unlock()
	if n.client == nil {
		return nil
	}
	return n.client.Close()
}
