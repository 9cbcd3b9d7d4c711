// Package publisher emits stage-transition events to Google Cloud Pub/Sub.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSub implements analysis.Publisher against a Pub/Sub project. Topics are
// resolved lazily and cached.
type PubSub struct {
	client *pubsub.Client
	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	logger *zap.Logger
}

// NewPubSub creates a Pub/Sub publisher. It authenticates using Application
// Default Credentials.
func NewPubSub(ctx context.Context, projectID string, logger *zap.Logger) (*PubSub, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSub{
		client: client,
		topics: make(map[string]*pubsub.Topic),
		logger: logger,
	}, nil
}

// Publish marshals payload as JSON and sends it to the topic, waiting for the
// server acknowledgment so callers observe delivery failures.
func (p *PubSub) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	t, ok := p.topics[topic]
	if !ok {
		t = p.client.Topic(topic)
		p.topics[topic] = t
	}
	p.mu.Unlock()
	result := t.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("message_id", id),
	)
	return id, nil
}

// Close stops the cached topic publishers and the underlying client.
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
