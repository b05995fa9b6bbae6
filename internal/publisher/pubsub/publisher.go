// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/publisher"
)

// Config names the project and topic statuses are published to.
type Config struct {
	ProjectID string
	Topic     string
}

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

var _ publisher.Publisher = (*Publisher)(nil)

// New creates a Publisher for the provided topic publisher. The caller keeps
// ownership of the underlying client.
func New(p *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: p}
}

// Open dials Pub/Sub and returns a Publisher that owns its client.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" || strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	if logger != nil {
		logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
	}
	return &Publisher{client: client, publisher: client.Publisher(cfg.Topic)}, nil
}

// Publish marshals the payload to JSON and publishes it to the topic. The
// message's Topic is informational; the Publisher is bound to one topic.
func (p *Publisher) Publish(ctx context.Context, msg publisher.Message) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	out := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(msg.Attributes))}
	for k, v := range msg.Attributes {
		out.Attributes[k] = v
	}

	result := p.publisher.Publish(ctx, out)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client when owned.
func (p *Publisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
