// Package pubsub publishes crawl results to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/chain"
)

// Message attribute keys.
const (
	AttrRunID      = "run_id"
	AttrIdentifier = "identifier"
	AttrHit        = "hit"
)

// Publisher wraps a Pub/Sub topic handle.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	runID  string
	logger *zap.Logger
}

// Dial creates a client with application default credentials and verifies the topic.
func Dial(ctx context.Context, projectID, topicID, runID string, logger *zap.Logger) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p, err := New(ctx, client, topicID, runID, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after topic lookup", zap.Error(closeErr))
		}
		return nil, err
	}
	return p, nil
}

// New binds a Publisher to an existing topic of client. The Publisher owns client.
func New(ctx context.Context, client *pubsub.Client, topicID, runID string, logger *zap.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &Publisher{
		client: client,
		topic:  topic,
		runID:  runID,
		logger: logger.Named("pubsub"),
	}, nil
}

// Publish marshals the row to JSON and waits for the server to accept it.
func (p *Publisher) Publish(ctx context.Context, row chain.CrawlResult) (string, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("marshal row: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrHit: fmt.Sprint(row.Hit),
		},
	}
	if p.runID != "" {
		msg.Attributes[AttrRunID] = p.runID
	}
	if id := row.IdentifierValue(); id != "" {
		msg.Attributes[AttrIdentifier] = id
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", row.InitialURL, err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
