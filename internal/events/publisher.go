// Package events publishes completed crawl units to Kafka
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/masahif/depthcrawl/internal/crawler"
)

// PageEvent is the message payload for one completed unit
type PageEvent struct {
	RunID string             `json:"run_id"`
	Page  crawler.PageRecord `json:"page"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher wraps a Kafka writer for publishing page events.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a Kafka publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: false,
		},
	}
}

// NewPublisherWithWriter builds a publisher using a custom writer (tests).
func NewPublisherWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Close flushes and shuts down the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// PublishPage sends one event keyed by run id, so a run's events share a partition.
func (p *Publisher) PublishPage(ctx context.Context, runID string, page crawler.PageRecord) error {
	payload, err := json.Marshal(PageEvent{RunID: runID, Page: page})
	if err != nil {
		return fmt.Errorf("failed to encode page event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(runID),
		Value: payload,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish page event for %s: %w", page.URL, err)
	}
	return nil
}
