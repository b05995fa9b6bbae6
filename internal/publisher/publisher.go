// Package publisher announces reconciled statuses on a message bus.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

// Message is one event destined for a topic.
type Message struct {
	Topic      string
	Payload    any
	Attributes map[string]string
}

// Publisher delivers messages and returns the broker-assigned ID.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (string, error)
}

// StatusEvent is the payload published for each status record.
type StatusEvent struct {
	RunID string `json:"run_id"`
	crawler.StatusRecord
}

// StatusSink publishes one message per status record. It implements
// crawler.StatusSink.
type StatusSink struct {
	pub   Publisher
	topic string
}

var _ crawler.StatusSink = (*StatusSink)(nil)

// NewStatusSink wires a Publisher to topic.
func NewStatusSink(pub Publisher, topic string) (*StatusSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	return &StatusSink{pub: pub, topic: topic}, nil
}

// WriteStatuses publishes every record, continuing past failures, and
// returns the joined publish errors.
func (s *StatusSink) WriteStatuses(ctx context.Context, runID string, records []crawler.StatusRecord) error {
	var errs []error
	for _, rec := range records {
		msg := Message{
			Topic:   s.topic,
			Payload: StatusEvent{RunID: runID, StatusRecord: rec},
			Attributes: map[string]string{
				"run_id": runID,
				"status": string(rec.Status),
			},
		}
		if _, err := s.pub.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish status for %s: %w", rec.URL, err))
		}
	}
	return errors.Join(errs...)
}
