// Package queue defines the message envelope contract shared by the poller,
// the ingestor, and downstream enrichment consumers. Envelopes are immutable
// once sent; a state change is always a new message with a new status.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope statuses form a forward-only progression. A producer never
// rewrites a sent message.
const (
	StatusEnqueued  = "enqueued"  // feed-level: URL awaiting ingestion
	StatusRetrieved = "retrieved" // entry-level: entries persisted, awaiting enrichment
)

// Envelope wraps every queue message with its processing state.
type Envelope struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	ETag      *string `json:"eTag"`
}

// NewEnvelope stamps an envelope with the current UTC time.
func NewEnvelope(status string) Envelope {
	return Envelope{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Message is the wire shape of both feed-level and entry-level payloads.
// Feed carries a raw URL at the feed stage and a feed row key at the entry
// stage; Entries is present only on entry-level messages.
type Message struct {
	Envelope Envelope    `json:"envelope"`
	Feed     string      `json:"feed"`
	Entries  [][2]string `json:"entries,omitempty"`
}

// FeedMessage builds an "enqueued" message carrying a feed URL for the
// ingestion stage.
func FeedMessage(url string) Message {
	return Message{
		Envelope: NewEnvelope(StatusEnqueued),
		Feed:     url,
	}
}

// EntryBatch builds a "retrieved" message carrying a feed row key and the
// identity pairs of its freshly persisted entries.
func EntryBatch(feedKey string, entries [][2]string) Message {
	return Message{
		Envelope: NewEnvelope(StatusRetrieved),
		Feed:     feedKey,
		Entries:  entries,
	}
}

// Encode serializes a message for the queue.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a queue payload and checks the envelope is well formed.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decode queue message: %w", err)
	}
	if m.Envelope.Status == "" {
		return Message{}, fmt.Errorf("decode queue message: missing envelope status")
	}
	return m, nil
}

// Sender is the minimal producer contract.
type Sender interface {
	Send(ctx context.Context, queue string, payload []byte) error
}

// Publish encodes and sends a message to the named queue.
func Publish(ctx context.Context, s Sender, name string, m Message) error {
	payload, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", name, err)
	}
	if err := s.Send(ctx, name, payload); err != nil {
		return fmt.Errorf("send to %s: %w", name, err)
	}
	return nil
}
