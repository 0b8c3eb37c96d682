// Package events carries the platform's event contract: the JSON envelope
// wrapped around every bus message, the topic names, the Kafka publisher
// keyed by trace ID, and the consumer framework with in-process dedup.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topic names. Messages are keyed by trace ID so everything belonging to one
// user action lands on one partition, in order.
const (
	TopicPaymentInitiated      = "payment.initiated"
	TopicPaymentCompleted      = "payment.completed"
	TopicPaymentFailed         = "payment.failed"
	TopicPaymentFraudBlocked   = "payment.fraud_blocked"
	TopicFraudCheckRequested   = "fraud.check.requested"
	TopicFraudCheckResult      = "fraud.check.result"
	TopicWebhookDeliveryFailed = "webhook.delivery.failed"
)

// SchemaVersion is stamped on every envelope.
const SchemaVersion = "1.0"

// Envelope is the outer object wrapping every bus message. Consumers
// deduplicate on EventID.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	TraceID   string          `json:"traceId"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps payload for eventType, minting a fresh event ID.
func NewEnvelope(eventType, traceID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: encode payload for %s: %w", eventType, err)
	}
	return &Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Version:   SchemaVersion,
		TraceID:   traceID,
		Data:      data,
	}, nil
}

// ParseEnvelope decodes a wire message.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("events: decode envelope: %w", err)
	}
	if env.EventID == "" || env.EventType == "" {
		return nil, fmt.Errorf("events: envelope missing event id or type")
	}
	return &env, nil
}
