// Package events carries domain events emitted by the processing pipeline.
package events

import (
	"time"

	"github.com/arganhr/mailroom/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventConversationUpdated EventType = "conversation_updated"
	EventAckSent             EventType = "ack_sent"
	EventProcessingFailed    EventType = "processing_failed"
	EventDuplicateSuppressed EventType = "duplicate_suppressed"
	EventLoopSuppressed      EventType = "loop_suppressed"
)

// Event represents a domain event emitted by the pipeline.
type Event struct {
	ID            string      `json:"id"`
	Type          EventType   `json:"type"`
	TicketID      string      `json:"ticket_id,omitempty"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       interface{} `json:"payload,omitempty"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Subject  string                `json:"subject"`
	FromAddr string                `json:"from_addr"`
	Priority domain.TicketPriority `json:"priority"`
}

// ConversationUpdatedPayload payload.
type ConversationUpdatedPayload struct {
	EntryCount int                 `json:"entry_count"`
	NewStatus  domain.TicketStatus `json:"new_status"`
}

// AckSentPayload payload.
type AckSentPayload struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
}

// ProcessingFailedPayload payload.
type ProcessingFailedPayload struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}
