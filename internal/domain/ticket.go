package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew            TicketStatus = "new"
	TicketStatusAwaitingClient TicketStatus = "awaiting_client"
	TicketStatusAwaitingAgent  TicketStatus = "awaiting_agent"
	TicketStatusResolved       TicketStatus = "resolved"
	TicketStatusClosed         TicketStatus = "closed"
)

// TicketPriority enumerates acknowledgment response tiers.
type TicketPriority string

const (
	TicketPriorityNormal TicketPriority = "Normal"
	TicketPriorityHigh   TicketPriority = "High"
	TicketPriorityUrgent TicketPriority = "Urgent"
)

// TicketRecord is the persistent record for a support thread, keyed by its
// ticket identifier. At most one record exists per ticket identifier.
type TicketRecord struct {
	ID          string
	TicketID    string
	Status      TicketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Subject     string
	Body        string
	FromAddr    string
	SenderFirst string
	SenderLast  string
	OrgName     string

	// InitialEntry is the first conversation entry; History holds the
	// remaining entries, sorted strictly ascending by Order.
	InitialEntry *ConversationEntry
	History      []ConversationEntry

	MessageID       string
	RawHeaders      string
	AckSent         bool
	SPF             string
	DKIM            string
	HasAttachments  bool
	AttachmentCount int
}

// TicketPatch is a partial update applied to an existing record. Nil fields
// are left untouched by the store.
type TicketPatch struct {
	Status     *TicketStatus
	History    []ConversationEntry
	RawHeaders *string
	UpdatedAt  *time.Time
}
