package domain

import "time"

// Path identifies the processing branch chosen by the classifier.
type Path string

const (
	PathNew      Path = "NEW"
	PathExisting Path = "EXISTING"
)

// UnknownMessageID is the sentinel used when no Message-Id header could be
// recovered. Unknown identity is treated as a new arrival by the dedup gate.
const UnknownMessageID = "unknown"

// InboundContext is the per-webhook working record. It is created when a
// webhook arrives, mutated in place as the pipeline advances, and discarded
// at end of processing.
type InboundContext struct {
	Subject     string
	TextBody    string
	FromRaw     string
	FromAddr    string
	ToAddr      string
	HeadersBlob string
	MessageID   string

	SPF             string
	DKIM            string
	SenderIP        string
	EnvelopeRaw     string
	HasAttachments  bool
	AttachmentCount int

	ReceivedAt time.Time

	// Set by the classifier and allocator.
	TicketID string
	Path     Path

	// Coarse state label, used only for logging.
	ProcessingStatus string
}
