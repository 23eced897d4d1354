// Package store persists ticket records. Two backends exist: the hosted
// document store reached over HTTP, and postgres. Both are wrapped by
// Guarded, which adds the shared write throttle and transient-error retry.
package store

import (
	"context"
	"errors"

	"github.com/arganhr/mailroom/internal/domain"
)

// ErrNotFound is returned when no record matches the ticket identifier.
var ErrNotFound = errors.New("store: record not found")

// ErrConflict is returned when a create collides with an existing ticket
// identifier.
var ErrConflict = errors.New("store: ticket identifier already exists")

// Store is the persistence port for ticket records.
type Store interface {
	// FindByTicket returns the record for a ticket identifier, or ErrNotFound.
	FindByTicket(ctx context.Context, ticketID string) (*domain.TicketRecord, error)

	// ListTicketIDs returns every ticket identifier starting with prefix,
	// e.g. "ARG-20250603-".
	ListTicketIDs(ctx context.Context, prefix string) ([]string, error)

	// Create inserts a new record and returns the backend record id.
	Create(ctx context.Context, rec *domain.TicketRecord) (string, error)

	// Update applies a partial update to the record. Nil patch fields are
	// left untouched.
	Update(ctx context.Context, recordID string, patch domain.TicketPatch) error

	// SetAckSent flips the acknowledgment flag on the record.
	SetAckSent(ctx context.Context, recordID string, sent bool) error
}
