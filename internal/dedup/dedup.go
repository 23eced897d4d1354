// Package dedup provides the first-writer-wins claim gate over message
// identifiers. A claim is atomic: exactly one caller wins a given identifier
// within the retention window.
package dedup

import (
	"context"

	"github.com/arganhr/mailroom/internal/domain"
)

// Gate records message identifiers and rejects repeats within its TTL.
type Gate interface {
	// Claim returns true when the identifier was unseen and is now claimed.
	// The sentinel "unknown" is always accepted and never recorded.
	Claim(ctx context.Context, messageID string) (bool, error)

	// Release drops a claim so a redelivery can reprocess the message. Used
	// when processing failed after the claim was taken.
	Release(ctx context.Context, messageID string) error
}

func isSentinel(messageID string) bool {
	return messageID == "" || messageID == domain.UnknownMessageID
}
