// Package ticketid allocates sequential ticket identifiers of the form
// PREFIX-YYYYMMDD-NNNN. The store enforces no uniqueness for the hosted
// backend, so allocation is list, propose, verify, retry.
package ticketid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/store"
)

const (
	maxAttempts = 5
	maxSequence = 9999
)

// Allocator proposes the next free identifier for today's date.
type Allocator struct {
	store  store.Store
	prefix string
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// New builds an allocator. The date portion follows the installation's
// time zone, so tickets roll over at local midnight.
func New(st store.Store, prefix string, loc *time.Location, logger *zap.Logger) *Allocator {
	return &Allocator{
		store:  st,
		prefix: prefix,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
}

// Allocate returns a ticket identifier that did not exist at verification
// time. After repeated collisions it falls back to a time-derived sequence,
// which stays unique enough at webhook arrival rates.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	now := a.now().In(a.loc)
	datePrefix := fmt.Sprintf("%s-%s-", a.prefix, now.Format("20060102"))

	for attempt := 0; attempt < maxAttempts; attempt++ {
		ids, err := a.store.ListTicketIDs(ctx, datePrefix)
		if err != nil {
			return "", err
		}

		seq := maxSeq(ids, datePrefix) + 1
		if seq > maxSequence {
			break
		}
		candidate := fmt.Sprintf("%s%04d", datePrefix, seq)

		taken, err := a.exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		a.logger.Warn("ticket identifier collision, retrying",
			zap.String("candidate", candidate),
			zap.Int("attempt", attempt+1),
		)
	}

	fallback := fmt.Sprintf("%s%04d", datePrefix, microSeq(now))
	a.logger.Warn("ticket allocation fell back to time-derived sequence",
		zap.String("ticket_id", fallback),
	)
	return fallback, nil
}

func (a *Allocator) exists(ctx context.Context, ticketID string) (bool, error) {
	_, err := a.store.FindByTicket(ctx, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// maxSeq returns the highest numeric suffix among today's identifiers.
func maxSeq(ids []string, datePrefix string) int {
	max := 0
	for _, id := range ids {
		rest, ok := strings.CutPrefix(id, datePrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

// microSeq derives a sequence from the microseconds elapsed since local
// midnight, folded into the four-digit space.
func microSeq(now time.Time) int {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return int(now.Sub(midnight).Microseconds() % (maxSequence + 1))
}
