package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/pkg/util"
)

// writeWait bounds how long a write may queue behind the throttle before
// giving up as transient.
const writeWait = 5 * time.Second

// Guarded decorates a backend with the shared write throttle and retry on
// transient failures. Reads retry but are not throttled.
type Guarded struct {
	inner     Store
	limiter   *rate.Limiter
	attempts  int
	baseDelay time.Duration
}

// NewGuarded wraps a backend. writeQPS is the shared write budget across
// all in-flight requests.
func NewGuarded(inner Store, writeQPS int) *Guarded {
	return &Guarded{
		inner:     inner,
		limiter:   rate.NewLimiter(rate.Limit(writeQPS), 1),
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
	}
}

func (g *Guarded) FindByTicket(ctx context.Context, ticketID string) (*domain.TicketRecord, error) {
	var rec *domain.TicketRecord
	err := g.retry(ctx, func() error {
		var err error
		rec, err = g.inner.FindByTicket(ctx, ticketID)
		return err
	})
	return rec, err
}

func (g *Guarded) ListTicketIDs(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	err := g.retry(ctx, func() error {
		var err error
		ids, err = g.inner.ListTicketIDs(ctx, prefix)
		return err
	})
	return ids, err
}

func (g *Guarded) Create(ctx context.Context, rec *domain.TicketRecord) (string, error) {
	var id string
	err := g.retry(ctx, func() error {
		if err := g.waitWrite(ctx); err != nil {
			return err
		}
		var err error
		id, err = g.inner.Create(ctx, rec)
		return err
	})
	return id, err
}

func (g *Guarded) Update(ctx context.Context, recordID string, patch domain.TicketPatch) error {
	return g.retry(ctx, func() error {
		if err := g.waitWrite(ctx); err != nil {
			return err
		}
		return g.inner.Update(ctx, recordID, patch)
	})
}

func (g *Guarded) SetAckSent(ctx context.Context, recordID string, sent bool) error {
	return g.retry(ctx, func() error {
		if err := g.waitWrite(ctx); err != nil {
			return err
		}
		return g.inner.SetAckSent(ctx, recordID, sent)
	})
}

func (g *Guarded) waitWrite(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := g.limiter.Wait(waitCtx); err != nil {
		return util.NewTransientError("store write throttle", err)
	}
	return nil
}

// retry runs fn up to the attempt budget, backing off between transient
// failures. Non-transient errors stop immediately.
func (g *Guarded) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := g.baseDelay
	for attempt := 0; attempt < g.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return util.NewTransientError("store retry interrupted", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		lastErr = fn()
		if lastErr == nil || !util.IsKind(lastErr, util.KindTransient) {
			return lastErr
		}
	}
	return lastErr
}

// KeyedMutex serializes work per ticket identifier. Entries are never
// evicted; the key space is bounded by the active ticket population.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex builds an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
