package ticketid

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/internal/store"
)

// stubStore serves a fixed identifier population.
type stubStore struct {
	ids       []string
	existing  map[string]bool
	listCalls int
	findCalls int
}

func (s *stubStore) FindByTicket(_ context.Context, ticketID string) (*domain.TicketRecord, error) {
	s.findCalls++
	if s.existing[ticketID] {
		return &domain.TicketRecord{TicketID: ticketID}, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) ListTicketIDs(context.Context, string) ([]string, error) {
	s.listCalls++
	return s.ids, nil
}

func (s *stubStore) Create(context.Context, *domain.TicketRecord) (string, error) {
	return "", nil
}

func (s *stubStore) Update(context.Context, string, domain.TicketPatch) error { return nil }

func (s *stubStore) SetAckSent(context.Context, string, bool) error { return nil }

func newTestAllocator(st store.Store) *Allocator {
	a := New(st, "ARG", time.UTC, zap.NewNop())
	a.now = func() time.Time {
		return time.Date(2025, 6, 3, 10, 30, 0, 0, time.UTC)
	}
	return a
}

func TestAllocateFirstOfDay(t *testing.T) {
	st := &stubStore{existing: map[string]bool{}}
	id, err := newTestAllocator(st).Allocate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ARG-20250603-0001" {
		t.Errorf("id = %q", id)
	}
}

func TestAllocateNextInSequence(t *testing.T) {
	st := &stubStore{
		ids:      []string{"ARG-20250603-0001", "ARG-20250603-0007", "ARG-20250603-0003"},
		existing: map[string]bool{},
	}
	id, err := newTestAllocator(st).Allocate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ARG-20250603-0008" {
		t.Errorf("id = %q, want max+1", id)
	}
}

func TestAllocateIgnoresMalformedSuffixes(t *testing.T) {
	st := &stubStore{
		ids:      []string{"ARG-20250603-0002", "ARG-20250603-junk", "OTHER-20250603-0099"},
		existing: map[string]bool{},
	}
	id, err := newTestAllocator(st).Allocate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ARG-20250603-0003" {
		t.Errorf("id = %q", id)
	}
}

func TestAllocateRetriesOnCollision(t *testing.T) {
	// The listing is stale: 0002 already exists although the list only
	// shows 0001. The verify step must catch it and rescan.
	st := &stubStore{
		ids:      []string{"ARG-20250603-0001"},
		existing: map[string]bool{"ARG-20250603-0002": true},
	}
	a := newTestAllocator(st)

	// After the first collision the rescan picks up the taken identifier.
	first := true
	base := st.ids
	a.store = &rescanStore{stub: st, onSecondList: func() {
		if first {
			st.ids = append(base, "ARG-20250603-0002")
			first = false
		}
	}}

	id, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ARG-20250603-0003" {
		t.Errorf("id = %q, want 0003 after collision", id)
	}
}

// rescanStore lets a test mutate the population between listings.
type rescanStore struct {
	stub         *stubStore
	onSecondList func()
	calls        int
}

func (r *rescanStore) FindByTicket(ctx context.Context, id string) (*domain.TicketRecord, error) {
	return r.stub.FindByTicket(ctx, id)
}

func (r *rescanStore) ListTicketIDs(ctx context.Context, prefix string) ([]string, error) {
	r.calls++
	if r.calls > 1 {
		r.onSecondList()
	}
	return r.stub.ListTicketIDs(ctx, prefix)
}

func (r *rescanStore) Create(ctx context.Context, rec *domain.TicketRecord) (string, error) {
	return r.stub.Create(ctx, rec)
}

func (r *rescanStore) Update(ctx context.Context, id string, p domain.TicketPatch) error {
	return r.stub.Update(ctx, id, p)
}

func (r *rescanStore) SetAckSent(ctx context.Context, id string, sent bool) error {
	return r.stub.SetAckSent(ctx, id, sent)
}

func TestAllocateFallbackAfterExhaustion(t *testing.T) {
	// Every candidate is taken; the allocator must fall back to the
	// time-derived sequence instead of looping forever.
	existing := map[string]bool{}
	for i := 1; i <= 20; i++ {
		existing["ARG-20250603-"+pad4(i)] = true
	}
	st := &stubStore{ids: []string{}, existing: existing}
	a := newTestAllocator(st)

	id, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != len("ARG-20250603-0000") || id[:13] != "ARG-20250603-" {
		t.Errorf("fallback id = %q", id)
	}
	if st.findCalls != maxAttempts {
		t.Errorf("verify calls = %d, want %d", st.findCalls, maxAttempts)
	}
}

func TestMicroSeqStaysInRange(t *testing.T) {
	now := time.Date(2025, 6, 3, 23, 59, 59, 999999000, time.UTC)
	if got := microSeq(now); got < 0 || got > maxSequence {
		t.Errorf("microSeq = %d, out of range", got)
	}
}

func pad4(n int) string {
	return fmt.Sprintf("%04d", n)
}
