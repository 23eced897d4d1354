package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arganhr/mailroom/internal/domain"
)

func TestMemoryGateClaim(t *testing.T) {
	g := NewMemoryGate(time.Hour)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "<a@x>")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true", ok, err)
	}
	ok, _ = g.Claim(ctx, "<a@x>")
	if ok {
		t.Error("second claim should be rejected")
	}
	ok, _ = g.Claim(ctx, "<b@x>")
	if !ok {
		t.Error("different identifier should be accepted")
	}
}

func TestMemoryGateSentinelAlwaysAccepted(t *testing.T) {
	g := NewMemoryGate(time.Hour)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := g.Claim(ctx, domain.UnknownMessageID)
		if err != nil || !ok {
			t.Fatalf("claim %d = %v, %v; sentinel must always pass", i, ok, err)
		}
	}
	if ok, _ := g.Claim(ctx, ""); !ok {
		t.Error("empty identifier must always pass")
	}
}

func TestMemoryGateExpiry(t *testing.T) {
	g := NewMemoryGate(time.Hour)
	now := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	ctx := context.Background()
	if ok, _ := g.Claim(ctx, "<a@x>"); !ok {
		t.Fatal("first claim rejected")
	}
	now = now.Add(30 * time.Minute)
	if ok, _ := g.Claim(ctx, "<a@x>"); ok {
		t.Error("claim within TTL should be rejected")
	}
	now = now.Add(31 * time.Minute)
	if ok, _ := g.Claim(ctx, "<a@x>"); !ok {
		t.Error("claim after TTL should be accepted")
	}
}

func TestMemoryGateRelease(t *testing.T) {
	g := NewMemoryGate(time.Hour)
	ctx := context.Background()
	g.Claim(ctx, "<a@x>")
	if err := g.Release(ctx, "<a@x>"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := g.Claim(ctx, "<a@x>"); !ok {
		t.Error("claim after release should be accepted")
	}
}

func TestMemoryGateConcurrentClaims(t *testing.T) {
	g := NewMemoryGate(time.Hour)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := g.Claim(ctx, "<contested@x>"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("winners = %d, want exactly 1", count)
	}
}
