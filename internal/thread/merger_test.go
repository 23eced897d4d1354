package thread

import (
	"testing"

	"github.com/arganhr/mailroom/internal/domain"
)

func entry(email, datetime, content string) domain.ConversationEntry {
	return domain.ConversationEntry{
		SenderEmail:    email,
		SenderName:     email,
		SenderDatetime: datetime,
		Content:        content,
	}
}

func TestMergeAppendsAndRenumbers(t *testing.T) {
	existing := []domain.ConversationEntry{
		entry("a@x.example", "01/06/2025 09:00 BST", "first message"),
	}
	incoming := []domain.ConversationEntry{
		entry("b@x.example", "02/06/2025 09:00 BST", "reply"),
	}
	merged := Merge(existing, incoming)
	if len(merged) != 2 {
		t.Fatalf("len = %d", len(merged))
	}
	for i, e := range merged {
		if e.Order != i+1 {
			t.Errorf("order[%d] = %d", i, e.Order)
		}
	}
	if merged[0].Content != "first message" || merged[1].Content != "reply" {
		t.Errorf("merged = %+v", merged)
	}
}

func TestMergeDropsDuplicates(t *testing.T) {
	existing := []domain.ConversationEntry{
		entry("a@x.example", "01/06/2025 09:00 BST", "hello   world"),
	}
	// Same sender and content, re-wrapped by a quoting mailer and carrying
	// a rewritten timestamp.
	incoming := []domain.ConversationEntry{
		entry("a@x.example", "02/06/2025 10:30 BST", "hello world"),
		entry("a@x.example", "02/06/2025 10:30 BST", "genuinely new"),
	}
	merged := Merge(existing, incoming)
	if len(merged) != 2 {
		t.Fatalf("len = %d, want duplicate dropped", len(merged))
	}
	if merged[1].Content != "genuinely new" {
		t.Errorf("merged = %+v", merged)
	}
}

func TestMergeSortsByTimestamp(t *testing.T) {
	existing := []domain.ConversationEntry{
		entry("b@x.example", "03/06/2025 09:00 BST", "third"),
	}
	incoming := []domain.ConversationEntry{
		entry("a@x.example", "01/06/2025 09:00 BST", "first"),
		entry("a@x.example", "02/06/2025 09:00 BST", "second"),
	}
	merged := Merge(existing, incoming)
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if merged[i].Content != w {
			t.Errorf("merged[%d] = %q, want %q", i, merged[i].Content, w)
		}
	}
}

func TestMergeUnparseableTimestampsKeepArrivalOrder(t *testing.T) {
	existing := []domain.ConversationEntry{
		entry("a@x.example", "whenever", "one"),
		entry("a@x.example", "", "two"),
	}
	incoming := []domain.ConversationEntry{
		entry("b@x.example", "not a date", "three"),
	}
	merged := Merge(existing, incoming)
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if merged[i].Content != w {
			t.Errorf("merged[%d] = %q, want %q", i, merged[i].Content, w)
		}
	}
}

func TestMergeEqualTimestampsOrderByFingerprint(t *testing.T) {
	a := entry("a@x.example", "01/06/2025 09:00 BST", "first wording")
	b := entry("b@x.example", "01/06/2025 09:00 BST", "second wording")

	forward := Merge([]domain.ConversationEntry{a}, []domain.ConversationEntry{b})
	reverse := Merge([]domain.ConversationEntry{b}, []domain.ConversationEntry{a})
	if len(forward) != 2 || len(reverse) != 2 {
		t.Fatalf("len = %d/%d", len(forward), len(reverse))
	}
	// Equal timestamps must order the same way regardless of arrival.
	for i := range forward {
		if forward[i].Content != reverse[i].Content {
			t.Errorf("position %d: %q vs %q", i, forward[i].Content, reverse[i].Content)
		}
	}
}

func TestMergeDropsEmptyContent(t *testing.T) {
	merged := Merge(nil, []domain.ConversationEntry{
		entry("a@x.example", "", "   \n  "),
		entry("a@x.example", "", "kept"),
	})
	if len(merged) != 1 || merged[0].Content != "kept" {
		t.Errorf("merged = %+v", merged)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	existing := []domain.ConversationEntry{
		entry("a@x.example", "01/06/2025 09:00 BST", "  padded   content  "),
	}
	Merge(existing, nil)
	if existing[0].Content != "  padded   content  " {
		t.Errorf("input mutated: %q", existing[0].Content)
	}
	if existing[0].Order != 0 {
		t.Errorf("input order mutated: %d", existing[0].Order)
	}
}

func TestNormalizeContent(t *testing.T) {
	in := "  hello \t world \r\n  second   line \n\n"
	want := "hello world\nsecond line"
	if got := NormalizeContent(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFingerprintIgnoresTimestampAndCase(t *testing.T) {
	a := entry("A@X.example", "01/06/2025 09:00 BST", "same content")
	b := entry("a@x.example", "02/06/2025 10:00 BST", "same  content")
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprints differ for equivalent entries")
	}
	c := entry("a@x.example", "", "different")
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("fingerprints collide for different content")
	}
}
