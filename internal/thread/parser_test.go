package thread

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/internal/extract"
)

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, _, _ string, out any) error {
	if f.err != nil {
		return f.err
	}
	return json.NewDecoder(strings.NewReader(f.response)).Decode(out)
}

func london(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestParseEmptyBody(t *testing.T) {
	p := NewParser(nil, time.UTC, zap.NewNop())
	entries := p.Parse(context.Background(), &domain.InboundContext{TextBody: "  \n\t "}, extract.SenderIdentity{})
	if len(entries) != 0 {
		t.Errorf("entries = %v, want none for blank body", entries)
	}
}

func TestParseFallbackSyntheticEntry(t *testing.T) {
	p := NewParser(nil, london(t), zap.NewNop())
	received := time.Date(2025, 6, 3, 4, 55, 0, 0, time.UTC)
	entries := p.Parse(context.Background(), &domain.InboundContext{
		TextBody:   "  How many days of holiday do we get?  ",
		FromAddr:   "js@client.example",
		ReceivedAt: received,
	}, extract.SenderIdentity{FirstName: "John", LastName: "Smith"})

	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.SenderEmail != "js@client.example" || e.SenderName != "John Smith" {
		t.Errorf("entry = %+v", e)
	}
	if e.Content != "How many days of holiday do we get?" {
		t.Errorf("content = %q", e.Content)
	}
	if e.SenderDatetime != "03/06/2025 05:55 BST" {
		t.Errorf("datetime = %q", e.SenderDatetime)
	}
	if e.Order != 1 {
		t.Errorf("order = %d", e.Order)
	}
}

func TestParseLLMEntries(t *testing.T) {
	f := &fakeCompleter{response: `{"entries":[
		{"sender_email":"a@x.example","sender_name":"A","sender_datetime":"01/06/2025 09:00 BST","content":"first","order":1},
		{"sender_email":"b@x.example","sender_name":"B","sender_datetime":"02/06/2025 09:00 BST","content":"second","order":2}
	]}`}
	p := NewParser(f, time.UTC, zap.NewNop())
	entries := p.Parse(context.Background(), &domain.InboundContext{TextBody: "whatever"}, extract.SenderIdentity{})
	if len(entries) != 2 || entries[0].Content != "first" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestParseLLMEmptyContentDropped(t *testing.T) {
	f := &fakeCompleter{response: `{"entries":[{"sender_email":"a@x.example","content":"  "}]}`}
	p := NewParser(f, time.UTC, zap.NewNop())
	entries := p.Parse(context.Background(), &domain.InboundContext{
		TextBody:   "real content",
		FromAddr:   "a@x.example",
		ReceivedAt: time.Now(),
	}, extract.SenderIdentity{})
	if len(entries) != 1 || entries[0].Content != "real content" {
		t.Errorf("entries = %+v, want synthetic fallback", entries)
	}
}

func TestParseLLMErrorFallsBack(t *testing.T) {
	f := &fakeCompleter{err: errors.New("timeout")}
	p := NewParser(f, time.UTC, zap.NewNop())
	entries := p.Parse(context.Background(), &domain.InboundContext{
		TextBody:   "hello",
		FromAddr:   "a@x.example",
		ReceivedAt: time.Now(),
	}, extract.SenderIdentity{})
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}
