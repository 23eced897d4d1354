package mailer

import (
	"strings"
	"testing"

	"github.com/arganhr/mailroom/internal/config"
	"github.com/arganhr/mailroom/internal/domain"
)

func newTemplates() *Templates {
	return NewTemplates("Argan HR Consultancy", config.AckConfig{
		MarkerPhrase: config.DefaultMarkerPhrase,
	})
}

func TestRenderSubject(t *testing.T) {
	ack := newTemplates().Render(TemplateInput{
		TicketID: "ARG-20250603-0042",
		Priority: domain.TicketPriorityNormal,
	})
	want := "[ARG-20250603-0042] Argan HR Consultancy - Call Logged"
	if ack.Subject != want {
		t.Errorf("subject = %q, want %q", ack.Subject, want)
	}
}

func TestRenderBodyContainsMarkerAndTicket(t *testing.T) {
	ack := newTemplates().Render(TemplateInput{
		TicketID:        "ARG-20250603-0042",
		FirstName:       "John",
		NameConfidence:  0.9,
		OriginalSubject: "Holiday policy",
		OriginalBody:    "How many days do we get?",
		Priority:        domain.TicketPriorityNormal,
	})
	for _, want := range []string{
		"Hi John,",
		config.DefaultMarkerPhrase + " ARG-20250603-0042",
		"> How many days do we get?",
		"within 2-3 business days",
	} {
		if !strings.Contains(ack.TextBody, want) {
			t.Errorf("text body missing %q", want)
		}
	}
	if !strings.Contains(ack.HTMLBody, "<strong>ARG-20250603-0042</strong>") {
		t.Error("html body missing ticket number")
	}
}

func TestRenderCustomTemplate(t *testing.T) {
	tpl := NewTemplates("Argan HR Consultancy", config.AckConfig{
		MarkerPhrase: config.DefaultMarkerPhrase,
		TemplateText: "Dear {first_name}, ticket {ticket_id} for {original_subject} ({priority}).",
	})
	ack := tpl.Render(TemplateInput{
		TicketID:        "ARG-20250603-0001",
		FirstName:       "Jane",
		NameConfidence:  0.9,
		OriginalSubject: "Contract query",
		Priority:        domain.TicketPriorityHigh,
	})
	want := "Dear Jane, ticket ARG-20250603-0001 for Contract query (High)."
	if ack.TextBody != want {
		t.Errorf("text body = %q, want %q", ack.TextBody, want)
	}
}

func TestGreeting(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		want       string
	}{
		{"John", 0.9, "Hi John"},
		{"john", 0.9, "Hi John"},
		{"John", 0.4, "Hello"},
		{"", 0.9, "Hello"},
		{"unknown", 0.9, "Hello"},
		{"customer", 0.9, "Hello"},
		{"john.smith@x.example", 0.9, "Hi John.smith"},
	}
	for _, tc := range cases {
		if got := Greeting(tc.name, tc.confidence); got != tc.want {
			t.Errorf("Greeting(%q, %v) = %q, want %q", tc.name, tc.confidence, got, tc.want)
		}
	}
}

func TestResponseTimeframe(t *testing.T) {
	cases := []struct {
		priority domain.TicketPriority
		want     string
	}{
		{domain.TicketPriorityUrgent, "within 4 hours"},
		{domain.TicketPriorityHigh, "within 24 hours"},
		{domain.TicketPriorityNormal, "within 2-3 business days"},
		{domain.TicketPriority("bogus"), "within 2-3 business days"},
	}
	for _, tc := range cases {
		if got := ResponseTimeframe(tc.priority); got != tc.want {
			t.Errorf("ResponseTimeframe(%q) = %q, want %q", tc.priority, got, tc.want)
		}
	}
}

func TestQuoteBodyEmpty(t *testing.T) {
	ack := newTemplates().Render(TemplateInput{
		TicketID: "ARG-20250603-0001",
		Priority: domain.TicketPriorityNormal,
	})
	if !strings.Contains(ack.TextBody, "> (no message body)") {
		t.Error("empty original body must render a placeholder quote")
	}
}

func TestQuoteBodyClipped(t *testing.T) {
	long := strings.Repeat("x", 5000)
	ack := newTemplates().Render(TemplateInput{
		TicketID:     "ARG-20250603-0001",
		OriginalBody: long,
		Priority:     domain.TicketPriorityNormal,
	})
	if strings.Contains(ack.TextBody, strings.Repeat("x", 1001)) {
		t.Error("original body not clipped")
	}
	if !strings.Contains(ack.TextBody, "...") {
		t.Error("clipped body missing ellipsis")
	}
}
