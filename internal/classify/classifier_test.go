package classify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/domain"
)

// fakeCompleter replays a canned JSON completion, or an error.
type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, _, _ string, out any) error {
	if f.err != nil {
		return f.err
	}
	dec := json.NewDecoder(strings.NewReader(f.response))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func TestClassifyRegexExistingFromSubject(t *testing.T) {
	c := New(nil, "ARG", zap.NewNop())
	res := c.Classify(context.Background(), &domain.InboundContext{
		Subject: "Re: Re: [arg-20250603-0042] holiday question",
	})
	if res.Path != domain.PathExisting {
		t.Fatalf("path = %s, want EXISTING", res.Path)
	}
	if res.TicketID != "ARG-20250603-0042" {
		t.Errorf("ticket = %q", res.TicketID)
	}
	if res.Confidence != confidenceTicketFound {
		t.Errorf("confidence = %v, want %v", res.Confidence, confidenceTicketFound)
	}
	if res.Source != "regex" {
		t.Errorf("source = %q", res.Source)
	}
}

func TestClassifyRegexExistingFromBody(t *testing.T) {
	c := New(nil, "ARG", zap.NewNop())
	res := c.Classify(context.Background(), &domain.InboundContext{
		Subject:  "following up",
		TextBody: "Regarding ticket ARG-20250101-0007, any update?",
	})
	if res.Path != domain.PathExisting || res.TicketID != "ARG-20250101-0007" {
		t.Errorf("got %+v", res)
	}
}

func TestClassifyRegexNew(t *testing.T) {
	c := New(nil, "ARG", zap.NewNop())
	res := c.Classify(context.Background(), &domain.InboundContext{
		Subject:  "Holiday policy question",
		TextBody: "How many days do we get?",
	})
	if res.Path != domain.PathNew {
		t.Fatalf("path = %s, want NEW", res.Path)
	}
	if res.Confidence != confidenceTicketAbsent {
		t.Errorf("confidence = %v, want %v", res.Confidence, confidenceTicketAbsent)
	}
}

func TestClassifyRegexIgnoresOtherPrefixes(t *testing.T) {
	c := New(nil, "ARG", zap.NewNop())
	res := c.Classify(context.Background(), &domain.InboundContext{
		Subject: "[XYZ-20250603-0042] different installation",
	})
	if res.Path != domain.PathNew {
		t.Errorf("path = %s, want NEW for foreign prefix", res.Path)
	}
}

func TestClassifyLLMVerdictAccepted(t *testing.T) {
	f := &fakeCompleter{response: `{"path":"EXISTING","ticket_id":"ARG-20250603-0042","confidence":0.95}`}
	c := New(f, "ARG", zap.NewNop())
	res := c.Classify(context.Background(), &domain.InboundContext{Subject: "any"})
	if res.Source != "llm" || res.Path != domain.PathExisting || res.TicketID != "ARG-20250603-0042" {
		t.Errorf("got %+v", res)
	}
	if res.Confidence != 0.95 {
		t.Errorf("confidence = %v", res.Confidence)
	}
}

func TestClassifyLLMFullSchemaAccepted(t *testing.T) {
	// The model answers with every field of the advertised response shape;
	// the strict decode must not reject it and demote the call.
	f := &fakeCompleter{response: `{"present":true,"path":"EXISTING","ticket_id":"ARG-20250603-0042","confidence":0.9,"notes":"reference found in subject"}`}
	c := New(f, "ARG", zap.NewNop())
	res := c.Classify(context.Background(), &domain.InboundContext{Subject: "any"})
	if res.Source != "llm" || res.TicketID != "ARG-20250603-0042" {
		t.Errorf("got %+v, want llm verdict honored", res)
	}
}

func TestClassifyLLMInvalidTicketFallsBack(t *testing.T) {
	f := &fakeCompleter{response: `{"path":"EXISTING","ticket_id":"nonsense","confidence":0.9}`}
	c := New(f, "ARG", zap.NewNop())
	res := c.Classify(context.Background(), &domain.InboundContext{
		Subject: "[ARG-20250603-0042] follow up",
	})
	if res.Source != "regex" || res.TicketID != "ARG-20250603-0042" {
		t.Errorf("got %+v, want regex fallback", res)
	}
}

func TestClassifyLLMErrorFallsBack(t *testing.T) {
	f := &fakeCompleter{err: errors.New("timeout")}
	c := New(f, "ARG", zap.NewNop())
	res := c.Classify(context.Background(), &domain.InboundContext{Subject: "plain enquiry"})
	if res.Source != "regex" || res.Path != domain.PathNew {
		t.Errorf("got %+v, want regex NEW", res)
	}
}

func TestCollapseSubject(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Re: Fwd: RE: hello", "hello"},
		{"FW: [ARG-20250603-0042] x", "[ARG-20250603-0042] x"},
		{"no prefix", "no prefix"},
	}
	for _, tc := range cases {
		if got := CollapseSubject(tc.in); got != tc.want {
			t.Errorf("CollapseSubject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
