package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/domain"
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

func TestSenderLLMAccepted(t *testing.T) {
	f := &fakeCompleter{response: `{"first_name":"Rebecca","last_name":"Jones","organization":"Acme Ltd","confidence":0.9}`}
	e := New(f, zap.NewNop())
	id := e.Sender(context.Background(), &domain.InboundContext{FromAddr: "rj@acme.example"})
	if id.FirstName != "Rebecca" || id.LastName != "Jones" || id.OrgName != "Acme Ltd" {
		t.Errorf("identity = %+v", id)
	}
	if id.Confidence != 0.9 {
		t.Errorf("confidence = %v", id.Confidence)
	}
}

func TestSenderLLMEmptyNameFallsBack(t *testing.T) {
	f := &fakeCompleter{response: `{"first_name":"","last_name":"","organization":"","confidence":0.2}`}
	e := New(f, zap.NewNop())
	id := e.Sender(context.Background(), &domain.InboundContext{
		FromRaw:  "john.smith@client.example",
		FromAddr: "john.smith@client.example",
	})
	if id.FirstName != "John" || id.LastName != "Smith" {
		t.Errorf("identity = %+v, want local-part fallback", id)
	}
}

func TestSenderLLMErrorFallsBack(t *testing.T) {
	f := &fakeCompleter{err: errors.New("timeout")}
	e := New(f, zap.NewNop())
	id := e.Sender(context.Background(), &domain.InboundContext{
		FromRaw:  `"Jane Doe" <jd@client.example>`,
		FromAddr: "jd@client.example",
	})
	if id.FirstName != "Jane" || id.LastName != "Doe" {
		t.Errorf("identity = %+v, want display-name fallback", id)
	}
}

func TestFallbackIdentity(t *testing.T) {
	cases := []struct {
		fromRaw, fromAddr string
		first, last       string
	}{
		{"John Smith <js@x.example>", "js@x.example", "John", "Smith"},
		{"john.smith@x.example", "john.smith@x.example", "John", "Smith"},
		{"jane_q_doe@x.example", "jane_q_doe@x.example", "Jane", "Doe"},
		{"support@x.example", "support@x.example", "Support", ""},
		{"mary-ann@x.example", "mary-ann@x.example", "Mary", "Ann"},
	}
	for _, tc := range cases {
		id := FallbackIdentity(tc.fromRaw, tc.fromAddr)
		if id.FirstName != tc.first || id.LastName != tc.last {
			t.Errorf("FallbackIdentity(%q) = %+v, want %s/%s", tc.fromRaw, id, tc.first, tc.last)
		}
	}
}

func TestFallbackConfidenceBelowGreetingThreshold(t *testing.T) {
	id := FallbackIdentity("support@x.example", "support@x.example")
	if id.Confidence >= 0.5 {
		t.Errorf("confidence = %v, single-token fallback must stay below 0.5", id.Confidence)
	}
}
