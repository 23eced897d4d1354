// Package loopguard detects the service's own acknowledgments arriving back
// through the inbound webhook, which would otherwise open a mail loop.
package loopguard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/internal/ingest"
)

// Guard holds the outbound identity and the acknowledgment signatures.
type Guard struct {
	outboundAddr string
	markerPhrase string
	ackSubject   *regexp.Regexp
}

// New builds a guard for the given outbound address and ticket prefix. The
// marker phrase is the sentence every acknowledgment body carries.
func New(outboundAddr, prefix, markerPhrase string) *Guard {
	pattern := fmt.Sprintf(`^\[%s-\d{8}-\d{4}\]`, regexp.QuoteMeta(prefix))
	return &Guard{
		outboundAddr: strings.ToLower(outboundAddr),
		markerPhrase: markerPhrase,
		ackSubject:   regexp.MustCompile(pattern),
	}
}

// Check reports the loop reason when the inbound message is one of our own
// acknowledgments, and empty when it is genuine client mail.
func (g *Guard) Check(ctx *domain.InboundContext) string {
	if ctx.FromAddr != "" && ctx.FromAddr == g.outboundAddr {
		return "sender is the outbound address"
	}

	if env := ingest.ParseEnvelope(ctx.EnvelopeRaw); strings.ToLower(env.From) == g.outboundAddr && env.From != "" {
		return "envelope sender is the outbound address"
	}

	// Forwarded acknowledgments keep the stamped subject and the marker
	// sentence; either alone can be a genuine client quoting us, both
	// together cannot.
	if g.ackSubject.MatchString(strings.TrimSpace(ctx.Subject)) &&
		strings.Contains(ctx.TextBody, g.markerPhrase) {
		return "message matches acknowledgment signature"
	}

	return ""
}
