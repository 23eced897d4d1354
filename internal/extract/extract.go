// Package extract recovers sender identity details from message content.
// Extraction is best-effort: failures degrade to address-derived guesses
// and never stop the pipeline.
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/internal/ingest"
	"github.com/arganhr/mailroom/internal/llm"
)

// SenderIdentity is the recovered name and organization, with a confidence
// the acknowledgment template uses to pick its greeting.
type SenderIdentity struct {
	FirstName  string
	LastName   string
	OrgName    string
	Confidence float64
}

const senderSystemPrompt = `You extract the sender's identity from a support email. Look at the display name, the signature block, and the body. Ignore job titles and company names when extracting the person's name. Respond with JSON: {"first_name": "...", "last_name": "...", "organization": "...", "confidence": <0.0-1.0>}. Use empty strings for anything you cannot determine.`

type senderVerdict struct {
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Organization string  `json:"organization"`
	Confidence   float64 `json:"confidence"`
}

// Extractor recovers sender identity, preferring the model and degrading to
// the address local part.
type Extractor struct {
	completer llm.Completer
	logger    *zap.Logger
}

// New builds an extractor.
func New(completer llm.Completer, logger *zap.Logger) *Extractor {
	return &Extractor{completer: completer, logger: logger}
}

// Sender extracts the sender identity for the message.
func (e *Extractor) Sender(ctx context.Context, in *domain.InboundContext) SenderIdentity {
	if e.completer != nil {
		if id, ok := e.senderLLM(ctx, in); ok {
			return id
		}
	}
	return FallbackIdentity(in.FromRaw, in.FromAddr)
}

func (e *Extractor) senderLLM(ctx context.Context, in *domain.InboundContext) (SenderIdentity, bool) {
	var verdict senderVerdict
	user := fmt.Sprintf("From: %s\nSubject: %s\n\nBody:\n%s", in.FromRaw, in.Subject, truncate(in.TextBody, 2000))
	if err := e.completer.CompleteJSON(ctx, senderSystemPrompt, user, &verdict); err != nil {
		if err != llm.ErrDisabled {
			e.logger.Warn("sender extraction llm call failed", zap.Error(err))
		}
		return SenderIdentity{}, false
	}

	first := strings.TrimSpace(verdict.FirstName)
	if first == "" {
		return SenderIdentity{}, false
	}
	return SenderIdentity{
		FirstName:  first,
		LastName:   strings.TrimSpace(verdict.LastName),
		OrgName:    strings.TrimSpace(verdict.Organization),
		Confidence: clamp(verdict.Confidence),
	}, true
}

// FallbackIdentity derives a name without the model: the display name when
// one exists, otherwise the address local part split on separators.
func FallbackIdentity(fromRaw, fromAddr string) SenderIdentity {
	if display := ingest.ExtractDisplayName(fromRaw); display != "" {
		first, last := splitName(display)
		return SenderIdentity{FirstName: first, LastName: last, Confidence: 0.5}
	}

	local := fromAddr
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	switch len(parts) {
	case 0:
		return SenderIdentity{Confidence: 0}
	case 1:
		return SenderIdentity{FirstName: title(parts[0]), Confidence: 0.3}
	default:
		return SenderIdentity{
			FirstName:  title(parts[0]),
			LastName:   title(parts[len(parts)-1]),
			Confidence: 0.4,
		}
	}
}

func splitName(full string) (first, last string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], fields[len(fields)-1]
	}
}

func title(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
