// Package classify decides whether an inbound message opens a new thread or
// continues an existing one.
package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/internal/llm"
)

// Result is the classification outcome. TicketID is set only on the
// EXISTING path.
type Result struct {
	Path       domain.Path
	TicketID   string
	Confidence float64
	Source     string // "llm" or "regex"
}

const (
	confidenceTicketFound  = 0.8
	confidenceTicketAbsent = 0.7
)

const systemPrompt = `You classify inbound support emails. Decide whether the email continues an existing ticket thread or opens a new one. A ticket reference looks like %s-YYYYMMDD-NNNN and usually appears in the subject line. Respond with JSON: {"present": <true if a ticket reference was found>, "path": "NEW" or "EXISTING", "ticket_id": "<reference or empty>", "confidence": <0.0-1.0>, "notes": "<optional reasoning>"}.`

type llmVerdict struct {
	Present    bool    `json:"present"`
	Path       string  `json:"path"`
	TicketID   string  `json:"ticket_id"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

// Classifier routes messages by ticket reference. The model is consulted
// first when available; the regex decision is authoritative whenever the
// model is unavailable or its verdict fails validation.
type Classifier struct {
	completer llm.Completer
	prefix    string
	pattern   *regexp.Regexp
	logger    *zap.Logger
}

// New builds a classifier for the installation's ticket prefix.
func New(completer llm.Completer, prefix string, logger *zap.Logger) *Classifier {
	return &Classifier{
		completer: completer,
		prefix:    prefix,
		pattern:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(prefix) + `-\d{8}-\d{4}`),
		logger:    logger,
	}
}

// Classify inspects the message and picks a processing path. It never
// returns an error: when everything else fails the message is NEW.
func (c *Classifier) Classify(ctx context.Context, in *domain.InboundContext) Result {
	if c.completer != nil {
		if res, ok := c.classifyLLM(ctx, in); ok {
			return res
		}
	}
	return c.classifyRegex(in)
}

func (c *Classifier) classifyLLM(ctx context.Context, in *domain.InboundContext) (Result, bool) {
	var verdict llmVerdict
	user := fmt.Sprintf("Subject: %s\n\nBody:\n%s", in.Subject, truncate(in.TextBody, 2000))
	err := c.completer.CompleteJSON(ctx, fmt.Sprintf(systemPrompt, c.prefix), user, &verdict)
	if err != nil {
		if err != llm.ErrDisabled {
			c.logger.Warn("classifier llm call failed", zap.Error(err))
		}
		return Result{}, false
	}

	switch domain.Path(verdict.Path) {
	case domain.PathNew:
		return Result{Path: domain.PathNew, Confidence: clamp(verdict.Confidence), Source: "llm"}, true
	case domain.PathExisting:
		ticket := strings.ToUpper(strings.TrimSpace(verdict.TicketID))
		if !c.pattern.MatchString(ticket) {
			c.logger.Warn("classifier llm verdict rejected", zap.String("ticket_id", verdict.TicketID))
			return Result{}, false
		}
		return Result{
			Path:       domain.PathExisting,
			TicketID:   strings.ToUpper(c.pattern.FindString(ticket)),
			Confidence: clamp(verdict.Confidence),
			Source:     "llm",
		}, true
	default:
		c.logger.Warn("classifier llm verdict rejected", zap.String("path", verdict.Path))
		return Result{}, false
	}
}

// classifyRegex scans the collapsed subject, then the body, for a ticket
// reference.
func (c *Classifier) classifyRegex(in *domain.InboundContext) Result {
	for _, haystack := range []string{CollapseSubject(in.Subject), in.TextBody} {
		if m := c.pattern.FindString(haystack); m != "" {
			return Result{
				Path:       domain.PathExisting,
				TicketID:   strings.ToUpper(m),
				Confidence: confidenceTicketFound,
				Source:     "regex",
			}
		}
	}
	return Result{Path: domain.PathNew, Confidence: confidenceTicketAbsent, Source: "regex"}
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw)\s*:\s*)+`)

// CollapseSubject strips reply and forward prefixes so a stamped ticket
// reference is visible wherever the client's mailer pushed it.
func CollapseSubject(subject string) string {
	return strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
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
