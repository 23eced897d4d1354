// Package thread turns raw email bodies into ordered conversation entries
// and merges new entries into a ticket's stored history.
package thread

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/internal/extract"
	"github.com/arganhr/mailroom/internal/llm"
)

const parseSystemPrompt = `You split a support email body into its conversation entries. The body may contain quoted replies from earlier in the thread ("On ... wrote:", "> " prefixes, forwarded blocks). Produce one entry per distinct message, oldest first. Respond with JSON: {"entries": [{"sender_email": "...", "sender_name": "...", "sender_datetime": "DD/MM/YYYY HH:MM TZ", "content": "...", "order": 1}]}. Use empty strings for unknown fields; content must never be empty.`

type parseVerdict struct {
	Entries []domain.ConversationEntry `json:"entries"`
}

// Parser extracts conversation entries from a message body.
type Parser struct {
	completer llm.Completer
	loc       *time.Location
	logger    *zap.Logger
}

// NewParser builds a parser; timestamps on synthesized entries use loc.
func NewParser(completer llm.Completer, loc *time.Location, logger *zap.Logger) *Parser {
	return &Parser{completer: completer, loc: loc, logger: logger}
}

// Parse splits the body into entries, oldest first. An empty body yields an
// empty list; when the model is unavailable or returns nothing usable the
// whole body becomes one entry attributed to the sender.
func (p *Parser) Parse(ctx context.Context, in *domain.InboundContext, id extract.SenderIdentity) []domain.ConversationEntry {
	if strings.TrimSpace(in.TextBody) == "" {
		return nil
	}

	if p.completer != nil {
		if entries, ok := p.parseLLM(ctx, in); ok {
			return entries
		}
	}
	return []domain.ConversationEntry{p.syntheticEntry(in, id)}
}

func (p *Parser) parseLLM(ctx context.Context, in *domain.InboundContext) ([]domain.ConversationEntry, bool) {
	var verdict parseVerdict
	user := fmt.Sprintf("From: %s\nDate: %s\n\nBody:\n%s",
		in.FromRaw,
		domain.FormatSenderTime(in.ReceivedAt, p.loc),
		in.TextBody,
	)
	if err := p.completer.CompleteJSON(ctx, parseSystemPrompt, user, &verdict); err != nil {
		if err != llm.ErrDisabled {
			p.logger.Warn("conversation parse llm call failed", zap.Error(err))
		}
		return nil, false
	}

	entries := verdict.Entries[:0:0]
	for _, entry := range verdict.Entries {
		if strings.TrimSpace(entry.Content) == "" {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

// syntheticEntry wraps the whole body as a single entry from the sender.
func (p *Parser) syntheticEntry(in *domain.InboundContext, id extract.SenderIdentity) domain.ConversationEntry {
	name := strings.TrimSpace(id.FirstName + " " + id.LastName)
	if name == "" {
		name = in.FromAddr
	}
	return domain.ConversationEntry{
		SenderEmail:    in.FromAddr,
		SenderName:     name,
		SenderDatetime: domain.FormatSenderTime(in.ReceivedAt, p.loc),
		Content:        strings.TrimSpace(in.TextBody),
		Order:          1,
	}
}
