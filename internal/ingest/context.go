// Package ingest normalizes decoded webhook fields into the per-request
// context record the pipeline works on.
package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/pkg/util"
)

// Envelope is the gateway's SMTP envelope field, delivered as JSON.
type Envelope struct {
	To   []string `json:"to"`
	From string   `json:"from"`
}

// BuildContext assembles a context record from the decoded field map.
// `to` and `from` are required; everything else is optional.
func BuildContext(fields map[string]string, receivedAt time.Time) (*domain.InboundContext, error) {
	from, okFrom := fields["from"]
	to, okTo := fields["to"]
	if !okFrom || !okTo || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return nil, util.NewInputError("missing required to/from fields", nil)
	}

	ctx := &domain.InboundContext{
		Subject:          fields["subject"],
		TextBody:         fields["text"],
		FromRaw:          from,
		FromAddr:         ExtractAddr(from),
		ToAddr:           ExtractAddr(to),
		HeadersBlob:      fields["headers"],
		SPF:              fields["SPF"],
		DKIM:             fields["dkim"],
		SenderIP:         fields["sender_ip"],
		EnvelopeRaw:      fields["envelope"],
		ReceivedAt:       receivedAt.UTC(),
		ProcessingStatus: "received",
	}

	ctx.MessageID = ExtractMessageID(ctx.HeadersBlob)

	if raw, ok := fields["attachments"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			ctx.HasAttachments = true
			ctx.AttachmentCount = n
		}
	}

	return ctx, nil
}

// ExtractAddr pulls the addr-spec out of a raw From/To value: the last
// <...> pair when present, otherwise the value itself with quotes stripped.
// The result is lowercased.
func ExtractAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if open := strings.LastIndexByte(raw, '<'); open >= 0 {
		if close := strings.IndexByte(raw[open:], '>'); close > 0 {
			return strings.ToLower(strings.TrimSpace(raw[open+1 : open+close]))
		}
	}
	return strings.ToLower(strings.Trim(raw, `"' `))
}

// ExtractDisplayName returns the display-name portion of a raw From value,
// or empty when the value is a bare addr-spec.
func ExtractDisplayName(raw string) string {
	raw = strings.TrimSpace(raw)
	open := strings.LastIndexByte(raw, '<')
	if open <= 0 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(raw[:open]), `"'`)
}

// ExtractMessageID scans a headers blob for the Message-Id header,
// case-insensitively, returning the sentinel "unknown" when absent.
func ExtractMessageID(headers string) string {
	for _, line := range strings.Split(headers, "\n") {
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, "message-id:") {
			continue
		}
		value := strings.TrimSpace(line[len("message-id:"):])
		if value != "" {
			return value
		}
	}
	return domain.UnknownMessageID
}

// ExtractHeader returns the first value of the named header in the blob,
// case-insensitively, or empty.
func ExtractHeader(headers, name string) string {
	prefix := strings.ToLower(name) + ":"
	for _, line := range strings.Split(headers, "\n") {
		if strings.HasPrefix(strings.ToLower(line), prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

// ConversationHeaders filters the blob down to the lines that tie a thread
// together (Message-Id, In-Reply-To, References). When none are present the
// full blob is returned so nothing is lost.
func ConversationHeaders(headers string) string {
	var kept []string
	for _, line := range strings.Split(headers, "\n") {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "message-id:") ||
			strings.HasPrefix(lower, "in-reply-to:") ||
			strings.HasPrefix(lower, "references:") {
			kept = append(kept, strings.TrimRight(line, "\r"))
		}
	}
	if len(kept) == 0 {
		return headers
	}
	return strings.Join(kept, "\n")
}

// ParseEnvelope decodes the gateway's envelope JSON. A malformed envelope
// yields the zero value, never an error; the field is advisory.
func ParseEnvelope(raw string) Envelope {
	var env Envelope
	if raw == "" {
		return env
	}
	_ = json.Unmarshal([]byte(raw), &env)
	return env
}
