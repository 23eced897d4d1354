package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/config"
	"github.com/arganhr/mailroom/pkg/util"
)

// initialDelay spaces the acknowledgment slightly away from the webhook
// response so the provider does not see both connections at once.
const initialDelay = 500 * time.Millisecond

// Sender delivers acknowledgments through the mail provider's HTTP API.
type Sender struct {
	http         *http.Client
	apiURL       string
	apiKey       string
	fromAddr     string
	fromName     string
	ccAddr       string
	retries      int
	baseDelay    time.Duration
	initialDelay time.Duration
	logger       *zap.Logger
}

// NewSender builds the sender from configuration.
func NewSender(cfg config.MailConfig, outbound config.OutboundConfig, fromName string, logger *zap.Logger) *Sender {
	return &Sender{
		http:         &http.Client{Timeout: cfg.Deadline()},
		apiURL:       cfg.APIURL,
		apiKey:       cfg.APIKey,
		fromAddr:     outbound.FromAddr,
		fromName:     fromName,
		ccAddr:       outbound.CCAddr,
		retries:      cfg.Retries,
		baseDelay:    cfg.BaseDelay(),
		initialDelay: initialDelay,
		logger:       logger,
	}
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailPersonalization struct {
	To []mailAddress `json:"to"`
	CC []mailAddress `json:"cc,omitempty"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailPayload struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	ReplyTo          *mailAddress          `json:"reply_to,omitempty"`
	Subject          string                `json:"subject"`
	Content          []mailContent         `json:"content"`
}

// Send delivers the acknowledgment to the recipient, retrying transient
// provider failures with growing delays. Any 2xx response is success.
func (s *Sender) Send(ctx context.Context, to string, ack Ack) error {
	to = strings.TrimSpace(to)
	if to == "" || !strings.Contains(to, "@") {
		return util.NewInputError(fmt.Sprintf("invalid recipient %q", to), nil)
	}

	if err := sleep(ctx, s.initialDelay); err != nil {
		return err
	}

	payload := s.buildPayload(to, ack)
	body, err := json.Marshal(payload)
	if err != nil {
		return util.NewFatalError("acknowledgment encode failed", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			// 2s, 4s, 6s with the default base delay.
			if err := sleep(ctx, time.Duration(attempt)*s.baseDelay); err != nil {
				return err
			}
			s.logger.Info("retrying acknowledgment send",
				zap.String("to", to),
				zap.Int("attempt", attempt+1),
			)
		}

		lastErr = s.post(ctx, body)
		if lastErr == nil {
			s.logger.Info("acknowledgment sent",
				zap.String("to", to),
				zap.String("subject", ack.Subject),
				zap.Int("attempts", attempt+1),
			)
			return nil
		}
		if !util.IsKind(lastErr, util.KindTransient) {
			return lastErr
		}
	}
	return lastErr
}

func (s *Sender) buildPayload(to string, ack Ack) mailPayload {
	personalization := mailPersonalization{To: []mailAddress{{Email: to}}}
	if s.ccAddr != "" {
		personalization.CC = []mailAddress{{Email: s.ccAddr}}
	}

	content := []mailContent{{Type: "text/plain", Value: ack.TextBody}}
	if ack.HTMLBody != "" {
		content = append(content, mailContent{Type: "text/html", Value: ack.HTMLBody})
	}

	return mailPayload{
		Personalizations: []mailPersonalization{personalization},
		From:             mailAddress{Email: s.fromAddr, Name: s.fromName},
		ReplyTo:          &mailAddress{Email: to, Name: "Original Sender"},
		Subject:          ack.Subject,
		Content:          content,
	}
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return util.NewFatalError("acknowledgment request build failed", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.http.Do(req)
	if err != nil {
		return util.NewTransientError("mail provider unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return util.NewTransientError(fmt.Sprintf("mail provider returned %d", resp.StatusCode), nil)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return util.NewFatalError(fmt.Sprintf("mail provider returned %d: %s", resp.StatusCode, msg), nil)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return util.NewTransientError("send interrupted", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
