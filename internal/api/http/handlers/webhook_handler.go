package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/arganhr/mailroom/internal/pipeline"
)

// WebhookHandler receives inbound-parse posts from the mail gateway.
type WebhookHandler struct {
	pipeline *pipeline.Pipeline
}

// NewWebhookHandler returns a new handler instance.
func NewWebhookHandler(p *pipeline.Pipeline) *WebhookHandler {
	return &WebhookHandler{pipeline: p}
}

// Inbound processes one webhook delivery. The raw body is handed to the
// pipeline untouched; gateways ship broken encodings that fiber's form
// parsing would mangle.
func (h *WebhookHandler) Inbound(c *fiber.Ctx) error {
	res, err := h.pipeline.Process(c.UserContext(), c.Body(), c.Get(fiber.HeaderContentType))
	if err != nil {
		return err
	}
	return c.SendString(res.Message)
}
