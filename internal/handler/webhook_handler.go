package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"go.uber.org/zap"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type ReplyIngestor interface {
	IngestSMS(ctx context.Context, cb provider.SMSCallback)
	IngestEmailEvent(ctx context.Context, event *provider.EmailEvent)
}

// WebhookHandler acknowledges every provider callback so providers never retry.
type WebhookHandler struct {
	ingestor ReplyIngestor
	logger   *zap.Logger
}

func NewWebhookHandler(ingestor ReplyIngestor, logger *zap.Logger) (*WebhookHandler, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("reply ingestor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{ingestor: ingestor, logger: logger}, nil
}

func RegisterWebhookRoutes(router fiber.Router, ingestor ReplyIngestor, logger *zap.Logger) error {
	h, err := NewWebhookHandler(ingestor, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/webhooks")
	v1.Post("/sms", h.SMSReply)
	v1.Post("/email", h.EmailEvent)

	return nil
}

func (h *WebhookHandler) SMSReply(c *fiber.Ctx) error {
	var cb provider.SMSCallback
	if err := c.BodyParser(&cb); err != nil {
		h.logger.Warn("unreadable sms callback", zap.Error(err))
	} else {
		h.ingestor.IngestSMS(c.Context(), cb)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextXMLCharsetUTF8)
	return c.Status(fiber.StatusOK).SendString(emptyTwiML)
}

func (h *WebhookHandler) EmailEvent(c *fiber.Ctx) error {
	event, err := provider.ParseEmailEvent(c.Body())
	if err != nil {
		h.logger.Warn("unreadable email event", zap.Error(err))
	} else {
		h.ingestor.IngestEmailEvent(c.Context(), event)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "received"})
}
