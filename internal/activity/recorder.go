package activity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"go.uber.org/zap"
)

const defaultClientTimeout = 5 * time.Second

// Type names an entry of the activity feed.
type Type string

const (
	TypeCampaignSend Type = "CAMPAIGN_SEND"
	TypeSMSReply     Type = "CAMPAIGN_SMS_REPLY"
)

// SendType is the per-recipient send activity for a channel, e.g. CAMPAIGN_SMS_SEND.
func SendType(channel domain.Channel) Type {
	return Type(fmt.Sprintf("CAMPAIGN_%s_SEND", channel))
}

// ClickType is the tracked-link click activity for a channel, e.g. CAMPAIGN_EMAIL_CLICK.
func ClickType(channel domain.Channel) Type {
	return Type(fmt.Sprintf("CAMPAIGN_%s_CLICK", channel))
}

// Activity is one append-only audit entry.
type Activity struct {
	UserID      string         `json:"userId"`
	Type        Type           `json:"type"`
	SourceID    string         `json:"sourceId"`
	SourceTable string         `json:"sourceTable"`
	Params      map[string]any `json:"params,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Recorder appends activities to the audit feed.
type Recorder interface {
	Record(ctx context.Context, a Activity)
}

// Client posts activities to the activity service. Failures are logged and
// never returned: the audit feed must not break a send or a redirect.
type Client struct {
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	client := resty.New()
	client.SetTimeout(defaultClientTimeout)
	return NewClientWithResty(baseURL, client, logger)
}

func NewClientWithResty(baseURL string, client *resty.Client, logger *zap.Logger) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("activity service url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid activity service url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client.SetBaseURL(trimmed)

	return &Client{client: client, logger: logger, now: time.Now}, nil
}

func (c *Client) Record(ctx context.Context, a Activity) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = c.now().UTC()
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(a).
		Post("/v1/activities")
	if err != nil {
		c.logger.Warn("failed to record activity",
			zap.String("type", string(a.Type)),
			zap.String("sourceId", a.SourceID),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		c.logger.Warn("activity service rejected activity",
			zap.String("type", string(a.Type)),
			zap.String("sourceId", a.SourceID),
			zap.Int("statusCode", resp.StatusCode()),
		)
	}
}
