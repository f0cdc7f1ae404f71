package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// Message is one rendered campaign message addressed to one recipient.
type Message struct {
	Channel     domain.Channel
	To          string
	Subject     string
	BodyText    string
	BodyHTML    string
	CampaignID  string
	CandidateID string
}

func (m Message) Validate() error {
	if !m.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, m.Channel)
	}
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient endpoint is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.BodyText) == "" && strings.TrimSpace(m.BodyHTML) == "" {
		return fmt.Errorf("%w: message body is required", domain.ErrValidation)
	}
	return nil
}

// Provider is the outbound message delivery port.
type Provider interface {
	Send(ctx context.Context, msg Message) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
