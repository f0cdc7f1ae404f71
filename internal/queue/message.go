package queue

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// Trigger says what started a dispatch.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

func (t Trigger) IsValid() bool {
	return t == TriggerManual || t == TriggerScheduled
}

// DispatchMessage is the broker payload asking a worker to blast one campaign.
// BlastID is fixed by the producer, so a redelivered job resumes its blast.
type DispatchMessage struct {
	CampaignID    string         `json:"campaignId"`
	BlastID       string         `json:"blastId,omitempty"`
	Channel       domain.Channel `json:"channel"`
	Trigger       Trigger        `json:"trigger"`
	RequestedBy   string         `json:"requestedBy,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if !m.Trigger.IsValid() {
		return fmt.Errorf("invalid trigger %q", m.Trigger)
	}
	if m.BlastID != "" {
		if _, err := uuid.Parse(m.BlastID); err != nil {
			return fmt.Errorf("invalid blastId %q", m.BlastID)
		}
	}
	return nil
}
