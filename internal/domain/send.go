package domain

import "time"

// Send records one successful provider hand-off for one recipient within one blast.
type Send struct {
	ID                string
	BlastID           string
	CampaignID        string
	CandidateID       string
	Channel           Channel
	RecipientEndpoint string
	ProviderMessageID *string
	IsBounced         bool
	IsComplaint       bool
	SentAt            time.Time
}

// DeliveryAttempt records a provider call that did not produce a Send.
type DeliveryAttempt struct {
	ID                string
	BlastID           string
	CandidateID       string
	RecipientEndpoint string
	StatusCode        *int
	Error             string
	CreatedAt         time.Time
}

// ReplyKind classifies inbound provider events.
type ReplyKind string

const (
	ReplyKindSMS       ReplyKind = "SMS_REPLY"
	ReplyKindBounce    ReplyKind = "BOUNCE"
	ReplyKindComplaint ReplyKind = "COMPLAINT"
)

func (k ReplyKind) String() string { return string(k) }

// Reply is an inbound event correlated, when possible, to a Send.
// BlastID, SendID and CandidateID are nil for orphan events.
type Reply struct {
	ID                string
	BlastID           *string
	SendID            *string
	CandidateID       *string
	Kind              ReplyKind
	FromEndpoint      string
	ToEndpoint        string
	Body              string
	ProviderMessageID *string
	IsOrphan          bool
	ReceivedAt        time.Time
}
