package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// SMSCallback is an inbound SMS reply posted by the provider as a form.
type SMSCallback struct {
	From       string `form:"From"`
	To         string `form:"To"`
	Body       string `form:"Body"`
	MessageSID string `form:"MessageSid"`
}

func (c SMSCallback) Normalize() SMSCallback {
	return SMSCallback{
		From:       strings.TrimSpace(c.From),
		To:         strings.TrimSpace(c.To),
		Body:       c.Body,
		MessageSID: strings.TrimSpace(c.MessageSID),
	}
}

// Email notification types.
const (
	EmailEventBounce    = "Bounce"
	EmailEventComplaint = "Complaint"
	EmailEventDelivery  = "Delivery"

	BounceTypePermanent = "Permanent"
	BounceTypeTransient = "Transient"
)

// EmailEvent is a bounce, complaint or delivery notification for one sent message.
type EmailEvent struct {
	NotificationType string          `json:"notificationType"`
	Mail             emailEventMail  `json:"mail"`
	Bounce           *emailBounce    `json:"bounce,omitempty"`
	Complaint        *emailComplaint `json:"complaint,omitempty"`
}

type emailEventMail struct {
	MessageID   string   `json:"messageId"`
	Destination []string `json:"destination"`
}

type emailBounce struct {
	BounceType        string           `json:"bounceType"`
	BouncedRecipients []emailRecipient `json:"bouncedRecipients"`
}

type emailComplaint struct {
	ComplainedRecipients []emailRecipient `json:"complainedRecipients"`
}

type emailRecipient struct {
	EmailAddress string `json:"emailAddress"`
}

// notificationEnvelope wraps an event delivered through a pub/sub topic.
type notificationEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseEmailEvent accepts either a bare event or one wrapped in a topic envelope.
func ParseEmailEvent(body []byte) (*EmailEvent, error) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		body = []byte(envelope.Message)
	}

	var event EmailEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: invalid email event payload: %v", domain.ErrValidation, err)
	}
	if strings.TrimSpace(event.Mail.MessageID) == "" {
		return nil, fmt.Errorf("%w: email event has no message id", domain.ErrValidation)
	}
	return &event, nil
}

func (e *EmailEvent) MessageID() string {
	return strings.TrimSpace(e.Mail.MessageID)
}

func (e *EmailEvent) IsBounce() bool {
	return strings.EqualFold(e.NotificationType, EmailEventBounce)
}

func (e *EmailEvent) IsComplaint() bool {
	return strings.EqualFold(e.NotificationType, EmailEventComplaint)
}

func (e *EmailEvent) IsPermanentBounce() bool {
	return e.IsBounce() && e.Bounce != nil && strings.EqualFold(e.Bounce.BounceType, BounceTypePermanent)
}

// Recipients returns the addresses the event applies to.
func (e *EmailEvent) Recipients() []string {
	var recipients []emailRecipient
	switch {
	case e.IsBounce() && e.Bounce != nil:
		recipients = e.Bounce.BouncedRecipients
	case e.IsComplaint() && e.Complaint != nil:
		recipients = e.Complaint.ComplainedRecipients
	}

	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if addr := strings.TrimSpace(r.EmailAddress); addr != "" {
			out = append(out, addr)
		}
	}
	if len(out) == 0 {
		return append(out, e.Mail.Destination...)
	}
	return out
}
