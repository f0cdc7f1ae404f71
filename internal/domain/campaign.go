package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel is the delivery medium of a campaign.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

// EndpointKind returns the contact endpoint a recipient must have for this channel.
func (c Channel) EndpointKind() EndpointKind {
	switch c {
	case ChannelEmail:
		return EndpointEmail
	case ChannelSMS, ChannelPush:
		return EndpointMobilePhone
	}
	return ""
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Frequency controls how often a scheduled campaign repeats.
type Frequency string

const (
	FrequencyOnce    Frequency = "ONCE"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

func (f Frequency) String() string { return string(f) }

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

func ParseFrequencyFromString(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("%w: invalid frequency %q", ErrValidation, s)
	}
	return f, nil
}

// Next returns the run following from, or nil when the schedule does not repeat.
func (f Frequency) Next(from time.Time) *time.Time {
	var next time.Time
	switch f {
	case FrequencyDaily:
		next = from.AddDate(0, 0, 1)
	case FrequencyWeekly:
		next = from.AddDate(0, 0, 7)
	case FrequencyMonthly:
		next = from.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &next
}

// Content limits per channel (in characters).
const (
	MaxSMSBody   = 1600
	MaxPushBody  = 240
	MaxEmailBody = 100000
)

// Campaign is a reusable message definition owned by one user within one domain.
type Campaign struct {
	ID        string
	UserID    string
	DomainID  string
	Channel   Channel
	Name      string
	Subject   string
	BodyText  string
	BodyHTML  string
	Schedule  *Schedule
	IsHidden  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule is the optional recurring send window of a campaign.
type Schedule struct {
	StartAt   time.Time
	EndAt     *time.Time
	Frequency Frequency
	NextRunAt *time.Time
}

func (s *Schedule) Validate() error {
	if s == nil {
		return nil
	}
	if s.StartAt.IsZero() {
		return fmt.Errorf("%w: schedule start is required", ErrValidation)
	}
	if !s.Frequency.IsValid() {
		return fmt.Errorf("%w: invalid frequency %q", ErrValidation, s.Frequency)
	}
	if s.EndAt != nil && !s.EndAt.After(s.StartAt) {
		return fmt.Errorf("%w: schedule end must be after start", ErrValidation)
	}
	return nil
}

// Within reports whether t falls inside the schedule window.
func (s *Schedule) Within(t time.Time) bool {
	if s == nil || t.Before(s.StartAt) {
		return false
	}
	return s.EndAt == nil || !t.After(*s.EndAt)
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.UserID) == "" || strings.TrimSpace(c.DomainID) == "" {
		return fmt.Errorf("%w: owner user and domain are required", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !c.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, c.Channel)
	}

	bodyLen := len([]rune(c.BodyText))
	switch c.Channel {
	case ChannelSMS:
		if bodyLen == 0 {
			return fmt.Errorf("%w: body is required", ErrValidation)
		}
		if bodyLen > MaxSMSBody {
			return fmt.Errorf("%w: SMS body exceeds %d characters (got %d)", ErrValidation, MaxSMSBody, bodyLen)
		}
	case ChannelPush:
		if bodyLen == 0 {
			return fmt.Errorf("%w: body is required", ErrValidation)
		}
		if bodyLen > MaxPushBody {
			return fmt.Errorf("%w: push body exceeds %d characters (got %d)", ErrValidation, MaxPushBody, bodyLen)
		}
	case ChannelEmail:
		if strings.TrimSpace(c.Subject) == "" {
			return fmt.Errorf("%w: email subject is required", ErrValidation)
		}
		if bodyLen == 0 && strings.TrimSpace(c.BodyHTML) == "" {
			return fmt.Errorf("%w: email needs a text or html body", ErrValidation)
		}
		if bodyLen > MaxEmailBody || len([]rune(c.BodyHTML)) > MaxEmailBody {
			return fmt.Errorf("%w: email body exceeds %d characters", ErrValidation, MaxEmailBody)
		}
	}

	return c.Schedule.Validate()
}

// OwnedBy reports whether the caller's domain owns the campaign.
func (c *Campaign) OwnedBy(domainID string) bool {
	return c != nil && c.DomainID == strings.TrimSpace(domainID)
}

// CampaignEdit carries the text fields that stay editable after a blast exists.
type CampaignEdit struct {
	Name     *string
	Subject  *string
	BodyText *string
	BodyHTML *string
}

func (e CampaignEdit) Apply(c *Campaign) {
	if e.Name != nil {
		c.Name = strings.TrimSpace(*e.Name)
	}
	if e.Subject != nil {
		c.Subject = strings.TrimSpace(*e.Subject)
	}
	if e.BodyText != nil {
		c.BodyText = *e.BodyText
	}
	if e.BodyHTML != nil {
		c.BodyHTML = *e.BodyHTML
	}
}
