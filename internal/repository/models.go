package repository

import (
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID                string            `gorm:"type:uuid;primaryKey"`
	UserID            string            `gorm:"type:varchar(64);not null;index"`
	DomainID          string            `gorm:"type:varchar(64);not null;index"`
	Channel           domain.Channel    `gorm:"type:varchar(10);not null"`
	Name              string            `gorm:"type:varchar(255);not null"`
	Subject           string            `gorm:"type:varchar(255)"`
	BodyText          string            `gorm:"type:text"`
	BodyHTML          string            `gorm:"type:text"`
	ScheduleStartAt   *time.Time        `gorm:"type:timestamptz"`
	ScheduleEndAt     *time.Time        `gorm:"type:timestamptz"`
	ScheduleFrequency *domain.Frequency `gorm:"type:varchar(10)"`
	NextRunAt         *time.Time        `gorm:"type:timestamptz"`
	IsHidden          bool              `gorm:"not null;default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// CampaignSmartlistModel links a campaign to one smart list.
type CampaignSmartlistModel struct {
	CampaignID  string `gorm:"type:uuid;primaryKey"`
	SmartlistID string `gorm:"type:varchar(64);primaryKey"`
	CreatedAt   time.Time
}

func (CampaignSmartlistModel) TableName() string {
	return "campaign_smartlists"
}

// BlastModel is the persistence model for blasts.
type BlastModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	CampaignID string    `gorm:"type:uuid;not null"`
	Sends      int       `gorm:"not null;default:0"`
	Opens      int       `gorm:"not null;default:0"`
	Clicks     int       `gorm:"not null;default:0"`
	Bounces    int       `gorm:"not null;default:0"`
	Complaints int       `gorm:"not null;default:0"`
	Replies    int       `gorm:"not null;default:0"`
	SentAt     time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt  time.Time
}

func (BlastModel) TableName() string {
	return "blasts"
}

// SendModel is the persistence model for sends. (blast_id, candidate_id) is unique.
type SendModel struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	BlastID           string         `gorm:"type:uuid;not null"`
	CampaignID        string         `gorm:"type:uuid;not null"`
	CandidateID       string         `gorm:"type:varchar(64);not null"`
	Channel           domain.Channel `gorm:"type:varchar(10);not null"`
	RecipientEndpoint string         `gorm:"type:varchar(255);not null"`
	ProviderMessageID *string        `gorm:"type:varchar(255)"`
	IsBounced         bool           `gorm:"not null;default:false"`
	IsComplaint       bool           `gorm:"not null;default:false"`
	SentAt            time.Time      `gorm:"type:timestamptz;not null"`
}

func (SendModel) TableName() string {
	return "sends"
}

// TrackedLinkModel is the persistence model for tracked_links.
type TrackedLinkModel struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	DestinationURL string     `gorm:"type:text;not null"`
	HitCount       int        `gorm:"not null;default:0"`
	LastHitAt      *time.Time `gorm:"type:timestamptz"`
	CreatedAt      time.Time
}

func (TrackedLinkModel) TableName() string {
	return "tracked_links"
}

// SendTrackedLinkModel holds the short link minted for one send. short_code is unique.
type SendTrackedLinkModel struct {
	SendID        string          `gorm:"type:uuid;primaryKey"`
	TrackedLinkID string          `gorm:"type:uuid;primaryKey"`
	Kind          domain.LinkKind `gorm:"type:varchar(16);primaryKey"`
	ShortCode     string          `gorm:"type:varchar(16);not null"`
	RedirectURL   string          `gorm:"type:text;not null"`
	SourceURL     string          `gorm:"type:text;not null"`
	CreatedAt     time.Time
}

func (SendTrackedLinkModel) TableName() string {
	return "send_tracked_links"
}

// ReplyModel is the persistence model for inbound provider events.
type ReplyModel struct {
	ID                string           `gorm:"type:uuid;primaryKey"`
	BlastID           *string          `gorm:"type:uuid"`
	SendID            *string          `gorm:"type:uuid"`
	CandidateID       *string          `gorm:"type:varchar(64)"`
	Kind              domain.ReplyKind `gorm:"type:varchar(16);not null"`
	FromEndpoint      string           `gorm:"type:varchar(255);not null;default:''"`
	ToEndpoint        string           `gorm:"type:varchar(255);not null;default:''"`
	Body              string           `gorm:"type:text;not null;default:''"`
	ProviderMessageID *string          `gorm:"type:varchar(255)"`
	IsOrphan          bool             `gorm:"not null;default:false"`
	ReceivedAt        time.Time        `gorm:"type:timestamptz;not null"`
}

func (ReplyModel) TableName() string {
	return "replies"
}

// DeliveryAttemptModel is the persistence model for failed provider calls.
type DeliveryAttemptModel struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	BlastID           string `gorm:"type:uuid;not null"`
	CandidateID       string `gorm:"type:varchar(64);not null"`
	RecipientEndpoint string `gorm:"type:varchar(255);not null"`
	StatusCode        *int   `gorm:"type:int"`
	Error             string `gorm:"type:text;not null"`
	CreatedAt         time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	m := &CampaignModel{
		ID:        c.ID,
		UserID:    c.UserID,
		DomainID:  c.DomainID,
		Channel:   c.Channel,
		Name:      c.Name,
		Subject:   c.Subject,
		BodyText:  c.BodyText,
		BodyHTML:  c.BodyHTML,
		IsHidden:  c.IsHidden,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if s := c.Schedule; s != nil {
		start := s.StartAt
		freq := s.Frequency
		m.ScheduleStartAt = &start
		m.ScheduleEndAt = s.EndAt
		m.ScheduleFrequency = &freq
		m.NextRunAt = s.NextRunAt
	}
	return m
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	c := &domain.Campaign{
		ID:        m.ID,
		UserID:    m.UserID,
		DomainID:  m.DomainID,
		Channel:   m.Channel,
		Name:      m.Name,
		Subject:   m.Subject,
		BodyText:  m.BodyText,
		BodyHTML:  m.BodyHTML,
		IsHidden:  m.IsHidden,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ScheduleStartAt != nil && m.ScheduleFrequency != nil {
		c.Schedule = &domain.Schedule{
			StartAt:   *m.ScheduleStartAt,
			EndAt:     m.ScheduleEndAt,
			Frequency: *m.ScheduleFrequency,
			NextRunAt: m.NextRunAt,
		}
	}
	return c
}

func blastModelFromDomain(b *domain.Blast) *BlastModel {
	if b == nil {
		return nil
	}

	return &BlastModel{
		ID:         b.ID,
		CampaignID: b.CampaignID,
		Sends:      b.Sends,
		Opens:      b.Opens,
		Clicks:     b.Clicks,
		Bounces:    b.Bounces,
		Complaints: b.Complaints,
		Replies:    b.Replies,
		SentAt:     b.SentAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func blastModelToDomain(m *BlastModel) *domain.Blast {
	if m == nil {
		return nil
	}

	return &domain.Blast{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		Sends:      m.Sends,
		Opens:      m.Opens,
		Clicks:     m.Clicks,
		Bounces:    m.Bounces,
		Complaints: m.Complaints,
		Replies:    m.Replies,
		SentAt:     m.SentAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func sendModelFromDomain(s *domain.Send) *SendModel {
	if s == nil {
		return nil
	}

	return &SendModel{
		ID:                s.ID,
		BlastID:           s.BlastID,
		CampaignID:        s.CampaignID,
		CandidateID:       s.CandidateID,
		Channel:           s.Channel,
		RecipientEndpoint: s.RecipientEndpoint,
		ProviderMessageID: s.ProviderMessageID,
		IsBounced:         s.IsBounced,
		IsComplaint:       s.IsComplaint,
		SentAt:            s.SentAt,
	}
}

func sendModelToDomain(m *SendModel) *domain.Send {
	if m == nil {
		return nil
	}

	return &domain.Send{
		ID:                m.ID,
		BlastID:           m.BlastID,
		CampaignID:        m.CampaignID,
		CandidateID:       m.CandidateID,
		Channel:           m.Channel,
		RecipientEndpoint: m.RecipientEndpoint,
		ProviderMessageID: m.ProviderMessageID,
		IsBounced:         m.IsBounced,
		IsComplaint:       m.IsComplaint,
		SentAt:            m.SentAt,
	}
}

func trackedLinkModelToDomain(m *TrackedLinkModel) *domain.TrackedLink {
	if m == nil {
		return nil
	}

	return &domain.TrackedLink{
		ID:             m.ID,
		DestinationURL: m.DestinationURL,
		HitCount:       m.HitCount,
		LastHitAt:      m.LastHitAt,
		CreatedAt:      m.CreatedAt,
	}
}

func sendTrackedLinkModelFromDomain(l *domain.SendTrackedLink) *SendTrackedLinkModel {
	return &SendTrackedLinkModel{
		SendID:        l.SendID,
		TrackedLinkID: l.TrackedLinkID,
		Kind:          l.Kind,
		ShortCode:     l.ShortCode,
		RedirectURL:   l.RedirectURL,
		SourceURL:     l.SourceURL,
		CreatedAt:     l.CreatedAt,
	}
}

func sendTrackedLinkModelToDomain(m *SendTrackedLinkModel) *domain.SendTrackedLink {
	return &domain.SendTrackedLink{
		SendID:        m.SendID,
		TrackedLinkID: m.TrackedLinkID,
		Kind:          m.Kind,
		ShortCode:     m.ShortCode,
		RedirectURL:   m.RedirectURL,
		SourceURL:     m.SourceURL,
		CreatedAt:     m.CreatedAt,
	}
}

func replyModelFromDomain(r *domain.Reply) *ReplyModel {
	if r == nil {
		return nil
	}

	return &ReplyModel{
		ID:                r.ID,
		BlastID:           r.BlastID,
		SendID:            r.SendID,
		CandidateID:       r.CandidateID,
		Kind:              r.Kind,
		FromEndpoint:      r.FromEndpoint,
		ToEndpoint:        r.ToEndpoint,
		Body:              r.Body,
		ProviderMessageID: r.ProviderMessageID,
		IsOrphan:          r.IsOrphan,
		ReceivedAt:        r.ReceivedAt,
	}
}

func replyModelToDomain(m *ReplyModel) *domain.Reply {
	if m == nil {
		return nil
	}

	return &domain.Reply{
		ID:                m.ID,
		BlastID:           m.BlastID,
		SendID:            m.SendID,
		CandidateID:       m.CandidateID,
		Kind:              m.Kind,
		FromEndpoint:      m.FromEndpoint,
		ToEndpoint:        m.ToEndpoint,
		Body:              m.Body,
		ProviderMessageID: m.ProviderMessageID,
		IsOrphan:          m.IsOrphan,
		ReceivedAt:        m.ReceivedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:                a.ID,
		BlastID:           a.BlastID,
		CandidateID:       a.CandidateID,
		RecipientEndpoint: a.RecipientEndpoint,
		StatusCode:        a.StatusCode,
		Error:             a.Error,
		CreatedAt:         a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:                m.ID,
		BlastID:           m.BlastID,
		CandidateID:       m.CandidateID,
		RecipientEndpoint: m.RecipientEndpoint,
		StatusCode:        m.StatusCode,
		Error:             m.Error,
		CreatedAt:         m.CreatedAt,
	}
}
