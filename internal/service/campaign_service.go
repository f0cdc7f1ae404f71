package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const maxSmartlistsPerCampaign = 50

// Caller identifies the user and domain behind a request.
type Caller struct {
	UserID   string
	DomainID string
}

// SendOutcome is what a send request reports back.
// Accepted is true when the dispatch was queued instead of run inline; BlastID
// then names the blast the worker will fill.
type SendOutcome struct {
	Accepted bool
	BlastID  string
	Result   *DispatchResult
}

type CampaignService struct {
	campaigns  repository.CampaignRepository
	blasts     *BlastAccumulator
	dispatcher *Dispatcher
	publisher  queue.Publisher
	async      bool
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewCampaignService wires campaign management. With async set, sends are
// published for the dispatch worker; otherwise they run inline.
func NewCampaignService(
	campaigns repository.CampaignRepository,
	blasts *BlastAccumulator,
	dispatcher *Dispatcher,
	publisher queue.Publisher,
	async bool,
	logger *zap.Logger,
) (*CampaignService, error) {
	switch {
	case campaigns == nil:
		return nil, fmt.Errorf("campaign repository is required")
	case blasts == nil:
		return nil, fmt.Errorf("blast accumulator is required")
	case async && publisher == nil:
		return nil, fmt.Errorf("publisher is required for async dispatch")
	case !async && dispatcher == nil:
		return nil, fmt.Errorf("dispatcher is required for sync dispatch")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns:  campaigns,
		blasts:     blasts,
		dispatcher: dispatcher,
		publisher:  publisher,
		async:      async,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *CampaignService) Create(ctx context.Context, caller Caller, campaign *domain.Campaign) (*domain.Campaign, error) {
	now := s.now().UTC()
	campaign.ID = uuid.NewString()
	campaign.UserID = strings.TrimSpace(caller.UserID)
	campaign.DomainID = strings.TrimSpace(caller.DomainID)
	campaign.Name = strings.TrimSpace(campaign.Name)
	campaign.Subject = strings.TrimSpace(campaign.Subject)
	campaign.IsHidden = false
	campaign.CreatedAt = now
	campaign.UpdatedAt = now
	if campaign.Schedule != nil {
		start := campaign.Schedule.StartAt
		campaign.Schedule.NextRunAt = &start
	}

	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return campaign, nil
}

// Get returns a campaign owned by the caller's domain.
func (s *CampaignService) Get(ctx context.Context, caller Caller, id string) (*domain.Campaign, error) {
	return ownedCampaign(ctx, s.campaigns, caller, id)
}

func ownedCampaign(ctx context.Context, campaigns repository.CampaignRepository, caller Caller, id string) (*domain.Campaign, error) {
	campaign, err := campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !campaign.OwnedBy(caller.DomainID) {
		return nil, fmt.Errorf("%w: campaign %s", domain.ErrForbidden, id)
	}
	return campaign, nil
}

// Edit changes text fields. Text stays editable after a blast exists.
func (s *CampaignService) Edit(ctx context.Context, caller Caller, id string, edit domain.CampaignEdit) (*domain.Campaign, error) {
	campaign, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	edit.Apply(campaign)
	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if err := s.campaigns.UpdateText(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}
	campaign.UpdatedAt = s.now().UTC()
	return campaign, nil
}

func (s *CampaignService) Hide(ctx context.Context, caller Caller, id string) error {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return err
	}
	return s.campaigns.Hide(ctx, id)
}

// SetSmartlists replaces the recipient sources. Sources are frozen once a
// blast has delivered at least one send.
func (s *CampaignService) SetSmartlists(ctx context.Context, caller Caller, id string, smartlistIDs []string) ([]string, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	if len(smartlistIDs) > maxSmartlistsPerCampaign {
		return nil, fmt.Errorf("%w: at most %d smartlists per campaign", domain.ErrValidation, maxSmartlistsPerCampaign)
	}

	latest, err := s.blasts.LatestBlast(ctx, id)
	switch {
	case err == nil && latest.Sends > 0:
		return nil, fmt.Errorf("%w: smartlists cannot change after the campaign was sent", domain.ErrValidation)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	unique := make([]string, 0, len(smartlistIDs))
	seen := make(map[string]struct{}, len(smartlistIDs))
	for _, raw := range smartlistIDs {
		smartlistID := strings.TrimSpace(raw)
		if smartlistID == "" {
			return nil, fmt.Errorf("%w: smartlist id must not be empty", domain.ErrValidation)
		}
		if _, ok := seen[smartlistID]; ok {
			continue
		}
		seen[smartlistID] = struct{}{}
		unique = append(unique, smartlistID)
	}

	if err := s.campaigns.ReplaceSmartlists(ctx, id, unique); err != nil {
		return nil, fmt.Errorf("failed to replace smartlists: %w", err)
	}
	return unique, nil
}

// Schedule sets a recurring send window; the first run is the window start.
func (s *CampaignService) Schedule(ctx context.Context, caller Caller, id string, schedule domain.Schedule) (*domain.Campaign, error) {
	campaign, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if schedule.EndAt != nil && !schedule.EndAt.After(now) {
		return nil, fmt.Errorf("%w: schedule already ended", domain.ErrValidation)
	}
	nextRun := schedule.StartAt
	schedule.NextRunAt = &nextRun

	if err := s.campaigns.SetSchedule(ctx, id, &schedule); err != nil {
		return nil, fmt.Errorf("failed to schedule campaign: %w", err)
	}
	campaign.Schedule = &schedule
	return campaign, nil
}

// Unschedule removes future runs. An in-flight dispatch is not interrupted.
func (s *CampaignService) Unschedule(ctx context.Context, caller Caller, id string) error {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return err
	}
	return s.campaigns.SetSchedule(ctx, id, nil)
}

// Send dispatches the campaign now.
func (s *CampaignService) Send(ctx context.Context, caller Caller, id string) (*SendOutcome, error) {
	campaign, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if s.async {
		correlationID, _ := observability.CorrelationIDFromContext(ctx)
		msg := queue.DispatchMessage{
			CampaignID:    campaign.ID,
			BlastID:       uuid.NewString(),
			Channel:       campaign.Channel,
			Trigger:       queue.TriggerManual,
			RequestedBy:   caller.UserID,
			CorrelationID: correlationID,
		}
		if err := s.publisher.Publish(ctx, queue.QueueName(campaign.Channel), msg); err != nil {
			s.metrics.IncDispatchJob(string(queue.TriggerManual), "publish_error")
			return nil, fmt.Errorf("failed to publish dispatch: %w", err)
		}
		s.metrics.IncDispatchJob(string(queue.TriggerManual), "queued")
		return &SendOutcome{Accepted: true, BlastID: msg.BlastID}, nil
	}

	result, err := s.dispatcher.Dispatch(ctx, campaign.ID)
	s.metrics.IncDispatchJob(string(queue.TriggerManual), dispatchOutcome(err))
	if err != nil {
		return &SendOutcome{Result: result}, err
	}
	return &SendOutcome{Result: result}, nil
}

func dispatchOutcome(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, domain.ErrNoRecipientSource), errors.Is(err, domain.ErrNoValidRecipient):
		return "no_recipients"
	default:
		return "error"
	}
}
