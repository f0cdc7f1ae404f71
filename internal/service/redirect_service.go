package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/activity"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/linktrack"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// RedirectVerifier checks signed redirect parameters.
type RedirectVerifier interface {
	Verify(p linktrack.RedirectParams) error
}

// RedirectService resolves tracked links and counts clicks.
type RedirectService struct {
	verifier    RedirectVerifier
	links       repository.TrackedLinkRepository
	sends       repository.SendRepository
	campaigns   repository.CampaignRepository
	accumulator *BlastAccumulator
	activities  activity.Recorder
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewRedirectService(
	verifier RedirectVerifier,
	links repository.TrackedLinkRepository,
	sends repository.SendRepository,
	campaigns repository.CampaignRepository,
	accumulator *BlastAccumulator,
	activities activity.Recorder,
	logger *zap.Logger,
) (*RedirectService, error) {
	switch {
	case verifier == nil:
		return nil, fmt.Errorf("redirect verifier is required")
	case links == nil:
		return nil, fmt.Errorf("tracked link repository is required")
	case sends == nil:
		return nil, fmt.Errorf("send repository is required")
	case campaigns == nil:
		return nil, fmt.Errorf("campaign repository is required")
	case accumulator == nil:
		return nil, fmt.Errorf("blast accumulator is required")
	}
	if activities == nil {
		activities = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedirectService{
		verifier:    verifier,
		links:       links,
		sends:       sends,
		campaigns:   campaigns,
		accumulator: accumulator,
		activities:  activities,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *RedirectService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Resolve verifies the request, counts the click and returns the destination URL.
func (s *RedirectService) Resolve(ctx context.Context, req linktrack.RedirectParams) (string, error) {
	if err := s.verifier.Verify(req); err != nil {
		return "", err
	}

	link, err := s.links.GetByID(ctx, req.LinkID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(link.DestinationURL) == "" {
		s.logger.Error("tracked link has no destination", zap.String("trackedLinkId", link.ID))
		return "", fmt.Errorf("%w: tracked link %s", domain.ErrEmptyDestination, link.ID)
	}

	send, err := s.signedSend(ctx, req)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	if send != nil {
		if err := s.links.RecordClick(ctx, link.ID, send.BlastID, now); err != nil {
			return "", fmt.Errorf("failed to record click: %w", err)
		}
	} else {
		// The send is gone; the hit goes to the signed campaign's latest blast.
		if err := s.links.RecordClick(ctx, link.ID, "", now); err != nil {
			return "", fmt.Errorf("failed to record click: %w", err)
		}
		if _, err := s.accumulator.Upsert(ctx, req.CampaignID, domain.BlastDelta{Clicks: 1}); err != nil {
			return "", err
		}
	}

	s.recordClickActivity(ctx, req.CampaignID, send)
	return link.DestinationURL, nil
}

// ResolveShortCode maps a short code to its signed redirect URL.
func (s *RedirectService) ResolveShortCode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", domain.ErrLinkNotFound
	}

	link, err := s.links.GetSendLinkByShortCode(ctx, code)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(link.RedirectURL) == "" {
		return "", fmt.Errorf("%w: short code %s has no redirect url", domain.ErrEmptyDestination, code)
	}
	return link.RedirectURL, nil
}

// signedSend loads the send named by the verified parameters. It returns nil
// when that send no longer exists or belongs to another campaign.
func (s *RedirectService) signedSend(ctx context.Context, req linktrack.RedirectParams) (*domain.Send, error) {
	send, err := s.sends.GetByID(ctx, req.SendID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("redirect names unknown send",
			zap.String("sendId", req.SendID),
			zap.String("trackedLinkId", req.LinkID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if send.CampaignID != req.CampaignID {
		s.logger.Warn("redirect send belongs to another campaign",
			zap.String("sendId", send.ID),
			zap.String("campaignId", req.CampaignID),
			zap.String("sendCampaignId", send.CampaignID),
		)
		return nil, nil
	}
	return send, nil
}

func (s *RedirectService) recordClickActivity(ctx context.Context, campaignID string, send *domain.Send) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		s.logger.Warn("click recorded for unknown campaign",
			zap.String("campaignId", campaignID),
			zap.Error(err),
		)
		return
	}

	params := map[string]any{"campaign_name": campaign.Name}
	if send != nil {
		params["candidate_id"] = send.CandidateID
	}

	s.metrics.IncLinkClick(strings.ToLower(campaign.Channel.String()))
	s.activities.Record(ctx, activity.Activity{
		UserID:      campaign.UserID,
		Type:        activity.ClickType(campaign.Channel),
		SourceID:    campaign.ID,
		SourceTable: "campaigns",
		Params:      params,
	})
}
