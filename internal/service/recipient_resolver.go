package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/campaign-engine/internal/candidate"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// RecipientResolver turns a campaign's smart lists into addressable recipients.
type RecipientResolver struct {
	campaigns repository.CampaignRepository
	source    candidate.Source
	logger    *zap.Logger
}

func NewRecipientResolver(campaigns repository.CampaignRepository, source candidate.Source, logger *zap.Logger) (*RecipientResolver, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if source == nil {
		return nil, fmt.Errorf("candidate source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecipientResolver{
		campaigns: campaigns,
		source:    source,
		logger:    logger,
	}, nil
}

// Resolve returns one recipient per distinct candidate that has exactly one
// usable endpoint for the campaign channel and belongs to the campaign domain.
func (r *RecipientResolver) Resolve(ctx context.Context, campaign *domain.Campaign) ([]domain.Recipient, error) {
	smartlistIDs, err := r.campaigns.ListSmartlistIDs(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list smartlists: %w", err)
	}
	if len(smartlistIDs) == 0 {
		return nil, domain.ErrNoRecipientSource
	}

	kind := campaign.Channel.EndpointKind()
	seen := make(map[string]struct{})
	recipients := make([]domain.Recipient, 0)

	for _, smartlistID := range smartlistIDs {
		members, err := r.source.SmartlistCandidates(ctx, smartlistID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Error("failed to load smartlist, skipping",
				zap.String("campaignId", campaign.ID),
				zap.String("smartlistId", smartlistID),
				zap.Error(err),
			)
			continue
		}

		for _, member := range members {
			if _, dup := seen[member.ID]; dup || member.ID == "" {
				continue
			}
			seen[member.ID] = struct{}{}

			recipient, err := selectEndpoint(campaign, member, kind)
			if err != nil {
				r.logger.Warn("candidate excluded from dispatch",
					zap.String("campaignId", campaign.ID),
					zap.String("candidateId", member.ID),
					zap.String("reason", domain.CodeOf(err)),
				)
				continue
			}
			recipients = append(recipients, recipient)
		}
	}

	if len(recipients) == 0 {
		return nil, domain.ErrNoValidRecipient
	}
	return recipients, nil
}

func selectEndpoint(campaign *domain.Campaign, member domain.Candidate, kind domain.EndpointKind) (domain.Recipient, error) {
	if member.DomainID != campaign.DomainID {
		return domain.Recipient{}, fmt.Errorf("%w: candidate belongs to another domain", domain.ErrForbidden)
	}

	endpoints := member.UsableEndpoints(kind)
	switch len(endpoints) {
	case 0:
		return domain.Recipient{}, fmt.Errorf("%w: no usable %s endpoint", domain.ErrNoValidRecipient, kind)
	case 1:
		return domain.Recipient{CandidateID: member.ID, Endpoint: domain.NormalizeEndpoint(kind, endpoints[0].Value)}, nil
	default:
		return domain.Recipient{}, fmt.Errorf("%w: %d %s endpoints", domain.ErrAmbiguousRecipient, len(endpoints), kind)
	}
}
