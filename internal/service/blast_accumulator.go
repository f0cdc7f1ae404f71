package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
)

// BlastAccumulator owns every counter write on blasts. Deltas are applied by
// the store in a single increment statement, so concurrent callers do not
// lose updates.
type BlastAccumulator struct {
	blasts repository.BlastRepository
	now    func() time.Time
}

func NewBlastAccumulator(blasts repository.BlastRepository) (*BlastAccumulator, error) {
	if blasts == nil {
		return nil, fmt.Errorf("blast repository is required")
	}
	return &BlastAccumulator{blasts: blasts, now: time.Now}, nil
}

// Start creates the zero-valued blast of a new dispatch attempt.
func (a *BlastAccumulator) Start(ctx context.Context, campaignID string) (*domain.Blast, error) {
	return a.create(ctx, uuid.NewString(), campaignID, domain.BlastDelta{})
}

// Resume returns blast blastID, creating it for campaignID on first use.
// An empty blastID starts a new blast.
func (a *BlastAccumulator) Resume(ctx context.Context, campaignID string, blastID string) (*domain.Blast, error) {
	if blastID == "" {
		return a.Start(ctx, campaignID)
	}

	blast, err := a.blasts.GetByID(ctx, blastID)
	if errors.Is(err, domain.ErrNotFound) {
		blast, err = a.create(ctx, blastID, campaignID, domain.BlastDelta{})
		if err != nil {
			// A concurrent delivery of the same job may have created it.
			if existing, getErr := a.blasts.GetByID(ctx, blastID); getErr == nil {
				blast, err = existing, nil
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blast %s: %w", blastID, err)
	}
	if blast.CampaignID != campaignID {
		return nil, fmt.Errorf("%w: blast %s belongs to campaign %s", domain.ErrConflict, blastID, blast.CampaignID)
	}
	return blast, nil
}

// Apply adds delta to an existing blast.
func (a *BlastAccumulator) Apply(ctx context.Context, blastID string, delta domain.BlastDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}
	if err := a.blasts.ApplyDelta(ctx, blastID, delta); err != nil {
		return fmt.Errorf("failed to update blast %s: %w", blastID, err)
	}
	return nil
}

// Upsert adds delta to the campaign's latest blast, creating one seeded with
// delta when the campaign has none yet.
func (a *BlastAccumulator) Upsert(ctx context.Context, campaignID string, delta domain.BlastDelta) (*domain.Blast, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}

	latest, err := a.blasts.Latest(ctx, campaignID)
	if errors.Is(err, domain.ErrNotFound) {
		return a.create(ctx, uuid.NewString(), campaignID, delta)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest blast: %w", err)
	}

	if err := a.Apply(ctx, latest.ID, delta); err != nil {
		return nil, err
	}
	delta.Add(latest)
	return latest, nil
}

// LatestBlast returns the most recently sent blast of a campaign.
func (a *BlastAccumulator) LatestBlast(ctx context.Context, campaignID string) (*domain.Blast, error) {
	return a.blasts.Latest(ctx, campaignID)
}

func (a *BlastAccumulator) create(ctx context.Context, id string, campaignID string, seed domain.BlastDelta) (*domain.Blast, error) {
	now := a.now().UTC()
	blast := &domain.Blast{
		ID:         id,
		CampaignID: campaignID,
		SentAt:     now,
		UpdatedAt:  now,
	}
	seed.Add(blast)

	if err := a.blasts.Create(ctx, blast); err != nil {
		return nil, fmt.Errorf("failed to create blast: %w", err)
	}
	return blast, nil
}
