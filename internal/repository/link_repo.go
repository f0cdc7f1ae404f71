package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TrackedLinkRepository interface {
	GetOrCreateByDestination(ctx context.Context, destinationURL string) (*domain.TrackedLink, error)
	GetByID(ctx context.Context, id string) (*domain.TrackedLink, error)
	CreateSendLink(ctx context.Context, link *domain.SendTrackedLink) error
	GetSendLinkByShortCode(ctx context.Context, code string) (*domain.SendTrackedLink, error)
	RecordClick(ctx context.Context, linkID string, blastID string, at time.Time) error
}

type GormTrackedLinkRepo struct {
	db *gorm.DB
}

func NewGormTrackedLinkRepo(db *gorm.DB) *GormTrackedLinkRepo {
	return &GormTrackedLinkRepo{db: db}
}

// GetOrCreateByDestination returns the single link row for a destination URL.
func (r *GormTrackedLinkRepo) GetOrCreateByDestination(ctx context.Context, destinationURL string) (*domain.TrackedLink, error) {
	model := &TrackedLinkModel{
		ID:             uuid.NewString(),
		DestinationURL: destinationURL,
		CreatedAt:      time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "destination_url"}},
			DoNothing: true,
		}).
		Create(model).Error
	if err != nil {
		return nil, err
	}

	return r.takeOne(r.db.WithContext(ctx).Where("destination_url = ?", destinationURL))
}

func (r *GormTrackedLinkRepo) GetByID(ctx context.Context, id string) (*domain.TrackedLink, error) {
	return r.takeOne(r.db.WithContext(ctx).Where("id = ?", id))
}

// CreateSendLink stores a minted short link. A taken short code comes back
// as ErrConflict so the caller can draw another one.
func (r *GormTrackedLinkRepo) CreateSendLink(ctx context.Context, link *domain.SendTrackedLink) error {
	if err := link.Validate(); err != nil {
		return err
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(sendTrackedLinkModelFromDomain(link))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: short code %s is taken", domain.ErrConflict, link.ShortCode)
	}
	return nil
}

func (r *GormTrackedLinkRepo) GetSendLinkByShortCode(ctx context.Context, code string) (*domain.SendTrackedLink, error) {
	var model SendTrackedLinkModel
	err := r.db.WithContext(ctx).Where("short_code = ?", code).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return sendTrackedLinkModelToDomain(&model), nil
}

// RecordClick bumps the link hit counter and the blast click counter in one transaction.
func (r *GormTrackedLinkRepo) RecordClick(ctx context.Context, linkID string, blastID string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&TrackedLinkModel{}).
			Where("id = ?", linkID).
			Updates(map[string]any{
				"hit_count":   gorm.Expr("hit_count + 1"),
				"last_hit_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrLinkNotFound
		}

		if blastID == "" {
			return nil
		}
		result = tx.Model(&BlastModel{}).
			Where("id = ?", blastID).
			Updates(map[string]any{
				"clicks":     gorm.Expr("clicks + 1"),
				"updated_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *GormTrackedLinkRepo) takeOne(query *gorm.DB) (*domain.TrackedLink, error) {
	var model TrackedLinkModel
	err := query.Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return trackedLinkModelToDomain(&model), nil
}
