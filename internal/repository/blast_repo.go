package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type BlastRepository interface {
	Create(ctx context.Context, b *domain.Blast) error
	GetByID(ctx context.Context, id string) (*domain.Blast, error)
	Latest(ctx context.Context, campaignID string) (*domain.Blast, error)
	ApplyDelta(ctx context.Context, id string, delta domain.BlastDelta) error
	ListByCampaign(ctx context.Context, campaignID string, params ListParams) ([]domain.Blast, int64, error)
}

type GormBlastRepo struct {
	db *gorm.DB
}

func NewGormBlastRepo(db *gorm.DB) *GormBlastRepo {
	return &GormBlastRepo{db: db}
}

func (r *GormBlastRepo) Create(ctx context.Context, b *domain.Blast) error {
	model := blastModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *blastModelToDomain(model)
	}
	return nil
}

func (r *GormBlastRepo) GetByID(ctx context.Context, id string) (*domain.Blast, error) {
	var model BlastModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blastModelToDomain(&model), nil
}

func (r *GormBlastRepo) Latest(ctx context.Context, campaignID string) (*domain.Blast, error) {
	var model BlastModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("sent_at DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blastModelToDomain(&model), nil
}

// ApplyDelta adds every non-zero counter in one UPDATE so concurrent callers never lose increments.
func (r *GormBlastRepo) ApplyDelta(ctx context.Context, id string, delta domain.BlastDelta) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	for column, value := range map[string]int{
		"sends":      delta.Sends,
		"opens":      delta.Opens,
		"clicks":     delta.Clicks,
		"bounces":    delta.Bounces,
		"complaints": delta.Complaints,
		"replies":    delta.Replies,
	} {
		if value != 0 {
			updates[column] = gorm.Expr(column+" + ?", value)
		}
	}

	result := r.db.WithContext(ctx).
		Model(&BlastModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBlastRepo) ListByCampaign(ctx context.Context, campaignID string, params ListParams) ([]domain.Blast, int64, error) {
	query := r.db.WithContext(ctx).Model(&BlastModel{}).Where("campaign_id = ?", campaignID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := params.normalize()
	var models []BlastModel
	err := query.
		Order("sent_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	blasts := make([]domain.Blast, 0, len(models))
	for i := range models {
		blasts = append(blasts, *blastModelToDomain(&models[i]))
	}
	return blasts, total, nil
}
