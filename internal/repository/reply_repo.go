package repository

import (
	"context"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type ReplyRepository interface {
	Create(ctx context.Context, reply *domain.Reply) error
	ListByBlast(ctx context.Context, blastID string, params ListParams) ([]domain.Reply, int64, error)
	ListByCampaign(ctx context.Context, campaignID string, params ListParams) ([]domain.Reply, int64, error)
}

type GormReplyRepo struct {
	db *gorm.DB
}

func NewGormReplyRepo(db *gorm.DB) *GormReplyRepo {
	return &GormReplyRepo{db: db}
}

func (r *GormReplyRepo) Create(ctx context.Context, reply *domain.Reply) error {
	model := replyModelFromDomain(reply)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if reply != nil {
		*reply = *replyModelToDomain(model)
	}
	return nil
}

func (r *GormReplyRepo) ListByBlast(ctx context.Context, blastID string, params ListParams) ([]domain.Reply, int64, error) {
	return r.list(r.db.WithContext(ctx).Model(&ReplyModel{}).Where("blast_id = ?", blastID), params)
}

func (r *GormReplyRepo) ListByCampaign(ctx context.Context, campaignID string, params ListParams) ([]domain.Reply, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&ReplyModel{}).
		Where("blast_id IN (?)", r.db.Model(&BlastModel{}).Select("id").Where("campaign_id = ?", campaignID))
	return r.list(query, params)
}

func (r *GormReplyRepo) list(query *gorm.DB, params ListParams) ([]domain.Reply, int64, error) {
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := params.normalize()
	var models []ReplyModel
	err := query.
		Order("received_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	replies := make([]domain.Reply, 0, len(models))
	for i := range models {
		replies = append(replies, *replyModelToDomain(&models[i]))
	}
	return replies, total, nil
}
