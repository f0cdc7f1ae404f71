package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SendRepository interface {
	Upsert(ctx context.Context, s *domain.Send) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Send, error)
	GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Send, error)
	LatestByEndpoint(ctx context.Context, channel domain.Channel, endpoint string) (*domain.Send, error)
	MarkBounced(ctx context.Context, id string) (bool, error)
	MarkComplaint(ctx context.Context, id string) (bool, error)
	ListByBlast(ctx context.Context, blastID string, params ListParams) ([]domain.Send, int64, error)
	CandidateIDsByBlast(ctx context.Context, blastID string) ([]string, error)
	ListByCampaign(ctx context.Context, campaignID string, params ListParams) ([]domain.Send, int64, error)
}

type GormSendRepo struct {
	db *gorm.DB
}

func NewGormSendRepo(db *gorm.DB) *GormSendRepo {
	return &GormSendRepo{db: db}
}

// Upsert inserts the send unless one already exists for (blast_id, candidate_id).
// It reports whether a new row was written and always leaves s holding the stored row.
func (r *GormSendRepo) Upsert(ctx context.Context, s *domain.Send) (bool, error) {
	model := sendModelFromDomain(s)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blast_id"}, {Name: "candidate_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		*s = *sendModelToDomain(model)
		return true, nil
	}

	var existing SendModel
	if err := r.db.WithContext(ctx).
		Where("blast_id = ? AND candidate_id = ?", s.BlastID, s.CandidateID).
		Take(&existing).Error; err != nil {
		return false, err
	}
	*s = *sendModelToDomain(&existing)
	return false, nil
}

func (r *GormSendRepo) GetByID(ctx context.Context, id string) (*domain.Send, error) {
	return r.takeOne(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GormSendRepo) GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Send, error) {
	return r.takeOne(r.db.WithContext(ctx).Where("provider_message_id = ?", providerMsgID))
}

func (r *GormSendRepo) LatestByEndpoint(ctx context.Context, channel domain.Channel, endpoint string) (*domain.Send, error) {
	return r.takeOne(r.db.WithContext(ctx).
		Where("channel = ? AND recipient_endpoint = ?", channel, endpoint).
		Order("sent_at DESC"))
}

// MarkBounced flags the send once; false means it was already flagged.
func (r *GormSendRepo) MarkBounced(ctx context.Context, id string) (bool, error) {
	return r.flagOnce(ctx, id, "is_bounced")
}

func (r *GormSendRepo) MarkComplaint(ctx context.Context, id string) (bool, error) {
	return r.flagOnce(ctx, id, "is_complaint")
}

func (r *GormSendRepo) ListByBlast(ctx context.Context, blastID string, params ListParams) ([]domain.Send, int64, error) {
	return r.list(r.db.WithContext(ctx).Model(&SendModel{}).Where("blast_id = ?", blastID), params)
}

// CandidateIDsByBlast lists the recipients the blast already reached.
func (r *GormSendRepo) CandidateIDsByBlast(ctx context.Context, blastID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&SendModel{}).
		Where("blast_id = ?", blastID).
		Pluck("candidate_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormSendRepo) ListByCampaign(ctx context.Context, campaignID string, params ListParams) ([]domain.Send, int64, error) {
	return r.list(r.db.WithContext(ctx).Model(&SendModel{}).Where("campaign_id = ?", campaignID), params)
}

func (r *GormSendRepo) flagOnce(ctx context.Context, id string, column string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&SendModel{}).
		Where("id = ? AND "+column+" = ?", id, false).
		Update(column, true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormSendRepo) takeOne(query *gorm.DB) (*domain.Send, error) {
	var model SendModel
	err := query.Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sendModelToDomain(&model), nil
}

func (r *GormSendRepo) list(query *gorm.DB, params ListParams) ([]domain.Send, int64, error) {
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := params.normalize()
	var models []SendModel
	err := query.
		Order("sent_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	sends := make([]domain.Send, 0, len(models))
	for i := range models {
		sends = append(sends, *sendModelToDomain(&models[i]))
	}
	return sends, total, nil
}
