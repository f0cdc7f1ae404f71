package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ListParams pages reporting queries.
type ListParams struct {
	Page     int
	PageSize int
}

func (p ListParams) normalize() (offset int, limit int) {
	page := max(p.Page, 1)
	limit = p.PageSize
	if limit < 1 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	return (page - 1) * limit, limit
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	UpdateText(ctx context.Context, c *domain.Campaign) error
	Hide(ctx context.Context, id string) error
	SetSchedule(ctx context.Context, id string, schedule *domain.Schedule) error
	GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	ClaimScheduledRun(ctx context.Context, id string, dueAt time.Time, next *time.Time) (bool, error)
	ReplaceSmartlists(ctx context.Context, campaignID string, smartlistIDs []string) error
	ListSmartlistIDs(ctx context.Context, campaignID string) ([]string, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	model := campaignModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *campaignModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ? AND is_hidden = ?", id, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormCampaignRepo) UpdateText(ctx context.Context, c *domain.Campaign) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"name":       c.Name,
			"subject":    c.Subject,
			"body_text":  c.BodyText,
			"body_html":  c.BodyHTML,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCampaignRepo) Hide(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND is_hidden = ?", id, false).
		Updates(map[string]any{
			"is_hidden":   true,
			"next_run_at": nil,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetSchedule replaces the schedule; a nil schedule unschedules the campaign.
func (r *GormCampaignRepo) SetSchedule(ctx context.Context, id string, schedule *domain.Schedule) error {
	updates := map[string]any{
		"schedule_start_at":  nil,
		"schedule_end_at":    nil,
		"schedule_frequency": nil,
		"next_run_at":        nil,
		"updated_at":         time.Now().UTC(),
	}
	if schedule != nil {
		updates["schedule_start_at"] = schedule.StartAt
		updates["schedule_end_at"] = schedule.EndAt
		updates["schedule_frequency"] = schedule.Frequency
		updates["next_run_at"] = schedule.NextRunAt
	}

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND is_hidden = ?", id, false).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCampaignRepo) GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("is_hidden = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", false, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}
	return campaigns, nil
}

// ClaimScheduledRun moves next_run_at forward only if it still equals dueAt,
// so concurrent schedulers dispatch each run once.
func (r *GormCampaignRepo) ClaimScheduledRun(ctx context.Context, id string, dueAt time.Time, next *time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND next_run_at = ?", id, dueAt).
		Updates(map[string]any{
			"next_run_at": next,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormCampaignRepo) ReplaceSmartlists(ctx context.Context, campaignID string, smartlistIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", campaignID).Delete(&CampaignSmartlistModel{}).Error; err != nil {
			return err
		}
		if len(smartlistIDs) == 0 {
			return nil
		}

		now := time.Now().UTC()
		links := make([]CampaignSmartlistModel, 0, len(smartlistIDs))
		for _, id := range smartlistIDs {
			links = append(links, CampaignSmartlistModel{CampaignID: campaignID, SmartlistID: id, CreatedAt: now})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	})
}

func (r *GormCampaignRepo) ListSmartlistIDs(ctx context.Context, campaignID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&CampaignSmartlistModel{}).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Pluck("smartlist_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
