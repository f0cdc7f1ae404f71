package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createBlastsAndSendsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_blasts_and_sends",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BlastModel{}, &repository.SendModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_blasts_campaign_sent ON blasts (campaign_id, sent_at DESC)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_sends_blast_candidate ON sends (blast_id, candidate_id)`,
				`CREATE INDEX IF NOT EXISTS idx_sends_campaign_sent ON sends (campaign_id, sent_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_sends_endpoint ON sends (channel, recipient_endpoint, sent_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_sends_provider_message_id ON sends (provider_message_id) WHERE provider_message_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SendModel{}, &repository.BlastModel{})
		},
	}
}
