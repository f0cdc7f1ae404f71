package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createRepliesAndAttemptsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_replies_and_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ReplyModel{}, &repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_replies_blast_received ON replies (blast_id, received_at DESC) WHERE blast_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_blast ON delivery_attempts (blast_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{}, &repository.ReplyModel{})
		},
	}
}
