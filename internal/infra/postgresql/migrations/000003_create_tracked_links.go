package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createTrackedLinksTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_tracked_links",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TrackedLinkModel{}, &repository.SendTrackedLinkModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracked_links_destination ON tracked_links (destination_url)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_send_tracked_links_short_code ON send_tracked_links (short_code)`,
				`CREATE INDEX IF NOT EXISTS idx_send_tracked_links_link ON send_tracked_links (tracked_link_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SendTrackedLinkModel{}, &repository.TrackedLinkModel{})
		},
	}
}
