package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/domain/jobs"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// =========================
		// Catalog
		// =========================
		&catalog.CatalogItem{},

		// =========================
		// Ingestion jobs
		// =========================
		&jobs.IngestionJob{},

		// =========================
		// Generation events (SSE replay)
		// =========================
		&events.GenerationEvent{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
