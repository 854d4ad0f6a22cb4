package app

import (
	"gorm.io/gorm"

	catalogrepo "github.com/yungbote/pricebook-backend/internal/data/repos/catalog"
	eventsrepo "github.com/yungbote/pricebook-backend/internal/data/repos/events"
	jobsrepo "github.com/yungbote/pricebook-backend/internal/data/repos/jobs"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

type Repos struct {
	Catalog catalogrepo.Store
	Jobs    jobsrepo.IngestionJobRepo
	Events  eventsrepo.GenerationEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger, cfg Config, clients Clients) Repos {
	log.Info("Wiring repos...")
	store := catalogrepo.NewGormStore(db, log, cfg.SnapshotTTL)
	if clients.Vector != nil {
		store = catalogrepo.NewIndexedStore(store, db, clients.Vector, log)
	}
	return Repos{
		Catalog: store,
		Jobs:    jobsrepo.NewIngestionJobRepo(db, log),
		Events:  eventsrepo.NewGenerationEventRepo(db, log),
	}
}
