package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// Open creates the DocumentStore selected by cfg.Store.Backend. Call Validate on cfg first.
func Open(ctx context.Context, cfg *config.AppConfig, logger *logrus.Entry) (DocumentStore, error) {
	logger = logger.WithFields(logrus.Fields{"component": "store", "backend": cfg.Store.Backend})
	switch cfg.Store.Backend {
	case config.StoreBackendBadger, "":
		store, err := NewBadgerStore(config.GetEffectiveStoreDir(*cfg), logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreBackendMongo:
		store, err := NewMongoStore(ctx, cfg.Store.Mongo, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend '%s'", utils.ErrConfigValidation, cfg.Store.Backend)
	}
}

// Collections bundles the typed record collections used by the pipeline
type Collections struct {
	Collections    *Collection[models.CollectionRecord]
	SubCollections *Collection[models.SubCollectionRecord]
	Details        *Collection[models.DetailRecord]
	Downloads      *Collection[models.DownloadRecord]
}

// OpenCollections prepares every record collection named in cfg on store
func OpenCollections(ctx context.Context, store DocumentStore, cfg config.StoreConfig) (*Collections, error) {
	var (
		c   Collections
		err error
	)
	names := cfg.Collections
	if c.Collections, err = NewCollection[models.CollectionRecord](ctx, store, names.Collections, cfg.FindLimit); err != nil {
		return nil, err
	}
	if c.SubCollections, err = NewCollection[models.SubCollectionRecord](ctx, store, names.SubCollections, cfg.FindLimit); err != nil {
		return nil, err
	}
	if c.Details, err = NewCollection[models.DetailRecord](ctx, store, names.Details, cfg.FindLimit); err != nil {
		return nil, err
	}
	if c.Downloads, err = NewCollection[models.DownloadRecord](ctx, store, names.Downloads, cfg.FindLimit); err != nil {
		return nil, err
	}
	return &c, nil
}

// SetRun stamps run on every collection
func (c *Collections) SetRun(run int64) {
	c.Collections.SetRun(run)
	c.SubCollections.SetRun(run)
	c.Details.SetRun(run)
	c.Downloads.SetRun(run)
}
