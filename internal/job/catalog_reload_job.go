package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/scenesearch/internal/catalog"
)

type CatalogReloader interface {
	Reload(ctx context.Context, key string) (*catalog.LoadReport, error)
}

// CatalogReloadJob re-reads the configured catalog so edits in the file store go
// live without a restart.
type CatalogReloadJob struct {
	reloader CatalogReloader
	key      string
}

func NewCatalogReloadJob(reloader CatalogReloader, key string) *CatalogReloadJob {
	return &CatalogReloadJob{reloader: reloader, key: key}
}

func (j *CatalogReloadJob) Name() string {
	return "catalog_reload"
}

func (j *CatalogReloadJob) Run(ctx context.Context) error {
	if j.reloader == nil {
		return nil
	}
	report, err := j.reloader.Reload(ctx, j.key)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("catalog reloaded",
		zap.String("source", report.Source),
		zap.Int("loaded", report.Loaded),
		zap.Int("skipped", len(report.Skipped)),
	)
	return nil
}
