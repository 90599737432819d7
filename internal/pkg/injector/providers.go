package injector

import (
	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/service"
	"github.com/lk2023060901/glacier-archiver/internal/conf"
	"github.com/lk2023060901/glacier-archiver/internal/data"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
)

func provideArchiver(config *conf.Config, d *data.Data, log *logger.Logger) (*biz.Archiver, error) {
	return biz.NewArchiver(config.ArchiverConfig(), d.Workspace, d.Store, d.Locks, d.Pool, log)
}

func provideScheduler(config *conf.Config, archiver *biz.Archiver, log *logger.Logger) *service.Scheduler {
	return service.NewScheduler(archiver, progress.NewLogReporter(log), config.Scheduler, log)
}
