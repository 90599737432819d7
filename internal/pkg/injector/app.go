package injector

import (
	"github.com/lk2023060901/glacier-archiver/internal/archive/biz"
	"github.com/lk2023060901/glacier-archiver/internal/archive/service"
	"github.com/lk2023060901/glacier-archiver/internal/conf"
	"github.com/lk2023060901/glacier-archiver/internal/data"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
)

// App encapsulates all application dependencies
type App struct {
	Config    *conf.Config
	Logger    *logger.Logger
	Data      *data.Data
	Archiver  *biz.Archiver
	Scheduler *service.Scheduler
}

func newApp(config *conf.Config, log *logger.Logger, d *data.Data, archiver *biz.Archiver, scheduler *service.Scheduler) *App {
	return &App{
		Config:    config,
		Logger:    log,
		Data:      d,
		Archiver:  archiver,
		Scheduler: scheduler,
	}
}

// Stop stops the periodic jobs. Resources are released by the cleanup func returned from InitializeApp.
func (a *App) Stop() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
}
