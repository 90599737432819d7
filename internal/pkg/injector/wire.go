//go:build wireinject
// +build wireinject

package injector

import (
	"github.com/google/wire"
	"github.com/lk2023060901/glacier-archiver/internal/conf"
	"github.com/lk2023060901/glacier-archiver/internal/data"
	"github.com/lk2023060901/glacier-archiver/internal/pkg/logger"
)

// ProviderSet is the Wire provider set for all dependencies
var ProviderSet = wire.NewSet(
	// Data layer
	data.NewData,

	// Use cases
	provideArchiver,

	// Services
	provideScheduler,

	newApp,
)

// InitializeApp creates a new App with all dependencies injected
func InitializeApp(config *conf.Config, log *logger.Logger) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
