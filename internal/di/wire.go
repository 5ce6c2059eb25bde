//go:build wireinject
// +build wireinject

package di

import (
	"DigitPilot/pkg/config"
	"DigitPilot/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvidePostgres,
		ProvideRedisCache,
		ProvideCacheService,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Venue connections
		ProvideStream,
		ProvideTickSource,
		ProvidePool,
		ProvideVenue,

		// Repositories
		ProvideSessionStore,
		ProvideContractStore,
		ProvideMemoryStore,
		ProvideSignalLocker,
		ProvideTickArchive,
		ProvideEventPublisher,

		// Archive path
		ProvideTickPipeline,
		ProvideTickArchiveHandler,

		// Domain services
		ProvideEvaluator,
		ProvideLearner,
		ProvideGuard,
		ProvideGuardPort,

		// Queue
		ProvideQueue,
		ProvideQueueService,

		// Use cases
		ProvideSnapshotCache,
		ProvideSessionGate,
		ProvideMonitor,
		ProvideOrchestrator,
		ProvideScheduler,
		ProvideSessionManager,
		ProvideBacktester,

		// HTTP and application server
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
