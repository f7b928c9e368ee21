//go:build wireinject
// +build wireinject

package di

import (
	"FinWindow/pkg/config"
	"FinWindow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application together with the
// cleanup that closes infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideHistoryStack,
		ProvideHistorySource,
		ProvideHistoryCache,
		ProvideWindowPublisher,

		// Use cases
		ProvideZoomLimiter,
		ProvideSessionRegistry,
		ProvideInvalidationHandler,

		// Transport
		ProvideWindowHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
