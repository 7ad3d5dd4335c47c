package main

import (
	"time"

	datasource "dashboard-sync/src/data_source"
	"dashboard-sync/src/grpc_control"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"
	"dashboard-sync/src/network"
	"dashboard-sync/src/observability"
	"dashboard-sync/src/registry"
	"dashboard-sync/src/scheduler"
	"dashboard-sync/src/server"
	"dashboard-sync/src/store"
	"dashboard-sync/src/stream"
)

// app holds every long-lived component so shutdown can walk them in order.
type app struct {
	state     *store.TradingState
	registry  *registry.SymbolRegistry
	scheduler *scheduler.PollScheduler
	stream    *stream.StreamClient
	server    *server.DashboardServer
	health    *grpc_control.HealthService
	metrics   *observability.Metrics
}

// -----------------------------------------------------------------------------

// setupApp builds and wires the components described by config.
func setupApp(config *models.MConfig, appLogger *logger.Logger) *app {
	a := &app{metrics: observability.NewMetrics("")}

	// Backend access
	nm := network.NewNetworkManager(&config.Backend, logger.NewLogger(config, "NetworkManager"))
	backend := network.NewBackendClient(&config.Backend, nm, logger.NewLogger(config, "BackendClient"))

	// State and watchlist
	a.state = store.NewTradingState(config.History.Cap, logger.NewLogger(config, "TradingState"))
	a.state.SetRecorder(a.metrics)

	a.registry = registry.NewSymbolRegistry(backend, config.Watchlist, logger.NewLogger(config, "SymbolRegistry"))
	a.registry.SetRecorder(a.metrics)

	// Gates
	provider := scheduler.NewReadinessGate(backend.Provider() != "")
	var market *scheduler.MarketHoursGate
	var readiness scheduler.Readiness = provider
	if config.Polling.MarketHoursOnly {
		market = scheduler.NewMarketHoursGate(a.registry.Symbols(), logger.NewLogger(config, "MarketHoursGate"))
		a.registry.OnChange(func([]models.MWatchlistItem) {
			market.UpdateSymbols(a.registry.Symbols())
		})
		readiness = scheduler.AllReady(provider, market)
	}
	appLogger.Info("Active provider: %q", backend.Provider())

	// Polling
	refresher := datasource.NewRefresher(backend, a.state, logger.NewLogger(config, "Refresher"))
	a.scheduler = scheduler.NewPollScheduler(scheduler.Config{
		Interval:        time.Duration(config.Polling.IntervalSeconds) * time.Second,
		PauseWhenHidden: config.Polling.PauseWhenHidden,
		RunOnStart:      true,
		Readiness:       readiness,
	}, refresher.Refresh, logger.NewLogger(config, "PollScheduler"))
	a.scheduler.SetRecorder(a.metrics)

	// Health
	a.health = grpc_control.NewHealthService(logger.NewLogger(config, "HealthService"))
	a.scheduler.OnResult(a.health.Observe)

	// Push stream
	deps := server.Deps{
		State:     a.state,
		Registry:  a.registry,
		Scheduler: a.scheduler,
		Source:    backend,
		Provider:  provider,
		Market:    market,
		Metrics:   a.metrics,
	}
	if config.Backend.StreamURL != "" {
		a.stream = stream.NewStreamClient(config.Backend.StreamURL, a.state, logger.NewLogger(config, "StreamClient"))
		a.stream.SetRecorder(a.metrics)
		deps.Stream = a.stream
	} else {
		appLogger.Info("No stream_url configured, quotes come from polling only")
	}

	a.server = server.NewDashboardServer(config, deps, logger.NewLogger(config, "DashboardServer"))
	return a
}
