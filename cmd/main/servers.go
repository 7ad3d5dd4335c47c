package main

import (
	"context"

	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"
)

// -----------------------------------------------------------------------------

// startServers orchestrates the startup of all server components
func startServers(ctx context.Context, a *app, config *models.MConfig, appLogger *logger.Logger) error {

	// 1. Dashboard server
	go func() {
		if err := a.server.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// 2. gRPC health
	if config.GrpcPort != 0 {
		if _, err := a.health.Listen(config.GrpcHost, config.GrpcPort); err != nil {
			return err
		}
		go func() {
			if err := a.health.Serve(); err != nil {
				appLogger.Error("gRPC health server failed: %v", err)
			}
		}()
	}

	// 3. Push stream
	if a.stream != nil {
		a.stream.Start(ctx)
	}

	// 4. Poll scheduler
	a.scheduler.Start(ctx)
	return nil
}

// -----------------------------------------------------------------------------

// shutdown stops producers before consumers.
func (a *app) shutdown() {
	a.scheduler.Stop()
	if a.stream != nil {
		a.stream.Stop()
	}
	_ = a.server.Stop()
	a.health.Stop()
}
