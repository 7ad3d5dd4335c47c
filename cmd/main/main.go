package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dashboard-sync/src/config"
	"dashboard-sync/src/logger"
)

func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger
	appLogger := logger.NewLogger(conf, conf.Name)

	// 4. Setup Components
	app := setupApp(conf.MConfig, appLogger)

	// 5. Lifecycle Management
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Start Servers, Stream and Scheduler
	if err := startServers(ctx, app, conf.MConfig, appLogger); err != nil {
		appLogger.Critical("Startup failed: %v", err)
	}

	<-ctx.Done()
	appLogger.Info("Shutting down...")
	app.shutdown()
	appLogger.Info("Shutdown complete.")
}
