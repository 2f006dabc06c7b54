package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tradewatch/tradewatch/internal/collector"
	"github.com/tradewatch/tradewatch/internal/common/config"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	"github.com/tradewatch/tradewatch/internal/events/bus"
	"github.com/tradewatch/tradewatch/internal/gateway/websocket"
	"github.com/tradewatch/tradewatch/internal/overview"
	"github.com/tradewatch/tradewatch/internal/overview/api"
	"github.com/tradewatch/tradewatch/internal/store"
	"github.com/tradewatch/tradewatch/internal/timeline"
	"github.com/tradewatch/tradewatch/internal/worker"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting dashboard backend...",
		zap.String("worker_base_url", cfg.Worker.BaseURL),
		zap.String("storage_dir", cfg.Storage.Dir))

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus (in-memory unless NATS is configured)
	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to connect event bus", zap.Error(err))
	}
	defer eventBus.Close()

	// 5. Open the storage directory (single-writer locked)
	st, err := store.Open(cfg.Storage.Dir, log)
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}
	defer st.Close()
	log.Info("Storage opened", zap.String("dir", cfg.Storage.Dir))

	// 6. Worker polling client and safety monitor
	client := worker.NewClient(cfg.Worker, log)
	monitor := worker.NewMonitor(client, eventBus, cfg.Worker, log)
	go monitor.Start(ctx)
	log.Info("Safety monitor started",
		zap.Duration("poll", cfg.Worker.PollPeriod()),
		zap.Duration("down_debounce", cfg.Worker.DownDebounce()))

	// 7. Telemetry collector and timeline aggregator
	coll := collector.New(cfg.Collector, cfg.Overview.CmdTimeout(), log)
	agg := timeline.NewAggregator(st, cfg.Collector.Project, log)

	// 8. Overview cache scheduler
	scheduler := overview.NewScheduler(coll, monitor, client, st, agg, eventBus, cfg, log)
	go scheduler.Start(ctx)
	log.Info("Overview scheduler started", zap.Duration("refresh", cfg.Overview.RefreshPeriod()))

	// 9. WebSocket hub bridging bus events to browsers
	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	if err := hub.AttachBus(eventBus); err != nil {
		log.Fatal("Failed to attach websocket hub to event bus", zap.Error(err))
	}

	// 10. HTTP router
	handler := api.NewHandler(scheduler, monitor, client, st, cfg, log)
	router := api.NewRouter(handler, hub.GinHandler(log), log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 11. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down dashboard backend...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Dashboard backend stopped")
}
