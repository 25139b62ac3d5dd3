package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thermoscope/internal/api"
	"thermoscope/internal/config"
	"thermoscope/internal/db"
	"thermoscope/internal/logging"
	"thermoscope/internal/monitor"
	"thermoscope/internal/report"
	"thermoscope/internal/sensor"
	"thermoscope/internal/statics"
	"thermoscope/internal/store"
	"thermoscope/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logging.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence is best-effort: an unreachable database must never keep
	// the WebSocket server from serving clients.
	var readingStore *store.Store
	bootCtx, bootCancel := context.WithTimeout(ctx, 20*time.Second)
	pool, err := db.Connect(bootCtx, cfg.DatabaseURL)
	if err != nil {
		logging.L().Warnf("database unavailable, history disabled: %v", err)
	} else {
		defer pool.Close()
		migrationsDir := os.Getenv("MIGRATIONS_DIR")
		if migrationsDir == "" {
			migrationsDir = "migrations"
		}
		if err := db.ApplyMigrations(bootCtx, pool, migrationsDir); err != nil {
			logging.L().Warnf("migrations failed, history disabled: %v", err)
		} else {
			readingStore = store.New(pool)
		}
	}
	bootCancel()

	registry := ws.NewRegistry(cfg.MaxClients)
	hub := ws.NewHub(registry)

	liveness := ws.NewLiveness(ws.LivenessConfig{
		Heartbeat:         cfg.HeartbeatInterval,
		Timeout:           cfg.ClientTimeout,
		Grace:             cfg.GracePeriod,
		KeepaliveEnabled:  cfg.KeepaliveEnabled,
		KeepaliveInterval: cfg.KeepaliveInterval,
		MinFreeMemory:     cfg.MinFreeMemory,
	}, registry, hub)
	go liveness.Run(ctx)

	driver := sensor.NewDriver(sensor.DriverConfig{
		Retries:     cfg.SensorRetries,
		MinInterval: cfg.SensorMinInterval,
	}, sensor.SimulatedProbe())

	var reporter monitor.Reporter
	if cfg.ReportEnabled {
		reporter = report.NewClient(report.Config{
			APIURL:   cfg.ReportAPIURL,
			APIKey:   cfg.ReportAPIKey,
			Interval: cfg.ReportInterval,
		})
	}

	var recorder monitor.Recorder
	if readingStore != nil {
		recorder = readingStore
	}
	engine := monitor.NewEngine(driver, hub, recorder, reporter, cfg.BroadcastInterval)
	engine.Start()

	wsServer := ws.NewServer(ws.ServerConfig{
		Addr:          cfg.WSAddr,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}, registry, hub, statics.Source{Dir: cfg.StaticDir})

	wsErr := make(chan error, 1)
	go func() {
		wsErr <- wsServer.ListenAndServe(ctx)
	}()

	adminServer := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      api.NewServer(registry, engine, readingStore).Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}
	go func() {
		logging.L().Infof("admin API listening on %s", cfg.AdminAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Errorf("admin listen and serve: %v", err)
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-signalCh:
		logging.L().Infof("shutdown signal received")
	case err := <-wsErr:
		if err != nil {
			logging.L().Errorf("websocket server: %v", err)
		}
	}

	engine.Stop()
	cancel()
	wsServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logging.L().Warnf("admin shutdown: %v", err)
	}
}
