package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/browserwarden/warden/internal/config"
	"github.com/browserwarden/warden/internal/correlation"
	"github.com/browserwarden/warden/internal/logging"
	"github.com/browserwarden/warden/internal/monitor"
	"github.com/browserwarden/warden/internal/monitoring"
	"github.com/browserwarden/warden/internal/patterns"
	"github.com/browserwarden/warden/internal/report"
	"github.com/browserwarden/warden/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (overrides env)")
	addr := flag.String("addr", "", "Listen address, host:port (overrides config)")
	flag.Parse()

	cfg := loadConfig(*configPath)

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := monitoring.NewMetrics()
	library := buildLibrary(cfg, logger)

	fanout := report.NewFanout(logger, report.NewLogSink(logger))
	store := report.NewStore(0)
	fanout.Add(store)
	hub := report.NewHub(logger, metrics)
	fanout.Add(hub)

	var webhook *report.WebhookSink
	if cfg.Reporting.WebhookURL != "" {
		webhook = report.NewWebhookSink(cfg.Reporting.WebhookURL, logger)
		fanout.Add(webhook)
	}

	monitors := buildMonitors(library, logger, metrics, fanout)
	aggregator := correlation.New(correlation.Config{
		Window:  time.Duration(cfg.Correlation.WindowSeconds) * time.Second,
		MinKeys: cfg.Correlation.MinKeys,
		MinHits: cfg.Correlation.MinHits,
	}, metrics)
	tabs := correlation.NewTabWatcher(correlation.DefaultTabWatcherConfig())

	srv := server.New(server.Deps{
		Config:     cfg,
		Logger:     logger,
		Library:    library,
		Monitors:   monitors,
		Aggregator: aggregator,
		Tabs:       tabs,
		Hub:        hub,
		Fanout:     fanout,
		Store:      store,
		Metrics:    metrics,
	})

	listen := *addr
	if listen == "" {
		listen = cfg.Server.Host + ":" + cfg.Server.Port
	}

	logger.Info("warden starting",
		zap.String("addr", listen),
		zap.Int("monitors", len(monitors)),
		zap.Int("rules", library.RuleCount()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(listen); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if webhook != nil {
			webhook.Close()
		}
	case err := <-errChan:
		logger.Fatal("server error", zap.Error(err))
	}
}

func loadConfig(path string) *config.Config {
	if path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		return cfg
	}
	return config.LoadOrDefault()
}

// buildLibrary installs the built-in rule packs, then layers on-disk and
// remote packs over them. A missing rules directory is not fatal; the
// built-ins always apply.
func buildLibrary(cfg *config.Config, logger *logging.Logger) *patterns.Library {
	library := patterns.NewLibrary(cfg.Rules.CacheSize)

	if cfg.Rules.Dir != "" {
		if err := patterns.LoadDir(library, cfg.Rules.Dir, logger); err != nil {
			logger.Warn("rule directory load failed", zap.String("dir", cfg.Rules.Dir), zap.Error(err))
		}
	}
	if cfg.Rules.RemoteURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := patterns.FetchRemote(ctx, library, cfg.Rules.RemoteURL, logger); err != nil {
			logger.Warn("remote rule fetch failed", zap.String("url", cfg.Rules.RemoteURL), zap.Error(err))
		}
	}
	return library
}

func buildMonitors(
	library *patterns.Library,
	logger *logging.Logger,
	metrics *monitoring.Metrics,
	fanout *report.Fanout,
) map[string]*monitor.Monitor {
	opts := monitor.Options{
		Library: library,
		Logger:  logger,
		Metrics: metrics,
		Report:  fanout.Report,
	}

	constructors := []func(monitor.Options) *monitor.Monitor{
		monitor.NewXSS,
		monitor.NewSQLi,
		monitor.NewCSRF,
		monitor.NewDNSRebinding,
		monitor.NewClickjacking,
		monitor.NewFingerprinting,
		monitor.NewStorage,
		monitor.NewIndexedDB,
		monitor.NewResource,
		monitor.NewSession,
	}

	monitors := make(map[string]*monitor.Monitor, len(constructors))
	for _, build := range constructors {
		m := build(opts)
		monitors[m.Name()] = m
	}
	return monitors
}
