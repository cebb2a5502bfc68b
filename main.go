package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketdash/config"
	"marketdash/internal/dashboard"
	"marketdash/internal/metrics"
	"marketdash/internal/reader/binance"
	"marketdash/internal/view"
	"marketdash/logger"
)

// klinesRequestWeight is the exchange weight of a klines call, the heaviest
// request issued per refresh.
const klinesRequestWeight = 2

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(logger.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		MaxAge:    cfg.Logging.MaxAge,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		Compress:  cfg.Logging.Compress,
	}); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	metrics.Configure(cfg.Metrics)

	env := config.AppEnvironment()
	if config.IsProductionLike(env) && cfg.Logging.Format == "text" {
		log.WithComponent("main").Warn("text log format configured for a production-like environment")
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"environment": env,
		"version":     cfg.App.Version,
		"symbols":     strings.Join(cfg.Binance.Symbols, ","),
	}).Info("starting marketdash")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if logger.IsReportLevel(cfg.Logging.Level) {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	var wg sync.WaitGroup

	var promHandler http.Handler
	if cfg.Metrics.Prometheus {
		prom := metrics.NewPrometheus()
		defer prom.Close()
		promHandler = prom.Handler()
	}

	if cfg.Metrics.CloudWatch.Enabled {
		cw, err := metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch, log)
		if err != nil {
			log.WithError(err).Error("failed to initialize cloudwatch metrics")
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.Run(ctx)
		}()
	} else {
		log.WithComponent("main").Info("CloudWatch metrics disabled")
	}

	rest := binance.NewRestClient(cfg.Binance.RestURL, cfg.Rest, log)
	if cfg.Metrics.UsedWeight {
		discoverCtx, discoverCancel := context.WithTimeout(ctx, cfg.Rest.Timeout)
		if _, err := rest.DiscoverWeightLimit(discoverCtx, klinesRequestWeight); err != nil {
			log.WithComponent("main").WithError(err).Warn("could not discover request weight limit; keeping configured rate")
		}
		discoverCancel()
	}

	loop := view.NewLoop(cfg.Presentation.MailboxSize)
	loop.Mailbox().StartMetricsReporting(ctx, 30*time.Second)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("presentation loop exited")
		}
	}()

	manager := dashboard.NewManager(cfg, loop, rest, log)
	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start dashboard")
		os.Exit(1)
	}

	server, err := dashboard.NewServer(cfg.Dashboard, log, manager, promHandler)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard server")
		os.Exit(1)
	}
	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Error("dashboard server stopped")
				cancel()
			}
		}()
	} else {
		log.WithComponent("main").Info("dashboard disabled; HTTP adapter not started")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
		log.Warn("context cancelled; shutting down")
	}

	log.Info("starting graceful shutdown")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := manager.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("failed to stop dashboard streams")
	}
	stopCancel()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("marketdash stopped")
}
