package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"deriflow/config"
	"deriflow/instrument"
	"deriflow/logger"
	"deriflow/orders"
	"deriflow/ringbuf"
	"deriflow/session"
	"deriflow/strategy"
	"deriflow/subscription"
	"deriflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Deriflow.Name,
		"version": cfg.Deriflow.Version,
	}).Info("starting deriflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Metrics.Namespace)
		logger.StartMetricsPublisher(ctx, cfg.Metrics.Interval)
	}

	registry, err := instrument.NewRegistry(cfg.Record.InstrumentMapFile)
	if err != nil {
		log.WithError(err).Error("failed to load instrument registry")
		os.Exit(1)
	}

	strat := strategy.Empty{}
	var tracker *orders.Tracker
	if cfg.Subscriptions.OwnOrders || len(cfg.Validation.Currencies) > 0 {
		tracker = orders.NewTracker(strat, 0)
	}

	handlers := make([]subscription.Handler, 0, 4)

	orderBook, err := subscription.NewOrderBook(cfg, registry, strat)
	if err != nil {
		log.WithError(err).Error("failed to create order book handler")
		os.Exit(1)
	}
	handlers = append(handlers, orderBook)

	if cfg.Subscriptions.Trades {
		trades, err := subscription.NewTrades(cfg, registry, strat)
		if err != nil {
			log.WithError(err).Error("failed to create trades handler")
			os.Exit(1)
		}
		handlers = append(handlers, trades)
	}

	if cfg.Subscriptions.OwnOrders {
		ownOrders, err := subscription.NewOwnOrders(cfg, registry, tracker)
		if err != nil {
			log.WithError(err).Error("failed to create own orders handler")
			os.Exit(1)
		}
		handlers = append(handlers, ownOrders)
	}

	if len(cfg.Subscriptions.PortfolioCurrencies) > 0 {
		portfolio, err := subscription.NewPortfolio(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create portfolio handler")
			os.Exit(1)
		}
		handlers = append(handlers, portfolio)
	}

	buffers := make([]*ringbuf.RingBatchBuffer, 0, len(handlers))
	for _, h := range handlers {
		if buf := h.Buffer(); buf != nil {
			buffers = append(buffers, buf)
		}
	}

	var batchWriter *writer.Writer
	if cfg.Storage.S3.Enabled && len(buffers) > 0 {
		sink, err := writer.NewParquetS3Sink(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 sink")
			os.Exit(1)
		}
		batchWriter = writer.NewWriter(sink, buffers)
		if err := batchWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping writer")
	}

	sess := session.NewSession(cfg, handlers, tracker, strat)
	if err := sess.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start session")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	// session flushes partial slots and closes the buffers; the writer
	// then drains the closed channels before stopping
	log.Info("stopping session")
	sess.Stop()

	if batchWriter != nil {
		log.Info("stopping writer")
		done := make(chan struct{})
		go func() {
			batchWriter.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			log.Warn("graceful shutdown timeout exceeded")
		}
	}

	log.Info("deriflow stopped")
}
