package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/internal/dashboard"
	"mdfeed/internal/metrics"
	"mdfeed/internal/symbols"
	"mdfeed/logger"
	"mdfeed/models"
	"mdfeed/processor"
	"mdfeed/reader"
	"mdfeed/snapshot"
	"mdfeed/subscription"
	"mdfeed/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": env,
		"connection":  cfg.Feed.Connection,
	}).Info("starting mdfeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	metrics.Configure(cfg.Metrics)
	metricsAddr := ""
	if cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Address
	}
	metrics.Init(metricsAddr)
	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.CloudWatch.Region, cfg.CloudWatch.Namespace, cfg.CloudWatch.Dashboard,
			cfg.CloudWatch.AccessKeyID, cfg.CloudWatch.SecretAccessKey)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.PublishBuffer)
	defer channels.Close()

	if cfg.Metrics.ChannelSize {
		metrics.StartChannelSizeMetrics(ctx, channels, cfg.Metrics.ChannelSizeInterval)
	}

	registry := subscription.NewRegistry(subscription.WithName(cfg.Feed.Connection))
	table := symbols.NewTable()
	manager := snapshot.NewManager(registry)

	feedReader := reader.NewFeedReader(cfg.Feed, channels, registry)
	decoder := processor.NewDecoder(cfg.Feed.Connection, channels.Raw, registry, table)

	var kafkaWriter *writer.KafkaWriter
	if cfg.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg.Kafka, channels.Publish)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("kafka publishing disabled; skipping writer")
	}

	if err := openSnapshots(ctx, cfg, manager, table, channels, kafkaWriter != nil); err != nil {
		if config.IsProductionLike(env) {
			log.WithError(err).Error("failed to open configured snapshots")
			os.Exit(1)
		}
		log.WithError(err).Warn("some configured snapshots could not be opened")
	}
	if err := openSubscriptions(cfg, registry, table); err != nil {
		log.WithError(err).Error("failed to open configured subscriptions")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	if err := decoder.Start(ctx); err != nil {
		log.WithError(err).Error("decoder failed to start")
		os.Exit(1)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Error("kafka writer failed to start")
			os.Exit(1)
		}
	}
	if err := feedReader.Start(ctx); err != nil {
		log.WithError(err).Error("feed reader failed to start")
		os.Exit(1)
	}

	if cfg.Dashboard.Enabled {
		server, err := dashboard.NewServer(cfg.Dashboard, log)
		if err != nil {
			log.WithError(err).Error("failed to create dashboard")
			os.Exit(1)
		}
		server.SetSnapshotLister(manager)
		server.SetHealthFunc(feedReader.Connected)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx, cfg.App.Name); err != nil {
				log.WithError(err).Warn("dashboard server stopped")
			}
		}()
	}

	log.WithFields(logger.Fields{
		"snapshots":     manager.Len(),
		"subscriptions": registry.Len(),
		"symbols":       table.Len(),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		log.Info("stopping feed reader")
		feedReader.Stop()

		log.Info("stopping decoder")
		decoder.Stop()

		log.Info("closing snapshots and subscriptions")
		manager.CloseAll()
		registry.CloseAll()

		if kafkaWriter != nil {
			log.Info("stopping kafka writer")
			kafkaWriter.Stop()
		}

		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("mdfeed stopped")
}

// openSnapshots opens every configured snapshot. Entries that fail are
// logged and skipped; the first error is returned after all were tried.
func openSnapshots(ctx context.Context, cfg *config.Config, manager *snapshot.Manager, table *symbols.Table, channels *channel.Channels, publish bool) error {
	log := logger.GetLogger().WithComponent("main")

	entries, err := cfg.SnapshotEntries()
	if err != nil {
		return err
	}

	var publisher *writer.SnapshotPublisher
	if publish {
		publisher = writer.NewSnapshotPublisher(ctx, cfg.Feed.Connection, channels)
	}

	var firstErr error
	for _, entry := range entries {
		entryLog := log.WithFields(logger.Fields{
			"kind":   entry.Kind,
			"symbol": entry.Symbol,
			"source": entry.Source,
		})

		kind, err := entry.EventKind()
		if err == nil {
			var snap *snapshot.Snapshot
			snap, err = manager.Create(kind, table.Intern(entry.Symbol), entry.Source, entry.FromTime)
			if err == nil && entry.Publish && publisher != nil {
				err = snap.AddIncrementalListener(publisher)
			}
		}
		if err != nil {
			entryLog.WithError(err).Warn("failed to open snapshot")
			if firstErr == nil {
				firstErr = fmt.Errorf("snapshot %s/%s: %w", entry.Kind, entry.Symbol, err)
			}
			continue
		}
		entryLog.Info("snapshot opened")
	}
	return firstErr
}

// openSubscriptions opens the configured raw event subscriptions. Their
// batches are logged at debug level.
func openSubscriptions(cfg *config.Config, registry *subscription.Registry, table *symbols.Table) error {
	log := logger.GetLogger().WithComponent("subscription")

	for i, sc := range cfg.Subscriptions {
		mask, err := sc.KindMask()
		if err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		var flags subscription.Flags
		if sc.TimeSeries {
			flags |= subscription.FlagTimeSeries
		}
		if sc.SingleRecord {
			flags |= subscription.FlagSingleRecord
		}

		sub, err := registry.CreateSubscription(mask, flags, sc.FromTime)
		if err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		if len(sc.Sources) > 0 {
			if err := registry.SetSourceFilter(sub, sc.Sources...); err != nil {
				return fmt.Errorf("subscriptions[%d]: %w", i, err)
			}
		}

		subLog := log.WithFields(logger.Fields{"subscription_id": sub.ID(), "kinds": mask.String()})
		listener := subscription.NewListener(func(kind models.EventKind, symbol models.Symbol, records []models.Record, params models.EventParams) {
			subLog.WithFields(logger.Fields{
				"kind":    kind.String(),
				"symbol":  symbol.Name,
				"records": len(records),
				"flags":   params.Flags.String(),
			}).Debug("batch received")
		})
		if err := registry.AttachListener(sub, listener); err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		if err := registry.AddSymbols(sub, table.InternAll(sc.Symbols)...); err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		subLog.WithFields(logger.Fields{"symbols": len(sc.Symbols)}).Info("subscription opened")
	}
	return nil
}
