// Package main implements minerd, the SoloForge solo mining daemon. It
// connects to a chain node over JSON-RPC, runs the concurrent proof-of-work
// engine against the configured mining address, and reports telemetry to the
// optional storage and messaging backends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soloforge/soloforge/internal/config"
	"github.com/soloforge/soloforge/internal/database"
	"github.com/soloforge/soloforge/internal/database/influx"
	"github.com/soloforge/soloforge/internal/messaging"
	"github.com/soloforge/soloforge/internal/mining"
	"github.com/soloforge/soloforge/internal/node"
	"github.com/soloforge/soloforge/internal/telemetry"
	"github.com/soloforge/soloforge/internal/validation"
	"github.com/soloforge/soloforge/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting minerd",
		"version", cfg.Version,
		"network", cfg.Network,
		"node_host", cfg.NodeRPCHost,
		"node_port", cfg.NodeRPCPort,
		"threads", cfg.Threads,
	)

	if cfg.MiningAddress == "" {
		logger.Error("MINING_ADDRESS is required")
		os.Exit(1)
	}

	chainParams, err := node.ChainParams(cfg.Network)
	if err != nil {
		logger.WithError(err).Error("invalid network configuration")
		os.Exit(1)
	}
	validator := validation.NewAddressValidator(chainParams)

	// Optional storage backends
	var dbManager *database.Manager
	if cfg.PostgresEnabled || cfg.RedisEnabled || cfg.InfluxEnabled {
		dbCfg := &database.Config{}
		if cfg.PostgresEnabled {
			dbCfg.PostgresURL = cfg.PostgresURL
		}
		if cfg.RedisEnabled {
			dbCfg.RedisURL = cfg.RedisURL
		}
		if cfg.InfluxEnabled {
			dbCfg.Influx = &influx.Config{
				URL:    cfg.InfluxURL,
				Token:  cfg.InfluxToken,
				Org:    cfg.InfluxOrg,
				Bucket: cfg.InfluxBucket,
			}
		}

		dbManager, err = database.NewManager(dbCfg)
		if err != nil {
			logger.WithError(err).Error("failed to connect storage backends")
			os.Exit(1)
		}
		defer dbManager.Close()
	}

	// Optional Kafka publisher
	var kafkaClient *messaging.KafkaClient
	if cfg.KafkaEnabled {
		kafkaClient = messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
		defer kafkaClient.Close()
	}

	// Engine with node dialer bound to the RPC credentials
	dial := func(_ context.Context, _ string) (mining.NodeLink, error) {
		return node.NewRPCClient(cfg.NodeRPCHost, cfg.NodeRPCPort, cfg.NodeRPCUser, cfg.NodeRPCPassword, cfg.Network)
	}
	engine := mining.NewEngine(dial, validator.ValidateAddress, cfg.TemplatePollInterval, logger)

	reporter := telemetry.NewReporter(engine.Metrics, dbManager, kafkaClient,
		cfg.MiningAddress, cfg.Threads, cfg.StatsInterval, logger)
	engine.AddOutcomeSink(reporter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Log the stored mining history before the session starts.
	if dbManager != nil {
		summary := dbManager.Summarize(ctx, cfg.MiningAddress)
		logger.Info("stored mining history",
			"blocks_found", summary.BlocksFound,
			"accepted_blocks", summary.AcceptedBlocks,
			"avg_hashrate", summary.AvgHashrate,
			"hashrate_samples", summary.HashrateSamples,
		)
	}

	// Drain engine events into the structured log
	events, cancelEvents := engine.Events().Subscribe(256)
	defer cancelEvents()
	go drainEvents(events, logger)

	// Connect to the node
	nodeAddr := fmt.Sprintf("%s:%d", cfg.NodeRPCHost, cfg.NodeRPCPort)
	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	if _, err := engine.Connect(connectCtx, nodeAddr); err != nil {
		connectCancel()
		logger.WithError(err).Error("failed to connect to node")
		os.Exit(1)
	}
	connectCancel()
	reporter.PublishLifecycle(ctx, "connected", nodeAddr)

	// Optional ZMQ tip notifications, collapsing the staleness window between
	// poll ticks
	var notifier *node.TipNotifier
	if cfg.ZMQEnabled {
		notifier, err = node.NewTipNotifier(cfg.NodeZMQAddr, func(string) {
			engine.TemplateRefresh()
		}, logger)
		if err != nil {
			logger.WithError(err).Error("failed to create ZMQ notifier")
			os.Exit(1)
		}
		if err := notifier.Start(ctx); err != nil {
			logger.WithError(err).Error("failed to start ZMQ notifier")
			os.Exit(1)
		}
		defer notifier.Stop()
	}

	// Start mining
	start, err := engine.StartMining(ctx, cfg.MiningAddress, cfg.Threads, cfg.ThrottleInterval)
	if err != nil {
		logger.WithError(err).Error("failed to start mining")
		os.Exit(1)
	}
	logger.Info("mining session running",
		"mining_address", start.MiningAddress,
		"threads", start.Threads,
	)
	reporter.Start(ctx)
	reporter.PublishLifecycle(ctx, "mining_started", nodeAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	// Graceful shutdown: stop sampling, stop the session, drop the link
	reporter.Stop()

	stop, err := engine.StopMining(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to stop mining cleanly")
	} else {
		logger.Info("final session counters",
			"hashes_tried", stop.Final.HashesTried,
			"blocks_submitted", stop.Final.BlocksSubmitted,
			"blocks_accepted", stop.Final.BlocksAccepted,
		)
	}
	reporter.PublishLifecycle(ctx, "mining_stopped", nodeAddr)

	if err := engine.Disconnect(ctx); err != nil {
		logger.WithError(err).Error("failed to disconnect from node")
	}
	reporter.PublishLifecycle(ctx, "disconnected", nodeAddr)

	logger.Info("minerd stopped")
}

// drainEvents forwards engine activity entries to the structured log until
// the subscription is cancelled.
func drainEvents(events <-chan mining.LogEntry, logger *log.Logger) {
	eventLogger := logger.WithComponent("events")
	for entry := range events {
		switch entry.Level {
		case "error":
			eventLogger.Error(entry.Message)
		case "warn":
			eventLogger.Warn(entry.Message)
		default:
			eventLogger.Info(entry.Message)
		}
	}
}
