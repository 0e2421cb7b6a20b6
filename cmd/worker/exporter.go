package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/config"
	"github.com/xeo-systems/org-platform/internal/db"
	"github.com/xeo-systems/org-platform/internal/kafka"
	"github.com/xeo-systems/org-platform/internal/ledger"
	"github.com/xeo-systems/org-platform/internal/logger"
	"github.com/xeo-systems/org-platform/internal/metrics"
	"github.com/xeo-systems/org-platform/internal/repository"
	"github.com/xeo-systems/org-platform/internal/worker"
)

var exporterCmd = &cobra.Command{
	Use:   "exporter",
	Short: "Export settled usage events from Kafka into ClickHouse",
	RunE:  runExporter,
}

func runExporter(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	log := logger.L()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer func() { _ = chDB.Close() }()

	eventsRepo := repository.NewCHEventsRepository(chDB)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "orgpl-usage-exporter"
	}

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          ledger.UsageTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewExporter(consumer, eventsRepo, log)
	if cfg.Exporter.Workers > 0 {
		w.Workers = cfg.Exporter.Workers
	}
	if cfg.Exporter.BatchSize > 0 {
		w.BatchSize = cfg.Exporter.BatchSize
	}
	if cfg.Exporter.BatchWait > 0 {
		w.BatchWait = cfg.Exporter.BatchWait
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("exporter started",
		zap.String("topic", ledger.UsageTopic),
		zap.String("group", groupID),
		zap.Int("workers", w.Workers),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait))

	return w.Run(ctx)
}
