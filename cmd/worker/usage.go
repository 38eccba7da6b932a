package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/db"
	"github.com/vireopay/merchant-gateway/internal/kafka"
	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/repository"
	"github.com/vireopay/merchant-gateway/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Drain usage records from Kafka into ClickHouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		consumer := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Usage.Topic,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer func() { _ = consumer.Close() }()

		flusher := usage.NewFlusher(
			consumer,
			repository.NewCHUsageRepository(chDB),
			cfg.Usage.BatchSize,
			cfg.Usage.BatchWait,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf("usage worker: consuming %s", cfg.Usage.Topic)
		if err := flusher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
