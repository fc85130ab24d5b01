package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/parleybot/parley/internal/cache"
	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/database"
	"github.com/parleybot/parley/internal/models"
	"github.com/parleybot/parley/internal/queue"
	"github.com/parleybot/parley/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewSweepCmd creates the sweep command, a one-shot pass over idle sessions.
func NewSweepCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Close idle sessions once",
		Long:  "Find active sessions idle past the timeout and close them. The server runs this periodically; use this for manual maintenance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			zapLogger := zap.NewNop()

			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer func() { _ = db.Close() }()

			redisClient, err := cache.NewClient(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer func() { _ = redisClient.Close() }()

			jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, zapLogger)
			if err != nil {
				return fmt.Errorf("connect to rabbitmq: %w", err)
			}
			defer func() { _ = jobQueue.Close() }()

			store := session.NewStore(
				database.NewSessionRepository(db),
				database.NewMessageRepository(db),
				cache.NewSessionCache(redisClient, models.DefaultSessionTimeout),
				jobQueue,
				zapLogger,
			)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			closed, err := store.SweepIdle(ctx, batchSize)
			if err != nil {
				return fmt.Errorf("sweep idle sessions: %w", err)
			}
			fmt.Printf("Closed %d idle session(s).\n", closed)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 100, "Maximum sessions to close in this pass")
	return cmd
}
