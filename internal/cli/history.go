package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/relay/internal/core/config"
	"github.com/vietddude/relay/internal/core/domain"
	redisclient "github.com/vietddude/relay/internal/infra/redis"
	"github.com/vietddude/relay/internal/infra/storage/postgres"
)

var (
	historySource string
	historyLimit  int64
)

var historyCmd = &cobra.Command{
	Use:   "history [job_id]",
	Short: "Read persisted event log entries from PostgreSQL or Redis",
	Args:  cobra.MaximumNArgs(1),
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historySource, "source", "postgres", "event store to read: postgres or redis")
	historyCmd.Flags().Int64Var(&historyLimit, "limit", 100, "number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	jobID := ""
	if len(args) == 1 {
		jobID = args[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var events []domain.Event
	switch historySource {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()
		events, err = postgres.NewEventRepo(db).Recent(ctx, jobID, historyLimit)
		if err != nil {
			slog.Error("Failed to query events", "error", err)
			os.Exit(1)
		}
	case "redis":
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()
		events, err = redisclient.NewEventRepo(client, cfg.EventLog.RedisMaxLen).Recent(ctx, jobID, historyLimit)
		if err != nil {
			slog.Error("Failed to read events", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Unknown event source", "source", historySource)
		os.Exit(1)
	}

	for _, ev := range events {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), ev.Line())
	}
}
