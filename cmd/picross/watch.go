package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctchen222/picross/internal/db"
	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/logger"

	"github.com/spf13/cobra"
)

func newWatchCmd(cfg *watchConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the events a coordinator publishes to Redis.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			logger.Init(logger.Level(cfg.Verbose), false)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cfg.addFlags(cmd.Flags())
	bindEnv(cmd.Flags())
	return cmd
}

// runWatch prints one line per event until ctx is done.
func runWatch(ctx context.Context, cfg *watchConfig, w io.Writer) error {
	rdb, err := db.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	pub := events.NewRedisPublisher(rdb, cfg.RedisChannel)
	received, err := pub.Subscribe(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Watching %s on %s\n", pub.Channel(), cfg.RedisAddr)

	for e := range received {
		fmt.Fprintf(w, "%s %-17s %s\n", e.Time.Local().Format(time.TimeOnly), e.Type, e.Payload)
	}
	slog.Debug("Event stream closed", "channel", pub.Channel())
	return nil
}
