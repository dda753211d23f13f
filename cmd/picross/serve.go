package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctchen222/picross/internal/api"
	"ctchen222/picross/internal/api/controller"
	"ctchen222/picross/internal/db"
	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/logger"
	"ctchen222/picross/internal/registry"
	"ctchen222/picross/internal/server"
	"ctchen222/picross/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// eventBuffer is the per-subscriber backlog of the in-process event fan-out.
const eventBuffer = 64

func newServeCmd(cfg *serveConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the puzzle coordinator.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cfg.addFlags(cmd.Flags())
	bindEnv(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg *serveConfig) error {
	// Initialize telemetry
	shutdown, err := telemetry.InitOtel(ctx, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	logger.Init(logger.Level(cfg.Verbose), cfg.OtelEndpoint != "")
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("Error shutting down telemetry", "error", err)
		}
	}()

	reg := registry.New()
	broadcaster := events.NewBroadcaster(eventBuffer)
	publishers := []events.Publisher{broadcaster}

	// Initialize Redis
	if cfg.RedisAddr != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()

		redisPublisher := events.NewRedisPublisher(rdb, cfg.RedisChannel)
		publishers = append(publishers, redisPublisher)
		slog.Info("Publishing events to redis", "addr", cfg.RedisAddr, "channel", redisPublisher.Channel())
	}
	publisher := events.NewMultiPublisher(publishers...)

	srv := server.New(cfg.server(), reg, server.WithPublisher(publisher))
	if err := srv.Listen(); err != nil {
		slog.Error("Coordinator could not start", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if cfg.AdminAddr != "" {
		if !cfg.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		cc := controller.NewCoordinatorController(reg, srv, publisher, broadcaster)
		httpServer = &http.Server{
			Addr:    cfg.AdminAddr,
			Handler: api.NewEngine(cc, controller.NewEventStream(broadcaster)),
		}

		go func() {
			slog.Info("Operator API started", "addr", cfg.AdminAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Operator API failed", "error", err)
			}
		}()
	}

	// Blocks until a signal, an operator stop or finalize mode ends accepting.
	if err := srv.Serve(ctx); err != nil {
		return err
	}

	if ctx.Err() == nil {
		slog.Info("No longer accepting players; waiting for open sessions", "live", srv.LiveConnections())
		_ = srv.Wait(ctx)
	}

	slog.Info("Shutting down coordinator...", "live", srv.LiveConnections())
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := srv.Wait(drainCtx); err != nil {
		slog.Warn("Closing sessions that did not finish in time", "live", srv.LiveConnections())
		if err := srv.Close(); err != nil {
			slog.Warn("Failed to close coordinator", "error", err)
		}
		closeCtx, cancelClose := context.WithTimeout(context.Background(), time.Second)
		defer cancelClose()
		_ = srv.Wait(closeCtx)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Operator API forced to shutdown", "error", err)
		}
	}

	slog.Info("Coordinator exiting")
	return nil
}
