package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr      string
		origins   []string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "roomchat",
		Short: "Real-time multi-room chat server",
		Long: `roomchat serves a WebSocket endpoint at /ws where clients identify,
join and leave named rooms, and exchange messages with room members.

Settings are read from the environment (SERVER_PORT, ALLOWED_ORIGINS,
MAX_MESSAGE_SIZE, SEND_BUFFER_SIZE, SHUTDOWN_TIMEOUT, LOG_LEVEL, LOG_FORMAT);
flags override the environment.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.NewConfigFromEnv()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Port = addr
			}
			if flags.Changed("allowed-origins") {
				cfg.AllowedOrigins = origins
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			cfg.Sanitize()

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringSliceVar(&origins, "allowed-origins", nil, "allowed WebSocket origins, * allows any")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	return cmd
}

// run serves until a shutdown signal arrives, ctx is cancelled or the HTTP
// server fails. A serve failure still goes through graceful shutdown.
func run(ctx context.Context, cfg *server.Config) error {
	logger := server.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("roomchat started", "addr", srv.Addr(), "origins", cfg.AllowedOrigins)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		select {
		case err := <-srv.Failed():
			logger.Error("server stopped unexpectedly", "error", err)
			serveErr <- err
			cancel()
		case <-ctx.Done():
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat": func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info("roomchat exited", "code", exitCode)

	select {
	case err := <-serveErr:
		return err
	default:
	}
	if exitCode != 0 {
		return fmt.Errorf("shutdown did not complete in %s", cfg.ShutdownTimeout)
	}
	return nil
}
