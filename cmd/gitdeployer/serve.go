package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gitdeployer/internal/processor"
	"gitdeployer/internal/server"
	"gitdeployer/internal/target"
)

var (
	serveHost string
	servePort int
	testMode  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server receiving deploy requests and GitHub push webhooks.

The targets file is watched and reloaded on change unless targets.watch is
false. SIGINT or SIGTERM stop the server after running deployments finish.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("GITDEPLOYER_TEST_MODE") == "1", "Disable rate limiting")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(settingsFile, targetsFile)
	if err != nil {
		return err
	}
	defer a.Close()

	host, port := a.Settings.Server.Host, a.Settings.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.Settings.Targets.Watch {
		w := &target.Watcher{
			Path:     a.TargetsFile,
			Registry: a.Registry,
			Checks:   []target.Check{processor.ValidateParams},
			Logger:   a.Logger,
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("Targets watcher stopped", "error", err)
			}
		}()
	}

	srv := server.NewServer(a.Runner, a.Logger, testMode)

	a.Logger.Info("Starting gitdeployer", "version", version, "targets", a.Registry.List())
	if err := srv.Start(ctx, host, port); err != nil {
		a.Logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	a.Logger.Info("Server stopped")
	return nil
}
