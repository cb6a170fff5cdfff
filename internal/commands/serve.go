package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/server"
	"github.com/dwsmith1983/stagehand/internal/store"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the stagehand HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath, addr, verbose)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, addr string, verbose bool) error {
	ctx := context.Background()
	logger := newLogger(cmd.ErrOrStderr(), verbose)
	a, err := loadApp(ctx, configPath, logger)
	if err != nil {
		return err
	}
	defer closeApp(a)

	var apiKey string
	if s := a.Config.Server; s != nil {
		if addr == "" {
			addr = s.Addr
		}
		apiKey = s.APIKey
	}
	if addr == "" {
		addr = ":8080"
	}

	var st store.Store = a.Store
	if st == nil {
		st = store.NewMemory()
	}
	srv := server.New(addr, a.Config.Pipeline, a.Runner, st, apiKey, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		color.Green("Server stopped gracefully")
		return nil
	}
}
