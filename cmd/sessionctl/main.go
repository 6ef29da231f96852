package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"go-session-client/internal/app"
	"go-session-client/internal/config"
	"go-session-client/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := &cliState{}
	err := newRootCommand(rt).ExecuteContext(ctx)
	rt.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cliState struct {
	metricsAddr string
	client      *app.Client
	metrics     *http.Server
}

func newRootCommand(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Sign in, inspect and manage the local API session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.open(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&rt.metricsAddr, "metrics-addr", "", "Serve client metrics on this address while the command runs")

	cmd.AddCommand(newLoginCommand(rt))
	cmd.AddCommand(newLogoutCommand(rt))
	cmd.AddCommand(newWhoamiCommand(rt))
	cmd.AddCommand(newGetCommand(rt))
	cmd.AddCommand(newBiometricCommand(rt))
	return cmd
}

func (rt *cliState) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(log)

	rt.client, err = app.NewClient(ctx, cfg, app.WithLogger(log))
	if err != nil {
		return err
	}

	if rt.metricsAddr != "" {
		rt.metrics = &http.Server{
			Addr:              rt.metricsAddr,
			Handler:           promhttp.HandlerFor(rt.client.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := rt.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server failed", "addr", rt.metricsAddr, "error", err)
			}
		}()
	}

	return nil
}

func (rt *cliState) close() {
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.metrics.Shutdown(ctx)
	}
	if rt.client != nil {
		rt.client.Close()
	}
}
