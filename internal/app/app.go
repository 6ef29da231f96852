package app

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go-session-client/internal/config"
	"go-session-client/internal/logger"
	"go-session-client/internal/model"
	"go-session-client/internal/sandbox"
)

// Development accounts seeded into every sandbox.
const (
	DemoEmail     = "demo@example.org"
	DemoPassword  = "demo12345"
	AdminEmail    = "admin@example.org"
	AdminPassword = "admin123"
)

// App is the sandbox backend server.
type App struct {
	server *http.Server
}

func New() (*App, error) {
	cfg, err := config.LoadSandbox()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(logger.New(os.Stdout, cfg.LogLevel))

	service := sandbox.NewService(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, sandbox.WithBcryptCost(cfg.BcryptCost))
	if err := seed(service); err != nil {
		return nil, fmt.Errorf("failed to seed sandbox users: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           sandbox.NewRouter(cfg, service, reg),
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{server: server}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func seed(service *sandbox.Service) error {
	demo, err := service.SeedUser(model.Profile{
		Email:             DemoEmail,
		Name:              "Demo Member",
		PreferredLanguage: "en",
	}, DemoPassword)
	if err != nil {
		return err
	}

	admin, err := service.SeedUser(model.Profile{
		Email: AdminEmail,
		Name:  "Sandbox Admin",
		Roles: []string{"MEMBER", sandbox.RoleAdmin},
	}, AdminPassword)
	if err != nil {
		return err
	}

	slog.Info("sandbox users seeded", "demo_id", demo.ID, "admin_id", admin.ID)
	return nil
}
