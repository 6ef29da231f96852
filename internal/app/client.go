package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"go-session-client/internal/api"
	"go-session-client/internal/biometric"
	"go-session-client/internal/config"
	"go-session-client/internal/credstore"
	"go-session-client/internal/database"
	"go-session-client/internal/event"
	"go-session-client/internal/metrics"
	"go-session-client/internal/service"
	"go-session-client/internal/session"
	"go-session-client/internal/transport"
)

// Client is the wired session manager: every component a caller needs, sharing one
// credential store, one session and one event bus.
type Client struct {
	Config      *config.Config
	Creds       *credstore.Store
	Sessions    *session.Store
	API         *api.Client
	HTTP        *http.Client
	Interceptor *transport.Interceptor
	Biometrics  *biometric.Bridge
	Auth        *service.AuthService
	Bus         *event.InMemoryBus
	Registry    *prometheus.Registry

	cleanupFuncs []func()
}

type clientOptions struct {
	device    biometric.Device
	base      http.RoundTripper
	logger    *slog.Logger
	promptIn  io.Reader
	promptOut io.Writer
}

type ClientOption func(*clientOptions)

// WithDevice overrides the biometric device chosen from configuration.
func WithDevice(device biometric.Device) ClientOption {
	return func(o *clientOptions) { o.device = device }
}

// WithBaseTransport sets the innermost RoundTripper (primarily for testing)
func WithBaseTransport(base http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.base = base }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = log }
}

// WithPromptIO sets where the console biometric device reads answers and writes prompts.
func WithPromptIO(in io.Reader, out io.Writer) ClientOption {
	return func(o *clientOptions) {
		o.promptIn = in
		o.promptOut = out
	}
}

func NewClient(ctx context.Context, cfg *config.Config, opts ...ClientOption) (*Client, error) {
	o := clientOptions{promptIn: os.Stdin, promptOut: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	log := o.logger

	c := &Client{Config: cfg, Bus: event.NewBus(), Registry: prometheus.NewRegistry()}

	var db *database.DB
	if cfg.CredentialBackend == config.BackendPostgres {
		log.Info("connecting to PostgreSQL")
		var err error
		db, err = database.New(ctx, database.Options{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Logger:   log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.cleanupFuncs = append(c.cleanupFuncs, db.Close)

		if err := db.EnsureSchema(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		log.Info("database ready")
	}

	var err error
	if db != nil {
		c.Creds, err = credstore.Select(cfg, db.Pool, log)
	} else {
		c.Creds, err = credstore.Select(cfg, nil, log)
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}
	log.Debug("credential store ready", "backends", c.Creds.Backends())

	c.Sessions = session.NewStore(c.Creds, log)
	sessionMetrics := metrics.New(c.Registry)

	transportOpts := transport.Options{
		RateLimitRPM: cfg.OutgoingRateLimitRPM,
		Timeout:      cfg.RequestTimeout,
		Logger:       log,
		Base:         o.base,
	}
	raw := transport.NewRawClient(transportOpts)
	refresher := transport.NewRefreshClient(cfg.APIBaseURL, raw)

	c.HTTP, c.Interceptor = transport.NewAuthorizedClient(transportOpts, func(next http.RoundTripper) *transport.Interceptor {
		return transport.NewInterceptor(next, c.Sessions, refresher,
			transport.WithBus(c.Bus),
			transport.WithMetrics(sessionMetrics),
			transport.WithLogger(log),
			transport.WithCoalescing(cfg.RefreshCoalesce),
			transport.WithProactiveRefresh(cfg.ProactiveRefreshSkew),
		)
	})

	c.API = api.New(cfg.APIBaseURL, c.HTTP, raw)

	device := o.device
	if device == nil {
		device = deviceFromConfig(cfg, o.promptIn, o.promptOut)
	}

	c.Biometrics, err = biometric.NewBridge(biometric.Deps{
		Device:    device,
		Creds:     c.Creds,
		Sessions:  c.Sessions,
		Refresher: refresher,
		API:       c.API,
		Bus:       c.Bus,
		Metrics:   sessionMetrics,
		Logger:    log,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize biometric bridge: %w", err)
	}
	c.Interceptor.SetBinding(c.Biometrics)

	c.Auth = service.NewAuthService(c.API, c.Sessions, c.Biometrics, c.Bus, log)

	events, unsubscribe := c.Bus.Subscribe()
	c.cleanupFuncs = append(c.cleanupFuncs, unsubscribe)
	go logEvents(log, events)

	return c, nil
}

// Close releases the database pool and stops the event logger.
func (c *Client) Close() {
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		c.cleanupFuncs[i]()
	}
	c.cleanupFuncs = nil
}

func deviceFromConfig(cfg *config.Config, in io.Reader, out io.Writer) biometric.Device {
	switch cfg.BiometricDevice {
	case config.DeviceConsole:
		return biometric.NewConsoleDevice(in, out)
	default:
		return biometric.Unsupported{}
	}
}

func logEvents(log *slog.Logger, events <-chan event.Event) {
	for e := range events {
		log.Debug("session event", "type", e.Type, "user_id", e.UserID, "reason", e.Reason)
	}
}
