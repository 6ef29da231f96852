package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const RequestIDHeader = "X-Request-ID"

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// RequestID tags every outgoing request with an X-Request-ID unless the caller set one.
func RequestID(next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get(RequestIDHeader) != "" {
			return next.RoundTrip(req)
		}

		out := req.Clone(req.Context())
		out.Header.Set(RequestIDHeader, uuid.NewString())
		return next.RoundTrip(out)
	})
}

// RateLimit spaces outgoing requests with a shared token bucket. rpm <= 0 disables it.
func RateLimit(rpm int, next http.RoundTripper) http.RoundTripper {
	if rpm <= 0 {
		return next
	}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
		return next.RoundTrip(req)
	})
}

// Logging records method, path, status and duration of every call. Credentials are never logged.
func Logging(log *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if log == nil {
		log = slog.Default()
	}

	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		started := time.Now()
		resp, err := next.RoundTrip(req)
		duration := time.Since(started).Milliseconds()

		attrs := []any{
			"request_id", req.Header.Get(RequestIDHeader),
			"method", req.Method,
			"path", req.URL.Path,
			"duration_ms", duration,
		}

		if err != nil {
			log.Warn("backend call failed", append(attrs, "error", err)...)
			return nil, err
		}

		attrs = append(attrs, "status", resp.StatusCode)
		switch {
		case resp.StatusCode >= 500:
			log.Error("backend call", attrs...)
		case resp.StatusCode >= 400:
			log.Warn("backend call", attrs...)
		default:
			log.Debug("backend call", attrs...)
		}

		return resp, nil
	})
}

// Options configures the raw and authorized clients.
type Options struct {
	RateLimitRPM int
	Timeout      time.Duration
	Logger       *slog.Logger
	Base         http.RoundTripper
}

// NewRawClient builds the client that bypasses the Interceptor: login, refresh and
// profile fetches with an explicit token.
func NewRawClient(opts Options) *http.Client {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: RequestID(Logging(opts.Logger, base)),
	}
}

// NewAuthorizedClient builds the client every authenticated call uses. The chain is
// request id → interceptor → rate limit → logging → base, so a retried request keeps its id.
func NewAuthorizedClient(opts Options, wrap func(next http.RoundTripper) *Interceptor) (*http.Client, *Interceptor) {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}

	interceptor := wrap(RateLimit(opts.RateLimitRPM, Logging(opts.Logger, base)))
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: RequestID(interceptor),
	}, interceptor
}
