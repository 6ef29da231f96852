// Package transport holds the http.RoundTripper chain used for every backend call.
//
// Interceptor attaches the current access token and recovers from an expired one by
// refreshing exactly once per request. The refresh call itself goes through a separate
// client so it never re-enters the Interceptor.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"go-session-client/internal/event"
	"go-session-client/internal/metrics"
	"go-session-client/internal/model"
	"go-session-client/internal/session"
	"go-session-client/pkg/apierror"
)

const maxPeekBytes = 64 << 10

var (
	errNoRefreshToken = errors.New("no session with a refresh token")
	errAlreadyRotated = errors.New("access token already rotated")
)

// Binding is the biometric side of a refresh: it follows every rotation and is wiped on teardown.
type Binding interface {
	SyncBiometricRefreshToken(ctx context.Context, current model.Session)
	ClearBinding(ctx context.Context)
}

type Interceptor struct {
	next      http.RoundTripper
	sessions  *session.Store
	refresher Refresher

	bindingMu sync.RWMutex
	binding   Binding

	bus           event.Bus
	metrics       *metrics.Session
	log           *slog.Logger
	coalesce      bool
	proactiveSkew time.Duration
	nowTime       func() time.Time

	group singleflight.Group
}

type Option func(*Interceptor)

func WithBus(bus event.Bus) Option {
	return func(it *Interceptor) { it.bus = bus }
}

func WithMetrics(m *metrics.Session) Option {
	return func(it *Interceptor) { it.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(it *Interceptor) { it.log = log }
}

// WithCoalescing toggles sharing one refresh between requests that failed with the same
// access token. Disabled, every failing request runs its own refresh.
func WithCoalescing(enabled bool) Option {
	return func(it *Interceptor) { it.coalesce = enabled }
}

// WithProactiveRefresh refreshes before dispatch when a JWT access token expires within skew.
func WithProactiveRefresh(skew time.Duration) Option {
	return func(it *Interceptor) { it.proactiveSkew = skew }
}

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(it *Interceptor) { it.nowTime = nowFunc }
}

func NewInterceptor(next http.RoundTripper, sessions *session.Store, refresher Refresher, opts ...Option) *Interceptor {
	if next == nil {
		next = http.DefaultTransport
	}

	it := &Interceptor{
		next:      next,
		sessions:  sessions,
		refresher: refresher,
		bus:       event.Discard{},
		metrics:   metrics.Nop(),
		log:       slog.Default(),
		coalesce:  true,
		nowTime:   time.Now,
	}

	for _, opt := range opts {
		opt(it)
	}
	it.log = it.log.With("component", "interceptor")

	return it
}

// SetBinding registers the biometric binding kept in step with refreshes.
// It is set after construction because the binding's own API calls go through this Interceptor.
func (it *Interceptor) SetBinding(b Binding) {
	it.bindingMu.Lock()
	it.binding = b
	it.bindingMu.Unlock()
}

func (it *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	current, _ := it.sessions.Current(ctx)

	if current != nil && it.proactiveSkew > 0 && !IsRetried(ctx) && expiresWithin(current.AccessToken, it.proactiveSkew, it.nowTime()) {
		refreshed, err := it.refresh(ctx, current.AccessToken)
		switch {
		case err == nil && refreshed != nil:
			current = refreshed
		case errors.Is(err, model.ErrSessionExpired):
			return nil, err
		case err != nil:
			it.log.Warn("proactive refresh failed; sending current token", "error", err)
		}
	}

	sent := authorize(req, current)
	resp, err := it.next.RoundTrip(sent)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusForbidden {
		if apiErr := peekAPIError(resp); apiErr != nil && apiErr.Code == apierror.CodeAccountDeactivated {
			drain(resp)
			it.teardown(ctx, current, event.ReasonAccountDeactivated)
			return nil, fmt.Errorf("%w: %w", model.ErrAccountDeactivated, apiErr)
		}
		return resp, nil
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	if IsRetried(ctx) {
		it.metrics.Retry.WithLabelValues(metrics.OutcomeFailure).Inc()
		return resp, nil
	}

	return it.retry(req, sent, resp)
}

// retry refreshes and re-dispatches req once. resp is the 401 that triggered it and is
// returned untouched whenever no refresh can be attempted.
func (it *Interceptor) retry(req *http.Request, sent *http.Request, resp *http.Response) (*http.Response, error) {
	ctx := markRetried(req.Context())

	current, ok := it.sessions.Current(ctx)
	if !ok || current.RefreshToken == "" {
		return resp, nil
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		it.log.Warn("request body cannot be replayed; returning authorization failure", "method", req.Method, "path", req.URL.Path)
		return resp, nil
	}

	refreshed, err := it.refresh(ctx, bearerToken(sent))
	if err != nil {
		drain(resp)
		return nil, err
	}
	if refreshed == nil {
		return resp, nil
	}
	drain(resp)

	retryReq := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		retryReq.Body = body
	}
	retryReq.Header.Set("Authorization", refreshed.AuthorizationHeader())

	retryResp, err := it.next.RoundTrip(retryReq)
	if err != nil {
		it.metrics.Retry.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	if retryResp.StatusCode == http.StatusUnauthorized {
		it.metrics.Retry.WithLabelValues(metrics.OutcomeFailure).Inc()
		it.log.Warn("request still unauthorized after refresh", "method", req.Method, "path", req.URL.Path)
	} else {
		it.metrics.Retry.WithLabelValues(metrics.OutcomeSuccess).Inc()
	}

	return retryResp, nil
}

// refresh returns the Session to use after staleAccessToken was rejected. A nil Session
// with a nil error means there is nothing to refresh with.
func (it *Interceptor) refresh(ctx context.Context, staleAccessToken string) (*model.Session, error) {
	if !it.coalesce {
		return it.refreshOnce(ctx, staleAccessToken, false)
	}

	// The shared flight outlives any single caller's cancellation.
	v, err, shared := it.group.Do(staleAccessToken, func() (any, error) {
		return it.refreshOnce(context.WithoutCancel(ctx), staleAccessToken, true)
	})
	if shared {
		it.metrics.Refresh.WithLabelValues(metrics.OutcomeCoalesced).Inc()
	}
	if err != nil {
		return nil, err
	}

	refreshed, _ := v.(*model.Session)
	return refreshed, nil
}

func (it *Interceptor) refreshOnce(ctx context.Context, staleAccessToken string, skipIfRotated bool) (*model.Session, error) {
	var (
		latest     *model.Session
		merged     *model.Session
		refreshErr error
	)

	_, err := it.sessions.Update(ctx, func(current *model.Session) (*model.Session, error) {
		if current == nil || current.RefreshToken == "" {
			return nil, errNoRefreshToken
		}

		if skipIfRotated && current.AccessToken != staleAccessToken {
			latest = current
			return nil, errAlreadyRotated
		}

		pair, err := it.refresher.Refresh(ctx, current.RefreshToken)
		if err != nil {
			refreshErr = err
			if errors.Is(err, model.ErrRefreshRejected) {
				// Clear under the same lock that observed the dead refresh token.
				latest = current
				return nil, nil
			}
			return nil, err
		}

		next := current.WithTokens(pair.AccessToken, pair.RefreshToken)
		merged = &next
		return merged, nil
	})

	switch {
	case errors.Is(err, errNoRefreshToken):
		it.metrics.Refresh.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil, nil

	case errors.Is(err, errAlreadyRotated):
		it.metrics.Refresh.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return latest, nil

	case refreshErr != nil && errors.Is(refreshErr, model.ErrRefreshRejected):
		it.metrics.Refresh.WithLabelValues(metrics.OutcomeRejected).Inc()
		it.log.Warn("refresh rejected; session cleared", "user_id", latest.ID)
		it.clearBinding(ctx)
		it.bus.Publish(event.New(event.TypeSessionCleared, latest.ID, event.ReasonRefreshFailed))
		return nil, fmt.Errorf("%w: %w", model.ErrSessionExpired, refreshErr)

	case refreshErr != nil:
		it.metrics.Refresh.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("refresh session: %w", refreshErr)

	case errors.Is(err, model.ErrSessionNotPersisted):
		// The pair is already rotated server-side; use it for this retry even though storage lost it.
		it.log.Error("refreshed session could not be persisted", "user_id", merged.ID)

	case err != nil:
		return nil, err
	}

	it.metrics.Refresh.WithLabelValues(metrics.OutcomeSuccess).Inc()
	it.syncBinding(ctx, *merged)
	it.bus.Publish(event.New(event.TypeSessionRefreshed, merged.ID, ""))
	it.log.Debug("session refreshed", "user_id", merged.ID)

	return merged, nil
}

// teardown clears the session and the biometric binding after an irrecoverable failure.
func (it *Interceptor) teardown(ctx context.Context, current *model.Session, reason string) {
	it.sessions.Clear(ctx)
	it.clearBinding(ctx)

	var userID string
	if current != nil {
		userID = current.ID
	}
	it.bus.Publish(event.New(event.TypeSessionCleared, userID, reason))
	it.log.Warn("session cleared", "user_id", userID, "reason", reason)
}

func (it *Interceptor) syncBinding(ctx context.Context, current model.Session) {
	it.bindingMu.RLock()
	b := it.binding
	it.bindingMu.RUnlock()

	if b != nil {
		b.SyncBiometricRefreshToken(ctx, current)
	}
}

func (it *Interceptor) clearBinding(ctx context.Context) {
	it.bindingMu.RLock()
	b := it.binding
	it.bindingMu.RUnlock()

	if b != nil {
		b.ClearBinding(ctx)
	}
}

// authorize clones req with the session's bearer credential attached.
func authorize(req *http.Request, current *model.Session) *http.Request {
	out := req.Clone(req.Context())
	if current != nil && current.AccessToken != "" {
		out.Header.Set("Authorization", current.AuthorizationHeader())
	}
	return out
}

func bearerToken(req *http.Request) string {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if _, token, ok := strings.Cut(header, " "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// peekAPIError decodes an error body without consuming it for the caller.
func peekAPIError(resp *http.Response) *apierror.APIError {
	if resp.Body == nil {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPeekBytes))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return nil
	}

	peeked := *resp
	peeked.Body = io.NopCloser(bytes.NewReader(raw))
	return apierror.FromResponse(&peeked)
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPeekBytes))
	_ = resp.Body.Close()
}
