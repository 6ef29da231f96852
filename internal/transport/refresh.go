package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go-session-client/internal/model"
	"go-session-client/pkg/apierror"
)

const RefreshPath = "/api/auth/refresh"

// Refresher exchanges a refresh token for a rotated token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
}

// RefreshClient speaks the refresh protocol over a client that must not route
// through an Interceptor, so a failing refresh can never recurse.
type RefreshClient struct {
	baseURL string
	client  *http.Client
}

func NewRefreshClient(baseURL string, client *http.Client) *RefreshClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RefreshClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Refresh returns an error wrapping model.ErrRefreshRejected when the backend answered
// with a client error or a malformed pair. Transport failures and 5xx are returned as is.
func (c *RefreshClient) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	body, err := json.Marshal(model.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return model.TokenPair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RefreshPath, bytes.NewReader(body))
	if err != nil {
		return model.TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := apierror.FromResponse(resp)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return model.TokenPair{}, fmt.Errorf("%w: %w", model.ErrRefreshRejected, apiErr)
		}
		return model.TokenPair{}, apiErr
	}

	var pair model.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return model.TokenPair{}, fmt.Errorf("%w: decode refresh response: %w", model.ErrRefreshRejected, err)
	}

	if strings.TrimSpace(pair.AccessToken) == "" || strings.TrimSpace(pair.RefreshToken) == "" {
		return model.TokenPair{}, fmt.Errorf("%w: refresh response is missing a token", model.ErrRefreshRejected)
	}

	return pair, nil
}
