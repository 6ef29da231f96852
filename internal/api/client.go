// Package api is the typed client for the backend endpoints the session layer consumes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go-session-client/internal/model"
	"go-session-client/pkg/apierror"
)

const (
	LoginPath            = "/api/auth/login"
	ProfilePath          = "/api/users/me"
	SecuritySettingsPath = "/api/users/me/security-settings"
)

type Client struct {
	baseURL string
	authed  *http.Client
	raw     *http.Client
}

// New builds a Client. authed routes through the session Interceptor; raw must not,
// and is used for calls that carry credentials of their own.
func New(baseURL string, authed *http.Client, raw *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), authed: authed, raw: raw}
}

func (c *Client) Login(ctx context.Context, email string, password string) (model.LoginResponse, error) {
	var out model.LoginResponse
	err := c.do(ctx, c.raw, http.MethodPost, LoginPath, "", model.LoginRequest{Email: email, Password: password}, &out)
	if err != nil {
		if apierror.HasStatus(err, http.StatusUnauthorized) {
			return model.LoginResponse{}, fmt.Errorf("%w: %w", model.ErrInvalidCredentials, err)
		}
		return model.LoginResponse{}, err
	}

	if out.Token == "" || out.RefreshToken == "" {
		return model.LoginResponse{}, fmt.Errorf("login response: %w", model.ErrIncompleteSession)
	}

	return out, nil
}

func (c *Client) Profile(ctx context.Context) (model.Profile, error) {
	var out model.Profile
	err := c.do(ctx, c.authed, http.MethodGet, ProfilePath, "", nil, &out)
	return out, err
}

// ProfileWithToken fetches the profile with an explicit access token, before any Session exists.
func (c *Client) ProfileWithToken(ctx context.Context, tokenType string, accessToken string) (model.Profile, error) {
	var out model.Profile
	err := c.do(ctx, c.raw, http.MethodGet, ProfilePath, model.Authorization(tokenType, accessToken), nil, &out)
	return out, err
}

func (c *Client) SecuritySettings(ctx context.Context) (model.SecuritySettings, error) {
	var out model.SecuritySettings
	err := c.do(ctx, c.authed, http.MethodGet, SecuritySettingsPath, "", nil, &out)
	return out, err
}

func (c *Client) UpdateSecuritySettings(ctx context.Context, settings model.SecuritySettings) (model.SecuritySettings, error) {
	var out model.SecuritySettings
	err := c.do(ctx, c.authed, http.MethodPut, SecuritySettingsPath, "", settings, &out)
	return out, err
}

// Call issues an authenticated request against any backend path and decodes a JSON
// response into out when out is non-nil.
func (c *Client) Call(ctx context.Context, method string, path string, body any, out any) error {
	return c.do(ctx, c.authed, method, path, "", body, out)
}

func (c *Client) do(ctx context.Context, client *http.Client, method string, path string, authorization string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierror.FromResponse(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	return nil
}
