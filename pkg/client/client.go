// Package client is the Go SDK for the node registrar API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// APIError is returned when the registrar answers with a non-2xx status.
// Message carries the envelope message when the body has one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registrar error %d: %s", e.StatusCode, e.Message)
}

// IsForbidden reports whether err is a 403 from the registrar.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether err is a 404 from the registrar.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// RegisterRequest is the payload for Register. Certname may be empty when
// the node has not generated a certificate yet.
type RegisterRequest struct {
	Name          string `json:"name"`
	Certname      string `json:"certname"`
	EnvironmentID int64  `json:"environment_id"`
	HostgroupID   int64  `json:"hostgroup_id"`
	Comment       string `json:"comment,omitempty"`
	MAC           string `json:"mac,omitempty"`
}

// Result is the envelope returned by every mutating call.
type Result struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
}

// Status is the registration status of a certname. Every field is nil when
// the registrar does not know the certname.
type Status struct {
	Name           *string    `json:"name"`
	LastReport     *time.Time `json:"last_report"`
	HasCertificate *bool      `json:"has_certificate"`
}

// Client talks to a registrar.
type Client struct {
	base       string
	httpClient *http.Client

	login    string
	password string

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
	useTokens   bool
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBasicAuth authenticates every request with login and password.
func WithBasicAuth(login, password string) Option {
	return func(c *Client) error {
		c.login = login
		c.password = password
		return nil
	}
}

// WithTokenExchange makes the client trade its basic credentials for a bearer
// token on first use and refresh it shortly before it expires.
func WithTokenExchange() Option {
	return func(c *Client) error {
		c.useTokens = true
		return nil
	}
}

// WithBearerToken attaches a pre-obtained bearer token to every request.
// The token is never auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this against a registrar with a self-signed certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// WithTimeout sets the per-request timeout. Registrations may wait on the
// certificate authority, so keep it above the registrar's CA timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the registrar at base, e.g. "https://registrar:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse registrar URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.useTokens && c.login == "" {
		return nil, errors.New("token exchange requires basic credentials")
	}
	return c, nil
}

// Register creates, updates or re-registers the node described by req.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Result, error) {
	var out Result
	if err := c.call(ctx, http.MethodPost, "/api/v2/registrations/register", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decommission removes the node called name and revokes its certificate.
// Decommissioning an unknown node succeeds.
func (c *Client) Decommission(ctx context.Context, name string) (*Result, error) {
	var out Result
	body := map[string]string{"name": name}
	if err := c.call(ctx, http.MethodPost, "/api/v2/registrations/decommission", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset revokes the certificate of node name so it can register again.
// login must match the authenticated user unless that user is an admin.
func (c *Client) Reset(ctx context.Context, name, login string) (*Result, error) {
	var out Result
	body := map[string]string{"name": name, "login": login}
	if err := c.call(ctx, http.MethodPost, "/api/v2/registrations/reset", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the registration status of certname.
func (c *Client) Status(ctx context.Context, certname string) (*Status, error) {
	var out Status
	q := url.Values{"certname": {certname}}
	if err := c.call(ctx, http.MethodGet, "/api/v2/registrations/status", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Environments returns the sorted environment names.
func (c *Client) Environments(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, http.MethodGet, "/api/v2/registrations/environments", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Hostgroups returns the sorted hostgroup names.
func (c *Client) Hostgroups(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, http.MethodGet, "/api/v2/registrations/hostgroups", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnvironmentID returns the id of the environment called name, or nil.
func (c *Client) EnvironmentID(ctx context.Context, name string) (*int64, error) {
	return c.lookup(ctx, "/api/v2/registrations/environments/lookup", name)
}

// HostgroupID returns the id of the hostgroup called name, or nil.
func (c *Client) HostgroupID(ctx context.Context, name string) (*int64, error) {
	return c.lookup(ctx, "/api/v2/registrations/hostgroups/lookup", name)
}

func (c *Client) lookup(ctx context.Context, path, name string) (*int64, error) {
	var out struct {
		ID *int64 `json:"id"`
	}
	if err := c.call(ctx, http.MethodGet, path, url.Values{"name": {name}}, nil, &out); err != nil {
		return nil, err
	}
	return out.ID, nil
}

// FetchToken exchanges the client's basic credentials for a bearer token and
// caches it for later requests.
func (c *Client) FetchToken(ctx context.Context) (string, time.Time, error) {
	token, expiresAt, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = refreshAt(expiresAt)
	c.mu.Unlock()
	return token, expiresAt, nil
}

// fetchTokenRaw fetches a fresh token without touching cached state.
func (c *Client) fetchTokenRaw(ctx context.Context) (string, time.Time, error) {
	if c.login == "" {
		return "", time.Time{}, errors.New("basic credentials required to fetch a token")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v2/auth/token", nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.login, c.password)
	req.Header.Set("Accept", "application/json")

	body, err := c.send(req)
	if err != nil {
		return "", time.Time{}, err
	}
	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.Token == "" {
		return "", time.Time{}, errors.New("token endpoint returned no token")
	}
	return payload.Token, payload.ExpiresAt, nil
}

// refreshAt returns when a token expiring at exp should be replaced.
// Refresh 60 s early to avoid clock-skew failures.
func refreshAt(exp time.Time) time.Time {
	const refreshBuffer = 60 * time.Second
	return exp.Add(-refreshBuffer)
}

// authorize sets the Authorization header on req.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
		return nil
	}
	if c.useTokens {
		token, expiresAt, err := c.fetchTokenRaw(ctx)
		if err != nil {
			return err
		}
		c.bearerToken = token
		c.tokenExpiry = refreshAt(expiresAt)
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	if c.login != "" {
		req.SetBasicAuth(c.login, c.password)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, reqBody, respBody any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	data, err := c.send(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send executes req and turns non-2xx statuses into *APIError.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var env Result
		if json.Unmarshal(body, &env) == nil && env.Message != "" {
			apiErr.Message = env.Message
		}
		return nil, apiErr
	}
	return body, nil
}
