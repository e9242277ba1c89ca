// Package puppetca talks to the certificate endpoints of a Puppet CA smart
// proxy. The proxy exposes
//
//	GET    {base}/puppet/ca             JSON object keyed by certname
//	DELETE {base}/puppet/ca/{certname}  revoke and clean a certificate
//
// Revocation is idempotent: a 404 from the proxy means the certificate is
// already gone and is reported as success.
package puppetca

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmerrifield20/NodeRegistrar/internal/metrics"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
)

const apiPath = "/puppet/ca"

// maxBody caps how much of a certificate listing is read.
const maxBody = 8 << 20

// Client issues certificate requests against a Puppet CA smart proxy.
// The proxy base URL is passed per call since the active proxy is resolved
// per request.
type Client struct {
	httpClient *http.Client
	username   string
	password   string
	insecure   bool
	timeout    time.Duration
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBasicAuth attaches HTTP basic credentials to every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithInsecureSkipVerify disables TLS verification of the proxy certificate.
// Internal proxies are frequently served with self-signed certificates.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		c.insecure = skip
	}
}

// WithTimeout sets the overall per-request timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom http.Client, overriding TLS and timeout options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{timeout: 30 * time.Second}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		c.httpClient = &http.Client{Transport: transport, Timeout: c.timeout}
	}
	return c
}

// Revoke revokes certname on the proxy at baseURL. Both 200 and 404 count as
// success; any other status is returned as *model.CAOperationError.
func (c *Client) Revoke(ctx context.Context, baseURL, certname string) error {
	if certname == "" {
		return model.ErrInvalidCertname
	}

	endpoint := strings.TrimRight(baseURL, "/") + apiPath + "/" + url.PathEscape(certname)
	resp, err := c.do(ctx, http.MethodDelete, endpoint)
	if err != nil {
		metrics.RecordCARequest(http.MethodDelete, "error")
		return &model.CAOperationError{Op: "revoke", Certname: certname, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	switch resp.StatusCode {
	case http.StatusOK:
		metrics.RecordCARequest(http.MethodDelete, "revoked")
		return nil
	case http.StatusNotFound:
		metrics.RecordCARequest(http.MethodDelete, "absent")
		return nil
	default:
		metrics.RecordCARequest(http.MethodDelete, "error")
		return &model.CAOperationError{
			Op:         "revoke",
			Certname:   certname,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}
}

// Presence reports whether certname appears in the proxy's certificate
// listing. Transport failures, non-200 answers and bodies that are not a JSON
// object yield CertificateUnknown and a *model.CAOperationError; they never
// degrade to CertificateAbsent.
func (c *Client) Presence(ctx context.Context, baseURL, certname string) (model.CertificateState, error) {
	if certname == "" {
		return model.CertificateUnknown, model.ErrInvalidCertname
	}

	endpoint := strings.TrimRight(baseURL, "/") + apiPath
	resp, err := c.do(ctx, http.MethodGet, endpoint)
	if err != nil {
		metrics.RecordCARequest(http.MethodGet, "error")
		return model.CertificateUnknown, &model.CAOperationError{Op: "query", Certname: certname, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		metrics.RecordCARequest(http.MethodGet, "error")
		return model.CertificateUnknown, &model.CAOperationError{
			Op:         "query",
			Certname:   certname,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		metrics.RecordCARequest(http.MethodGet, "error")
		return model.CertificateUnknown, &model.CAOperationError{Op: "query", Certname: certname, Err: fmt.Errorf("read response: %w", err)}
	}

	var listing map[string]json.RawMessage
	if err := json.Unmarshal(body, &listing); err != nil || listing == nil {
		if err == nil {
			err = fmt.Errorf("response is not a JSON object")
		}
		metrics.RecordCARequest(http.MethodGet, "error")
		return model.CertificateUnknown, &model.CAOperationError{Op: "query", Certname: certname, Err: fmt.Errorf("decode response: %w", err)}
	}

	if _, ok := listing[certname]; ok {
		metrics.RecordCARequest(http.MethodGet, "present")
		return model.CertificatePresent, nil
	}
	metrics.RecordCARequest(http.MethodGet, "absent")
	return model.CertificateAbsent, nil
}

// do sends a bodiless request; the proxy API takes everything in the path.
func (c *Client) do(ctx context.Context, method, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.httpClient.Do(req)
}
