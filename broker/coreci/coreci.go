/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package coreci implements a broker.Provider for Core-CI style HTTP
// provisioning services.
//
// A lease is a resource at {endpoint}/{stage}/{provider}/{id}: PUT creates
// it, GET reports its state and connection details, DELETE releases it.
// Requests authenticate with either an API key carried in the request body
// or a CI identity token sent as a bearer token.
package coreci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cowdogmoo/containmint/broker"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

const maxErrorBody = 4 << 10

// Provider talks to a Core-CI service.
type Provider struct {
	endpoint      string
	stage         string
	provider      string
	apiKey        string
	identityToken string
	client        *http.Client
	newID         func() string
}

var _ broker.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithIDGenerator replaces the generator used for requests that carry no ID.
func WithIDGenerator(fn func() string) Option {
	return func(p *Provider) { p.newID = fn }
}

// New creates a Provider from the coreci configuration section. Missing
// credentials are reported when the first lease is requested.
func New(cfg config.CoreCIConfig, opts ...Option) (*Provider, error) {
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, errors.NewConfigError("coreci.endpoint", "invalid endpoint %q", cfg.Endpoint)
	}

	p := &Provider{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		stage:         cfg.Stage,
		provider:      cfg.Provider,
		apiKey:        cfg.APIKey,
		identityToken: cfg.IdentityToken,
		client:        &http.Client{Timeout: time.Minute},
		newID:         func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements broker.Provider.
func (p *Provider) Name() string {
	return "coreci"
}

type leaseConfig struct {
	Platform     string `json:"platform"`
	Version      string `json:"version"`
	Architecture string `json:"architecture"`
	PublicKey    string `json:"public_key"`
}

type remoteAuth struct {
	Key string `json:"key"`
}

type leaseAuth struct {
	Remote *remoteAuth `json:"remote,omitempty"`
}

type startRequest struct {
	Config leaseConfig `json:"config"`
	Auth   leaseAuth   `json:"auth"`
}

type connection struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

type leaseResponse struct {
	Status     string      `json:"status"`
	Message    string      `json:"message,omitempty"`
	Connection *connection `json:"connection,omitempty"`
	Expiry     *time.Time  `json:"expiry,omitempty"`
}

// Request implements broker.Provider.
func (p *Provider) Request(ctx context.Context, req broker.LeaseRequest) (string, error) {
	if p.apiKey == "" && p.identityToken == "" {
		return "", fmt.Errorf("%w: set CONTAINMINT_BROKER_API_KEY or CONTAINMINT_BROKER_IDENTITY_TOKEN",
			broker.ErrUnauthorized)
	}
	logging.AddSecretContext(ctx, p.apiKey)
	logging.AddSecretContext(ctx, p.identityToken)

	body := startRequest{
		Config: leaseConfig{
			Platform:     req.Profile.Platform,
			Version:      req.Profile.Version,
			Architecture: req.Arch,
			PublicKey:    req.PublicKey,
		},
	}
	if p.identityToken == "" {
		body.Auth.Remote = &remoteAuth{Key: p.apiKey}
	}

	id := req.ID
	if id == "" {
		id = p.newID()
	}
	if _, err := p.do(ctx, http.MethodPut, id, body); err != nil {
		return "", err
	}
	return id, nil
}

// Poll implements broker.Provider.
func (p *Provider) Poll(ctx context.Context, id string) (*broker.PollResult, error) {
	resp, err := p.do(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, err
	}

	res := &broker.PollResult{Message: resp.Message}
	switch strings.ToLower(resp.Status) {
	case "running", "ready":
		if resp.Connection == nil || resp.Connection.Hostname == "" {
			res.Status = broker.StatusPending
			return res, nil
		}
		res.Status = broker.StatusReady
		res.Host = resp.Connection.Hostname
		res.Port = resp.Connection.Port
		res.User = resp.Connection.Username
	case "failed", "terminated", "error":
		res.Status = broker.StatusFailed
		if res.Message == "" {
			res.Message = "lease status " + resp.Status
		}
	default:
		res.Status = broker.StatusPending
	}
	if resp.Expiry != nil {
		res.Expiry = *resp.Expiry
	}
	return res, nil
}

// Release implements broker.Provider.
func (p *Provider) Release(ctx context.Context, id string) error {
	_, err := p.do(ctx, http.MethodDelete, id, nil)
	return err
}

func (p *Provider) leaseURL(id string) string {
	return strings.Join([]string{p.endpoint, url.PathEscape(p.stage), url.PathEscape(p.provider), url.PathEscape(id)}, "/")
}

func (p *Provider) do(ctx context.Context, method, id string, payload any) (*leaseResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap("encode lease request", id, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.leaseURL(id), body)
	if err != nil {
		return nil, errors.Wrap("create lease request", id, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.identityToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.identityToken)
	}

	logging.DebugContext(ctx, "%s %s", method, p.leaseURL(id))

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s %s: %v: %w", method, id, err, broker.ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(method, id, resp); err != nil {
		return nil, err
	}

	var out leaseResponse
	if method == http.MethodDelete {
		return &out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, errors.Wrap("decode lease response", id, err)
	}
	return &out, nil
}

// checkStatus maps HTTP status codes onto the broker error classes.
func checkStatus(method, id string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("%s %s: %s", method, id, resp.Status)
	if text := strings.TrimSpace(string(detail)); text != "" {
		msg += ": " + text
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, broker.ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, broker.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w", msg, broker.ErrTransient)
	default:
		return errors.New(msg)
	}
}
