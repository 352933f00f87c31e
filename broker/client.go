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

package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/crypto/ssh"

	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// Options tunes the lease and release loops.
type Options struct {
	// LeaseTimeout bounds the whole lease, from request until ready.
	LeaseTimeout time.Duration
	// PollInterval is the delay between readiness polls.
	PollInterval time.Duration
	// MaxAttempts is the budget for transient errors per provider call.
	MaxAttempts int
	// ReleaseTimeout bounds a release call. Releases run even after the
	// caller's context is cancelled.
	ReleaseTimeout time.Duration
	// DefaultPort is used when a provider reports no port.
	DefaultPort int
	Clock       Clock
	// NewBackOff returns the backoff policy for transient errors.
	NewBackOff func() backoff.BackOff
}

// OptionsFromConfig maps the broker and ssh configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LeaseTimeout:   cfg.Broker.LeaseTimeout,
		PollInterval:   cfg.Broker.PollInterval,
		MaxAttempts:    cfg.Broker.MaxAttempts,
		ReleaseTimeout: cfg.Broker.ReleaseTimeout,
		DefaultPort:    cfg.SSH.Port,
	}
}

func (o Options) withDefaults() Options {
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 15 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.ReleaseTimeout <= 0 {
		o.ReleaseTimeout = 2 * time.Minute
	}
	if o.DefaultPort <= 0 {
		o.DefaultPort = 22
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	if o.NewBackOff == nil {
		o.NewBackOff = newTransientBackoff
	}
	return o
}

func newTransientBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	return b
}

// Client leases environments from a Provider.
type Client struct {
	provider Provider
	opts     Options

	mu       sync.Mutex
	released map[string]bool
}

var _ Broker = (*Client)(nil)

// NewClient creates a Client for provider.
func NewClient(provider Provider, opts Options) *Client {
	return &Client{
		provider: provider,
		opts:     opts.withDefaults(),
		released: make(map[string]bool),
	}
}

// Provider returns the name of the underlying provider.
func (c *Client) Provider() string {
	return c.provider.Name()
}

// Lease requests an environment for arch and profile and waits until it is
// ready. A lease that fails or times out after being requested is released
// before Lease returns.
func (c *Client) Lease(ctx context.Context, arch string, profile config.Profile) (*RemoteEnvironment, error) {
	if !profile.SupportsArch(arch) {
		return nil, errors.NewConfigError("arch", "profile %s does not offer %s", profile.Name, arch)
	}

	signer, publicKey, err := newLeaseKey()
	if err != nil {
		return nil, err
	}

	a := &attempt{
		client:   c,
		arch:     arch,
		profile:  profile.Name,
		deadline: c.opts.Clock.Now().Add(c.opts.LeaseTimeout),
	}

	logging.InfoContext(ctx, "Requesting %s lease for %s/%s", c.provider.Name(), profile.Name, arch)

	req := LeaseRequest{ID: newRequestID(), Arch: arch, Profile: profile, PublicKey: publicKey}
	var id string
	err = a.do(ctx, "request lease", func() error {
		var reqErr error
		id, reqErr = c.provider.Request(ctx, req)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	logging.DebugContext(ctx, "Lease %s requested, waiting for it to become ready", id)

	for {
		var res *PollResult
		err := a.do(ctx, "poll lease", func() error {
			var pollErr error
			res, pollErr = c.provider.Poll(ctx, id)
			return pollErr
		})
		if err != nil {
			c.abandon(ctx, id)
			return nil, err
		}

		switch res.Status {
		case StatusReady:
			env := c.environment(id, arch, profile.Name, signer, res)
			logging.InfoContext(ctx, "Lease %s ready at %s", id, env.Endpoint)
			return env, nil
		case StatusFailed:
			c.abandon(ctx, id)
			return nil, a.fail(errors.ProvisionFailed, fmt.Errorf("lease %s: %s", id, res.Message))
		}

		remaining := a.deadline.Sub(c.opts.Clock.Now())
		if remaining <= 0 {
			c.abandon(ctx, id)
			return nil, a.fail(errors.ProvisionTimeout,
				fmt.Errorf("lease %s not ready after %s", id, c.opts.LeaseTimeout))
		}
		if err := c.opts.Clock.Sleep(ctx, min(c.opts.PollInterval, remaining)); err != nil {
			c.abandon(ctx, id)
			return nil, errors.Wrap("wait for lease", id, err)
		}
	}
}

func (c *Client) environment(id, arch, profile string, signer ssh.Signer, res *PollResult) *RemoteEnvironment {
	port := res.Port
	if port <= 0 {
		port = c.opts.DefaultPort
	}
	user := res.User
	if user == "" {
		user = "root"
	}
	return &RemoteEnvironment{
		LeaseID:  id,
		Provider: c.provider.Name(),
		Endpoint: net.JoinHostPort(res.Host, strconv.Itoa(port)),
		User:     user,
		Signer:   signer,
		Arch:     arch,
		Profile:  profile,
		Expiry:   res.Expiry,
	}
}

// Release tears down env. Releasing a lease twice, or a lease the provider
// no longer knows, is not an error. Release runs even if ctx is cancelled.
func (c *Client) Release(ctx context.Context, env *RemoteEnvironment) error {
	if env == nil || env.LeaseID == "" {
		return nil
	}
	return c.release(ctx, env.LeaseID)
}

func (c *Client) release(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.released[id] {
		c.mu.Unlock()
		logging.DebugContext(ctx, "Lease %s already released", id)
		return nil
	}
	c.released[id] = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ReleaseTimeout)
	defer cancel()

	b := c.opts.NewBackOff()
	var err error
	for n := 1; ; n++ {
		err = c.provider.Release(ctx, id)
		if err == nil || errors.Is(err, ErrNotFound) {
			logging.InfoContext(ctx, "Released lease %s", id)
			return nil
		}
		if !errors.Is(err, ErrTransient) || n >= c.opts.MaxAttempts {
			break
		}
		if sleepErr := c.opts.Clock.Sleep(ctx, b.NextBackOff()); sleepErr != nil {
			break
		}
	}

	logging.WarnContext(ctx, "Failed to release lease %s, it will expire on its own: %v", id, err)
	return &errors.ReleaseError{LeaseID: id, Cause: err}
}

// abandon releases a lease that will never be handed to the caller.
func (c *Client) abandon(ctx context.Context, id string) {
	_ = c.release(ctx, id)
}

// attempt carries the deadline and labels of a single Lease call.
type attempt struct {
	client   *Client
	arch     string
	profile  string
	deadline time.Time
}

func (a *attempt) fail(kind errors.ProvisionKind, cause error) error {
	return &errors.ProvisionError{Kind: kind, Arch: a.arch, Profile: a.profile, Cause: cause}
}

// do runs op, retrying transient errors with backoff until the attempt
// budget or the lease deadline runs out.
func (a *attempt) do(ctx context.Context, action string, op func() error) error {
	clock := a.client.opts.Clock
	b := a.client.opts.NewBackOff()

	for n := 1; ; n++ {
		err := op()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return errors.Wrap(action, "", ctx.Err())
		case errors.Is(err, ErrUnauthorized):
			return a.fail(errors.ProvisionUnauthorized, err)
		case !errors.Is(err, ErrTransient):
			return a.fail(errors.ProvisionFailed, errors.Wrap(action, "", err))
		case n >= a.client.opts.MaxAttempts:
			return a.fail(errors.ProvisionTimeout,
				fmt.Errorf("%s: gave up after %d attempts: %w", action, n, err))
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop || !clock.Now().Add(wait).Before(a.deadline) {
			return a.fail(errors.ProvisionTimeout,
				fmt.Errorf("%s: lease timeout reached: %w", action, err))
		}

		logging.WarnContext(ctx, "%s failed (attempt %d/%d), retrying in %s: %v",
			action, n, a.client.opts.MaxAttempts, wait, err)
		if err := clock.Sleep(ctx, wait); err != nil {
			return errors.Wrap(action, "", err)
		}
	}
}
