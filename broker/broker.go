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

// Package broker leases ephemeral remote build environments.
//
// A Client drives a Provider (an HTTP provisioning service or EC2) through
// request, poll and release, with the retry and timeout rules shared by all
// providers:
//
//   - Transient provider errors are retried with exponential backoff up to a
//     fixed attempt budget. Exhausting the budget or the lease timeout is a
//     ProvisionError of kind Timeout.
//   - Rejected credentials are a ProvisionError of kind Unauthorized and are
//     never retried.
//   - Release is best effort and idempotent: releasing the same lease twice
//     is a no-op.
//
// Time is read through a Clock so tests can run the polling loop without
// real delays.
package broker

import (
	"context"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/errors"
)

// Provider errors. Providers wrap these so the Client can classify failures.
var (
	// ErrTransient marks a failure worth retrying (rate limiting, temporary
	// unavailability, capacity).
	ErrTransient = errors.New("transient broker error")
	// ErrUnauthorized marks rejected or missing credentials.
	ErrUnauthorized = errors.New("broker rejected credentials")
	// ErrNotFound marks an unknown lease. On release it counts as released.
	ErrNotFound = errors.New("lease not found")
)

// Status is the provisioning state of a lease.
type Status string

// Lease states reported by Provider.Poll.
const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// LeaseRequest is what a Provider needs to provision an environment.
type LeaseRequest struct {
	// ID is generated once per Client.Lease call and repeated on every
	// retry, so a provider can make Request idempotent.
	ID      string
	Arch    string
	Profile config.Profile
	// PublicKey is the lease's SSH public key in authorized_keys format.
	PublicKey string
}

// PollResult is the state of a lease as reported by a Provider.
type PollResult struct {
	Status Status
	// Host and Port are set once the lease is ready.
	Host    string
	Port    int
	User    string
	Expiry  time.Time
	Message string
}

// Provider is the contract of a provisioning backend.
type Provider interface {
	Name() string
	// Request submits a lease request and returns the lease ID.
	Request(ctx context.Context, req LeaseRequest) (string, error)
	// Poll reports the state of a lease.
	Poll(ctx context.Context, id string) (*PollResult, error)
	// Release tears a lease down.
	Release(ctx context.Context, id string) error
}

// RemoteEnvironment is a leased environment, ready for SSH.
type RemoteEnvironment struct {
	LeaseID  string
	Provider string
	Endpoint string
	User     string
	Signer   ssh.Signer `json:"-"`
	Arch     string
	Profile  string
	Expiry   time.Time
}

// Broker leases and releases environments. The build orchestrator depends
// on this interface, Client implements it.
type Broker interface {
	Lease(ctx context.Context, arch string, profile config.Profile) (*RemoteEnvironment, error)
	Release(ctx context.Context, env *RemoteEnvironment) error
}
