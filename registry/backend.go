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

package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
)

// Backend performs the actual login and logout for a Session.
type Backend interface {
	Login(ctx context.Context, host string, creds Credentials) error
	Logout(ctx context.Context, host string) error
}

// LoginEngine is the part of a container engine a login needs.
type LoginEngine interface {
	Login(ctx context.Context, server, username, password string) error
	Logout(ctx context.Context, server string) error
}

// EngineLogin logs in through a container engine, on whatever host the
// engine runs.
type EngineLogin struct {
	Engine LoginEngine
}

// Login implements Backend.
func (b EngineLogin) Login(ctx context.Context, host string, creds Credentials) error {
	return b.Engine.Login(ctx, host, creds.Username, creds.Password)
}

// Logout implements Backend.
func (b EngineLogin) Logout(ctx context.Context, host string) error {
	return b.Engine.Logout(ctx, host)
}

// Keyring holds credentials in memory for go-containerregistry clients.
// Nothing is written to disk, so logout only forgets the host.
type Keyring struct {
	mu    sync.RWMutex
	hosts map[string]authn.AuthConfig
}

var (
	_ Backend        = (*Keyring)(nil)
	_ authn.Keychain = (*Keyring)(nil)
)

// NewKeyring returns an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{hosts: make(map[string]authn.AuthConfig)}
}

// Login implements Backend.
func (k *Keyring) Login(_ context.Context, host string, creds Credentials) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hosts[host] = authn.AuthConfig{Username: creds.Username, Password: creds.Password}
	return nil
}

// Logout implements Backend.
func (k *Keyring) Logout(_ context.Context, host string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.hosts, host)
	return nil
}

// Resolve implements authn.Keychain. Hosts without a login resolve to
// anonymous access.
func (k *Keyring) Resolve(target authn.Resource) (authn.Authenticator, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if cfg, ok := k.hosts[target.RegistryStr()]; ok {
		return authn.FromConfig(cfg), nil
	}
	return authn.Anonymous, nil
}

// Keychain returns a keychain that prefers the keyring and falls back to
// the local docker/podman credential store.
func (k *Keyring) Keychain() authn.Keychain {
	return authn.NewMultiKeychain(k, authn.DefaultKeychain)
}

// Backends logs in through each backend in turn. Logout visits every
// backend and joins the failures.
type Backends []Backend

// Login implements Backend.
func (bs Backends) Login(ctx context.Context, host string, creds Credentials) error {
	for _, b := range bs {
		if err := b.Login(ctx, host, creds); err != nil {
			return err
		}
	}
	return nil
}

// Logout implements Backend.
func (bs Backends) Logout(ctx context.Context, host string) error {
	var errs []error
	for _, b := range bs {
		if err := b.Logout(ctx, host); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
