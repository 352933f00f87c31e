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
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

const logoutTimeout = 30 * time.Second

// Opener scopes registry operations in a session.
type Opener interface {
	Scoped(ctx context.Context, backend Backend, hosts []string, fn func(*Session) error) error
}

// Session is a set of registry logins that is closed exactly once.
type Session struct {
	backend Backend
	hosts   []string

	mu     sync.Mutex
	closed bool
}

// Hosts returns the hosts the session is logged in to. A no-op session has
// none.
func (s *Session) Hosts() []string {
	return append([]string(nil), s.hosts...)
}

// Live reports whether the session has not been closed yet.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close logs out of every host. It runs even when ctx is cancelled, and
// calling it again is a no-op. Logout failures are logged and the first one
// is returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.backend == nil || len(s.hosts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()

	var first error
	for _, host := range s.hosts {
		if err := s.backend.Logout(ctx, host); err != nil {
			logging.WarnContext(ctx, "Failed to log out of %s: %v", host, err)
			if first == nil {
				first = errors.Wrap("log out", host, err)
			}
			continue
		}
		logging.DebugContext(ctx, "Logged out of %s", host)
	}
	return first
}

// Manager opens sessions with a fixed set of credentials.
type Manager struct {
	creds *Credentials
}

var _ Opener = (*Manager)(nil)

// NewManager returns a Manager. With nil credentials every session is a
// no-op that relies on the existing local credential state.
func NewManager(creds *Credentials) *Manager {
	return &Manager{creds: creds}
}

// Open logs in to each distinct host. If a login fails, the hosts already
// logged in to are logged out again before the error is returned.
func (m *Manager) Open(ctx context.Context, backend Backend, hosts []string) (*Session, error) {
	if m.creds == nil {
		logging.DebugContext(ctx, "No registry credentials, using existing login state")
		return &Session{}, nil
	}

	logging.AddSecretContext(ctx, m.creds.Password)

	s := &Session{backend: backend}
	for _, host := range lo.Uniq(hosts) {
		logging.InfoContext(ctx, "Logging in to %s as %s", host, m.creds.Username)
		if err := backend.Login(ctx, host, *m.creds); err != nil {
			_ = s.Close(ctx)
			return nil, errors.Wrap("log in", host, err)
		}
		s.hosts = append(s.hosts, host)
	}
	return s, nil
}

// Scoped runs fn inside a session that is closed when fn returns, panics
// included.
func (m *Manager) Scoped(ctx context.Context, backend Backend, hosts []string, fn func(*Session) error) error {
	s, err := m.Open(ctx, backend, hosts)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	return fn(s)
}
