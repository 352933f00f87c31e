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

package builder_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdogmoo/containmint/broker"
	"github.com/cowdogmoo/containmint/builder"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/engine"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/registry"
	"github.com/cowdogmoo/containmint/remote"
	"github.com/cowdogmoo/containmint/remote/remotetest"
)

type fakeBroker struct {
	mu       sync.Mutex
	leases   int
	releases int
	leaseErr error
}

func (b *fakeBroker) Lease(_ context.Context, arch string, profile config.Profile) (*broker.RemoteEnvironment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leases++
	if b.leaseErr != nil {
		return nil, b.leaseErr
	}
	return &broker.RemoteEnvironment{
		LeaseID:  fmt.Sprintf("lease-%d", b.leases),
		Provider: "fake",
		Endpoint: "203.0.113.10:22",
		User:     "root",
		Arch:     arch,
		Profile:  profile.Name,
	}, nil
}

func (b *fakeBroker) Release(ctx context.Context, _ *broker.RemoteEnvironment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releases++
	if ctx.Err() != nil {
		return fmt.Errorf("release ran on a cancelled context")
	}
	return nil
}

func (b *fakeBroker) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leases, b.releases
}

type countingOpener struct {
	opened int
	inner  registry.Opener
}

func (o *countingOpener) Scoped(ctx context.Context, backend registry.Backend, hosts []string, fn func(*registry.Session) error) error {
	o.opened++
	return o.inner.Scoped(ctx, backend, hosts, fn)
}

// podmanHost answers engine detection like a host with podman installed.
func podmanHost(call remotetest.Call) (*remote.Output, error) {
	switch {
	case call.Line == "command -v podman":
		return &remote.Output{Stdout: "/usr/bin/podman\n"}, nil
	case strings.HasPrefix(call.Line, "command -v"):
		return remotetest.Fail(call.Line, 1, "")
	case call.Line == "podman --version":
		return &remote.Output{Stdout: "podman version 4.9.4\n"}, nil
	}
	return nil, nil
}

type harness struct {
	broker *fakeBroker
	fake   *remotetest.Fake
	dials  int
	opener *countingOpener
	orch   *builder.Orchestrator
}

func newHarness(t *testing.T, handler remotetest.Handler) *harness {
	t.Helper()
	h := &harness{
		broker: &fakeBroker{},
		fake:   remotetest.New(handler),
		opener: &countingOpener{inner: registry.NewManager(&registry.Credentials{Username: "bot", Password: "hunter2"})},
	}
	h.orch = &builder.Orchestrator{
		Broker: h.broker,
		Dial: func(context.Context, *broker.RemoteEnvironment) (remote.Executor, error) {
			h.dials++
			return h.fake, nil
		},
		Sessions: h.opener,
	}
	return h
}

func newContext(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Containerfile"), []byte("FROM registry.access.redhat.com/ubi9\n"), 0644))
	return dir
}

func newRequest(t *testing.T, opts builder.RequestOptions) *builder.BuildRequest {
	t.Helper()
	catalog, err := config.LoadCatalog(nil)
	require.NoError(t, err)
	if opts.Context == "" {
		opts.Context = newContext(t)
	}
	if opts.Remote == "" {
		opts.Remote = "rhel/9.0"
	}
	if opts.Architecture == "" {
		opts.Architecture = "x86_64"
	}
	req, err := builder.NewBuildRequest(context.Background(), opts, catalog)
	require.NoError(t, err)
	return req
}

func TestBuild_PushHappyPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t, podmanHost)

	req := newRequest(t, builder.RequestOptions{
		Tags:      []string{"quay.io/org/app:v1-x86_64"},
		BuildArgs: []engine.BuildArg{{Key: "VERSION", Value: "1"}},
		Push:      true,
		NoCache:   true,
	})
	result, err := h.orch.Build(context.Background(), req)
	require.NoError(t, err)

	leases, releases := h.broker.counts()
	assert.Equal(t, 1, leases)
	assert.Equal(t, 1, releases)
	assert.True(t, result.Pushed)
	assert.True(t, result.Released)
	assert.True(t, result.Succeeded())
	assert.Equal(t, builder.StageReleased, result.Stage)
	assert.Equal(t, "lease-1", result.LeaseID)
	assert.Equal(t, "podman", result.Engine)
	require.NotNil(t, result.BuildExitCode)
	assert.Equal(t, 0, *result.BuildExitCode)
	require.NotNil(t, result.PushExitCode)
	assert.Equal(t, 0, *result.PushExitCode)

	calls := h.fake.Calls()
	assert.Equal(t, "uname -a", calls[0])
	require.Len(t, h.fake.CallsContaining("tar -xf -"), 1)
	builds := h.fake.CallsContaining("podman build")
	require.Len(t, builds, 1)
	assert.Contains(t, builds[0], "--no-cache")
	assert.Contains(t, builds[0], "--tag quay.io/org/app:v1-x86_64")
	assert.Contains(t, builds[0], "VERSION=1")
	assert.Contains(t, builds[0], "--format docker")

	require.Len(t, h.fake.CallsContaining("podman login"), 1)
	assert.NotContains(t, h.fake.CallsContaining("podman login")[0], "hunter2")
	assert.Len(t, h.fake.CallsContaining("podman push quay.io/org/app:v1-x86_64"), 1)
	assert.Len(t, h.fake.CallsContaining("podman logout quay.io"), 1)
	assert.Equal(t, 1, h.fake.Closed())
}

func TestBuild_WithoutPushNeverOpensSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, podmanHost)

	result, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{
		Tags: []string{"quay.io/org/app:v1-x86_64"},
	}))
	require.NoError(t, err)

	assert.Zero(t, h.opener.opened)
	assert.False(t, result.Pushed)
	assert.Nil(t, result.PushExitCode)
	assert.Empty(t, h.fake.CallsContaining("login"))
	assert.Empty(t, h.fake.CallsContaining("podman push"))
	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
}

func TestBuild_NoLoginWithPushIsRejectedBeforeLeasing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, podmanHost)

	catalog, err := config.LoadCatalog(nil)
	require.NoError(t, err)
	_, err = builder.NewBuildRequest(context.Background(), builder.RequestOptions{
		Architecture: "x86_64",
		Tags:         []string{"quay.io/org/app:v1"},
		Context:      newContext(t),
		Remote:       "rhel/9.0",
		Push:         true,
		NoLogin:      true,
	}, catalog)
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "no-login", cfgErr.Field)

	// A request assembled by hand is rejected the same way.
	req := newRequest(t, builder.RequestOptions{Tags: []string{"quay.io/org/app:v1"}})
	req.Push, req.NoLogin = true, true
	_, err = h.orch.Build(context.Background(), req)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, errors.ExitConfig, errors.ExitCode(err))

	leases, releases := h.broker.counts()
	assert.Zero(t, leases)
	assert.Zero(t, releases)
}

func TestBuild_LeaseFailureReleasesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, podmanHost)
	h.broker.leaseErr = &errors.ProvisionError{Kind: errors.ProvisionTimeout, Arch: "x86_64", Profile: "rhel/9.0"}

	result, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{}))

	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StageLeased, stageErr.Stage)
	assert.Equal(t, errors.ExitProvision, errors.ExitCode(err))
	assert.Equal(t, builder.StageFailed, result.Stage)
	_, releases := h.broker.counts()
	assert.Zero(t, releases)
	assert.Zero(t, h.dials)
}

func TestBuild_ContextTransferFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		if strings.Contains(call.Line, "tar -xf -") {
			return remotetest.Fail(call.Line, 2, "tar: write error: No space left on device")
		}
		return podmanHost(call)
	})

	result, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{}))

	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StageContextTransferred, stageErr.Stage)
	assert.Contains(t, stageErr.Output, "No space left on device")
	assert.Equal(t, builder.StageFailed, result.Stage)
	assert.Equal(t, builder.StageContextTransferred, result.FailedStage)
	assert.Empty(t, h.fake.CallsContaining("podman build"))

	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
	assert.True(t, result.Released)
}

func TestBuild_BuildFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		if strings.Contains(call.Line, "podman build") {
			return remotetest.Fail(call.Line, 125, "Error: no such file: missing.txt")
		}
		return podmanHost(call)
	})

	result, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{
		Tags: []string{"quay.io/org/app:v1"},
		Push: true,
	}))

	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StageBuilt, stageErr.Stage)
	assert.Equal(t, errors.ExitExec, errors.ExitCode(err))
	require.NotNil(t, result.BuildExitCode)
	assert.Equal(t, 125, *result.BuildExitCode)
	assert.Contains(t, result.Output, "missing.txt")
	assert.Nil(t, result.PushExitCode)

	assert.Len(t, h.fake.CallsContaining("podman build"), 1, "a failed build is not retried")
	assert.Zero(t, h.opener.opened)
	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
}

func TestBuild_PushFailureLogsOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		if strings.HasPrefix(call.Line, "podman push") {
			return remotetest.Fail(call.Line, 1, "denied: requested access to the resource is denied")
		}
		return podmanHost(call)
	})

	result, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{
		Tags: []string{"quay.io/org/app:v1"},
		Push: true,
	}))

	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StagePushed, stageErr.Stage)
	require.NotNil(t, result.PushExitCode)
	assert.Equal(t, 1, *result.PushExitCode)
	assert.False(t, result.Pushed)
	assert.Len(t, h.fake.CallsContaining("podman logout quay.io"), 1)
	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
}

func TestBuild_ConnectionLostIsRetriedOnce(t *testing.T) {
	t.Parallel()
	builds := 0
	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		if strings.Contains(call.Line, "podman build") {
			builds++
			if builds == 1 {
				return remotetest.Lost(call.Line)
			}
		}
		return podmanHost(call)
	})

	result, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{}))
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
	assert.Equal(t, 2, h.dials)
	assert.Equal(t, builder.StageReleased, result.Stage)
	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
}

func TestBuild_ConnectionLostTwiceFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		if strings.Contains(call.Line, "podman build") {
			return remotetest.Lost(call.Line)
		}
		return podmanHost(call)
	})

	_, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{}))

	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StageBuilt, stageErr.Stage)
	assert.True(t, errors.IsConnectionLost(err))
	assert.Len(t, h.fake.CallsContaining("podman build"), 2)
	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
}

func TestBuild_CancelledStillReleases(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		if strings.Contains(call.Line, "podman build") {
			cancel()
			return remotetest.Lost(call.Line)
		}
		return podmanHost(call)
	})

	result, err := h.orch.Build(ctx, newRequest(t, builder.RequestOptions{}))
	require.Error(t, err)

	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
	assert.True(t, result.Released, "release runs on a detached context")
	assert.Equal(t, 1, h.dials, "no reconnect after cancellation")
}

func TestBuild_SquashUnsupportedByDetectedEngine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		switch call.Line {
		case "command -v podman":
			return remotetest.Fail(call.Line, 1, "")
		case "command -v docker":
			return &remote.Output{Stdout: "/usr/bin/docker\n"}, nil
		case "docker --version":
			return &remote.Output{Stdout: "Docker version 24.0.7, build afdd53b\n"}, nil
		}
		return nil, nil
	})

	_, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{Squash: "all"}))

	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "squash", cfgErr.Field)
	assert.Equal(t, errors.ExitConfig, errors.ExitCode(err))
	assert.Empty(t, h.fake.CallsContaining("docker build"))
	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
}

func TestBuild_BootstrapsMissingEngine(t *testing.T) {
	t.Parallel()
	installed := false
	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		if call.Line == "dnf install -y podman" {
			installed = true
			return nil, nil
		}
		if strings.HasPrefix(call.Line, "command -v") && !installed {
			return remotetest.Fail(call.Line, 1, "")
		}
		return podmanHost(call)
	})
	h.orch.Bootstrap = true

	result, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{}))
	require.NoError(t, err)
	assert.True(t, installed)
	assert.Equal(t, "podman", result.Engine)
	assert.Len(t, h.fake.CallsContaining("podman build"), 1)
}

func TestBuild_MissingEngineWithoutBootstrap(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(call remotetest.Call) (*remote.Output, error) {
		if strings.HasPrefix(call.Line, "command -v") {
			return remotetest.Fail(call.Line, 1, "")
		}
		return nil, nil
	})

	_, err := h.orch.Build(context.Background(), newRequest(t, builder.RequestOptions{}))
	require.ErrorIs(t, err, engine.ErrNoEngine)
	assert.Empty(t, h.fake.CallsContaining("dnf"))
	_, releases := h.broker.counts()
	assert.Equal(t, 1, releases)
}
