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

package main

import (
	"bytes"
	"context"
	"encoding/json"
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
	"github.com/cowdogmoo/containmint/cli"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/registry"
	"github.com/cowdogmoo/containmint/registry/registrytest"
	"github.com/cowdogmoo/containmint/remote"
	"github.com/cowdogmoo/containmint/remote/remotetest"
)

type fakeBroker struct {
	mu       sync.Mutex
	leases   int
	releases int
}

func (b *fakeBroker) Lease(_ context.Context, arch string, profile config.Profile) (*broker.RemoteEnvironment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leases++
	return &broker.RemoteEnvironment{
		LeaseID:  fmt.Sprintf("lease-%d", b.leases),
		Provider: "fake",
		Endpoint: "203.0.113.10:22",
		User:     "root",
		Arch:     arch,
		Profile:  profile.Name,
	}, nil
}

func (b *fakeBroker) Release(context.Context, *broker.RemoteEnvironment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releases++
	return nil
}

type testEnv struct {
	broker  *fakeBroker
	host    *remotetest.Fake
	env     map[string]string
	brokers int
	deps    *dependencies
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	e := &testEnv{
		broker: &fakeBroker{},
		env: map[string]string{
			registry.UsernameEnv: "bot",
			registry.PasswordEnv: "hunter2",
		},
	}
	e.host = remotetest.New(func(call remotetest.Call) (*remote.Output, error) {
		switch {
		case call.Line == "command -v podman":
			return &remote.Output{Stdout: "/usr/bin/podman\n"}, nil
		case strings.HasPrefix(call.Line, "command -v"):
			return remotetest.Fail(call.Line, 1, "")
		case call.Line == "podman --version":
			return &remote.Output{Stdout: "podman version 4.9.4\n"}, nil
		case strings.HasPrefix(call.Line, "podman build"):
			return &remote.Output{Stdout: "STEP 1/1: FROM scratch\n"}, nil
		}
		return nil, nil
	})
	e.deps = &dependencies{
		lookupEnv: func(key string) (string, bool) {
			v, ok := e.env[key]
			return v, ok
		},
		newBroker: func(context.Context, *config.Config) (broker.Broker, error) {
			e.brokers++
			return e.broker, nil
		},
		dial: func(config.SSHConfig) builder.Dialer {
			return func(context.Context, *broker.RemoteEnvironment) (remote.Executor, error) {
				return e.host, nil
			}
		},
	}
	return e
}

func (e *testEnv) run(args ...string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, e.deps, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func buildContext(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Containerfile"), []byte("FROM scratch\n"), 0644))
	return dir
}

func TestExecute(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name         string
		args         []string
		wantCode     int
		wantContains string
	}{
		{
			name:         "help output",
			args:         []string{"--help"},
			wantContains: "Containmint",
		},
		{
			name:     "unknown flag",
			args:     []string{"--unknown"},
			wantCode: errors.ExitConfig,
		},
		{
			name:         "version",
			args:         []string{"version"},
			wantContains: "containmint dev",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, code := e.run(tt.args...)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantContains != "" {
				assert.Contains(t, stdout, tt.wantContains)
			}
		})
	}
}

func TestProfiles(t *testing.T) {
	e := newTestEnv(t)

	stdout, _, code := e.run("profiles", "--arch", "aarch64", "-o", "gha-matrix")
	require.Equal(t, 0, code)

	var matrix cli.GHAMatrix
	require.NoError(t, json.Unmarshal([]byte(stdout), &matrix))
	require.NotEmpty(t, matrix.Include)
	for _, entry := range matrix.Include {
		assert.Equal(t, "aarch64", entry.Arch)
	}
	assert.Contains(t, matrix.Include, cli.GHAMatrixEntry{Remote: "rhel/9.0", Arch: "aarch64"})

	_, _, code = e.run("profiles", "-o", "yaml")
	assert.Equal(t, errors.ExitConfig, code)
}

func TestProfiles_ConfigOverrides(t *testing.T) {
	e := newTestEnv(t)
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`profiles:
  - name: centos/stream9
    platform: centos
    version: stream9
    engine: podman
    package_manager: dnf
    architectures: [x86_64]
`), 0644))

	stdout, _, code := e.run("--config", cfgFile, "profiles")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "centos/stream9")
	assert.Contains(t, stdout, "rhel/9.0")
}

func TestBuild_NoLoginWithPushNeverLeases(t *testing.T) {
	e := newTestEnv(t)

	_, stderr, code := e.run("build", "--tag", "quay.io/org/app:v1", "--push", "--no-login", "--context", buildContext(t))
	assert.Equal(t, errors.ExitConfig, code)
	assert.Contains(t, stderr, "no-login")
	assert.Zero(t, e.brokers)
	assert.Zero(t, e.broker.leases)
}

func TestBuild_MissingCredentialsNeverLeases(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantField string
	}{
		{
			name:      "no credentials",
			env:       map[string]string{},
			wantField: registry.UsernameEnv,
		},
		{
			name:      "password missing",
			env:       map[string]string{registry.UsernameEnv: "bot"},
			wantField: registry.PasswordEnv,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.env = tt.env

			_, stderr, code := e.run("build", "--tag", "quay.io/org/app:v1-x86_64", "--arch", "x86_64",
				"--remote", "rhel/9.0", "--push", "--context", buildContext(t))
			assert.Equal(t, errors.ExitConfig, code)
			assert.Contains(t, stderr, tt.wantField)
			assert.Zero(t, e.brokers)
			assert.Zero(t, e.broker.leases)
			assert.Empty(t, e.host.CallsContaining("podman push"))
		})
	}
}

func TestMerge_MissingCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.env = map[string]string{}

	_, stderr, code := e.run("merge", "--push", "--tag", "quay.io/org/app:v1",
		"quay.io/org/app:v1-x86_64", "quay.io/org/app:v1-aarch64")
	assert.Equal(t, errors.ExitConfig, code)
	assert.Contains(t, stderr, registry.UsernameEnv)
}

func TestBuild_InvalidBuildArg(t *testing.T) {
	e := newTestEnv(t)

	_, _, code := e.run("build", "--build-arg", "VERSION", "--context", buildContext(t))
	assert.Equal(t, errors.ExitConfig, code)
	assert.Zero(t, e.broker.leases)
}

func TestBuild_WritesResultFile(t *testing.T) {
	e := newTestEnv(t)
	resultFile := filepath.Join(t.TempDir(), "result.json")

	stdout, _, code := e.run("build",
		"--arch", "aarch64",
		"--remote", "rhel/9.2",
		"--tag", "quay.io/org/app:v1-aarch64",
		"--build-arg", "VERSION=1.0",
		"--context", buildContext(t),
		"--result-file", resultFile,
		"-o", "json",
	)
	require.Equal(t, 0, code)
	assert.Equal(t, 1, e.broker.leases)
	assert.Equal(t, 1, e.broker.releases)

	result, err := builder.ReadResult(resultFile)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "rhel/9.2", result.Remote)
	assert.Equal(t, "aarch64", result.Architecture)
	assert.Equal(t, builder.StageReleased, result.Stage)
	assert.False(t, result.Pushed)

	var printed builder.BuildResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &printed))
	assert.Equal(t, result.LeaseID, printed.LeaseID)

	builds := e.host.CallsContaining("podman build")
	require.Len(t, builds, 1)
	assert.Contains(t, builds[0], "VERSION=1.0")
	assert.Contains(t, builds[0], "--no-cache")
}

func TestBuild_EnvironmentOverridesConfig(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv("CONTAINMINT_BUILD_NO_CACHE", "false")
	t.Setenv("CONTAINMINT_BUILD_ARCH", "aarch64")

	_, _, code := e.run("build", "--context", buildContext(t))
	require.Equal(t, 0, code)

	builds := e.host.CallsContaining("podman build")
	require.Len(t, builds, 1)
	assert.NotContains(t, builds[0], "--no-cache")

	// Flags win over the environment.
	_, _, code = e.run("build", "--arch", "ppc64le", "--context", buildContext(t))
	assert.Equal(t, errors.ExitConfig, code)
}

func TestBuild_BuildFailureExitCode(t *testing.T) {
	e := newTestEnv(t)
	e.host = remotetest.New(func(call remotetest.Call) (*remote.Output, error) {
		switch {
		case call.Line == "command -v podman":
			return &remote.Output{Stdout: "/usr/bin/podman\n"}, nil
		case call.Line == "podman --version":
			return &remote.Output{Stdout: "podman version 4.9.4\n"}, nil
		case strings.HasPrefix(call.Line, "podman build"):
			return remotetest.Fail(call.Line, 125, "Error: no FROM statement")
		}
		return nil, nil
	})

	_, stderr, code := e.run("build", "--context", buildContext(t))
	assert.Equal(t, errors.ExitExec, code)
	assert.Contains(t, stderr, "no FROM statement")
	assert.Equal(t, 1, e.broker.releases)
}

func TestMerge(t *testing.T) {
	reg := registrytest.New()
	defer reg.Close()

	for _, img := range []registrytest.Image{
		{Repo: "org/app", Tag: "v1-x86_64", OS: "linux", Arch: "amd64"},
		{Repo: "org/app", Tag: "v1-aarch64", OS: "linux", Arch: "arm64"},
	} {
		_, err := reg.AddImage(img)
		require.NoError(t, err)
	}

	e := newTestEnv(t)

	target := reg.Ref("org/app", "v1")
	stdout, stderr, code := e.run("merge", "--push", "--tag", target, "-o", "json",
		reg.Ref("org/app", "v1-x86_64"), reg.Ref("org/app", "v1-aarch64"))
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stderr, "hunter2")

	raw, mediaType, err := reg.Manifest(target)
	require.NoError(t, err)
	assert.True(t, mediaType.IsIndex())
	assert.JSONEq(t, string(raw), stdout)
}

func TestMerge_Errors(t *testing.T) {
	reg := registrytest.New()
	defer reg.Close()
	_, err := reg.AddImage(registrytest.Image{Repo: "org/app", Tag: "v1-x86_64", OS: "linux", Arch: "amd64"})
	require.NoError(t, err)

	e := newTestEnv(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{
			name: "no sources",
			args: []string{"merge", "--tag", reg.Ref("org/app", "v1")},
			code: errors.ExitConfig,
		},
		{
			name: "missing source",
			args: []string{"merge", "--tag", reg.Ref("org/app", "v1"), reg.Ref("org/app", "nope")},
			code: errors.ExitMerge,
		},
		{
			name: "duplicate platform",
			args: []string{"merge", "--tag", reg.Ref("org/app", "v1"), reg.Ref("org/app", "v1-x86_64"), reg.Ref("org/app", "v1-x86_64")},
			code: errors.ExitMerge,
		},
		{
			name: "mixed servers",
			args: []string{"merge", "--tag", "quay.io/org/app:v1", reg.Ref("org/app", "v1-x86_64")},
			code: errors.ExitConfig,
		},
		{
			name: "unknown backend",
			args: []string{"merge", "--backend", "buildx", "--tag", reg.Ref("org/app", "v1"), reg.Ref("org/app", "v1-x86_64")},
			code: errors.ExitConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, code := e.run(tt.args...)
			assert.Equal(t, tt.code, code)
		})
	}

	_, _, err = reg.Manifest(reg.Ref("org/app", "v1"))
	assert.Error(t, err, "nothing may be published when a merge fails")
}
