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

package remote_test

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/remote"
	"github.com/cowdogmoo/containmint/remote/remotetest"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func tarNames(t *testing.T, data []byte) []string {
	t.Helper()
	var names []string
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
	sort.Strings(names)
	return names
}

func TestCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  remote.Command
		want string
	}{
		{name: "plain args", cmd: remote.Command{Args: []string{"podman", "push", "quay.io/r/a:1"}}, want: "podman push quay.io/r/a:1"},
		{name: "quoted arg", cmd: remote.Command{Args: []string{"podman", "build", "--label", "title=hello world"}}, want: "podman build --label 'title=hello world'"},
		{name: "script verbatim", cmd: remote.Command{Args: []string{"ignored"}, Script: "uname -a && true"}, want: "uname -a && true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			line, err := tt.cmd.Line()
			require.NoError(t, err)
			assert.Equal(t, tt.want, line)
			assert.Equal(t, tt.want, tt.cmd.String())
		})
	}
}

func TestQuoteRejectsNullBytes(t *testing.T) {
	t.Parallel()
	_, err := remote.Quote("bad\x00arg")
	assert.Error(t, err)
}

func TestOutputCombined(t *testing.T) {
	t.Parallel()

	var nilOut *remote.Output
	assert.Empty(t, nilOut.Combined())
	assert.Equal(t, "out", (&remote.Output{Stdout: "out"}).Combined())
	assert.Equal(t, "err", (&remote.Output{Stderr: "err"}).Combined())
	assert.Equal(t, "out\nerr", (&remote.Output{Stdout: "out\n", Stderr: "err"}).Combined())
}

func TestDetectContainerfile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		want    string
		wantErr string
	}{
		{name: "containerfile", files: map[string]string{"Containerfile": "FROM scratch"}, want: "Containerfile"},
		{name: "dockerfile", files: map[string]string{"Dockerfile": "FROM scratch"}, want: "Dockerfile"},
		{name: "none", files: map[string]string{"README": "x"}, wantErr: "no Containerfile or Dockerfile"},
		{
			name:    "both",
			files:   map[string]string{"Containerfile": "FROM a", "Dockerfile": "FROM b"},
			wantErr: "both Containerfile and Dockerfile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)

			got, err := remote.DetectContainerfile(dir)
			if tt.wantErr != "" {
				var cfgErr *errors.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing directory", func(t *testing.T) {
		t.Parallel()
		_, err := remote.DetectContainerfile(filepath.Join(t.TempDir(), "missing"))
		var cfgErr *errors.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestReadIgnorePatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	patterns, err := remote.ReadIgnorePatterns(dir)
	require.NoError(t, err)
	assert.Nil(t, patterns)

	writeFiles(t, dir, map[string]string{
		".dockerignore":    "*.log\n",
		".containerignore": "# comment\nnode_modules\n\n*.tmp\n",
	})
	patterns, err = remote.ReadIgnorePatterns(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"node_modules", "*.tmp"}, patterns)
}

func TestUploadContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"Containerfile":      "FROM fedora\nCOPY app /app\n",
		"app/main.sh":        "echo hi\n",
		"debug.log":          "noise",
		".dockerignore":      "*.log\nContainerfile\n",
		"vendor/keep/me.txt": "kept",
	})

	fake := remotetest.New(nil)
	err := remote.UploadContext(context.Background(), fake, dir, "/tmp/containmint-1/context", "Containerfile")
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "mkdir -p /tmp/containmint-1/context && tar -xf - -C /tmp/containmint-1/context", calls[0])

	names := tarNames(t, fake.Call(0).Stdin)
	assert.Contains(t, names, "Containerfile", "build file is always sent")
	assert.Contains(t, names, "app/main.sh")
	assert.Contains(t, names, "vendor/keep/me.txt")
	assert.NotContains(t, names, "debug.log")
}

func TestUploadContext_TransferFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"Dockerfile": "FROM scratch"})

	fake := remotetest.New(func(call remotetest.Call) (*remote.Output, error) {
		return remotetest.Lost(call.Line)
	})
	err := remote.UploadContext(context.Background(), fake, dir, "/tmp/w", "Dockerfile")
	assert.True(t, errors.IsConnectionLost(err))
}

func TestLocalExecutor(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	t.Parallel()

	e := remote.NewLocalExecutor("[local]")
	ctx := context.Background()

	out, err := e.Run(ctx, remote.Command{Script: "echo hello; echo oops >&2", Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)

	out, err = e.Run(ctx, remote.Command{Script: "echo partial; exit 3", Quiet: true})
	var execErr *errors.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, errors.ExecNonZeroExit, execErr.Kind)
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, execErr.Output, "partial")

	out, err = e.Run(ctx, remote.Command{Args: []string{"cat"}, Stdin: strings.NewReader("piped"), Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, "piped", out.Stdout)

	_, err = e.Run(ctx, remote.Command{Args: []string{"containmint-no-such-binary"}, Quiet: true})
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 127, execErr.ExitCode)

	_, err = e.Run(ctx, remote.Command{})
	assert.Error(t, err)
	assert.NoError(t, e.Close())
}

func TestSSHOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	opts := remote.SSHOptions{}.WithDefaults()
	assert.Equal(t, remote.DefaultConnectTimeout, opts.ConnectTimeout)
	assert.Equal(t, remote.DefaultReadyTimeout, opts.ReadyTimeout)

	opts = remote.SSHOptions{ConnectTimeout: time.Second, ReadyTimeout: 5 * time.Second}.WithDefaults()
	assert.Equal(t, time.Second, opts.ConnectTimeout)
	assert.Equal(t, 5*time.Second, opts.ReadyTimeout)
}
