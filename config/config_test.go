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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every search path at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Setenv("XDG_CONFIG_DIRS", filepath.Join(dir, "etc"))
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "color", cfg.Log.Format)
	assert.Equal(t, "coreci", cfg.Broker.Provider)
	assert.Equal(t, 15*time.Minute, cfg.Broker.LeaseTimeout)
	assert.Equal(t, 10*time.Second, cfg.Broker.PollInterval)
	assert.Equal(t, 5, cfg.Broker.MaxAttempts)
	assert.Equal(t, "rhel/9.0", cfg.Build.DefaultRemote)
	assert.Equal(t, "x86_64", cfg.Build.DefaultArch)
	assert.True(t, cfg.Build.NoCache)
	assert.Equal(t, "registry", cfg.Merge.Backend)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, "m6g.large", cfg.AWS.InstanceTypes["aarch64"])
}

func TestLoadFromPath(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	content := `log:
  level: debug
broker:
  provider: ec2
  lease_timeout: 5m
  max_attempts: 3
aws:
  region: us-west-2
  security_groups: [sg-1, sg-2]
merge:
  backend: engine
profiles:
  - name: centos/stream9
    platform: centos
    version: stream9
    engine: podman
    package_manager: dnf
    architectures: [x86_64]
`
	require.NoError(t, os.WriteFile(path, []byte(content), FilePermReadWrite))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "ec2", cfg.Broker.Provider)
	assert.Equal(t, 5*time.Minute, cfg.Broker.LeaseTimeout)
	assert.Equal(t, 3, cfg.Broker.MaxAttempts)
	assert.Equal(t, "us-west-2", cfg.AWS.Region)
	assert.Equal(t, []string{"sg-1", "sg-2"}, cfg.AWS.SecurityGroups)
	assert.Equal(t, "engine", cfg.Merge.Backend)
	require.Len(t, cfg.Profiles, 1)
	assert.Equal(t, "centos/stream9", cfg.Profiles[0].Name)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Broker.PollInterval)
}

func TestLoadFromPath_Missing(t *testing.T) {
	isolate(t)
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_FindsConfigInXDGHome(t *testing.T) {
	dir := isolate(t)
	cfgDir := filepath.Join(dir, ".config", "containmint")
	require.NoError(t, os.MkdirAll(cfgDir, DirPermReadWriteExec))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"),
		[]byte("build:\n  default_remote: ubuntu/22.04\n"), FilePermReadWrite))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ubuntu/22.04", cfg.Build.DefaultRemote)
}

func TestLoad_EnvVarOverride(t *testing.T) {
	isolate(t)
	t.Setenv("CONTAINMINT_LOG_LEVEL", "warn")
	t.Setenv("CONTAINMINT_BROKER_PROVIDER", "ec2")
	t.Setenv("CONTAINMINT_MERGE_BACKEND", "engine")
	t.Setenv("AWS_REGION", "eu-central-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "ec2", cfg.Broker.Provider)
	assert.Equal(t, "engine", cfg.Merge.Backend)
	assert.Equal(t, "eu-central-1", cfg.AWS.Region)
}

func TestLoad_CredentialsNeverFromConfigFile(t *testing.T) {
	dir := isolate(t)
	t.Setenv("CONTAINMINT_BROKER_API_KEY", "")
	t.Setenv("CONTAINMINT_BROKER_IDENTITY_TOKEN", "")

	path := filepath.Join(dir, "config.yaml")
	content := `coreci:
  endpoint: https://broker.example.com
  apikey: FROM_FILE
  api_key: FROM_FILE
`
	require.NoError(t, os.WriteFile(path, []byte(content), FilePermReadWrite))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.CoreCI.APIKey)
	assert.Equal(t, "https://broker.example.com", cfg.CoreCI.Endpoint)

	t.Setenv("CONTAINMINT_BROKER_API_KEY", "from-env")
	t.Setenv("CONTAINMINT_BROKER_IDENTITY_TOKEN", "jwt")
	cfg, err = LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.CoreCI.APIKey)
	assert.Equal(t, "jwt", cfg.CoreCI.IdentityToken)
}

func TestGetConfigDirs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("XDG_CONFIG_DIRS", "")

	dirs := GetConfigDirs()
	require.NotEmpty(t, dirs)
	assert.Equal(t, filepath.Join(dir, "xdg", "containmint"), dirs[0])
	assert.Contains(t, dirs, filepath.Join(dir, ".containmint"))
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := ConfigFile("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "containmint", "config.yaml"), path)
	assert.DirExists(t, filepath.Join(dir, "containmint"))
}
