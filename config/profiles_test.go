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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdogmoo/containmint/errors"
)

func TestLoadCatalog_Builtin(t *testing.T) {
	t.Parallel()

	catalog, err := LoadCatalog(nil)
	require.NoError(t, err)

	rhel, err := catalog.Lookup("rhel/9.0")
	require.NoError(t, err)
	assert.Equal(t, "podman", rhel.Engine)
	assert.Equal(t, "dnf", rhel.PackageManager)
	assert.True(t, rhel.SupportsArch("aarch64"))
	assert.False(t, rhel.SupportsArch("s390x"))

	ubuntu, err := catalog.Lookup("ubuntu/22.04")
	require.NoError(t, err)
	assert.Equal(t, "docker", ubuntu.Engine)
	assert.Equal(t, "apt", ubuntu.PackageManager)
}

func TestLoadCatalog_Overrides(t *testing.T) {
	t.Parallel()

	catalog, err := LoadCatalog([]Profile{
		{Name: "rhel/9.0", Engine: "docker", Architectures: []string{"x86_64"}},
		{Name: "alma/9", Engine: "podman", Architectures: []string{"x86_64"}},
	})
	require.NoError(t, err)

	rhel, err := catalog.Lookup("rhel/9.0")
	require.NoError(t, err)
	assert.Equal(t, "docker", rhel.Engine)

	assert.Contains(t, catalog.Names(), "alma/9")
}

func TestLoadCatalog_UnnamedProfile(t *testing.T) {
	t.Parallel()

	_, err := LoadCatalog([]Profile{{Engine: "podman"}})
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCatalogLookup_Suggestions(t *testing.T) {
	t.Parallel()

	catalog, err := LoadCatalog(nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		suggest string
	}{
		{name: "prefix", input: "rhel/9", suggest: "rhel/9.0"},
		{name: "unknown version", input: "ubuntu/20.04", suggest: "ubuntu/22.04"},
		{name: "case", input: "RHEL/9.2", suggest: "rhel/9.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := catalog.Lookup(tt.input)
			var cfgErr *errors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "remote", cfgErr.Field)
			assert.Contains(t, cfgErr.Error(), "did you mean")
			assert.Contains(t, cfgErr.Error(), tt.suggest)
		})
	}

	_, err = catalog.Lookup("windows/2022")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "did you mean")
}
