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

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdogmoo/containmint/errors"
)

func requireField(t *testing.T, err error, field string) {
	t.Helper()
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, field, cfgErr.Field)
	assert.Equal(t, errors.ExitConfig, errors.ExitCode(err))
}

func TestValidateBuildOptions(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateBuildOptions(BuildCLIOptions{
		BuildArgs: []string{"VERSION=1.0"},
		Labels:    []string{"maintainer=ops"},
		Push:      true,
	}))
	assert.NoError(t, v.ValidateBuildOptions(BuildCLIOptions{NoLogin: true}))

	requireField(t, v.ValidateBuildOptions(BuildCLIOptions{BuildArgs: []string{"VERSION"}}), "build-arg")
	requireField(t, v.ValidateBuildOptions(BuildCLIOptions{Labels: []string{"=x"}}), "label")
	requireField(t, v.ValidateBuildOptions(BuildCLIOptions{Push: true, NoLogin: true}), "no-login")
}

func TestValidateMergeOptions(t *testing.T) {
	v := NewValidator()
	valid := MergeCLIOptions{
		Tags:    []string{"quay.io/org/app:v1"},
		Sources: []string{"quay.io/org/app:v1-x86_64"},
		Backend: BackendRegistry,
	}
	require.NoError(t, v.ValidateMergeOptions(valid))

	tests := []struct {
		name   string
		mutate func(*MergeCLIOptions)
		field  string
	}{
		{"no tags", func(o *MergeCLIOptions) { o.Tags = nil }, "tag"},
		{"no sources", func(o *MergeCLIOptions) { o.Sources = nil }, "source"},
		{"unknown backend", func(o *MergeCLIOptions) { o.Backend = "buildx" }, "backend"},
		{"no-login with push", func(o *MergeCLIOptions) { o.Push, o.NoLogin = true, true }, "no-login"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			requireField(t, v.ValidateMergeOptions(opts), tt.field)
		})
	}
}
