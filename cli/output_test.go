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
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdogmoo/containmint/builder"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/manifests"
)

func init() {
	color.NoColor = true
}

func testProfiles() []config.Profile {
	return []config.Profile{
		{Name: "rhel/9.0", Engine: "podman", Architectures: []string{"x86_64", "aarch64"}},
		{Name: "ubuntu/22.04", Engine: "docker", Architectures: []string{"x86_64"}},
	}
}

func testList() *manifests.ManifestList {
	return &manifests.ManifestList{
		Targets: []manifests.ImageReference{manifests.MustParse("quay.io/org/app:v1")},
		Entries: []manifests.ManifestEntry{
			{
				Ref:       manifests.MustParse("quay.io/org/app:v1-x86_64"),
				Digest:    digest.FromString("amd64"),
				MediaType: manifests.MediaTypeDockerManifest,
				Size:      512,
				Platform:  manifests.LinuxPlatform("amd64"),
			},
			{
				Ref:       manifests.MustParse("quay.io/org/app:v1-aarch64"),
				Digest:    digest.FromString("arm64"),
				MediaType: manifests.MediaTypeDockerManifest,
				Size:      512,
				Platform:  manifests.LinuxPlatform("arm64"),
			},
		},
	}
}

func TestNewOutputFormatter(t *testing.T) {
	f := NewOutputFormatter("")
	assert.Equal(t, FormatText, f.format)
	assert.NoError(t, f.Validate(FormatText, FormatJSON))
	assert.Error(t, NewOutputFormatter("table").Validate(FormatText, FormatJSON))
}

func TestDisplayProfiles(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewOutputFormatterTo(FormatText, &buf).DisplayProfiles(testProfiles()))
		out := buf.String()
		assert.Contains(t, out, "REMOTE")
		assert.Contains(t, out, "rhel/9.0")
		assert.Contains(t, out, "x86_64,aarch64")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewOutputFormatterTo(FormatJSON, &buf).DisplayProfiles(testProfiles()))
		var got []config.Profile
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Len(t, got, 2)
	})

	t.Run("gha-matrix", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewOutputFormatterTo(FormatGHAMatrix, &buf).DisplayProfiles(testProfiles()))
		var got GHAMatrix
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, []GHAMatrixEntry{
			{Remote: "rhel/9.0", Arch: "x86_64"},
			{Remote: "rhel/9.0", Arch: "aarch64"},
			{Remote: "ubuntu/22.04", Arch: "x86_64"},
		}, got.Include)
	})
}

func TestDisplayBuildResult(t *testing.T) {
	result := &builder.BuildResult{
		Architecture: "aarch64",
		Remote:       "rhel/9.0",
		Tags:         []string{"quay.io/org/app:v1-aarch64"},
		LeaseID:      "lease-1",
		Engine:       "podman",
		Stage:        builder.StageReleased,
		Pushed:       true,
		Released:     true,
		Duration:     90 * time.Second,
	}

	var buf bytes.Buffer
	require.NoError(t, NewOutputFormatterTo(FormatText, &buf).DisplayBuildResult(result))
	out := buf.String()
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "rhel/9.0 (aarch64)")
	assert.Contains(t, out, "lease-1")
	assert.Contains(t, out, "1m30s")

	result.Stage = builder.StageFailed
	result.FailedStage = builder.StageBuilt
	result.Error = "exit status 1"
	buf.Reset()
	require.NoError(t, NewOutputFormatterTo(FormatText, &buf).DisplayBuildResult(result))
	assert.Contains(t, buf.String(), "failed before built")
	assert.Contains(t, buf.String(), "exit status 1")

	buf.Reset()
	require.NoError(t, NewOutputFormatterTo(FormatJSON, &buf).DisplayBuildResult(result))
	var got builder.BuildResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, builder.StageBuilt, got.FailedStage)
}

func TestDisplayManifestList(t *testing.T) {
	list := testList()

	var buf bytes.Buffer
	require.NoError(t, NewOutputFormatterTo(FormatText, &buf).DisplayManifestList(list))
	out := buf.String()
	assert.Contains(t, out, "linux/amd64")
	assert.Contains(t, out, "linux/arm64")
	assert.Contains(t, out, "quay.io/org/app:v1")
	assert.Contains(t, out, manifests.MediaTypeDockerManifestList)

	buf.Reset()
	require.NoError(t, NewOutputFormatterTo(FormatJSON, &buf).DisplayManifestList(list))
	want, err := list.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), buf.String())
}
