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

// Package builder runs one native container build on a leased remote
// environment.
//
// A build moves through a fixed sequence of stages:
//
//	Pending -> Leased -> ContextTransferred -> Built -> (Pushed) -> Released
//
// and may fail from any stage before Released. Whatever happens after the
// lease is acquired, the lease is released exactly once.
package builder

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/samber/lo"

	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/engine"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/git"
	"github.com/cowdogmoo/containmint/logging"
	"github.com/cowdogmoo/containmint/manifests"
	"github.com/cowdogmoo/containmint/remote"
)

// Architectures lists the CPU architectures a build can target, as reported
// by uname on the remote environment.
var Architectures = []string{"x86_64", "aarch64"}

// RequestOptions are the unvalidated inputs of a build.
type RequestOptions struct {
	Architecture  string
	Tags          []string
	Context       string
	Containerfile string
	BuildArgs     []engine.BuildArg
	Labels        []engine.BuildArg
	Squash        string
	Push          bool
	NoLogin       bool
	NoCache       bool
	Remote        string
}

// BuildRequest is a validated build. It is built once by NewBuildRequest
// and not modified afterwards.
type BuildRequest struct {
	Architecture  string
	Tags          []manifests.ImageReference
	Context       string
	Containerfile string
	BuildArgs     []engine.BuildArg
	Labels        []engine.BuildArg
	Squash        engine.Squash
	Push          bool
	NoLogin       bool
	NoCache       bool
	Remote        string
	Profile       config.Profile
}

// NewBuildRequest validates opts against the profile catalog and resolves
// the build context. Every error is a ConfigError, returned before anything
// remote happens. Labels describing the context's git revision are added
// unless opts sets the same keys.
func NewBuildRequest(ctx context.Context, opts RequestOptions, catalog *config.Catalog) (*BuildRequest, error) {
	if err := checkFlags(opts.Architecture, len(opts.Tags), opts.Push, opts.NoLogin); err != nil {
		return nil, err
	}

	tags, err := manifests.ParseImageReferences("tag", opts.Tags)
	if err != nil {
		return nil, err
	}

	profile, err := catalog.Lookup(opts.Remote)
	if err != nil {
		return nil, err
	}
	if !profile.SupportsArch(opts.Architecture) {
		return nil, errors.NewConfigError("arch", "remote %s is not available for %s (available: %v)", profile.Name, opts.Architecture, profile.Architectures)
	}

	squash, err := engine.ParseSquash(opts.Squash)
	if err != nil {
		return nil, err
	}
	if squash != engine.SquashNone && !engine.SupportsSquash(profile.Engine) {
		return nil, errors.NewConfigError("squash", "remote %s uses %s, which does not support --squash", profile.Name, profile.Engine)
	}

	contextDir, err := filepath.Abs(opts.Context)
	if err != nil {
		return nil, &errors.ConfigError{Field: "context", Message: "invalid build context", Cause: err}
	}
	containerfile := opts.Containerfile
	if containerfile == "" {
		if containerfile, err = remote.DetectContainerfile(contextDir); err != nil {
			return nil, err
		}
	}

	rev, err := git.Detect(ctx, contextDir)
	if err != nil {
		logging.WarnContext(ctx, "Skipping revision labels: %v", err)
	}
	labels := mergeLabels(rev.Labels(), opts.Labels)

	return &BuildRequest{
		Architecture:  opts.Architecture,
		Tags:          tags,
		Context:       contextDir,
		Containerfile: containerfile,
		BuildArgs:     append([]engine.BuildArg(nil), opts.BuildArgs...),
		Labels:        labels,
		Squash:        squash,
		Push:          opts.Push,
		NoLogin:       opts.NoLogin,
		NoCache:       opts.NoCache,
		Remote:        profile.Name,
		Profile:       profile,
	}, nil
}

// Validate repeats the checks that do not need the catalog. It guards
// requests that were not built by NewBuildRequest.
func (r *BuildRequest) Validate() error {
	return checkFlags(r.Architecture, len(r.Tags), r.Push, r.NoLogin)
}

// TagStrings returns the tags as strings.
func (r *BuildRequest) TagStrings() []string {
	return manifests.Strings(r.Tags)
}

func checkFlags(arch string, tags int, push, noLogin bool) error {
	if !lo.Contains(Architectures, arch) {
		return errors.NewConfigError("arch", "unsupported architecture %q (expected one of %v)", arch, Architectures)
	}
	if noLogin && push {
		return errors.NewConfigError("no-login", "--no-login cannot be used with --push")
	}
	if push && tags == 0 {
		return errors.NewConfigError("tag", "at least one --tag is required with --push")
	}
	return nil
}

// mergeLabels returns detected labels in key order followed by explicit
// ones. Explicit labels win over detected labels with the same key.
func mergeLabels(detected map[string]string, explicit []engine.BuildArg) []engine.BuildArg {
	keys := lo.Keys(detected)
	slices.Sort(keys)

	var labels []engine.BuildArg
	for _, key := range keys {
		if lo.ContainsBy(explicit, func(a engine.BuildArg) bool { return a.Key == key }) {
			continue
		}
		labels = append(labels, engine.BuildArg{Key: key, Value: detected[key]})
	}
	return append(labels, explicit...)
}
