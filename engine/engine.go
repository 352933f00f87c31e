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

// Package engine drives a native container engine through a remote.Executor.
//
// NativeEngine is the capability interface used by the build orchestrator
// and the manifest composer. Engine specific command lines live in the
// docker and podman variants, so callers never branch on engine identity.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/remote"
)

// Engine names.
const (
	Podman = "podman"
	Docker = "docker"
)

// Squash selects how layers are collapsed at build time.
type Squash string

// Squash modes.
const (
	SquashNone Squash = ""
	SquashAll  Squash = "all"
	SquashNew  Squash = "new"
)

// ParseSquash validates a --squash value.
func ParseSquash(s string) (Squash, error) {
	switch Squash(s) {
	case SquashNone, SquashAll, SquashNew:
		return Squash(s), nil
	default:
		return SquashNone, errors.NewConfigError("squash", "invalid value %q (expected all or new)", s)
	}
}

// BuildArg is a single key=value pair passed to the build.
type BuildArg struct {
	Key   string
	Value string
}

func (a BuildArg) String() string {
	return a.Key + "=" + a.Value
}

// BuildOptions describes one native build.
type BuildOptions struct {
	// ContextDir is the build context directory on the environment.
	ContextDir string
	// Containerfile is the build file name relative to ContextDir.
	Containerfile string
	Tags          []string
	BuildArgs     []BuildArg
	Labels        []BuildArg
	Squash        Squash
	NoCache       bool
}

// NativeEngine is a container engine reachable through an executor.
type NativeEngine interface {
	Name() string
	Version() *semver.Version
	SupportsSquash() bool
	Build(ctx context.Context, opts BuildOptions) (*remote.Output, error)
	Push(ctx context.Context, ref string) (*remote.Output, error)
	Pull(ctx context.Context, ref string) error
	Tag(ctx context.Context, src, dst string) error
	Login(ctx context.Context, server, username, password string) error
	Logout(ctx context.Context, server string) error
	ManifestCreate(ctx context.Context, list string, sources []string) error
	ManifestPush(ctx context.Context, list, dest string) error
	ManifestRemove(ctx context.Context, list string) error
}

// New returns the variant for name bound to exec. version may be nil when
// it is unknown.
func New(name string, exec remote.Executor, version *semver.Version) (NativeEngine, error) {
	base := cliEngine{binary: name, exec: exec, version: version}
	switch name {
	case Podman:
		return &podman{cliEngine: base}, nil
	case Docker:
		return &docker{cliEngine: base}, nil
	default:
		return nil, unsupported(name)
	}
}

// SupportsSquash reports whether the named engine can squash layers. It is
// used to reject --squash before a lease is taken.
func SupportsSquash(name string) bool {
	return name == Podman
}

func unsupported(name string) error {
	return errors.NewConfigError("remote", "unsupported container engine %q", name)
}

// cliEngine holds what both variants share.
type cliEngine struct {
	binary  string
	exec    remote.Executor
	version *semver.Version
}

func (e *cliEngine) Name() string {
	return e.binary
}

func (e *cliEngine) Version() *semver.Version {
	return e.version
}

func (e *cliEngine) run(ctx context.Context, args ...string) (*remote.Output, error) {
	return e.exec.Run(ctx, remote.Command{Args: append([]string{e.binary}, args...)})
}

func (e *cliEngine) runQuiet(ctx context.Context, args ...string) error {
	_, err := e.exec.Run(ctx, remote.Command{Args: append([]string{e.binary}, args...), Quiet: true})
	return err
}

// buildArgs returns the arguments common to both engines.
func (e *cliEngine) buildArgs(opts BuildOptions) []string {
	args := []string{"build"}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if opts.Containerfile != "" {
		args = append(args, "--file", opts.ContextDir+"/"+opts.Containerfile)
	}
	for _, tag := range opts.Tags {
		args = append(args, "--tag", tag)
	}
	for _, arg := range opts.BuildArgs {
		args = append(args, "--build-arg", arg.String())
	}
	for _, label := range opts.Labels {
		args = append(args, "--label", label.String())
	}
	return args
}

func (e *cliEngine) Push(ctx context.Context, ref string) (*remote.Output, error) {
	return e.run(ctx, "push", ref)
}

func (e *cliEngine) Pull(ctx context.Context, ref string) error {
	_, err := e.run(ctx, "pull", ref)
	return err
}

func (e *cliEngine) Tag(ctx context.Context, src, dst string) error {
	return e.runQuiet(ctx, "tag", src, dst)
}

// Login authenticates against server. The password is written to the
// engine's stdin so it never appears in a command line.
func (e *cliEngine) Login(ctx context.Context, server, username, password string) error {
	_, err := e.exec.Run(ctx, remote.Command{
		Args:  []string{e.binary, "login", "--username", username, "--password-stdin", server},
		Stdin: strings.NewReader(password),
		Quiet: true,
	})
	return err
}

func (e *cliEngine) Logout(ctx context.Context, server string) error {
	return e.runQuiet(ctx, "logout", server)
}

func (e *cliEngine) ManifestCreate(ctx context.Context, list string, sources []string) error {
	_, err := e.run(ctx, append([]string{"manifest", "create", list}, sources...)...)
	return err
}

func (e *cliEngine) ManifestRemove(ctx context.Context, list string) error {
	return e.runQuiet(ctx, "manifest", "rm", list)
}

type podman struct {
	cliEngine
}

func (p *podman) SupportsSquash() bool {
	return true
}

func (p *podman) Build(ctx context.Context, opts BuildOptions) (*remote.Output, error) {
	// Docker format keeps HEALTHCHECK and friends, which OCI drops.
	args := append(p.buildArgs(opts), "--format", "docker")
	switch opts.Squash {
	case SquashAll:
		args = append(args, "--squash-all")
	case SquashNew:
		args = append(args, "--squash")
	}
	return p.run(ctx, append(args, opts.ContextDir)...)
}

// ManifestPush pushes list to dest. Podman keeps the list in local storage
// under its own name, so the destination is explicit.
func (p *podman) ManifestPush(ctx context.Context, list, dest string) error {
	_, err := p.run(ctx, "manifest", "push", "--all", list, "docker://"+dest)
	return err
}

type docker struct {
	cliEngine
}

func (d *docker) SupportsSquash() bool {
	return false
}

func (d *docker) Build(ctx context.Context, opts BuildOptions) (*remote.Output, error) {
	if opts.Squash != SquashNone {
		return nil, errors.NewConfigError("squash", "docker does not support --squash %s", opts.Squash)
	}
	return d.run(ctx, append(d.buildArgs(opts), opts.ContextDir)...)
}

// ManifestPush pushes list. Docker always pushes a list under its own name.
func (d *docker) ManifestPush(ctx context.Context, list, dest string) error {
	if dest != "" && dest != list {
		return fmt.Errorf("docker cannot push manifest list %s to a different name %s", list, dest)
	}
	_, err := d.run(ctx, "manifest", "push", list)
	return err
}
