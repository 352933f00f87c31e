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

package builder

import (
	"context"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/cowdogmoo/containmint/broker"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/engine"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
	"github.com/cowdogmoo/containmint/manifests"
	"github.com/cowdogmoo/containmint/registry"
	"github.com/cowdogmoo/containmint/remote"
)

// remoteWorkDir holds build contexts on the environment.
const remoteWorkDir = "/var/tmp/containmint"

// Dialer opens an executor on a leased environment.
type Dialer func(ctx context.Context, env *broker.RemoteEnvironment) (remote.Executor, error)

// SSHDialer returns a Dialer that connects with the lease's key.
func SSHDialer(cfg config.SSHConfig) Dialer {
	return func(ctx context.Context, env *broker.RemoteEnvironment) (remote.Executor, error) {
		exec, err := remote.DialSSH(ctx, remote.SSHOptions{
			Endpoint:       env.Endpoint,
			User:           env.User,
			Signer:         env.Signer,
			ConnectTimeout: cfg.ConnectTimeout,
			ReadyTimeout:   cfg.ReadyTimeout,
			Prefix:         env.Arch,
		})
		if err != nil {
			return nil, err
		}
		return exec, nil
	}
}

// Orchestrator drives builds through their stages.
type Orchestrator struct {
	Broker broker.Broker
	Dial   Dialer
	// Sessions scopes the pushes in a registry session. Use a Manager
	// without credentials for --no-login.
	Sessions registry.Opener
	// Bootstrap installs the profile's engine when none is found.
	Bootstrap bool
}

// build is the state of one run.
type build struct {
	req    *BuildRequest
	env    *broker.RemoteEnvironment
	exec   remote.Executor
	engine engine.NativeEngine
	dir    string
	result *BuildResult
}

// Build runs req. The returned result is never nil; on failure the error
// is a *StageError unless the request itself was invalid.
func (o *Orchestrator) Build(ctx context.Context, req *BuildRequest) (result *BuildResult, err error) {
	start := time.Now()
	result = &BuildResult{
		Architecture: req.Architecture,
		Remote:       req.Remote,
		Tags:         req.TagStrings(),
		Stage:        StagePending,
		StartedAt:    start.UTC(),
	}
	defer func() { result.Duration = time.Since(start) }()

	if err := req.Validate(); err != nil {
		return result, err
	}

	logging.InfoContext(ctx, "Leasing %s %s environment", req.Remote, req.Architecture)
	env, err := o.Broker.Lease(ctx, req.Architecture, req.Profile)
	if err != nil {
		return result, fail(result, StageLeased, err, "")
	}
	result.LeaseID = env.LeaseID
	result.Stage = StageLeased
	logging.InfoContext(ctx, "Leased %s (%s)", env.LeaseID, env.Endpoint)

	b := &build{req: req, env: env, result: result, dir: path.Join(remoteWorkDir, uuid.NewString())}

	defer func() {
		if relErr := o.Broker.Release(context.WithoutCancel(ctx), env); relErr != nil {
			logging.DebugContext(ctx, "Lease %s will expire on its own: %v", env.LeaseID, relErr)
		} else {
			result.Released = true
		}
		if err == nil {
			result.Stage = StageReleased
		}
	}()
	defer b.close(ctx)

	if err := o.stage(ctx, b, StageContextTransferred, o.transferContext); err != nil {
		return result, err
	}
	if err := o.stage(ctx, b, StageBuilt, o.runBuild); err != nil {
		return result, err
	}
	if !req.Push {
		logging.InfoContext(ctx, "Push not requested, skipping")
		return result, nil
	}
	if err := o.stage(ctx, b, StagePushed, o.push); err != nil {
		return result, err
	}
	result.Pushed = true
	return result, nil
}

// stage runs fn to reach target. A lost connection is retried once on a
// fresh connection; a command that ran and failed is not.
func (o *Orchestrator) stage(ctx context.Context, b *build, target Stage, fn func(context.Context, *build) error) error {
	err := fn(ctx, b)
	if errors.IsConnectionLost(err) && ctx.Err() == nil {
		logging.WarnContext(ctx, "Connection lost before %s, reconnecting: %v", target, err)
		if rerr := o.reconnect(ctx, b); rerr != nil {
			return fail(b.result, target, rerr, outputOf(rerr))
		}
		err = fn(ctx, b)
	}
	if err != nil {
		return fail(b.result, target, err, outputOf(err))
	}
	b.result.Stage = target
	return nil
}

func (o *Orchestrator) connect(ctx context.Context, b *build) error {
	if b.exec != nil {
		return nil
	}
	exec, err := o.Dial(ctx, b.env)
	if err != nil {
		return err
	}
	b.exec = exec
	return nil
}

// reconnect replaces the executor and rebinds the engine to it.
func (o *Orchestrator) reconnect(ctx context.Context, b *build) error {
	b.close(ctx)
	if err := o.connect(ctx, b); err != nil {
		return err
	}
	if b.engine != nil {
		eng, err := engine.New(b.engine.Name(), b.exec, b.engine.Version())
		if err != nil {
			return err
		}
		b.engine = eng
	}
	return nil
}

func (b *build) close(ctx context.Context) {
	if b.exec == nil {
		return
	}
	if err := b.exec.Close(); err != nil {
		logging.DebugContext(ctx, "Closing connection to %s: %v", b.env.Endpoint, err)
	}
	b.exec = nil
}

func (o *Orchestrator) transferContext(ctx context.Context, b *build) error {
	if err := o.connect(ctx, b); err != nil {
		return err
	}
	if _, err := b.exec.Run(ctx, remote.Command{Args: []string{"uname", "-a"}}); err != nil {
		return err
	}

	if b.engine == nil {
		eng, err := o.detectEngine(ctx, b)
		if err != nil {
			return err
		}
		b.engine = eng
		b.result.Engine = eng.Name()
	}
	if b.req.Squash != engine.SquashNone && !b.engine.SupportsSquash() {
		return errors.NewConfigError("squash", "%s on %s does not support --squash", b.engine.Name(), b.env.LeaseID)
	}

	return remote.UploadContext(ctx, b.exec, b.req.Context, b.dir, b.req.Containerfile)
}

func (o *Orchestrator) detectEngine(ctx context.Context, b *build) (engine.NativeEngine, error) {
	eng, err := engine.Detect(ctx, b.exec, b.req.Profile.Engine)
	if !errors.Is(err, engine.ErrNoEngine) || !o.Bootstrap {
		return eng, err
	}
	if err := engine.Bootstrap(ctx, b.exec, b.req.Profile.PackageManager, b.req.Profile.Engine); err != nil {
		return nil, err
	}
	return engine.Detect(ctx, b.exec, b.req.Profile.Engine)
}

func (o *Orchestrator) runBuild(ctx context.Context, b *build) error {
	logging.InfoContext(ctx, "Building %s with %s", b.req.Containerfile, b.engine.Name())
	out, err := b.engine.Build(ctx, engine.BuildOptions{
		ContextDir:    b.dir,
		Containerfile: b.req.Containerfile,
		Tags:          b.req.TagStrings(),
		BuildArgs:     b.req.BuildArgs,
		Labels:        b.req.Labels,
		Squash:        b.req.Squash,
		NoCache:       b.req.NoCache,
	})
	b.result.BuildExitCode = exitCode(out, err)
	if out != nil {
		b.result.Output = out.Combined()
	}
	return err
}

func (o *Orchestrator) push(ctx context.Context, b *build) error {
	hosts := manifests.Servers(b.req.Tags...)
	backend := registry.EngineLogin{Engine: b.engine}

	return o.Sessions.Scoped(ctx, backend, hosts, func(*registry.Session) error {
		for _, tag := range b.req.TagStrings() {
			logging.InfoContext(ctx, "Pushing %s", tag)
			out, err := b.engine.Push(ctx, tag)
			b.result.PushExitCode = exitCode(out, err)
			if err != nil {
				return errors.Wrap("push", tag, err)
			}
		}
		return nil
	})
}

func fail(result *BuildResult, target Stage, err error, output string) error {
	result.FailedStage = target
	result.Stage = StageFailed
	result.Error = err.Error()
	if output != "" {
		result.Output = output
	}
	return &StageError{Stage: target, Err: err, Output: output}
}

func outputOf(err error) string {
	var execErr *errors.ExecError
	if errors.As(err, &execErr) {
		return execErr.Output
	}
	return ""
}

// exitCode returns the exit status of a command that ran, or nil when it
// did not complete.
func exitCode(out *remote.Output, err error) *int {
	var execErr *errors.ExecError
	switch {
	case errors.As(err, &execErr) && execErr.Kind == errors.ExecNonZeroExit:
		code := execErr.ExitCode
		return &code
	case err == nil && out != nil:
		code := out.ExitCode
		return &code
	case err == nil:
		code := 0
		return &code
	}
	return nil
}
