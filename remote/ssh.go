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

package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// SSHOptions configures a connection to a leased environment.
type SSHOptions struct {
	Endpoint string
	User     string
	Signer   ssh.Signer
	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration
	// ReadyTimeout bounds the whole dial loop. Hosts are often reported
	// ready by the broker before sshd accepts the lease key.
	ReadyTimeout time.Duration
	// Prefix is prepended to every streamed output line.
	Prefix string
	// HostKeyCallback defaults to accepting any key. Leased hosts are new
	// for every build so there is nothing to pin.
	HostKeyCallback ssh.HostKeyCallback
}

// Dial timeouts used when SSHOptions leaves them unset.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadyTimeout   = 3 * time.Minute
)

// WithDefaults fills in unset timeouts.
func (o SSHOptions) WithDefaults() SSHOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	return o
}

// SSHExecutor runs commands over an SSH connection.
type SSHExecutor struct {
	client *ssh.Client
	prefix string
}

// DialSSH connects to the endpoint, retrying until the host accepts the
// connection or ReadyTimeout elapses. Failure is reported as ConnectionLost.
func DialSSH(ctx context.Context, opts SSHOptions) (*SSHExecutor, error) {
	if opts.Signer == nil {
		return nil, errors.New("ssh signer is required")
	}
	opts = opts.WithDefaults()

	hostKeyCallback := opts.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // ephemeral hosts
	}
	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(opts.Signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.ConnectTimeout,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 15 * time.Second

	client, err := backoff.Retry(ctx, func() (*ssh.Client, error) {
		return dial(ctx, opts.Endpoint, cfg)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(opts.ReadyTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.DebugContext(ctx, "SSH to %s not ready, retrying in %s: %v", opts.Endpoint, next, err)
		}),
	)
	if err != nil {
		return nil, &errors.ExecError{
			Kind:    errors.ExecConnectionLost,
			Command: fmt.Sprintf("ssh %s@%s", opts.User, opts.Endpoint),
			Cause:   err,
		}
	}

	return &SSHExecutor{client: client, prefix: opts.Prefix}, nil
}

func dial(ctx context.Context, endpoint string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, endpoint, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Run implements Executor.
func (e *SSHExecutor) Run(ctx context.Context, cmd Command) (*Output, error) {
	line, err := cmd.Line()
	if err != nil {
		return nil, errors.Wrap("quote command", cmd.String(), err)
	}

	session, err := e.client.NewSession()
	if err != nil {
		return nil, connectionLost(line, err)
	}
	defer func() { _ = session.Close() }()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return nil, connectionLost(line, err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return nil, connectionLost(line, err)
	}
	if cmd.Stdin != nil {
		session.Stdin = cmd.Stdin
	}

	stdout, stderr := newTailBuffer(captureLimit), newTailBuffer(captureLimit)
	var consoleOut, consoleErr *logging.StreamWriter
	outWriter, errWriter := io.Writer(stdout), io.Writer(stderr)
	if !cmd.Quiet {
		consoleOut = logging.NewStreamWriter(ctx, e.prefix)
		consoleErr = logging.NewStreamWriter(ctx, e.prefix)
		outWriter = io.MultiWriter(stdout, consoleOut)
		errWriter = io.MultiWriter(stderr, consoleErr)
	}

	logging.DebugContext(ctx, "Running: %s", line)
	if err := session.Start(line); err != nil {
		return nil, connectionLost(line, err)
	}

	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.Go(func() error {
			_, err := io.Copy(outWriter, stdoutPipe)
			return err
		})
		g.Go(func() error {
			_, err := io.Copy(errWriter, stderrPipe)
			return err
		})
		pumpErr := g.Wait()
		waitErr := session.Wait()
		if waitErr == nil {
			waitErr = pumpErr
		}
		done <- waitErr
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-done
		return nil, errors.Wrap("run command", line, ctx.Err())
	}

	if consoleOut != nil {
		consoleOut.Flush()
		consoleErr.Flush()
	}

	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
	return out, classifySSHError(line, out, waitErr)
}

// classifySSHError maps the result of session.Wait to the exec taxonomy.
func classifySSHError(line string, out *Output, err error) error {
	if err == nil {
		return nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitStatus()
		return &errors.ExecError{
			Kind:     errors.ExecNonZeroExit,
			Command:  line,
			ExitCode: out.ExitCode,
			Output:   out.Combined(),
		}
	}

	// ExitMissingError and transport errors: the command may or may not
	// have finished, only the connection is known to be gone.
	out.ExitCode = -1
	return &errors.ExecError{
		Kind:    errors.ExecConnectionLost,
		Command: line,
		Output:  out.Combined(),
		Cause:   err,
	}
}

func connectionLost(line string, err error) error {
	return &errors.ExecError{Kind: errors.ExecConnectionLost, Command: line, Cause: err}
}

// Close implements Executor.
func (e *SSHExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
