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
	"io"
	"os/exec"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// LocalExecutor runs commands on the machine running containmint. It backs
// the engine merge publisher, which drives a locally installed engine.
type LocalExecutor struct {
	Prefix string
}

// NewLocalExecutor returns a LocalExecutor.
func NewLocalExecutor(prefix string) *LocalExecutor {
	return &LocalExecutor{Prefix: prefix}
}

// Run implements Executor.
func (e *LocalExecutor) Run(ctx context.Context, cmd Command) (*Output, error) {
	var c *exec.Cmd
	if cmd.Script != "" {
		c = exec.CommandContext(ctx, "sh", "-c", cmd.Script)
	} else {
		if len(cmd.Args) == 0 {
			return nil, errors.New("empty command")
		}
		c = exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	}
	line := cmd.String()

	stdout, stderr := newTailBuffer(captureLimit), newTailBuffer(captureLimit)
	c.Stdout, c.Stderr = stdout, stderr
	var consoleOut, consoleErr *logging.StreamWriter
	if !cmd.Quiet {
		consoleOut = logging.NewStreamWriter(ctx, e.Prefix)
		consoleErr = logging.NewStreamWriter(ctx, e.Prefix)
		c.Stdout = io.MultiWriter(stdout, consoleOut)
		c.Stderr = io.MultiWriter(stderr, consoleErr)
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	logging.DebugContext(ctx, "Running locally: %s", line)
	err := c.Run()
	if consoleOut != nil {
		consoleOut.Flush()
		consoleErr.Flush()
	}

	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, errors.Wrap("run command", line, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
	} else {
		// Start failure, typically the engine binary is missing.
		out.ExitCode = 127
	}
	return out, &errors.ExecError{
		Kind:     errors.ExecNonZeroExit,
		Command:  line,
		ExitCode: out.ExitCode,
		Output:   out.Combined(),
		Cause:    err,
	}
}

// Close implements Executor.
func (e *LocalExecutor) Close() error {
	return nil
}
