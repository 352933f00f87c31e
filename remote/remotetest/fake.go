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

// Package remotetest provides a recording remote.Executor for tests.
package remotetest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/remote"
)

// Call records one command run through a Fake.
type Call struct {
	Line  string
	Stdin []byte
}

// Handler decides the outcome of a command. Returning a nil Output with a
// nil error means success with empty output.
type Handler func(call Call) (*remote.Output, error)

// Fake is a remote.Executor that records every command.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	closed  int
	Handler Handler
}

// New returns a Fake that succeeds for every command unless handler says otherwise.
func New(handler Handler) *Fake {
	return &Fake{Handler: handler}
}

// Run implements remote.Executor.
func (f *Fake) Run(ctx context.Context, cmd remote.Command) (*remote.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	line, err := cmd.Line()
	if err != nil {
		return nil, err
	}
	call := Call{Line: line}
	if cmd.Stdin != nil {
		data, err := io.ReadAll(cmd.Stdin)
		if err != nil {
			return nil, err
		}
		call.Stdin = data
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return &remote.Output{}, nil
	}
	out, err := handler(call)
	if out == nil {
		out = &remote.Output{}
	}
	return out, err
}

// Close implements remote.Executor.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// Calls returns the recorded command lines.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		lines = append(lines, c.Line)
	}
	return lines
}

// Call returns the i-th recorded call.
func (f *Fake) Call(i int) Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// CallsContaining returns the recorded lines that contain substr.
func (f *Fake) CallsContaining(substr string) []string {
	var matched []string
	for _, line := range f.Calls() {
		if strings.Contains(line, substr) {
			matched = append(matched, line)
		}
	}
	return matched
}

// Closed reports how many times Close was called.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Fail returns an ExecError for a command that exited with code.
func Fail(line string, code int, output string) (*remote.Output, error) {
	return &remote.Output{ExitCode: code, Stderr: output}, &errors.ExecError{
		Kind:     errors.ExecNonZeroExit,
		Command:  line,
		ExitCode: code,
		Output:   output,
	}
}

// Lost returns an ExecError for a dropped connection.
func Lost(line string) (*remote.Output, error) {
	return nil, &errors.ExecError{Kind: errors.ExecConnectionLost, Command: line, Cause: io.ErrUnexpectedEOF}
}
