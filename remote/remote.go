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

// Package remote runs commands on a leased build environment.
//
// An Executor runs one command at a time. Output is streamed to the console
// line by line while the last part of each stream is kept for diagnosis, and
// failures are reported as errors.ExecError so callers can tell a dropped
// connection (retried once by the build orchestrator) from a command that
// ran and failed (never retried).
package remote

import (
	"context"
	"io"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// captureLimit bounds the captured tail of each output stream.
const captureLimit = 64 * 1024

// Command is a single command to run on an environment.
type Command struct {
	// Args is the argument vector. Each element is quoted for the remote shell.
	Args []string
	// Script, when set, is passed to the shell verbatim and Args is ignored.
	Script string
	// Stdin is copied to the command's standard input when non-nil.
	Stdin io.Reader
	// Quiet disables streaming output to the console. Output is still captured.
	Quiet bool
}

// Line returns the shell command line for c.
func (c Command) Line() (string, error) {
	if c.Script != "" {
		return c.Script, nil
	}
	return QuoteArgs(c.Args)
}

// String returns a printable form of c.
func (c Command) String() string {
	line, err := c.Line()
	if err != nil {
		return strings.Join(c.Args, " ")
	}
	return line
}

// Output is the result of a command that ran to completion.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout followed by stderr.
func (o *Output) Combined() string {
	if o == nil {
		return ""
	}
	switch {
	case o.Stderr == "":
		return o.Stdout
	case o.Stdout == "":
		return o.Stderr
	}
	return strings.TrimRight(o.Stdout, "\n") + "\n" + o.Stderr
}

// Executor runs commands against one environment.
type Executor interface {
	// Run executes cmd and waits for it to finish. A non-zero exit status is
	// returned as an *errors.ExecError together with the captured output.
	Run(ctx context.Context, cmd Command) (*Output, error)
	// Close releases the underlying connection.
	Close() error
}

// QuoteArgs quotes each argument for a POSIX shell and joins them.
func QuoteArgs(args []string) (string, error) {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		q, err := Quote(arg)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}

// Quote quotes s for a POSIX shell. Plain words are returned unchanged.
func Quote(s string) (string, error) {
	return syntax.Quote(s, syntax.LangPOSIX)
}
