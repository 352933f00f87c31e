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

// Package errors provides error wrapping utilities and the error taxonomy
// shared by the build and merge workflows.
//
// Every failure that reaches the command line boundary is one of:
//
//   - ConfigError: invalid or contradictory input, detected before any
//     external call is made.
//   - ProvisionError: the remote environment broker could not hand out a
//     lease (Timeout, Unauthorized, Failed).
//   - ExecError: a command on the leased environment did not complete
//     (ConnectionLost) or completed with a failure (NonZeroExit).
//   - MergeError: a manifest list could not be composed (MissingSource,
//     DuplicatePlatform).
//   - ReleaseError: a lease could not be released. Logged, never fatal.
//
// ExitCode maps any of these to a process exit status that is stable across
// releases.
package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with a descriptive action and optional detail.
// It returns a formatted error in the form "failed to <action> [(<detail>)]: <error>".
//
// Example usage:
//
//	if err := doSomething(); err != nil {
//	    return errors.Wrap("lease environment", "", err)
//	}
//
//	if err := parseFile(path); err != nil {
//	    return errors.Wrap("parse config", path, err)
//	}
func Wrap(action, detail string, err error) error {
	if err == nil {
		return nil
	}

	if detail != "" {
		return fmt.Errorf("failed to %s (%s): %w", action, detail, err)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// New is errors.New from the standard library, re-exported so callers only
// need to import this package.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// ConfigError reports invalid or contradictory user input.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// NewConfigError creates a ConfigError for the named field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" (%s)", e.Field)
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ProvisionKind classifies a ProvisionError.
type ProvisionKind string

const (
	// ProvisionTimeout means the lease was not ready in time or the retry
	// budget for transient broker errors was exhausted.
	ProvisionTimeout ProvisionKind = "timeout"
	// ProvisionUnauthorized means the broker rejected the credentials.
	ProvisionUnauthorized ProvisionKind = "unauthorized"
	// ProvisionFailed means the broker reported the lease as failed.
	ProvisionFailed ProvisionKind = "failed"
)

// ProvisionError reports a failure to acquire a remote environment.
type ProvisionError struct {
	Kind    ProvisionKind
	Arch    string
	Profile string
	Cause   error
}

func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("provisioning %s (%s/%s)", e.Kind, e.Profile, e.Arch)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProvisionError) Unwrap() error {
	return e.Cause
}

// ExecKind classifies an ExecError.
type ExecKind string

const (
	// ExecConnectionLost means the transport failed before an exit status
	// was received. Eligible for a single retry.
	ExecConnectionLost ExecKind = "connection lost"
	// ExecNonZeroExit means the command ran and failed. Never retried.
	ExecNonZeroExit ExecKind = "non-zero exit"
)

// ExecError reports a failed remote command.
type ExecError struct {
	Kind     ExecKind
	Command  string
	ExitCode int
	Output   string
	Cause    error
}

func (e *ExecError) Error() string {
	var msg string
	switch e.Kind {
	case ExecNonZeroExit:
		msg = fmt.Sprintf("command exited with status %d: %s", e.ExitCode, e.Command)
	default:
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Command)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

// MergeKind classifies a MergeError.
type MergeKind string

const (
	// MergeMissingSource means a source image could not be inspected or is
	// itself a multi-platform index.
	MergeMissingSource MergeKind = "missing source"
	// MergeDuplicatePlatform means two sources resolve to the same platform.
	MergeDuplicatePlatform MergeKind = "duplicate platform"
)

// MergeError reports a manifest list that could not be composed. Ref names
// the offending input.
type MergeError struct {
	Kind  MergeKind
	Ref   string
	Cause error
}

func (e *MergeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Ref)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MergeError) Unwrap() error {
	return e.Cause
}

// ReleaseError reports a lease that could not be released. The lease
// expires on its own, so this never changes the outcome of a workflow.
type ReleaseError struct {
	LeaseID string
	Cause   error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("failed to release lease %s: %v", e.LeaseID, e.Cause)
}

func (e *ReleaseError) Unwrap() error {
	return e.Cause
}

// IsConnectionLost reports whether err is an ExecError of kind ConnectionLost.
func IsConnectionLost(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Kind == ExecConnectionLost
}
