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
	"github.com/samber/lo"

	"github.com/cowdogmoo/containmint/errors"
)

// Validator validates CLI input before passing to business logic. Checks
// that need the profile catalog or the filesystem are left to the builder.
type Validator struct{}

// NewValidator creates a new CLI validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBuildOptions validates build command options for correctness and consistency.
func (v *Validator) ValidateBuildOptions(opts BuildCLIOptions) error {
	if err := v.validateKeyValueFormats("build-arg", opts.BuildArgs); err != nil {
		return err
	}
	if err := v.validateKeyValueFormats("label", opts.Labels); err != nil {
		return err
	}
	return v.validateLogin(opts.Push, opts.NoLogin)
}

// ValidateMergeOptions validates merge command options.
func (v *Validator) ValidateMergeOptions(opts MergeCLIOptions) error {
	if len(opts.Tags) == 0 {
		return errors.NewConfigError("tag", "at least one --tag is required")
	}
	if len(opts.Sources) == 0 {
		return errors.NewConfigError("source", "at least one source image is required")
	}
	if !lo.Contains([]string{BackendRegistry, BackendEngine}, opts.Backend) {
		return errors.NewConfigError("backend", "unknown merge backend %q (expected %s or %s)", opts.Backend, BackendRegistry, BackendEngine)
	}
	return v.validateLogin(opts.Push, opts.NoLogin)
}

func (v *Validator) validateKeyValueFormats(field string, values []string) error {
	for _, value := range values {
		if !ValidateKeyValueFormat(value) {
			return errors.NewConfigError(field, "invalid %s format: %s (expected key=value)", field, value)
		}
	}
	return nil
}

// validateLogin rejects --no-login together with --push. Pushing needs a
// login the tool manages itself.
func (v *Validator) validateLogin(push, noLogin bool) error {
	if push && noLogin {
		return errors.NewConfigError("no-login", "--no-login cannot be used with --push")
	}
	return nil
}
