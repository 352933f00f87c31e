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

package errors

import "errors"

// Exit codes returned by the containmint binary. CI pipelines match on these,
// so the values must never change.
const (
	ExitOK         = 0
	ExitUnexpected = 1
	ExitConfig     = 2
	ExitProvision  = 3
	ExitExec       = 4
	ExitMerge      = 5
)

// ExitCode returns the process exit status for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		configErr    *ConfigError
		provisionErr *ProvisionError
		execErr      *ExecError
		mergeErr     *MergeError
	)

	switch {
	case errors.As(err, &configErr):
		return ExitConfig
	case errors.As(err, &provisionErr):
		return ExitProvision
	case errors.As(err, &execErr):
		return ExitExec
	case errors.As(err, &mergeErr):
		return ExitMerge
	default:
		return ExitUnexpected
	}
}
