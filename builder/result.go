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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cowdogmoo/containmint/errors"
)

// Stage is a step of the build lifecycle.
type Stage string

// Build stages in the order they are reached.
const (
	StagePending            Stage = "pending"
	StageLeased             Stage = "leased"
	StageContextTransferred Stage = "context-transferred"
	StageBuilt              Stage = "built"
	StagePushed             Stage = "pushed"
	StageReleased           Stage = "released"
	StageFailed             Stage = "failed"
)

// StageError reports the stage a build failed to reach. Output holds the
// captured tail of the failing command, when there was one.
type StageError struct {
	Stage  Stage
	Err    error
	Output string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("build failed before reaching %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// BuildResult records the outcome of a build. It is returned for failed
// builds too, filled in as far as the build got.
type BuildResult struct {
	Architecture string   `json:"architecture"`
	Remote       string   `json:"remote"`
	Tags         []string `json:"tags"`
	LeaseID      string   `json:"lease_id,omitempty"`
	Engine       string   `json:"engine,omitempty"`
	// Stage is the last stage reached. A failed build ends in StageFailed
	// and FailedStage names the stage it did not reach.
	Stage       Stage  `json:"stage"`
	FailedStage Stage  `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
	// BuildExitCode is nil when the build command did not run.
	BuildExitCode *int `json:"build_exit_code,omitempty"`
	// PushExitCode is nil when no push was attempted.
	PushExitCode *int          `json:"push_exit_code,omitempty"`
	Pushed       bool          `json:"pushed"`
	Released     bool          `json:"released"`
	Output       string        `json:"output,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Succeeded reports whether the build completed every stage it was asked to.
func (r *BuildResult) Succeeded() bool {
	return r.FailedStage == ""
}

// WriteResult writes result to path as indented JSON, creating parent
// directories as needed.
func WriteResult(path string, result *BuildResult) error {
	if path == "" {
		return errors.New("result path cannot be empty")
	}
	if result == nil {
		return errors.New("result cannot be nil")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap("create result directory", dir, err)
		}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap("marshal build result", "", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return errors.Wrap("write build result", path, err)
	}
	return nil
}

// ReadResult reads a result written by WriteResult.
func ReadResult(path string) (*BuildResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap("read build result", path, err)
	}
	var result BuildResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap("parse build result", path, err)
	}
	return &result, nil
}
