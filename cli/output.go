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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/samber/lo"

	"github.com/cowdogmoo/containmint/builder"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/manifests"
)

// Output formats.
const (
	FormatText      = "text"
	FormatJSON      = "json"
	FormatGHAMatrix = "gha-matrix"
)

// OutputFormatter renders command results.
type OutputFormatter struct {
	format string
	out    io.Writer
}

// NewOutputFormatter creates a formatter writing to stdout. An empty format
// means text.
func NewOutputFormatter(format string) *OutputFormatter {
	return NewOutputFormatterTo(format, os.Stdout)
}

// NewOutputFormatterTo creates a formatter writing to out.
func NewOutputFormatterTo(format string, out io.Writer) *OutputFormatter {
	if format == "" {
		format = FormatText
	}
	return &OutputFormatter{format: format, out: out}
}

// Validate reports an unknown format.
func (f *OutputFormatter) Validate(allowed ...string) error {
	if !lo.Contains(allowed, f.format) {
		return fmt.Errorf("unsupported output format %q (expected one of %s)", f.format, strings.Join(allowed, ", "))
	}
	return nil
}

// GHAMatrix is a GitHub Actions build matrix.
type GHAMatrix struct {
	Include []GHAMatrixEntry `json:"include"`
}

// GHAMatrixEntry is one job of a GHAMatrix.
type GHAMatrixEntry struct {
	Remote string `json:"remote"`
	Arch   string `json:"arch"`
}

// DisplayBuildResult prints a build outcome.
func (f *OutputFormatter) DisplayBuildResult(result *builder.BuildResult) error {
	if f.format == FormatJSON {
		return f.writeJSON(result)
	}

	status := color.GreenString("succeeded")
	if !result.Succeeded() {
		status = color.RedString("failed before %s", result.FailedStage)
	}
	w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Build\t%s\n", status)
	_, _ = fmt.Fprintf(w, "Remote\t%s (%s)\n", result.Remote, result.Architecture)
	if result.LeaseID != "" {
		_, _ = fmt.Fprintf(w, "Lease\t%s\n", result.LeaseID)
	}
	if result.Engine != "" {
		_, _ = fmt.Fprintf(w, "Engine\t%s\n", result.Engine)
	}
	for _, tag := range result.Tags {
		_, _ = fmt.Fprintf(w, "Tag\t%s\n", tag)
	}
	_, _ = fmt.Fprintf(w, "Pushed\t%t\n", result.Pushed)
	_, _ = fmt.Fprintf(w, "Released\t%t\n", result.Released)
	_, _ = fmt.Fprintf(w, "Duration\t%s\n", result.Duration.Round(time.Millisecond))
	if result.Error != "" {
		_, _ = fmt.Fprintf(w, "Error\t%s\n", result.Error)
	}
	return w.Flush()
}

// DisplayManifestList prints a composed manifest list. JSON output is the
// list document itself.
func (f *OutputFormatter) DisplayManifestList(list *manifests.ManifestList) error {
	if f.format == FormatJSON {
		data, err := list.Bytes()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(f.out, string(data))
		return err
	}

	dgst, err := list.Digest()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(f.out, "%s %s\n", color.CyanString("Manifest list"), dgst)
	_, _ = fmt.Fprintf(f.out, "Media type: %s\n", list.MediaType())
	for _, target := range list.Targets {
		_, _ = fmt.Fprintf(f.out, "Target: %s\n", target)
	}

	w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PLATFORM\tDIGEST\tSOURCE")
	for _, e := range list.Entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", e.Platform, e.Digest, e.Ref)
	}
	return w.Flush()
}

// DisplayProfiles prints the remote profile catalog.
func (f *OutputFormatter) DisplayProfiles(profiles []config.Profile) error {
	switch f.format {
	case FormatJSON:
		return f.writeJSON(profiles)
	case FormatGHAMatrix:
		matrix := GHAMatrix{Include: []GHAMatrixEntry{}}
		for _, p := range profiles {
			for _, arch := range p.Architectures {
				matrix.Include = append(matrix.Include, GHAMatrixEntry{Remote: p.Name, Arch: arch})
			}
		}
		data, err := json.Marshal(matrix)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(f.out, string(data))
		return err
	}

	w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REMOTE\tENGINE\tARCHITECTURES")
	for _, p := range profiles {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Engine, strings.Join(p.Architectures, ","))
	}
	return w.Flush()
}

func (f *OutputFormatter) writeJSON(v any) error {
	encoder := json.NewEncoder(f.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
