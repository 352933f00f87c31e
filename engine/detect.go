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

package engine

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
	"github.com/cowdogmoo/containmint/remote"
)

// probeOrder lists engines in the order they are looked for.
var probeOrder = []string{Podman, Docker}

// minVersions are the oldest releases with the manifest and
// --password-stdin support containmint relies on.
var minVersions = map[string]string{
	Podman: ">= 3.0.0",
	Docker: ">= 20.10.0",
}

var versionPattern = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)

// ErrNoEngine is returned by Detect when no known engine is installed.
var ErrNoEngine = errors.New("no supported container engine found")

// Detect finds the engine installed on the environment. When preferred is
// installed it wins, otherwise engines are probed in a fixed order.
func Detect(ctx context.Context, exec remote.Executor, preferred string) (NativeEngine, error) {
	candidates := probeOrder
	if preferred != "" {
		candidates = lo.Uniq(append([]string{preferred}, probeOrder...))
	}

	for _, name := range candidates {
		if _, err := exec.Run(ctx, remote.Command{Script: "command -v " + name, Quiet: true}); err != nil {
			if errors.IsConnectionLost(err) {
				return nil, err
			}
			continue
		}

		version, err := probeVersion(ctx, exec, name)
		if err != nil {
			return nil, err
		}
		logging.InfoContext(ctx, "Detected container engine %s %s", name, versionString(version))
		return New(name, exec, version)
	}
	return nil, ErrNoEngine
}

func probeVersion(ctx context.Context, exec remote.Executor, name string) (*semver.Version, error) {
	out, err := exec.Run(ctx, remote.Command{Args: []string{name, "--version"}, Quiet: true})
	if err != nil {
		return nil, errors.Wrap("query engine version", name, err)
	}

	version, err := ParseVersion(out.Stdout)
	if err != nil {
		// Unparseable version output is tolerated, the engine is still usable.
		logging.WarnContext(ctx, "Could not determine %s version: %v", name, err)
		return nil, nil
	}
	if err := CheckVersion(name, version); err != nil {
		return nil, err
	}
	return version, nil
}

// ParseVersion extracts a version from `<engine> --version` output such as
// "podman version 4.9.4" or "Docker version 24.0.7, build afdd53b".
func ParseVersion(output string) (*semver.Version, error) {
	match := versionPattern.FindString(output)
	if match == "" {
		return nil, fmt.Errorf("no version in %q", output)
	}
	return semver.NewVersion(match)
}

// CheckVersion rejects engine releases older than containmint supports.
func CheckVersion(name string, version *semver.Version) error {
	constraint, ok := minVersions[name]
	if !ok {
		return unsupported(name)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return err
	}
	if !c.Check(version) {
		return errors.NewConfigError("remote", "%s %s is too old (need %s)", name, version, constraint)
	}
	return nil
}

func versionString(v *semver.Version) string {
	if v == nil {
		return "(unknown version)"
	}
	return v.String()
}

// Bootstrap installs engine with the environment's package manager.
func Bootstrap(ctx context.Context, exec remote.Executor, packageManager, engine string) error {
	script, err := installScript(packageManager, engine)
	if err != nil {
		return err
	}
	logging.InfoContext(ctx, "Installing %s with %s", engine, packageManager)
	_, err = exec.Run(ctx, remote.Command{Script: script})
	return err
}

func installScript(packageManager, engine string) (string, error) {
	switch packageManager {
	case "dnf":
		if engine == Podman {
			return "dnf install -y podman", nil
		}
	case "apt":
		pkg := map[string]string{Docker: "docker.io", Podman: "podman"}[engine]
		if pkg != "" {
			return "apt-get update -qq && DEBIAN_FRONTEND=noninteractive apt-get install -y --no-install-recommends " + pkg, nil
		}
	}
	return "", errors.NewConfigError("remote", "cannot install %s with package manager %q", engine, packageManager)
}
