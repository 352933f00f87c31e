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

// BuildCLIOptions defines command-line options for the build command.
//
// BuildCLIOptions captures options provided by the user via CLI flags
// and arguments. These are validated before being passed to the build logic.
type BuildCLIOptions struct {
	// Tags are the fully qualified tags applied to the image.
	Tags []string

	// Architecture is the remote CPU architecture (x86_64 or aarch64).
	Architecture string

	// Remote names the remote environment profile, such as rhel/9.0.
	Remote string

	// Context is the local build context directory.
	Context string

	// Containerfile overrides build file detection in Context.
	Containerfile string

	// BuildArgs specifies build arguments (unparsed key=value strings).
	BuildArgs []string

	// Labels specifies image labels (unparsed key=value strings).
	Labels []string

	// Squash is empty, "all" or "new".
	Squash string

	// Push pushes every tag after a successful build.
	Push bool

	// NoLogin skips registry login and relies on existing credentials.
	//
	// This option is mutually exclusive with Push.
	NoLogin bool

	// NoCache disables the engine's layer cache.
	NoCache bool

	// ResultFile is where the build result is written as JSON.
	ResultFile string
}

// MergeCLIOptions defines command-line options for the merge command.
type MergeCLIOptions struct {
	// Tags are the targets the manifest list is published under.
	Tags []string

	// Sources are the single-platform images to combine.
	Sources []string

	// Push publishes the manifest list.
	Push bool

	// NoLogin skips registry login.
	NoLogin bool

	// Backend is "registry" or "engine".
	Backend string
}

// Merge backends.
const (
	BackendRegistry = "registry"
	BackendEngine   = "engine"
)
