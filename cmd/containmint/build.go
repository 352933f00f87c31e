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

package main

import (
	"github.com/spf13/cobra"

	"github.com/cowdogmoo/containmint/builder"
	"github.com/cowdogmoo/containmint/cli"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// Build command options
type buildOptions struct {
	cli.BuildCLIOptions
	output string
}

func newBuildCmd(deps *dependencies) *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an image natively on a leased remote host",
		Long: `Build a container image on an ephemeral remote host of the requested
architecture, optionally pushing every tag. The host is always released,
whether or not the build succeeds.

Credentials for --push are read from CONTAINMINT_USERNAME and
CONTAINMINT_PASSWORD.

Examples:
  # Build on an aarch64 RHEL 9.0 host without pushing
  containmint build --arch aarch64 --remote rhel/9.0 --tag quay.io/org/app:v1-aarch64

  # Build and push, recording the result for a CI pipeline
  containmint build --arch x86_64 --tag quay.io/org/app:v1-x86_64 --push --result-file result.json

  # Pass build arguments and squash the new layers
  containmint build --tag quay.io/org/app:v1 --build-arg VERSION=1.0 --squash new`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, deps, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.Tags, "tag", "t", nil, "Fully qualified image tag (repeatable)")
	flags.StringVar(&opts.Architecture, "arch", "", "Remote architecture (x86_64, aarch64)")
	flags.StringVar(&opts.Remote, "remote", "", "Remote environment profile (see 'containmint profiles')")
	flags.StringVar(&opts.Context, "context", ".", "Build context directory")
	flags.StringVarP(&opts.Containerfile, "file", "f", "", "Containerfile name inside the context")
	flags.StringArrayVar(&opts.BuildArgs, "build-arg", nil, "Build argument KEY=VALUE (repeatable)")
	flags.StringArrayVar(&opts.Labels, "label", nil, "Image label KEY=VALUE (repeatable)")
	flags.StringVar(&opts.Squash, "squash", "", "Squash layers: all or new (podman only)")
	flags.BoolVar(&opts.Push, "push", false, "Push every tag after a successful build")
	flags.BoolVar(&opts.NoLogin, "no-login", false, "Skip registry login (cannot be used with --push)")
	flags.BoolVar(&opts.NoCache, "no-cache", false, "Do not use the engine's layer cache")
	flags.StringVar(&opts.ResultFile, "result-file", "", "Write the build result as JSON to this path")
	flags.StringVarP(&opts.output, "output", "o", cli.FormatText, "Output format (text, json)")

	return cmd
}

func runBuild(cmd *cobra.Command, deps *dependencies, opts *buildOptions) error {
	ctx := cmd.Context()
	cfg := configFromContext(cmd)

	// Flags bound through viper arrive in the config.
	cliOpts := opts.BuildCLIOptions
	cliOpts.Architecture = cfg.Build.DefaultArch
	cliOpts.Remote = cfg.Build.DefaultRemote
	cliOpts.NoCache = cfg.Build.NoCache

	formatter := cli.NewOutputFormatterTo(opts.output, cmd.OutOrStdout())
	if err := formatter.Validate(cli.FormatText, cli.FormatJSON); err != nil {
		return errors.NewConfigError("output", "%v", err)
	}
	if err := cli.NewValidator().ValidateBuildOptions(cliOpts); err != nil {
		return err
	}

	req, err := newBuildRequest(cmd, cfg, cliOpts)
	if err != nil {
		return err
	}

	sessions, err := deps.sessions(cliOpts.NoLogin)
	if err != nil {
		return err
	}
	brk, err := deps.newBroker(ctx, cfg)
	if err != nil {
		return err
	}

	orch := &builder.Orchestrator{
		Broker:    brk,
		Dial:      deps.dial(cfg.SSH),
		Sessions:  sessions,
		Bootstrap: cfg.Build.Bootstrap,
	}
	result, buildErr := orch.Build(ctx, req)

	if cliOpts.ResultFile != "" {
		if err := builder.WriteResult(cliOpts.ResultFile, result); err != nil {
			if buildErr == nil {
				return err
			}
			logging.WarnContext(ctx, "Failed to write result file: %v", err)
		}
	}

	if buildErr != nil && result.Output != "" {
		logging.ErrorContext(ctx, "Output of the failed command:\n%s", result.Output)
	}
	if err := formatter.DisplayBuildResult(result); err != nil {
		logging.WarnContext(ctx, "Failed to display build result: %v", err)
	}
	return buildErr
}

func newBuildRequest(cmd *cobra.Command, cfg *config.Config, opts cli.BuildCLIOptions) (*builder.BuildRequest, error) {
	buildArgs, err := cli.ParseOrderedArgs(opts.BuildArgs)
	if err != nil {
		return nil, errors.NewConfigError("build-arg", "%v", err)
	}
	labels, err := cli.ParseOrderedArgs(opts.Labels)
	if err != nil {
		return nil, errors.NewConfigError("label", "%v", err)
	}

	catalog, err := config.LoadCatalog(cfg.Profiles)
	if err != nil {
		return nil, err
	}

	return builder.NewBuildRequest(cmd.Context(), builder.RequestOptions{
		Architecture:  opts.Architecture,
		Tags:          opts.Tags,
		Context:       opts.Context,
		Containerfile: opts.Containerfile,
		BuildArgs:     buildArgs,
		Labels:        labels,
		Squash:        opts.Squash,
		Push:          opts.Push,
		NoLogin:       opts.NoLogin,
		NoCache:       opts.NoCache,
		Remote:        opts.Remote,
	}, catalog)
}
