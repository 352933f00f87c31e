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

	"github.com/cowdogmoo/containmint/cli"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
	"github.com/cowdogmoo/containmint/manifests"
	"github.com/cowdogmoo/containmint/registry"
)

// Merge command options
type mergeOptions struct {
	cli.MergeCLIOptions
	output string
}

func newMergeCmd(deps *dependencies) *cobra.Command {
	opts := &mergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge --tag TARGET [--tag TARGET...] SOURCE...",
		Short: "Merge single-architecture images into a manifest list",
		Long: `Combine single-platform images into one manifest list, published under
every --tag when --push is given. Without --push the list is only
composed and printed.

Every tag and source must live on the same registry server.

Examples:
  # Preview the list
  containmint merge --tag quay.io/org/app:v1 quay.io/org/app:v1-x86_64 quay.io/org/app:v1-aarch64

  # Publish it under two tags
  containmint merge --push --tag quay.io/org/app:v1 --tag quay.io/org/app:latest \
    quay.io/org/app:v1-x86_64 quay.io/org/app:v1-aarch64

  # Publish with the local podman instead of the registry API
  containmint merge --push --backend engine --tag quay.io/org/app:v1 \
    quay.io/org/app:v1-x86_64 quay.io/org/app:v1-aarch64`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Sources = args
			return runMerge(cmd, deps, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.Tags, "tag", "t", nil, "Target tag for the manifest list (repeatable)")
	flags.BoolVar(&opts.Push, "push", false, "Publish the manifest list")
	flags.BoolVar(&opts.NoLogin, "no-login", false, "Skip registry login (cannot be used with --push)")
	flags.StringVar(&opts.Backend, "backend", "", "Publishing backend (registry, engine)")
	flags.StringVarP(&opts.output, "output", "o", cli.FormatText, "Output format (text, json)")

	return cmd
}

func runMerge(cmd *cobra.Command, deps *dependencies, opts *mergeOptions) error {
	ctx := cmd.Context()
	cfg := configFromContext(cmd)

	cliOpts := opts.MergeCLIOptions
	cliOpts.Backend = cfg.Merge.Backend

	formatter := cli.NewOutputFormatterTo(opts.output, cmd.OutOrStdout())
	if err := formatter.Validate(cli.FormatText, cli.FormatJSON); err != nil {
		return errors.NewConfigError("output", "%v", err)
	}
	if err := cli.NewValidator().ValidateMergeOptions(cliOpts); err != nil {
		return err
	}

	targets, err := manifests.ParseImageReferences("tag", cliOpts.Tags)
	if err != nil {
		return err
	}
	sources, err := manifests.ParseImageReferences("source", cliOpts.Sources)
	if err != nil {
		return err
	}
	req := manifests.MergeRequest{Targets: targets, Sources: sources, Push: cliOpts.Push, NoLogin: cliOpts.NoLogin}
	if err := req.Validate(); err != nil {
		return err
	}

	composer, err := newComposer(cmd, deps, cfg, cliOpts)
	if err != nil {
		return err
	}
	list, err := composer.Merge(ctx, req)
	if err != nil {
		return err
	}

	if cliOpts.Push {
		logging.InfoContext(ctx, "Published manifest list to %d tag(s)", len(targets))
	} else {
		logging.InfoContext(ctx, "Push not requested, manifest list was not published")
	}
	return formatter.DisplayManifestList(list)
}

// newComposer wires the merge backend. Sources are always inspected through
// the registry API; the engine backend only takes over publishing.
func newComposer(cmd *cobra.Command, deps *dependencies, cfg *config.Config, opts cli.MergeCLIOptions) (*manifests.Composer, error) {
	sessions, err := deps.sessions(opts.NoLogin)
	if err != nil {
		return nil, err
	}

	keyring := registry.NewKeyring()
	composer := &manifests.Composer{
		Inspector: &manifests.RemoteInspector{Keychain: keyring.Keychain()},
		Publisher: &manifests.RegistryPublisher{Keychain: keyring.Keychain()},
		Sessions:  sessions,
		Backend:   keyring,
	}
	if opts.Backend != cli.BackendEngine || !opts.Push {
		return composer, nil
	}

	eng, err := deps.localEngine(cmd.Context(), cfg.Merge.Engine)
	if err != nil {
		return nil, errors.Wrap("find local container engine", cfg.Merge.Engine, err)
	}
	logging.DebugContext(cmd.Context(), "Publishing with local %s %s", eng.Name(), eng.Version())
	composer.Publisher = &manifests.EnginePublisher{Engine: eng}
	composer.Backend = registry.Backends{keyring, registry.EngineLogin{Engine: eng}}
	return composer, nil
}
