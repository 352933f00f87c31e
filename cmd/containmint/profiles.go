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
)

type profilesOptions struct {
	arch   string
	output string
}

func newProfilesCmd() *cobra.Command {
	opts := &profilesOptions{}

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the remote environment profiles",
		Long: `List the remote environment profiles builds can run on, including any
defined in the config file.

Examples:
  # Table of profiles
  containmint profiles

  # GitHub Actions matrix of every aarch64 profile
  containmint profiles --arch aarch64 -o gha-matrix`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProfiles(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.arch, "arch", "", "Only list profiles offered for this architecture")
	cmd.Flags().StringVarP(&opts.output, "output", "o", cli.FormatText, "Output format (text, json, gha-matrix)")
	return cmd
}

func runProfiles(cmd *cobra.Command, opts *profilesOptions) error {
	formatter := cli.NewOutputFormatterTo(opts.output, cmd.OutOrStdout())
	if err := formatter.Validate(cli.FormatText, cli.FormatJSON, cli.FormatGHAMatrix); err != nil {
		return errors.NewConfigError("output", "%v", err)
	}

	catalog, err := config.LoadCatalog(configFromContext(cmd).Profiles)
	if err != nil {
		return err
	}

	var profiles []config.Profile
	for _, name := range catalog.Names() {
		p, err := catalog.Lookup(name)
		if err != nil {
			return err
		}
		if opts.arch != "" && !p.SupportsArch(opts.arch) {
			continue
		}
		if opts.arch != "" {
			p.Architectures = []string{opts.arch}
		}
		profiles = append(profiles, p)
	}
	return formatter.DisplayProfiles(profiles)
}
