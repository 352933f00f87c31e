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
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// Context key type for storing config
type configKeyType struct{}

// configKey is the context key for storing the config
var configKey = configKeyType{}

// rootOptions are the global flags.
type rootOptions struct {
	cfgFile string
}

func newRootCmd(deps *dependencies) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "containmint",
		Short: "Containmint - native multi-architecture container image builder",
		Long: `Containmint builds container images natively on ephemeral remote hosts,
one host per CPU architecture, and merges the results into manifest lists.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, opts)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &errors.ConfigError{Field: "flags", Message: err.Error()}
	})

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "Config file (default is $XDG_CONFIG_HOME/containmint/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "Log format (plain, color, json)")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Quiet mode - only show errors")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose mode - show debug output")

	cmd.AddCommand(newBuildCmd(deps))
	cmd.AddCommand(newMergeCmd(deps))
	cmd.AddCommand(newProfilesCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// configFromContext retrieves the config from the command context.
// Returns the defaults if no config is stored in context.
func configFromContext(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey).(*config.Config); ok {
		return cfg
	}
	return &config.Config{}
}

// initConfig initializes configuration with proper precedence:
// CLI Flags > Environment Variables > Config File > Defaults
func initConfig(cmd *cobra.Command, opts *rootOptions) error {
	// 1. Load global config (handles defaults, env vars, and config file)
	var cfg *config.Config
	var err error
	if opts.cfgFile != "" {
		cfg, err = config.LoadFromPath(opts.cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &errors.ConfigError{Field: "config", Message: "failed to load configuration", Cause: err}
	}

	// 2. Create a new Viper instance for flag binding, seeded with the
	// loaded values so unset flags fall through to them
	v := viper.New()
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("build.remote", cfg.Build.DefaultRemote)
	v.SetDefault("build.arch", cfg.Build.DefaultArch)
	v.SetDefault("build.no_cache", cfg.Build.NoCache)
	v.SetDefault("merge.backend", cfg.Merge.Backend)

	// 3. Bind environment variables
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind Cobra flags to Viper (this enables: flags > env > config > defaults)
	if err := v.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
		return errors.Wrap("bind flag", "log-level", err)
	}
	if err := v.BindPFlag("log.format", cmd.Root().PersistentFlags().Lookup("log-format")); err != nil {
		return errors.Wrap("bind flag", "log-format", err)
	}
	BindCommandFlagsToViper(cmd.Context(), v, cmd)

	// 5. Initialize logging with the final values
	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := logging.NewCustomLoggerWithOptions(v.GetString("log.level"), v.GetString("log.format"), quiet, verbose)
	logger.ConsoleWriter = cmd.ErrOrStderr()
	logger.OutputWriter = cmd.OutOrStdout()
	for _, secret := range []string{cfg.CoreCI.APIKey, cfg.CoreCI.IdentityToken, cfg.AWS.SecretAccessKey, cfg.AWS.SessionToken} {
		if secret != "" {
			logger.AddSecret(secret)
		}
	}

	// 6. Update config with final Viper values (for use in subcommands)
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Build.DefaultRemote = v.GetString("build.remote")
	cfg.Build.DefaultArch = v.GetString("build.arch")
	cfg.Build.NoCache = v.GetBool("build.no_cache")
	cfg.Merge.Backend = v.GetString("merge.backend")

	ctx := context.WithValue(cmd.Context(), configKey, cfg)
	ctx = logging.WithLogger(ctx, logger)
	cmd.SetContext(ctx)
	return nil
}

// BindFlagsToViper binds all flags from a command to a Viper instance.
// The viperKey parameter prefixes the keys (e.g., "build" for build command flags).
func BindFlagsToViper(ctx context.Context, v *viper.Viper, cmd *cobra.Command, viperKey string) {
	cmd.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		// Convert flag name to viper key format (e.g., "no-cache" -> "no_cache")
		key := strings.ReplaceAll(f.Name, "-", "_")
		if viperKey != "" {
			key = viperKey + "." + key
		}
		if err := v.BindPFlag(key, f); err != nil {
			logging.WarnContext(ctx, "failed to bind flag %s to viper: %v", f.Name, err)
		}
	})
}

// BindCommandFlagsToViper binds flags from the current command and its parent persistent flags to Viper.
func BindCommandFlagsToViper(ctx context.Context, v *viper.Viper, cmd *cobra.Command) {
	BindFlagsToViper(ctx, v, cmd, getCommandPath(cmd))

	cmd.InheritedFlags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			logging.WarnContext(ctx, "failed to bind inherited flag %s to viper: %v", f.Name, err)
		}
	})
}

// getCommandPath returns the command path for Viper key namespacing.
// For example, "containmint build" returns "build".
func getCommandPath(cmd *cobra.Command) string {
	var parts []string
	for current := cmd; current != nil && current.Parent() != nil; current = current.Parent() {
		parts = append([]string{current.Name()}, parts...)
	}
	return strings.Join(parts, ".")
}
