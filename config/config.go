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

// Package config loads the global containmint configuration.
//
// Values are resolved with the usual precedence: command line flags (bound
// by the cmd package), CONTAINMINT_* environment variables, the config file
// found on the XDG search path, then the defaults set here. Secrets such as
// the broker API key are only ever read from the environment.
package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "CONTAINMINT"

// Config represents the global containmint configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
	Broker   BrokerConfig   `mapstructure:"broker" yaml:"broker" json:"broker"`
	CoreCI   CoreCIConfig   `mapstructure:"coreci" yaml:"coreci" json:"coreci"`
	AWS      AWSConfig      `mapstructure:"aws" yaml:"aws" json:"aws"`
	SSH      SSHConfig      `mapstructure:"ssh" yaml:"ssh" json:"ssh"`
	Build    BuildConfig    `mapstructure:"build" yaml:"build" json:"build"`
	Merge    MergeConfig    `mapstructure:"merge" yaml:"merge" json:"merge"`
	Profiles []Profile      `mapstructure:"profiles" yaml:"profiles" json:"profiles,omitempty" jsonschema:"description=Additional or overriding remote profiles"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `mapstructure:"format" yaml:"format" json:"format" jsonschema:"enum=color,enum=plain,enum=json"`
}

// BrokerConfig controls how remote environments are leased.
type BrokerConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider" json:"provider" jsonschema:"enum=coreci,enum=ec2"`
	LeaseTimeout   time.Duration `mapstructure:"lease_timeout" yaml:"lease_timeout" json:"lease_timeout" jsonschema:"type=string,description=Maximum time to wait for a lease to become ready"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval" jsonschema:"type=string"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts" jsonschema:"minimum=1,description=Attempt budget for transient broker errors"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout" yaml:"release_timeout" json:"release_timeout" jsonschema:"type=string"`
}

// CoreCIConfig configures the HTTP provisioning service provider.
type CoreCIConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Stage    string `mapstructure:"stage" yaml:"stage" json:"stage"`
	Provider string `mapstructure:"provider" yaml:"provider" json:"provider"`
	// Credentials, populated from the environment only.
	APIKey        string `mapstructure:"-" yaml:"-" json:"-"`
	IdentityToken string `mapstructure:"-" yaml:"-" json:"-"`
}

// AWSConfig configures the EC2 provider.
type AWSConfig struct {
	Region         string            `mapstructure:"region" yaml:"region" json:"region"`
	Profile        string            `mapstructure:"profile" yaml:"profile" json:"profile"`
	SubnetID       string            `mapstructure:"subnet_id" yaml:"subnet_id" json:"subnet_id,omitempty"`
	SecurityGroups []string          `mapstructure:"security_groups" yaml:"security_groups" json:"security_groups,omitempty"`
	InstanceTypes  map[string]string `mapstructure:"instance_types" yaml:"instance_types" json:"instance_types" jsonschema:"description=Instance type per architecture (x86_64 and aarch64)"`
	VolumeSize     int               `mapstructure:"volume_size" yaml:"volume_size" json:"volume_size"`
	Tags           map[string]string `mapstructure:"tags" yaml:"tags" json:"tags,omitempty"`
	MaxLifetime    time.Duration     `mapstructure:"max_lifetime" yaml:"max_lifetime" json:"max_lifetime" jsonschema:"type=string,description=Instances power off and terminate after this long even if never released"`
	// Credentials, populated from the environment only. Unset means the
	// SDK's default chain (profile, SSO, instance role).
	AccessKeyID     string `mapstructure:"-" yaml:"-" json:"-"`
	SecretAccessKey string `mapstructure:"-" yaml:"-" json:"-"`
	SessionToken    string `mapstructure:"-" yaml:"-" json:"-"`
}

// SSHConfig controls connections to leased environments.
type SSHConfig struct {
	Port           int           `mapstructure:"port" yaml:"port" json:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout" jsonschema:"type=string"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout" json:"ready_timeout" jsonschema:"type=string,description=How long to retry the first connection while the host boots"`
}

// BuildConfig holds build defaults.
type BuildConfig struct {
	DefaultRemote string `mapstructure:"default_remote" yaml:"default_remote" json:"default_remote"`
	DefaultArch   string `mapstructure:"default_arch" yaml:"default_arch" json:"default_arch" jsonschema:"enum=x86_64,enum=aarch64"`
	NoCache       bool   `mapstructure:"no_cache" yaml:"no_cache" json:"no_cache"`
	Bootstrap     bool   `mapstructure:"bootstrap" yaml:"bootstrap" json:"bootstrap" jsonschema:"description=Install the profile's engine when the host has none"`
}

// MergeConfig holds merge defaults.
type MergeConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend" jsonschema:"enum=registry,enum=engine"`
	Engine  string `mapstructure:"engine" yaml:"engine" json:"engine" jsonschema:"enum=podman,enum=docker,description=Local engine used by the engine backend"`
}

// Load reads the configuration from the first config.yaml found on the
// search path. A missing file is not an error.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range GetConfigDirs() {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil && !isNotFoundError(err) {
		return nil, err
	}
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	bindEnvVars(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	populateCredentials(&cfg)
	return &cfg, nil
}

func isNotFoundError(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")

	v.SetDefault("broker.provider", "coreci")
	v.SetDefault("broker.lease_timeout", 15*time.Minute)
	v.SetDefault("broker.poll_interval", 10*time.Second)
	v.SetDefault("broker.max_attempts", 5)
	v.SetDefault("broker.release_timeout", 2*time.Minute)

	v.SetDefault("coreci.endpoint", "https://ansible-core-ci.testing.ansible.com")
	v.SetDefault("coreci.stage", "prod")
	v.SetDefault("coreci.provider", "aws")

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.instance_types", map[string]string{
		"x86_64":  "m6i.large",
		"aarch64": "m6g.large",
	})
	v.SetDefault("aws.volume_size", 40)
	v.SetDefault("aws.max_lifetime", 2*time.Hour)

	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.ready_timeout", 3*time.Minute)

	v.SetDefault("build.default_remote", "rhel/9.0")
	v.SetDefault("build.default_arch", "x86_64")
	v.SetDefault("build.no_cache", true)
	v.SetDefault("build.bootstrap", true)

	v.SetDefault("merge.backend", "registry")
	v.SetDefault("merge.engine", "podman")
}

// bindEnvVars explicitly binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("log.level", "CONTAINMINT_LOG_LEVEL")
	_ = v.BindEnv("log.format", "CONTAINMINT_LOG_FORMAT")

	_ = v.BindEnv("broker.provider", "CONTAINMINT_BROKER_PROVIDER")
	_ = v.BindEnv("broker.lease_timeout", "CONTAINMINT_BROKER_LEASE_TIMEOUT")
	_ = v.BindEnv("broker.poll_interval", "CONTAINMINT_BROKER_POLL_INTERVAL")
	_ = v.BindEnv("broker.max_attempts", "CONTAINMINT_BROKER_MAX_ATTEMPTS")
	_ = v.BindEnv("broker.release_timeout", "CONTAINMINT_BROKER_RELEASE_TIMEOUT")

	_ = v.BindEnv("coreci.endpoint", "CONTAINMINT_CORECI_ENDPOINT")
	_ = v.BindEnv("coreci.stage", "CONTAINMINT_CORECI_STAGE")
	_ = v.BindEnv("coreci.provider", "CONTAINMINT_CORECI_PROVIDER")

	// AWS also honours the standard AWS_ variables through the SDK.
	_ = v.BindEnv("aws.region", "AWS_REGION", "AWS_DEFAULT_REGION")
	_ = v.BindEnv("aws.profile", "AWS_PROFILE")
	_ = v.BindEnv("aws.subnet_id", "CONTAINMINT_AWS_SUBNET_ID")

	_ = v.BindEnv("ssh.port", "CONTAINMINT_SSH_PORT")
	_ = v.BindEnv("ssh.connect_timeout", "CONTAINMINT_SSH_CONNECT_TIMEOUT")
	_ = v.BindEnv("ssh.ready_timeout", "CONTAINMINT_SSH_READY_TIMEOUT")

	_ = v.BindEnv("build.default_remote", "CONTAINMINT_BUILD_DEFAULT_REMOTE")
	_ = v.BindEnv("build.default_arch", "CONTAINMINT_BUILD_DEFAULT_ARCH")
	_ = v.BindEnv("build.no_cache", "CONTAINMINT_BUILD_NO_CACHE")
	_ = v.BindEnv("build.bootstrap", "CONTAINMINT_BUILD_BOOTSTRAP")

	_ = v.BindEnv("merge.backend", "CONTAINMINT_MERGE_BACKEND")
	_ = v.BindEnv("merge.engine", "CONTAINMINT_MERGE_ENGINE")
}

// populateCredentials reads broker credentials from the environment. They
// are never taken from a config file.
func populateCredentials(cfg *Config) {
	cfg.CoreCI.APIKey = os.Getenv("CONTAINMINT_BROKER_API_KEY")
	cfg.CoreCI.IdentityToken = os.Getenv("CONTAINMINT_BROKER_IDENTITY_TOKEN")
	cfg.AWS.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.AWS.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	cfg.AWS.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
}
