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

package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"gopkg.in/yaml.v3"

	"github.com/cowdogmoo/containmint/errors"
)

//go:embed profiles.yaml
var builtinProfiles []byte

// Profile describes a remote environment image offered by the broker.
type Profile struct {
	Name           string   `mapstructure:"name" yaml:"name" json:"name"`
	Platform       string   `mapstructure:"platform" yaml:"platform" json:"platform"`
	Version        string   `mapstructure:"version" yaml:"version" json:"version"`
	Engine         string   `mapstructure:"engine" yaml:"engine" json:"engine" jsonschema:"enum=podman,enum=docker"`
	PackageManager string   `mapstructure:"package_manager" yaml:"package_manager" json:"package_manager" jsonschema:"enum=dnf,enum=apt"`
	Architectures  []string `mapstructure:"architectures" yaml:"architectures" json:"architectures"`
	EC2            EC2Image `mapstructure:"ec2" yaml:"ec2" json:"ec2"`
}

// EC2Image selects the AMI used for a profile by the EC2 provider.
type EC2Image struct {
	Owner       string `mapstructure:"owner" yaml:"owner" json:"owner"`
	NamePattern string `mapstructure:"name_pattern" yaml:"name_pattern" json:"name_pattern"`
}

// SupportsArch reports whether the profile is offered for arch.
func (p Profile) SupportsArch(arch string) bool {
	for _, a := range p.Architectures {
		if a == arch {
			return true
		}
	}
	return false
}

// Catalog is the set of known remote profiles.
type Catalog struct {
	profiles map[string]Profile
}

type catalogFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadCatalog parses the built-in profiles and applies overrides on top.
// An override with the name of a built-in profile replaces it.
func LoadCatalog(overrides []Profile) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(builtinProfiles, &file); err != nil {
		return nil, errors.Wrap("parse built-in profiles", "", err)
	}

	c := &Catalog{profiles: make(map[string]Profile, len(file.Profiles)+len(overrides))}
	for _, p := range append(file.Profiles, overrides...) {
		if p.Name == "" {
			return nil, errors.NewConfigError("profiles", "profile without a name")
		}
		c.profiles[p.Name] = p
	}
	return c, nil
}

// Names returns all profile names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named profile. Unknown names produce a ConfigError
// that suggests close matches.
func (c *Catalog) Lookup(name string) (Profile, error) {
	if p, ok := c.profiles[name]; ok {
		return p, nil
	}

	msg := fmt.Sprintf("unknown remote profile %q", name)
	if suggestions := c.suggest(name); len(suggestions) > 0 {
		msg += fmt.Sprintf(", did you mean %s?", strings.Join(suggestions, " or "))
	}
	return Profile{}, errors.NewConfigError("remote", "%s", msg)
}

func (c *Catalog) suggest(name string) []string {
	names := c.Names()

	ranks := fuzzy.RankFindNormalizedFold(name, names)
	if len(ranks) == 0 {
		// Fall back to the platform part, so rhel/8.9 still suggests rhel/*.
		platform, _, _ := strings.Cut(name, "/")
		ranks = fuzzy.RankFindNormalizedFold(platform+"/", names)
	}
	sort.Sort(ranks)

	suggestions := make([]string, 0, 3)
	for _, r := range ranks {
		if len(suggestions) == 3 {
			break
		}
		suggestions = append(suggestions, r.Target)
	}
	return suggestions
}
