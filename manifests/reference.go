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

package manifests

import (
	"strings"

	"github.com/distribution/reference"

	"github.com/cowdogmoo/containmint/errors"
)

// TagFormat is the required shape of an image reference.
const TagFormat = "{registry}/{repository}:{tag}"

// ImageReference is a fully qualified, tagged image reference such as
// quay.io/org/app:v1-x86_64. The registry is never implied.
type ImageReference struct {
	named reference.NamedTagged
}

// ParseImageReference parses and validates s. Errors are ConfigErrors
// naming field.
func ParseImageReference(field, s string) (ImageReference, error) {
	invalid := func(reason string) error {
		return errors.NewConfigError(field, "invalid image reference %q (%s), required format is: %s", s, reason, TagFormat)
	}

	domain, _, ok := strings.Cut(s, "/")
	if !ok || !(strings.ContainsAny(domain, ".:") || domain == "localhost") {
		return ImageReference{}, invalid("no registry")
	}

	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return ImageReference{}, invalid(err.Error())
	}
	if _, ok := named.(reference.Digested); ok {
		return ImageReference{}, invalid("digests are not supported")
	}
	tagged, ok := named.(reference.NamedTagged)
	if !ok {
		return ImageReference{}, invalid("no tag")
	}
	return ImageReference{named: tagged}, nil
}

// ParseImageReferences parses each value in order.
func ParseImageReferences(field string, values []string) ([]ImageReference, error) {
	refs := make([]ImageReference, 0, len(values))
	for _, v := range values {
		ref, err := ParseImageReference(field, v)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// MustParse is ParseImageReference for known-good literals.
func MustParse(s string) ImageReference {
	ref, err := ParseImageReference("tag", s)
	if err != nil {
		panic(err)
	}
	return ref
}

// String returns the full reference.
func (r ImageReference) String() string {
	if r.named == nil {
		return ""
	}
	return r.named.String()
}

// IsZero reports whether r is unset.
func (r ImageReference) IsZero() bool {
	return r.named == nil
}

// Server returns the registry host, including any port.
func (r ImageReference) Server() string {
	return reference.Domain(r.named)
}

// Repository returns the repository path without the registry.
func (r ImageReference) Repository() string {
	return reference.Path(r.named)
}

// FullRepo returns the repository including the registry.
func (r ImageReference) FullRepo() string {
	return r.named.Name()
}

// Tag returns the tag.
func (r ImageReference) Tag() string {
	return r.named.Tag()
}

// MarshalText implements encoding.TextMarshaler.
func (r ImageReference) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ImageReference) UnmarshalText(text []byte) error {
	ref, err := ParseImageReference("tag", string(text))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// Servers returns the distinct registry hosts of refs in first-seen order.
func Servers(refs ...ImageReference) []string {
	seen := make(map[string]bool, len(refs))
	var servers []string
	for _, r := range refs {
		if s := r.Server(); !seen[s] {
			seen[s] = true
			servers = append(servers, s)
		}
	}
	return servers
}

// Strings returns the string form of each reference.
func Strings(refs []ImageReference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}
