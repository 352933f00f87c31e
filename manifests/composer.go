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
	"context"
	"strings"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
	"github.com/cowdogmoo/containmint/registry"
)

// MergeRequest asks for the Sources to be combined into one manifest list
// published under each of the Targets.
type MergeRequest struct {
	Targets []ImageReference
	Sources []ImageReference
	Push    bool
	NoLogin bool
}

// Validate checks the request before any registry is contacted.
func (r MergeRequest) Validate() error {
	if len(r.Targets) == 0 {
		return errors.NewConfigError("tag", "at least one target tag is required")
	}
	if len(r.Sources) == 0 {
		return errors.NewConfigError("source", "at least one source image is required")
	}
	if r.NoLogin && r.Push {
		return errors.NewConfigError("no-login", "--no-login cannot be used with --push")
	}
	if servers := r.Servers(); len(servers) > 1 {
		return errors.NewConfigError("tag", "tags and sources span multiple registry servers: %s", strings.Join(servers, ", "))
	}
	return nil
}

// Servers returns the registry servers the request touches.
func (r MergeRequest) Servers() []string {
	return Servers(append(append([]ImageReference(nil), r.Targets...), r.Sources...)...)
}

// Compose builds a manifest list from inspected entries. Entries keep their
// order; a platform seen twice is reported against the later entry.
func Compose(targets []ImageReference, entries []ManifestEntry) (*ManifestList, error) {
	seen := make(map[PlatformDescriptor]ImageReference, len(entries))
	for _, e := range entries {
		if first, ok := seen[e.Platform]; ok {
			return nil, &errors.MergeError{
				Kind:  errors.MergeDuplicatePlatform,
				Ref:   e.Ref.String(),
				Cause: errors.New(e.Platform.String() + " is already provided by " + first.String()),
			}
		}
		seen[e.Platform] = e.Ref
	}
	return &ManifestList{
		Targets: append([]ImageReference(nil), targets...),
		Entries: append([]ManifestEntry(nil), entries...),
	}, nil
}

// Publisher makes a manifest list available under its targets.
type Publisher interface {
	Publish(ctx context.Context, list *ManifestList) error
}

// Composer merges single-platform images into manifest lists.
type Composer struct {
	Inspector Inspector
	Publisher Publisher
	// Sessions scopes inspection and publishing in a registry session
	// logged in through Backend.
	Sessions registry.Opener
	Backend  registry.Backend
}

// Merge validates req, inspects every source and, when req.Push is set,
// publishes the resulting list. The list is returned in both cases.
func (c *Composer) Merge(ctx context.Context, req MergeRequest) (*ManifestList, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var list *ManifestList
	err := c.Sessions.Scoped(ctx, c.Backend, req.Servers(), func(*registry.Session) error {
		entries, err := InspectAll(ctx, c.Inspector, req.Sources)
		if err != nil {
			return err
		}
		for _, e := range entries {
			logging.InfoContext(ctx, "%s: %s (%s)", e.Platform, e.Ref, e.Digest)
		}

		list, err = Compose(req.Targets, entries)
		if err != nil {
			return err
		}
		if !req.Push {
			return nil
		}
		return c.Publisher.Publish(ctx, list)
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}
