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
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// Inspector resolves a source reference to the single-platform image it
// names.
type Inspector interface {
	Inspect(ctx context.Context, ref ImageReference) (*ManifestEntry, error)
}

// RemoteInspector reads manifests straight from the registry.
type RemoteInspector struct {
	Keychain authn.Keychain
	// Options are appended to every registry call, for example
	// remote.WithTransport in tests.
	Options []remote.Option
}

var _ Inspector = (*RemoteInspector)(nil)

func (i *RemoteInspector) options(ctx context.Context) []remote.Option {
	keychain := i.Keychain
	if keychain == nil {
		keychain = authn.DefaultKeychain
	}
	return append([]remote.Option{remote.WithContext(ctx), remote.WithAuthFromKeychain(keychain)}, i.Options...)
}

// Inspect implements Inspector. Anything other than a readable
// single-platform image is reported as a missing source.
func (i *RemoteInspector) Inspect(ctx context.Context, ref ImageReference) (*ManifestEntry, error) {
	missing := func(err error) error {
		return &errors.MergeError{Kind: errors.MergeMissingSource, Ref: ref.String(), Cause: err}
	}

	r, err := name.ParseReference(ref.String())
	if err != nil {
		return nil, missing(err)
	}

	logging.DebugContext(ctx, "Inspecting %s", ref)
	desc, err := remote.Get(r, i.options(ctx)...)
	if err != nil {
		return nil, missing(err)
	}
	if desc.MediaType.IsIndex() {
		return nil, missing(fmt.Errorf("%s is already a manifest list", desc.MediaType))
	}

	img, err := desc.Image()
	if err != nil {
		return nil, missing(err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, missing(err)
	}
	if cfg.OS == "" || cfg.Architecture == "" {
		return nil, missing(fmt.Errorf("image config has no platform"))
	}

	return &ManifestEntry{
		Ref:       ref,
		Digest:    digest.Digest(desc.Digest.String()),
		MediaType: string(desc.MediaType),
		Size:      desc.Size,
		Platform:  NewPlatformDescriptor(cfg.OS, cfg.Architecture, cfg.Variant),
	}, nil
}

// InspectAll inspects refs one at a time, in order, and stops at the first
// failure.
func InspectAll(ctx context.Context, inspector Inspector, refs []ImageReference) ([]ManifestEntry, error) {
	entries := make([]ManifestEntry, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := inspector.Inspect(ctx, ref)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// RegistryPublisher writes manifest lists with the registry API, without a
// container engine.
type RegistryPublisher struct {
	Keychain authn.Keychain
	Options  []remote.Option
}

var _ Publisher = (*RegistryPublisher)(nil)

func (p *RegistryPublisher) options(ctx context.Context) []remote.Option {
	return (&RemoteInspector{Keychain: p.Keychain, Options: p.Options}).options(ctx)
}

// Publish implements Publisher. A list can only reference manifests in its
// own repository, so entries that live elsewhere are copied by digest into
// each target repository first.
func (p *RegistryPublisher) Publish(ctx context.Context, list *ManifestList) error {
	raw, err := list.Bytes()
	if err != nil {
		return err
	}
	manifest := rawManifest{data: raw, mediaType: types.MediaType(list.MediaType())}

	for _, target := range list.Targets {
		for _, entry := range list.Entries {
			if entry.Ref.FullRepo() == target.FullRepo() {
				continue
			}
			if err := p.copyEntry(ctx, entry, target); err != nil {
				return err
			}
		}

		tag, err := name.ParseReference(target.String())
		if err != nil {
			return errors.Wrap("parse target", target.String(), err)
		}
		logging.InfoContext(ctx, "Pushing manifest list %s", target)
		if err := remote.Put(tag, manifest, p.options(ctx)...); err != nil {
			return errors.Wrap("push manifest list", target.String(), err)
		}
	}
	return nil
}

func (p *RegistryPublisher) copyEntry(ctx context.Context, entry ManifestEntry, target ImageReference) error {
	src, err := name.NewDigest(entry.Ref.FullRepo() + "@" + entry.Digest.String())
	if err != nil {
		return errors.Wrap("parse source", entry.Ref.String(), err)
	}
	dst, err := name.NewDigest(target.FullRepo() + "@" + entry.Digest.String())
	if err != nil {
		return errors.Wrap("parse destination", target.FullRepo(), err)
	}

	logging.DebugContext(ctx, "Copying %s to %s", src, dst)
	desc, err := remote.Get(src, p.options(ctx)...)
	if err != nil {
		return errors.Wrap("read image", src.String(), err)
	}
	img, err := desc.Image()
	if err != nil {
		return errors.Wrap("read image", src.String(), err)
	}
	if err := remote.Write(dst, img, p.options(ctx)...); err != nil {
		return errors.Wrap("copy image", dst.String(), err)
	}
	return nil
}

// rawManifest is a remote.Taggable carrying pre-serialized bytes, so the
// pushed list is byte-identical to ManifestList.Bytes.
type rawManifest struct {
	data      []byte
	mediaType types.MediaType
}

func (m rawManifest) RawManifest() ([]byte, error) {
	return m.data, nil
}

func (m rawManifest) MediaType() (types.MediaType, error) {
	return m.mediaType, nil
}
