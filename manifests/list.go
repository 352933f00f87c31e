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
	"encoding/json"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cowdogmoo/containmint/errors"
)

// Media types of single-platform manifests and of the lists that hold them.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// ManifestEntry is one image in a manifest list.
type ManifestEntry struct {
	Ref       ImageReference     `json:"ref"`
	Digest    digest.Digest      `json:"digest"`
	MediaType string             `json:"mediaType"`
	Size      int64              `json:"size"`
	Platform  PlatformDescriptor `json:"platform"`
}

// ManifestList maps each platform to exactly one image. Entries keep the
// order of the merge sources.
type ManifestList struct {
	Targets []ImageReference `json:"targets"`
	Entries []ManifestEntry  `json:"entries"`
}

// MediaType is a Docker manifest list when every entry is a Docker
// manifest, and an OCI index otherwise.
func (l *ManifestList) MediaType() string {
	if len(l.Entries) == 0 {
		return ocispec.MediaTypeImageIndex
	}
	for _, e := range l.Entries {
		if e.MediaType != MediaTypeDockerManifest {
			return ocispec.MediaTypeImageIndex
		}
	}
	return MediaTypeDockerManifestList
}

// Index returns the list as an image index.
func (l *ManifestList) Index() ocispec.Index {
	index := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: l.MediaType(),
		Manifests: make([]ocispec.Descriptor, 0, len(l.Entries)),
	}
	for _, e := range l.Entries {
		platform := e.Platform.OCI()
		index.Manifests = append(index.Manifests, ocispec.Descriptor{
			MediaType: e.MediaType,
			Digest:    e.Digest,
			Size:      e.Size,
			Platform:  &platform,
		})
	}
	return index
}

// Bytes returns the canonical serialized index. Equal lists always
// serialize to the same bytes.
func (l *ManifestList) Bytes() ([]byte, error) {
	data, err := json.Marshal(l.Index())
	if err != nil {
		return nil, errors.Wrap("encode manifest list", "", err)
	}
	return data, nil
}

// Digest returns the digest of Bytes.
func (l *ManifestList) Digest() (digest.Digest, error) {
	data, err := l.Bytes()
	if err != nil {
		return "", err
	}
	return digest.FromBytes(data), nil
}
