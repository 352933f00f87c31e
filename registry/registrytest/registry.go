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

// Package registrytest provides an in-memory OCI registry for tests.
package registrytest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// Registry is an in-memory registry served over HTTP that records every
// request.
type Registry struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []string
}

// New starts a registry. Callers must Close it.
func New() *Registry {
	r := &Registry{}
	handler := ggcrregistry.New()
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.requests = append(r.requests, req.Method+" "+req.URL.Path)
		r.mu.Unlock()
		handler.ServeHTTP(w, req)
	}))
	return r
}

// Close shuts the server down.
func (r *Registry) Close() { r.Server.Close() }

// Host returns the registry's host:port.
func (r *Registry) Host() string { return r.Server.Listener.Addr().String() }

// Ref returns a fully qualified reference to repo:tag on this registry.
func (r *Registry) Ref(repo, tag string) string {
	return r.Host() + "/" + repo + ":" + tag
}

// Requests returns the recorded requests as "METHOD /path".
func (r *Registry) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

// HasRequest reports whether a recorded request contains pattern.
func (r *Registry) HasRequest(pattern string) bool {
	for _, req := range r.Requests() {
		if strings.Contains(req, pattern) {
			return true
		}
	}
	return false
}

// Image describes a single-platform image to push.
type Image struct {
	Repo    string
	Tag     string
	OS      string
	Arch    string
	Variant string
	// OCI pushes an OCI manifest instead of a Docker schema 2 manifest.
	OCI bool
}

// AddImage pushes a random single-platform image and returns its digest.
func (r *Registry) AddImage(spec Image) (string, error) {
	img, err := buildImage(spec)
	if err != nil {
		return "", fmt.Errorf("build image: %w", err)
	}
	ref, err := name.ParseReference(r.Ref(spec.Repo, spec.Tag), name.Insecure)
	if err != nil {
		return "", err
	}
	if err := remote.Write(ref, img); err != nil {
		return "", fmt.Errorf("push image: %w", err)
	}
	d, err := img.Digest()
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// AddIndex pushes a multi-platform index of images under repo:tag.
func (r *Registry) AddIndex(repo, tag string, images []Image) (string, error) {
	var adds []mutate.IndexAddendum
	for _, spec := range images {
		img, err := buildImage(spec)
		if err != nil {
			return "", err
		}
		adds = append(adds, mutate.IndexAddendum{
			Add: img,
			Descriptor: v1.Descriptor{
				Platform: &v1.Platform{OS: spec.OS, Architecture: spec.Arch, Variant: spec.Variant},
			},
		})
	}
	idx := mutate.AppendManifests(empty.Index, adds...)

	ref, err := name.ParseReference(r.Ref(repo, tag), name.Insecure)
	if err != nil {
		return "", err
	}
	if err := remote.WriteIndex(ref, idx); err != nil {
		return "", fmt.Errorf("push index: %w", err)
	}
	d, err := idx.Digest()
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// Manifest returns the raw manifest and media type stored under ref.
func (r *Registry) Manifest(ref string) ([]byte, types.MediaType, error) {
	parsed, err := name.ParseReference(ref, name.Insecure)
	if err != nil {
		return nil, "", err
	}
	desc, err := remote.Get(parsed)
	if err != nil {
		return nil, "", err
	}
	return desc.Manifest, desc.MediaType, nil
}

func buildImage(spec Image) (v1.Image, error) {
	img, err := random.Image(256, 1)
	if err != nil {
		return nil, err
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg.OS = spec.OS
	cfg.Architecture = spec.Arch
	cfg.Variant = spec.Variant
	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return nil, err
	}
	if spec.OCI {
		img = mutate.MediaType(img, types.OCIManifestSchema1)
	}
	return img, nil
}
