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
	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// PlatformDescriptor is the OS and architecture of a single-platform image,
// normalized so equivalent spellings compare equal (x86_64 and amd64,
// aarch64 and arm64/v8).
type PlatformDescriptor struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	Variant      string `json:"variant,omitempty"`
}

// NewPlatformDescriptor normalizes os, arch and variant.
func NewPlatformDescriptor(os, arch, variant string) PlatformDescriptor {
	p := platforms.Normalize(ocispec.Platform{OS: os, Architecture: arch, Variant: variant})
	return PlatformDescriptor{OS: p.OS, Architecture: p.Architecture, Variant: p.Variant}
}

// LinuxPlatform returns the descriptor of a linux image built on arch, as
// reported by uname (x86_64, aarch64).
func LinuxPlatform(arch string) PlatformDescriptor {
	return NewPlatformDescriptor("linux", arch, "")
}

// String formats the platform as os/arch[/variant].
func (p PlatformDescriptor) String() string {
	return platforms.Format(p.OCI())
}

// OCI returns the image-spec form of the platform.
func (p PlatformDescriptor) OCI() ocispec.Platform {
	return ocispec.Platform{OS: p.OS, Architecture: p.Architecture, Variant: p.Variant}
}
