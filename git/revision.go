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

// Package git reads revision metadata from the repository holding a build
// context, for use as OCI image labels.
package git

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// OCI annotation keys set from a Revision.
const (
	LabelRevision = "org.opencontainers.image.revision"
	LabelSource   = "org.opencontainers.image.source"
)

// Revision describes the commit a build context was taken from.
type Revision struct {
	Commit string
	// Source is the origin remote as a browsable URL, without credentials.
	// Empty when there is no origin.
	Source string
	// Dirty is set when the worktree has uncommitted changes.
	Dirty bool
}

// Detect returns the revision of the repository containing dir. It returns
// nil without error when dir is not inside a git repository or the
// repository has no commits yet.
func Detect(ctx context.Context, dir string) (*Revision, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		logging.DebugContext(ctx, "%s is not in a git repository", dir)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap("open git repository", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		logging.DebugContext(ctx, "No HEAD commit in %s: %v", dir, err)
		return nil, nil
	}

	rev := &Revision{Commit: head.Hash().String()}

	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		rev.Source = SourceURL(remote.Config().URLs[0])
	}

	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			rev.Dirty = !status.IsClean()
		}
	}

	return rev, nil
}

// Labels returns the OCI labels for r. A dirty worktree gets no revision
// label since the commit does not describe the image contents.
func (r *Revision) Labels() map[string]string {
	labels := make(map[string]string, 2)
	if r == nil {
		return labels
	}
	if r.Commit != "" && !r.Dirty {
		labels[LabelRevision] = r.Commit
	}
	if r.Source != "" {
		labels[LabelSource] = r.Source
	}
	return labels
}

// SourceURL turns a remote URL into an https URL without credentials or a
// .git suffix. scp-style SSH remotes (git@host:org/repo.git) are rewritten.
// Remotes that cannot be expressed as https are returned empty.
func SourceURL(remote string) string {
	remote = strings.TrimSpace(remote)

	if !strings.Contains(remote, "://") {
		userHost, path, ok := strings.Cut(remote, ":")
		if !ok || strings.Contains(userHost, "/") {
			return ""
		}
		_, host, found := strings.Cut(userHost, "@")
		if !found {
			host = userHost
		}
		remote = "https://" + host + "/" + path
	}

	u, err := url.Parse(remote)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git":
	default:
		return ""
	}

	u.Scheme = "https"
	u.User = nil
	u.Host = u.Hostname()
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), ".git")
	return u.String()
}
