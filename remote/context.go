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

package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/go-archive"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// ContainerfileNames lists the build file names recognised in a context.
var ContainerfileNames = []string{"Containerfile", "Dockerfile"}

// ignoreFileNames lists ignore files in lookup order. The first one found wins.
var ignoreFileNames = []string{".containerignore", ".dockerignore"}

// DetectContainerfile returns the name of the build file in dir. Exactly one
// of ContainerfileNames must be present.
func DetectContainerfile(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", &errors.ConfigError{Field: "context", Message: "build context not found", Cause: err}
	}
	if !info.IsDir() {
		return "", errors.NewConfigError("context", "%s is not a directory", dir)
	}

	var found []string
	for _, name := range ContainerfileNames {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && !fi.IsDir() {
			found = append(found, name)
		}
	}

	switch len(found) {
	case 0:
		return "", errors.NewConfigError("context", "no %s found in %s", strings.Join(ContainerfileNames, " or "), dir)
	case 1:
		return found[0], nil
	default:
		return "", errors.NewConfigError("context", "both %s found in %s, remove one", strings.Join(found, " and "), dir)
	}
}

// ReadIgnorePatterns returns the exclusion patterns of the context's ignore
// file, or nil when there is none.
func ReadIgnorePatterns(dir string) ([]string, error) {
	for _, name := range ignoreFileNames {
		f, err := os.Open(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap("open ignore file", name, err)
		}
		patterns, err := ignorefile.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, errors.Wrap("parse ignore file", name, err)
		}
		return patterns, nil
	}
	return nil, nil
}

// UploadContext streams localDir as a tar archive into remoteDir on the
// environment. Files matched by the context's ignore file are skipped, the
// build file itself is always sent.
func UploadContext(ctx context.Context, exec Executor, localDir, remoteDir, containerfile string) error {
	patterns, err := ReadIgnorePatterns(localDir)
	if err != nil {
		return err
	}
	if len(patterns) > 0 && containerfile != "" {
		patterns = append(patterns, "!"+containerfile)
	}

	tarStream, err := archive.TarWithOptions(localDir, &archive.TarOptions{
		ExcludePatterns: patterns,
	})
	if err != nil {
		return errors.Wrap("archive build context", localDir, err)
	}
	defer func() { _ = tarStream.Close() }()

	dir, err := Quote(remoteDir)
	if err != nil {
		return errors.Wrap("quote remote directory", remoteDir, err)
	}

	logging.InfoContext(ctx, "Transferring build context %s", localDir)
	_, err = exec.Run(ctx, Command{
		Script: fmt.Sprintf("mkdir -p %s && tar -xf - -C %s", dir, dir),
		Stdin:  tarStream,
		Quiet:  true,
	})
	return err
}
