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
	"os"
	"path/filepath"
	"runtime"
)

// File permissions used for files and directories containmint creates.
const (
	DirPermReadWriteExec os.FileMode = 0o755
	FilePermReadWrite    os.FileMode = 0o644
)

const appName = "containmint"

// getConfigHome returns $XDG_CONFIG_HOME, or ~/.config when unset.
func getConfigHome() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return configHome
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config")
	}
	return ""
}

// GetConfigDirs returns all config directories to search (in priority order).
func GetConfigDirs() []string {
	dirs := []string{}

	if configHome := getConfigHome(); configHome != "" {
		dirs = append(dirs, filepath.Join(configHome, appName))
	}

	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "."+appName))
	}

	// System-wide config. Skipped on macOS.
	if runtime.GOOS == "linux" || runtime.GOOS == "freebsd" || runtime.GOOS == "openbsd" {
		if xdgConfigDirs := os.Getenv("XDG_CONFIG_DIRS"); xdgConfigDirs != "" {
			for _, dir := range filepath.SplitList(xdgConfigDirs) {
				if dir != "" {
					dirs = append(dirs, filepath.Join(dir, appName))
				}
			}
		} else {
			dirs = append(dirs, filepath.Join("/etc", "xdg", appName))
		}
	}

	return dirs
}

// ConfigFile returns the path for creating a new config file, creating its
// directory if needed.
func ConfigFile(filename string) (string, error) {
	configHome := getConfigHome()
	if configHome == "" {
		return "", os.ErrNotExist
	}

	configPath := filepath.Join(configHome, appName, filename)
	if err := os.MkdirAll(filepath.Dir(configPath), DirPermReadWriteExec); err != nil {
		return "", err
	}
	return configPath, nil
}
