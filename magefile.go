//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fatih/color"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binaryName = "containmint"

func init() {
	os.Setenv("GO111MODULE", "on")
}

// Compile compiles the containmint binary into bin/. GOOS and GOARCH are
// honoured, and the version is stamped from `git describe`.
//
// Example usage:
//
// ```go
// GOOS=linux GOARCH=arm64 mage compile
// ```
func Compile() error {
	goos := envOr("GOOS", runtime.GOOS)
	goarch := envOr("GOARCH", runtime.GOARCH)

	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "dev"
	}
	commit, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil {
		commit = "none"
	}

	out := filepath.Join("bin", fmt.Sprintf("%s-%s-%s", binaryName, goos, goarch))
	ldflags := fmt.Sprintf("-s -w -X main.version=%s -X main.commit=%s", version, commit)

	fmt.Println(color.YellowString("Compiling %s for %s/%s, please wait.", binaryName, goos, goarch))
	env := map[string]string{"GOOS": goos, "GOARCH": goarch, "CGO_ENABLED": "0"}
	if err := sh.RunWith(env, "go", "build", "-ldflags", ldflags, "-o", out, "./cmd/containmint"); err != nil {
		return fmt.Errorf("failed to compile %s: %v", binaryName, err)
	}

	fmt.Println(color.GreenString("Compiled %s", out))
	return nil
}

// RunTests executes all unit tests with the race detector.
func RunTests() error {
	fmt.Println(color.YellowString("Running unit tests."))
	if err := sh.RunV("go", "test", "-race", "-count=1", "./..."); err != nil {
		return fmt.Errorf("failed to run unit tests: %v", err)
	}

	return nil
}

// GenerateSchema writes the configuration JSON schema to schema/.
func GenerateSchema() error {
	if err := sh.RunV("go", "run", "./cmd/schema-gen", "-o", filepath.Join("schema", "containmint-config.json")); err != nil {
		return fmt.Errorf("failed to generate schema: %v", err)
	}

	return nil
}

// RunPreCommit updates, clears, and executes all pre-commit hooks
// locally.
//
// Example usage:
//
// ```go
// mage runprecommit
// ```
func RunPreCommit() error {
	if _, err := sh.Output("pre-commit", "--version"); err != nil {
		return fmt.Errorf("pre-commit is not installed, please install it " +
			"with the following command: `python3 -m pip install pre-commit`")
	}

	fmt.Println(color.YellowString("Updating pre-commit hooks."))
	if err := sh.RunV("pre-commit", "autoupdate"); err != nil {
		return err
	}

	fmt.Println(color.YellowString("Clearing the pre-commit cache to ensure we have a fresh start."))
	if err := sh.RunV("pre-commit", "clean"); err != nil {
		return err
	}

	fmt.Println(color.YellowString("Running all pre-commit hooks locally."))
	return sh.RunV("pre-commit", "run", "--all-files")
}

// DeleteReleaseAndTag deletes a GitHub release and its corresponding tag.
//
// Example usage:
//
// ```go
// mage deletereleaseandtag v1.0.5
// ```
func DeleteReleaseAndTag(tag string) error {
	fmt.Println(color.YellowString("Deleting GitHub release and tag: %s", tag))

	if err := sh.RunV("gh", "release", "delete", tag, "--yes"); err != nil {
		return fmt.Errorf("failed to delete GitHub release: %v", err)
	}

	if err := sh.RunV("git", "tag", "-d", tag); err != nil {
		return fmt.Errorf("failed to delete local tag: %v", err)
	}

	if err := sh.RunV("git", "push", "origin", "--delete", tag); err != nil {
		return fmt.Errorf("failed to delete remote tag: %v", err)
	}

	fmt.Println(color.GreenString("Successfully deleted GitHub release and tag: %s", tag))
	return nil
}

// CreateRelease creates a new GitHub release and updates the CHANGELOG.
//
// Example usage:
//
// ```go
// mage createrelease v1.0.6
// ```
func CreateRelease(nextVersion string) error {
	mg.Deps(RunTests)
	fmt.Println(color.YellowString("Creating new GitHub release: %s", nextVersion))

	if err := sh.RunV("gh", "changelog", "new", "--next-version", nextVersion); err != nil {
		return fmt.Errorf("failed to create changelog: %v", err)
	}

	if err := sh.RunV("gh", "release", "create", nextVersion, "-F", "CHANGELOG.md"); err != nil {
		return fmt.Errorf("failed to create GitHub release: %v", err)
	}

	fmt.Println(color.GreenString("Successfully created GitHub release: %s", nextVersion))
	return nil
}

// FullReleaseProcess handles deleting the old release and tag, and creating a new release.
//
// Example usage:
//
// ```go
// mage fullreleaseprocess v1.0.5 v1.0.6
// ```
func FullReleaseProcess(oldTag, newTag string) error {
	if err := DeleteReleaseAndTag(oldTag); err != nil {
		return err
	}

	return CreateRelease(newTag)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
