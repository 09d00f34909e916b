// Package anchor locates the repository root: the nearest ancestor
// directory (walking upward from the working directory) that contains a
// ".lodestar" entry, and derives the well-known paths beneath it.
package anchor

import (
	"os"
	"path/filepath"

	"github.com/lodestar-dev/lodestar/internal/engineerr"
)

// DirName is the sentinel directory name that marks a repository root.
const DirName = ".lodestar"

const (
	specFileName    = "spec.yaml"
	runtimeFileName = "runtime.db"
	lockFileName    = ".lock"
)

// EnvRepoOverride is the environment variable that pins the repository
// anchor path, bypassing the upward walk entirely.
const EnvRepoOverride = "LODESTAR_REPO"

// Repo resolves the well-known paths rooted at a repository anchor.
type Repo struct {
	Root string // the directory containing .lodestar
}

// Dir returns the .lodestar directory itself.
func (r Repo) Dir() string { return filepath.Join(r.Root, DirName) }

// SpecPath returns the path to the committed spec YAML.
func (r Repo) SpecPath() string { return filepath.Join(r.Dir(), specFileName) }

// RuntimePath returns the path to the local runtime database.
func (r Repo) RuntimePath() string { return filepath.Join(r.Dir(), runtimeFileName) }

// LockPath returns the path to the spec file lock sentinel.
func (r Repo) LockPath() string { return filepath.Join(r.Dir(), lockFileName) }

// Find walks upward from startDir looking for a ".lodestar" entry. If
// LODESTAR_REPO is set, it is used verbatim instead of walking.
func Find(startDir string) (Repo, error) {
	if override := os.Getenv(EnvRepoOverride); override != "" {
		root, err := filepath.Abs(override)
		if err != nil {
			return Repo{}, engineerr.Newf(engineerr.NotInitialized, "resolving %s: %v", EnvRepoOverride, err)
		}
		if _, err := os.Stat(filepath.Join(root, DirName)); err != nil {
			return Repo{}, engineerr.Newf(engineerr.NotInitialized, "%s does not contain %s", root, DirName)
		}
		return Repo{Root: root}, nil
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return Repo{}, engineerr.Newf(engineerr.NotInitialized, "resolving start directory: %v", err)
	}

	for {
		candidate := filepath.Join(dir, DirName)
		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
			return Repo{Root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Repo{}, engineerr.New(engineerr.NotInitialized, "no "+DirName+" directory found in any parent of "+startDir)
		}
		dir = parent
	}
}

// Init creates a new ".lodestar" directory at root, failing if one
// already exists. It does not write the spec file; callers use specstore
// for that so the five-step write sequence stays centralized.
func Init(root string) (Repo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return Repo{}, engineerr.Newf(engineerr.InvalidInput, "resolving root: %v", err)
	}
	dir := filepath.Join(root, DirName)
	if _, err := os.Stat(dir); err == nil {
		return Repo{}, engineerr.Newf(engineerr.InvalidInput, "%s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Repo{}, engineerr.Newf(engineerr.InvalidInput, "creating %s: %v", dir, err)
	}
	return Repo{Root: root}, nil
}
