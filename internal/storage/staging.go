package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// OutputDir stages artifacts in a sibling directory of the final location
// and swaps it into place on Commit, so readers never observe a partially
// written output directory.
type OutputDir struct {
	final   string
	staging string
	done    bool
}

// NewOutputDir creates an empty staging directory for final. The parent of
// final is created if needed.
func NewOutputDir(final string) (*OutputDir, error) {
	final = filepath.Clean(final)
	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(final)+"-staging-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &OutputDir{final: final, staging: staging}, nil
}

// Path returns the staged location of an artifact. Nested names create their
// parent directories.
func (o *OutputDir) Path(name ...string) (string, error) {
	p := filepath.Join(append([]string{o.staging}, name...)...)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(p), err)
	}
	return p, nil
}

// Final returns the directory the artifacts land in after Commit.
func (o *OutputDir) Final() string { return o.final }

// Commit replaces the final directory with the staged one. A previous final
// directory is moved aside first and removed once the swap succeeded.
func (o *OutputDir) Commit() error {
	if o.done {
		return fmt.Errorf("output directory %s already committed or discarded", o.final)
	}

	var previous string
	if _, err := os.Stat(o.final); err == nil {
		previous = o.staging + ".previous"
		if err := os.Rename(o.final, previous); err != nil {
			return fmt.Errorf("failed to move aside %s: %w", o.final, err)
		}
	}

	if err := os.Rename(o.staging, o.final); err != nil {
		if previous != "" {
			_ = os.Rename(previous, o.final)
		}
		return fmt.Errorf("failed to commit %s: %w", o.final, err)
	}
	o.done = true

	if previous != "" {
		if err := os.RemoveAll(previous); err != nil {
			return fmt.Errorf("failed to remove previous %s: %w", o.final, err)
		}
	}
	return nil
}

// Discard removes the staging directory. It is a no-op after Commit.
func (o *OutputDir) Discard() error {
	if o.done {
		return nil
	}
	o.done = true
	return os.RemoveAll(o.staging)
}
