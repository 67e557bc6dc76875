package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FixtureSVG is the image uploaded when no fixture file exists yet.
const FixtureSVG = `<svg width="128" height="128" viewBox="0 0 128 128" xmlns="http://www.w3.org/2000/svg"><rect width="128" height="128" fill="blue"/></svg>`

// EnsureFixture makes sure a readable upload fixture exists at path and
// returns its absolute path. An existing file is left untouched.
func EnsureFixture(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve fixture path %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil:
		if info.IsDir() {
			return "", fmt.Errorf("fixture path %s is a directory", abs)
		}
		return abs, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to stat fixture %s: %w", abs, err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create fixture directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(FixtureSVG), 0o644); err != nil {
		return "", fmt.Errorf("failed to write fixture %s: %w", abs, err)
	}
	return abs, nil
}
