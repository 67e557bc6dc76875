package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiverify/internal/browser"
)

// ErrArtifactWrite marks a screenshot that could not be captured or persisted.
var ErrArtifactWrite = errors.New("artifact write failed")

// ArtifactStore persists screenshots under <root>/<locale>/<stage>.png.
// A later run overwrites the artifacts of an earlier one.
type ArtifactStore struct {
	root   string
	logger *zap.Logger
}

// diagnosticPrefix starts the name of every failure screenshot.
const diagnosticPrefix = "error-"

// NewArtifactStore creates a store rooted at root. Nothing is created on disk
// until the first write.
func NewArtifactStore(root string, logger *zap.Logger) *ArtifactStore {
	return &ArtifactStore{root: root, logger: logger.Named("artifacts")}
}

// Root is the output directory.
func (s *ArtifactStore) Root() string { return s.root }

// Path returns where the screenshot for (locale, stage) is stored.
func (s *ArtifactStore) Path(locale, stage string) string {
	return filepath.Join(s.root, sanitizeName(locale), sanitizeName(stage)+".png")
}

// ErrorPath returns where the diagnostic screenshot of a failed step goes.
func (s *ArtifactStore) ErrorPath(locale string, index int, action Action) string {
	return filepath.Join(s.root, sanitizeName(locale), fmt.Sprintf("%s%02d-%s.png", diagnosticPrefix, index, sanitizeName(string(action))))
}

// ClearDiagnostics removes the error screenshots an earlier run left for
// locale, so the directory only ever holds the artifacts of the latest run.
func (s *ArtifactStore) ClearDiagnostics(locale string) error {
	matches, err := filepath.Glob(filepath.Join(s.root, sanitizeName(locale), diagnosticPrefix+"*.png"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Capture screenshots page and stores it as (locale, stage).
func (s *ArtifactStore) Capture(ctx context.Context, page browser.Page, locale, stage string) (string, error) {
	return s.captureTo(ctx, page, s.Path(locale, stage))
}

func (s *ArtifactStore) captureTo(ctx context.Context, page browser.Page, path string) (string, error) {
	data, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: capture %s: %v", ErrArtifactWrite, path, err)
	}
	if err := s.Write(path, data); err != nil {
		return "", err
	}
	s.logger.Debug("Screenshot stored.", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// Write stores data at path atomically: readers see either the previous file
// or the complete new one, never a partial PNG.
func (s *ArtifactStore) Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrArtifactWrite, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactWrite, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write %s: %v", ErrArtifactWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close %s: %v", ErrArtifactWrite, path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("%w: chmod %s: %v", ErrArtifactWrite, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename %s: %v", ErrArtifactWrite, path, err)
	}
	return nil
}

// sanitizeName keeps artifact names inside their directory.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.ReplaceAll(name, "..", "_"))
}
