package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/boxci/internal/errors"
)

// Store reads and writes manifests under a state directory.
type Store struct {
	StateDir string
}

// NewStore creates a Store rooted at the default state directory.
func NewStore() (*Store, error) {
	stateDir, _, err := Dirs()
	if err != nil {
		return nil, err
	}
	return &Store{StateDir: stateDir}, nil
}

// RunDir returns the per-run directory for a run ID.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.StateDir, "runs", runID)
}

// RunPath returns the manifest path for a run ID.
func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "manifest.json")
}

// LatestPath returns the path of the advisory "latest" manifest copy.
func (s *Store) LatestPath() string {
	return filepath.Join(s.StateDir, "manifest.json")
}

// Write persists the manifest under its run directory and then overwrites
// the "latest" copy. The two writes are independent: a crash in between
// leaves "latest" stale, which is acceptable because it is advisory only.
// The run-scoped manifest is written exactly once, at run end.
func (s *Store) Write(runID string, m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')

	runDir := s.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("create %s", runDir), err)
	}

	path := s.RunPath(runID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("write %s", path), err)
	}

	if err := os.WriteFile(s.LatestPath(), data, 0o644); err != nil {
		return "", errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("write %s", s.LatestPath()), err)
	}

	return path, nil
}

// Load reads the manifest for a run ID.
func (s *Store) Load(runID string) (*Manifest, error) {
	return readManifest(s.RunPath(runID))
}

// LoadLatest reads the advisory "latest" manifest.
func (s *Store) LoadLatest() (*Manifest, error) {
	return readManifest(s.LatestPath())
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read manifest %s", path), err).
			WithSuggestion("run 'boxci run' to produce a manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Dirs resolves the boxci state and cache directories, honoring XDG
// overrides explicitly:
//
//	state: $XDG_STATE_HOME/boxci (fallback: ~/.local/state/boxci)
//	cache: $XDG_CACHE_HOME/boxci (fallback: ~/.cache/boxci)
func Dirs() (stateDir, cacheDir string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve home directory: %w", err)
	}

	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		stateHome = filepath.Join(home, ".local", "state")
	}

	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		cacheHome = filepath.Join(home, ".cache")
	}

	return filepath.Join(stateHome, "boxci"), filepath.Join(cacheHome, "boxci"), nil
}
