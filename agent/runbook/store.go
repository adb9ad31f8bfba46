package runbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const ext = ".md"

// Store keeps one markdown runbook per agent in a directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates a Store rooted at dir. The directory is created lazily on
// the first write.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger.With(zap.String("component", "runbooks"))}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path of name's runbook.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+ext)
}

// Exists reports whether name has a runbook file.
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && !info.IsDir()
}

// Read returns the raw markdown of name's runbook.
func (s *Store) Read(name string) (string, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("read runbook %s: %w", name, err)
	}
	return string(data), nil
}

// Load reads and parses name's runbook.
func (s *Store) Load(name string) (*Runbook, error) {
	md, err := s.Read(name)
	if err != nil {
		return nil, err
	}
	return Parse(name, md), nil
}

// List returns the sorted names of all runbooks. A missing directory yields
// an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list runbooks: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// LoadAll parses every runbook. Files that cannot be read are logged and skipped.
func (s *Store) LoadAll() map[string]*Runbook {
	out := make(map[string]*Runbook)
	names, err := s.List()
	if err != nil {
		s.logger.Warn("failed to list runbooks", zap.Error(err))
		return out
	}
	for _, name := range names {
		rb, err := s.Load(name)
		if err != nil {
			s.logger.Warn("failed to load runbook", zap.String("agent", name), zap.Error(err))
			continue
		}
		out[name] = rb
	}
	s.logger.Info("runbooks loaded", zap.Int("count", len(out)), zap.String("dir", s.dir))
	return out
}

// Write stores markdown as name's runbook, replacing any existing file.
func (s *Store) Write(name, markdown string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create runbooks dir: %w", err)
	}
	if err := os.WriteFile(s.Path(name), []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("write runbook %s: %w", name, err)
	}
	return nil
}

// Remove deletes name's runbook. It reports whether a file was removed.
func (s *Store) Remove(name string) (bool, error) {
	err := os.Remove(s.Path(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("remove runbook %s: %w", name, err)
	}
}
