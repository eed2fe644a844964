package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PartialSuffix is appended to the final path of an in-flight transfer
const PartialSuffix = ".part"

// Manager maps collections and filenames to paths under the output root
type Manager struct {
	outputDir string
}

// NewManager creates a storage manager rooted at outputDir
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{outputDir: outputDir}, nil
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// CollectionDir returns {root}/{title}
func (m *Manager) CollectionDir(title string) string {
	return filepath.Join(m.outputDir, title)
}

// EnsureCollectionDir creates the directory for title if needed
func (m *Manager) EnsureCollectionDir(title string) error {
	if err := os.MkdirAll(m.CollectionDir(title), 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}
	return nil
}

// CompletePath returns {root}/{title}/{filename}
func (m *Manager) CompletePath(title, filename string) string {
	return filepath.Join(m.outputDir, title, filename)
}

// PartialPath returns the temporary path used while filename is transferring
func (m *Manager) PartialPath(title, filename string) string {
	return m.CompletePath(title, filename) + PartialSuffix
}

// Occupied reports whether the final or partial file for filename exists
func (m *Manager) Occupied(title, filename string) bool {
	return Exists(m.CompletePath(title, filename)) || Exists(m.PartialPath(title, filename))
}

// Finalize moves a finished partial file into place. If the final file
// already exists the partial file is discarded instead.
func (m *Manager) Finalize(title, filename string) error {
	complete := m.CompletePath(title, filename)
	partial := m.PartialPath(title, filename)

	if Exists(complete) {
		if err := os.Remove(partial); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove partial file: %w", err)
		}
		return nil
	}

	if err := os.Rename(partial, complete); err != nil {
		return fmt.Errorf("failed to rename partial file: %w", err)
	}
	return nil
}

// Exists reports whether path exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of path, or 0 and false when it does not exist
func FileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}
