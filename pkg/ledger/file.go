package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mediafetch/pkg/logger"
)

const fileVersion = 1

// fileDocument is the on-disk JSON shape of a FileLedger
type fileDocument struct {
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
	Records     []Record  `json:"records"`
	TempMarkers []string  `json:"temp_markers"`
}

// FileLedger is a MemoryLedger persisted to a JSON file. Changes reach the
// disk on Commit, which replaces the file atomically.
type FileLedger struct {
	*MemoryLedger
	path   string
	logger logger.Logger
	saveMu sync.Mutex
}

// OpenFileLedger loads the ledger at path, starting empty if it does not exist
func OpenFileLedger(path string, log logger.Logger) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	l := &FileLedger{
		MemoryLedger: NewMemoryLedger(),
		path:         path,
		logger:       logger.OrDefault(log),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the location of the ledger file
func (l *FileLedger) Path() string {
	return l.path
}

func (l *FileLedger) load() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer file.Close()

	var doc fileDocument
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode ledger: %w", err)
	}
	if doc.Version > fileVersion {
		return fmt.Errorf("ledger version %d is newer than supported version %d", doc.Version, fileVersion)
	}

	l.mu.Lock()
	for _, r := range doc.Records {
		l.put(r)
	}
	for _, t := range doc.TempMarkers {
		l.addTemp(t)
	}
	l.mu.Unlock()

	l.logger.DebugWithFields("ledger loaded", map[string]interface{}{
		"path":    l.path,
		"records": len(doc.Records),
	})
	return nil
}

// Commit writes the ledger to disk atomically
func (l *FileLedger) Commit(context.Context) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.RLock()
	doc := fileDocument{
		Version:     fileVersion,
		UpdatedAt:   time.Now(),
		Records:     l.snapshot(),
		TempMarkers: append([]string(nil), l.temps...),
	}
	l.mu.RUnlock()

	tempPath := l.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary ledger file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync ledger file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close ledger file: %w", err)
	}

	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}

	l.logger.DebugWithFields("ledger saved", map[string]interface{}{
		"path":    l.path,
		"records": len(doc.Records),
	})
	return nil
}

// Close commits outstanding changes
func (l *FileLedger) Close() error {
	return l.Commit(context.Background())
}
