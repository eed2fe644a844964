// Package ledger records which source files have been downloaded, under
// which filename, and which temporary files a run has created.
//
// A record moves from absent to pending to completed and never goes back.
// Three backends are provided: an in-memory ledger, a JSON file ledger
// written atomically on Commit, and a PostgreSQL ledger.
package ledger

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"mediafetch/pkg/config"
	"mediafetch/pkg/logger"
)

// Record is the ledger entry for one normalized source path
type Record struct {
	Path      string    `json:"path"`
	Filename  string    `json:"filename"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger persists download state across runs. Implementations are safe for
// concurrent use.
type Ledger interface {
	// PathCompleted reports whether path has a completed record
	PathCompleted(ctx context.Context, path string) (bool, error)
	// InsertPending creates a pending record. Existing records are left untouched.
	InsertPending(ctx context.Context, path, filename string) error
	// MarkCompleted marks path as completed under filename
	MarkCompleted(ctx context.Context, path, filename string) error
	// AssignedName returns the filename recorded for path, or "" if none
	AssignedName(ctx context.Context, path string) (string, error)
	// NameInUse reports whether any record uses filename
	NameInUse(ctx context.Context, filename string) (bool, error)
	// InsertTempMarker records a temporary file created during a transfer
	InsertTempMarker(ctx context.Context, tempPath string) error
	// TempMarkers lists recorded temporary files
	TempMarkers(ctx context.Context) ([]string, error)
	// Records lists all records ordered by path
	Records(ctx context.Context) ([]Record, error)
	// Commit flushes pending writes
	Commit(ctx context.Context) error
	// Close releases resources after a final commit
	Close() error
}

// hostPathRules rewrite source paths for hosts that serve the same file
// under varying trailing segments
var hostPathRules = []struct {
	marker  string
	rewrite func(string) string
}{
	{marker: "anonfiles", rewrite: firstSegmentOnly},
}

// Path returns the ledger key for a source URL
func Path(u *url.URL) string {
	p := u.Path
	for _, rule := range hostPathRules {
		if strings.Contains(u.Host, rule.marker) {
			return rule.rewrite(p)
		}
	}
	return p
}

// firstSegmentOnly keeps the file id of "/{id}/{name}" style paths, dropping
// the display name and anything after it
func firstSegmentOnly(p string) string {
	parts := strings.Split(p, "/")
	if len(parts) > 0 {
		parts = parts[1:]
	}
	if len(parts) > 1 {
		parts = append(parts[:1], parts[2:]...)
	}
	return "/" + strings.Join(parts, "/")
}

// Open creates the ledger selected by cfg
func Open(ctx context.Context, cfg config.LedgerConfig, log logger.Logger) (Ledger, error) {
	log = logger.OrDefault(log).WithField("ledger", cfg.Driver)

	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemoryLedger(), nil
	case "file", "":
		path := cfg.Path
		if path == "" {
			dataDir, err := config.DataDirectory()
			if err != nil {
				return nil, fmt.Errorf("failed to get data directory: %w", err)
			}
			path = filepath.Join(dataDir, "ledger.json")
		}
		return OpenFileLedger(path, log)
	case "postgres":
		return OpenPostgresLedger(ctx, cfg.DSN, log)
	default:
		return nil, fmt.Errorf("unknown ledger driver: %q", cfg.Driver)
	}
}
