package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger keeps all state in memory. It is the building block of
// FileLedger and is useful on its own for dry runs and tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*Record
	// names counts records per filename
	names map[string]int
	temps []string
	seen  map[string]struct{}
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]*Record),
		names:   make(map[string]int),
		seen:    make(map[string]struct{}),
	}
}

func (m *MemoryLedger) PathCompleted(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[path]
	return ok && r.Completed, nil
}

func (m *MemoryLedger) InsertPending(_ context.Context, path, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[path]; ok {
		return nil
	}
	m.put(Record{Path: path, Filename: filename, UpdatedAt: time.Now()})
	return nil
}

func (m *MemoryLedger) MarkCompleted(_ context.Context, path, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(Record{Path: path, Filename: filename, Completed: true, UpdatedAt: time.Now()})
	return nil
}

func (m *MemoryLedger) AssignedName(_ context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[path]; ok {
		return r.Filename, nil
	}
	return "", nil
}

func (m *MemoryLedger) NameInUse(_ context.Context, filename string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.names[filename] > 0, nil
}

func (m *MemoryLedger) InsertTempMarker(_ context.Context, tempPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addTemp(tempPath)
	return nil
}

func (m *MemoryLedger) TempMarkers(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	temps := make([]string, len(m.temps))
	copy(temps, m.temps)
	return temps, nil
}

func (m *MemoryLedger) Records(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(), nil
}

// Commit is a no-op for the in-memory ledger
func (m *MemoryLedger) Commit(context.Context) error { return nil }

// Close is a no-op for the in-memory ledger
func (m *MemoryLedger) Close() error { return nil }

// put stores r, replacing any record for the same path. Callers hold mu.
func (m *MemoryLedger) put(r Record) {
	if old, ok := m.records[r.Path]; ok {
		m.names[old.Filename]--
		if m.names[old.Filename] <= 0 {
			delete(m.names, old.Filename)
		}
		// completed never goes back to pending
		r.Completed = r.Completed || old.Completed
	}
	m.records[r.Path] = &r
	m.names[r.Filename]++
}

func (m *MemoryLedger) addTemp(tempPath string) {
	if _, ok := m.seen[tempPath]; ok {
		return
	}
	m.seen[tempPath] = struct{}{}
	m.temps = append(m.temps, tempPath)
}

// snapshot returns records sorted by path. Callers hold mu.
func (m *MemoryLedger) snapshot() []Record {
	records := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, *r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records
}
