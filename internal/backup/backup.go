// Package backup captures point-in-time snapshots of the indexed source tree
// and restores them verbatim. Snapshots accumulate for the process lifetime;
// eviction is operator business, not ours.
package backup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"selfforge/internal/index"
	"selfforge/internal/logging"
	"selfforge/internal/patch"
)

// Store holds full-content backups keyed by (path, snapshot key).
type Store struct {
	scanner *index.Scanner

	mu        sync.Mutex
	snapshots map[string]map[string]string // key -> path -> content
	clock     func() time.Time
}

// NewStore creates a backup store over the scanner's source store.
func NewStore(scanner *index.Scanner) *Store {
	return &Store{
		scanner:   scanner,
		snapshots: make(map[string]map[string]string),
		clock:     time.Now,
	}
}

// Snapshot copies the current content of every indexed file under a fresh
// timestamp key and returns the key.
func (s *Store) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.clock().UTC().Format("20060102T150405.000000000")
	// Guard against two snapshots within the same nanosecond tick
	for _, exists := s.snapshots[key]; exists; _, exists = s.snapshots[key] {
		key += "'"
	}

	s.snapshots[key] = s.scanner.Store().Contents()
	logging.Backup("snapshot %s: %d files", key, len(s.snapshots[key]))
	return key
}

// Restore overwrites, on disk and in memory, every currently indexed file
// that has a backup entry under key. Files without an entry (created after
// the snapshot) are left alone. An unknown key restores nothing and is not
// an error.
func (s *Store) Restore(key string) (int, error) {
	s.mu.Lock()
	snap, ok := s.snapshots[key]
	s.mu.Unlock()

	if !ok {
		logging.Backup("restore %s: unknown snapshot, nothing restored", key)
		return 0, nil
	}

	store := s.scanner.Store()
	restored := 0
	var firstErr error

	for _, path := range store.Paths() {
		content, ok := snap[path]
		if !ok {
			continue
		}
		if err := patch.WriteFileAtomic(s.scanner.AbsPath(path), content); err != nil {
			logging.Get(logging.CategoryBackup).Error("restore %s failed for %s: %v", key, path, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("restore %s: %w", path, err)
			}
			continue
		}
		store.Put(path, content)
		restored++
	}

	logging.Backup("restore %s: %d files restored", key, restored)
	return restored, firstErr
}

// Keys returns all snapshot keys in ascending (chronological) order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.snapshots))
	for k := range s.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of snapshots held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
