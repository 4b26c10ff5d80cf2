// Package index maintains the in-memory view of the assistant's own source
// tree: a path-keyed store of file contents plus a pattern-derived symbol
// summary used for prompt construction.
package index

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SourceFile is one indexed source file. Content is the authoritative
// in-memory copy; symbols are re-derived on every write.
type SourceFile struct {
	Path      string // relative path, forward slashes, unique key
	Content   string
	LineCount int
	Functions []string
	Classes   []string
}

// Store is the process-wide source file store. All mutation goes through
// Put/Delete so the symbol summary never drifts from the content.
type Store struct {
	mu    sync.RWMutex
	files map[string]*SourceFile
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{files: make(map[string]*SourceFile)}
}

// Put inserts or replaces the entry for path, re-deriving line count and
// symbol lists from content.
func (s *Store) Put(path, content string) *SourceFile {
	key := normalize(path)
	sf := &SourceFile{
		Path:      key,
		Content:   content,
		LineCount: strings.Count(content, "\n") + 1,
		Functions: ExtractFunctions(content),
		Classes:   ExtractClasses(content),
	}

	s.mu.Lock()
	s.files[key] = sf
	s.mu.Unlock()

	return sf
}

// Get returns the entry for the exact path key.
func (s *Store) Get(path string) (*SourceFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sf, ok := s.files[normalize(path)]
	return sf, ok
}

// Find resolves a file reference the way change-sets name files: first an
// exact path match, then a unique base-name match, then a unique base-name
// match ignoring the extension ("app" finds "src/app.js").
func (s *Store) Find(name string) (*SourceFile, bool) {
	if sf, ok := s.Get(name); ok {
		return sf, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	want := normalize(name)
	var byBase, byStem *SourceFile
	baseMatches, stemMatches := 0, 0

	for _, sf := range s.files {
		base := filepath.Base(sf.Path)
		if base == want {
			byBase = sf
			baseMatches++
		}
		if strings.TrimSuffix(base, filepath.Ext(base)) == want {
			byStem = sf
			stemMatches++
		}
	}

	if baseMatches == 1 {
		return byBase, true
	}
	if stemMatches == 1 {
		return byStem, true
	}
	return nil, false
}

// Delete removes the entry for path, if present.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	delete(s.files, normalize(path))
	s.mu.Unlock()
}

// Paths returns all indexed paths in sorted order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	s.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// Contents returns a point-in-time copy of every file's content keyed by
// path. The backup store snapshots through this.
func (s *Store) Contents() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.files))
	for p, sf := range s.files {
		out[p] = sf.Content
	}
	return out
}

// Len returns the number of indexed files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

func normalize(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}
