package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"selfforge/internal/logging"
)

// Scanner walks the configured source roots and loads every source-suffixed
// file into the store. Re-run after every applied patch batch so downstream
// prompts reflect the new tree.
type Scanner struct {
	workspace  string
	roots      []string
	extensions map[string]bool
	store      *Store
}

// NewScanner creates a scanner over workspace-relative roots.
func NewScanner(workspace string, roots, extensions []string, store *Store) *Scanner {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Scanner{
		workspace:  workspace,
		roots:      roots,
		extensions: exts,
		store:      store,
	}
}

// Store returns the store the scanner populates.
func (s *Scanner) Store() *Store {
	return s.store
}

// Workspace returns the workspace root all indexed paths are relative to.
func (s *Scanner) Workspace() string {
	return s.workspace
}

// Scan enumerates every source file beneath the roots and (re)loads it into
// the store. Unreadable files are logged and skipped, not fatal. Returns the
// number of files indexed.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Scan")
	defer timer.Stop()

	var paths []string
	for _, root := range s.roots {
		absRoot := filepath.Join(s.workspace, root)
		err := filepath.Walk(absRoot, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				// Missing or unreadable root: skip, the tree may not have it yet
				logging.IndexDebug("walk error at %s: %v", path, err)
				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				name := info.Name()
				if name != "." && (strings.HasPrefix(name, ".") || name == "node_modules") {
					return filepath.SkipDir
				}
				return nil
			}
			if s.extensions[strings.ToLower(filepath.Ext(path))] {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	// Bounded worker pool for file loading
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			data, err := os.ReadFile(path)
			if err != nil {
				logging.Get(logging.CategoryIndex).Warn("skipping unreadable file %s: %v", path, err)
				return nil
			}

			rel, err := filepath.Rel(s.workspace, path)
			if err != nil {
				rel = path
			}
			s.store.Put(rel, string(data))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	logging.Index("indexed %d files across %d roots", len(paths), len(s.roots))
	return len(paths), nil
}

// IsSourcePath reports whether the scanner would index the given path.
func (s *Scanner) IsSourcePath(path string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}

// AbsPath maps a store-relative path back to its on-disk location.
func (s *Scanner) AbsPath(rel string) string {
	return filepath.Join(s.workspace, filepath.FromSlash(rel))
}
