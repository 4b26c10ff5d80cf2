package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"selfforge/internal/index"
	"selfforge/internal/logging"
)

// Result reports a batch application. Anchor misses count as failures, never
// as errors: the batch always runs to completion.
type Result struct {
	Succeeded int
	Failed    int
	Errors    []string // human-readable, one per failed operation
}

// Engine applies operations against the source store and keeps the on-disk
// and in-memory views consistent. Each successful write updates the store
// entry immediately, so later operations in the same batch see earlier ones.
type Engine struct {
	scanner *index.Scanner
	store   *index.Store
}

// NewEngine creates an engine over the scanner's store.
func NewEngine(scanner *index.Scanner) *Engine {
	return &Engine{scanner: scanner, store: scanner.Store()}
}

// Apply runs the operations strictly in submitted order. A failing operation
// leaves its target byte-for-byte unchanged and the batch continues.
func (e *Engine) Apply(ops []Operation) Result {
	timer := logging.StartTimer(logging.CategoryPatch, "Apply")
	defer timer.Stop()

	var res Result
	for _, op := range ops {
		if err := e.applyOne(op); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", op, err))
			logging.Patch("operation failed: %s: %v", op, err)
			continue
		}
		res.Succeeded++
		logging.PatchDebug("applied %s", op)
	}

	logging.Patch("batch done: %d applied, %d failed", res.Succeeded, res.Failed)
	return res
}

func (e *Engine) applyOne(op Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	if op.Kind == KindCreateFile {
		return e.createFile(op)
	}

	sf, ok := e.store.Find(op.File)
	if !ok {
		return fmt.Errorf("file not indexed")
	}

	var newContent string
	var err error
	switch op.Kind {
	case KindAddMethod:
		newContent, err = addMethod(sf.Content, op.Content)
	case KindUpdateMethod:
		newContent, err = updateMethod(sf.Content, op.Method, op.Content)
	case KindInsertAfter:
		newContent, err = insertAfter(sf.Content, op.InsertAfter, op.Content)
	case KindReplaceSection:
		newContent, err = replaceSection(sf.Content, op.Search, op.Content)
	}
	if err != nil {
		return err
	}

	if err := WriteFileAtomic(e.scanner.AbsPath(sf.Path), newContent); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	// Read-after-write: later operations in this batch see the new text
	e.store.Put(sf.Path, newContent)
	return nil
}

// addMethod inserts the method body immediately before the last closing
// brace, treated as the enclosing type's closing brace.
func addMethod(content, methodCode string) (string, error) {
	idx := strings.LastIndex(content, "}")
	if idx == -1 {
		return "", fmt.Errorf("no closing brace found")
	}
	return content[:idx] + "\n" + methodCode + "\n" + content[idx:], nil
}

// updateMethod replaces the body of the named method. The capture is
// anchored on the signature and ends at the first subsequent line that is
// only a closing brace. This is a textual heuristic, not brace counting:
// a nested block inside the method ends the capture early. Kept for
// compatibility with change-sets authored against the original engine.
func updateMethod(content, methodName, newBody string) (string, error) {
	pattern, err := regexp.Compile(`(?s)((?:async\s+)?` + regexp.QuoteMeta(methodName) + `\s*\([^)]*\)\s*\{)(.*?)(\n\s*\})`)
	if err != nil {
		return "", fmt.Errorf("bad method name: %w", err)
	}

	loc := pattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return "", fmt.Errorf("method %q not found", methodName)
	}

	signature := content[loc[2]:loc[3]]
	closing := content[loc[6]:loc[7]]
	return content[:loc[0]] + signature + "\n" + newBody + closing + content[loc[1]:], nil
}

// insertAfter splices content immediately after the first literal occurrence
// of the anchor.
func insertAfter(content, anchor, insertion string) (string, error) {
	idx := strings.Index(content, anchor)
	if idx == -1 {
		return "", fmt.Errorf("anchor not found")
	}
	end := idx + len(anchor)
	return content[:end] + insertion + content[end:], nil
}

// replaceSection replaces the first literal occurrence of the search text.
func replaceSection(content, search, replacement string) (string, error) {
	if !strings.Contains(content, search) {
		return "", fmt.Errorf("search text not found")
	}
	return strings.Replace(content, search, replacement, 1), nil
}

func (e *Engine) createFile(op Operation) error {
	rel := filepath.ToSlash(filepath.Clean(op.File))
	abs := e.scanner.AbsPath(rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := WriteFileAtomic(abs, op.Content); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	e.store.Put(rel, op.Content)
	return nil
}

// WriteFileAtomic writes via a temp file and rename so a failing operation
// never leaves a partially written target.
func WriteFileAtomic(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".forge-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
