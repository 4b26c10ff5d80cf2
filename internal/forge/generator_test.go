package forge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"selfforge/internal/backup"
	"selfforge/internal/history"
	"selfforge/internal/index"
	"selfforge/internal/patch"
)

const generatorAppSource = `class App {
  constructor() {
    this.started = Date.now();
  }

  greet(name) {
    return 'hello ' + name;
  }
}
`

// newTestGenerator wires a generator over a fresh scanned workspace
// containing a single src/app.js.
func newTestGenerator(t *testing.T, client LLMClient) (*Generator, *index.Scanner) {
	t.Helper()
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "src", "app.js"), []byte(generatorAppSource), 0o644); err != nil {
		t.Fatal(err)
	}

	store := index.NewStore()
	scanner := index.NewScanner(ws, []string{"src"}, []string{".js"}, store)
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("initial scan failed: %v", err)
	}

	engine := patch.NewEngine(scanner)
	backups := backup.NewStore(scanner)
	return NewGenerator(client, scanner, engine, backups, 500), scanner
}

func TestGenerate_UsesOracleReply(t *testing.T) {
	reply := `{"changes":[{"filePath":"app","operation":"addMethod","content":"  ping() { return 'pong'; }"}],"description":"adds ping","needsRestart":false}`
	mock := &MockLLMClient{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return reply, nil
		},
	}
	gen, _ := newTestGenerator(t, mock)

	cs := gen.Generate(context.Background(), []Turn{{Role: "user", Content: "add a ping method"}})

	if cs == nil {
		t.Fatal("Generate returned nil")
	}
	if cs.Description != "adds ping" {
		t.Errorf("description = %q", cs.Description)
	}
	if len(cs.Changes) != 1 || cs.Changes[0].Kind != patch.KindAddMethod {
		t.Fatalf("unexpected changes: %+v", cs.Changes)
	}
	if len(mock.Prompts) != 1 {
		t.Fatalf("oracle called %d times, want 1", len(mock.Prompts))
	}
	// The prompt carries the source summary and the conversation.
	if !strings.Contains(mock.Prompts[0], "src/app.js") {
		t.Error("prompt missing indexed file summary")
	}
	if !strings.Contains(mock.Prompts[0], "add a ping method") {
		t.Error("prompt missing the user request")
	}
}

func TestGenerate_OracleErrorFallsBackToNotes(t *testing.T) {
	mock := &MockLLMClient{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	gen, _ := newTestGenerator(t, mock)

	conversation := []Turn{{Role: "user", Content: "I want the app to take notes for me"}}
	cs := gen.Generate(context.Background(), conversation)

	if len(cs.Changes) != 4 {
		t.Fatalf("fallback changes = %d, want 4", len(cs.Changes))
	}
	if cs.Changes[0].Kind != patch.KindCreateFile {
		t.Errorf("first change = %q, want createFile", cs.Changes[0].Kind)
	}
	if !cs.NeedsRestart {
		t.Error("note-taking fallback should request a restart")
	}
}

func TestGenerate_UnparseableReplyFallsBackToNotes(t *testing.T) {
	mock := &MockLLMClient{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "I'd be happy to help! First, let me explain how notes work...", nil
		},
	}
	gen, _ := newTestGenerator(t, mock)

	conversation := []Turn{{Role: "user", Content: "please add note taking"}}
	cs := gen.Generate(context.Background(), conversation)

	if len(cs.Changes) != 4 {
		t.Fatalf("fallback changes = %d, want 4", len(cs.Changes))
	}
}

func TestGenerate_NoFallbackMatchReturnsEmptyChangeSet(t *testing.T) {
	mock := &MockLLMClient{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("boom")
		},
	}
	gen, _ := newTestGenerator(t, mock)

	cs := gen.Generate(context.Background(), []Turn{{Role: "user", Content: "make it faster"}})

	if cs == nil {
		t.Fatal("Generate returned nil")
	}
	if len(cs.Changes) != 0 {
		t.Errorf("expected no changes, got %d", len(cs.Changes))
	}
	if cs.Description == "" {
		t.Error("failure change-set needs a human-readable description")
	}
	if cs.NeedsRestart {
		t.Error("empty change-set must not request a restart")
	}
}

// Assistant turns mentioning "note" must not trip the note fallback;
// only the user's own words count.
func TestGenerate_AssistantTurnsDoNotTriggerFallback(t *testing.T) {
	mock := &MockLLMClient{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("boom")
		},
	}
	gen, _ := newTestGenerator(t, mock)

	conversation := []Turn{
		{Role: "user", Content: "add dark mode"},
		{Role: "assistant", Content: "Noted, should it follow the OS theme?"},
		{Role: "user", Content: "yes"},
	}
	cs := gen.Generate(context.Background(), conversation)

	if len(cs.Changes) != 0 {
		t.Errorf("expected failure change-set, got %d changes", len(cs.Changes))
	}
}

func TestApplyWithRollback_NoteFallbackEndToEnd(t *testing.T) {
	gen, scanner := newTestGenerator(t, &MockLLMClient{})

	cs := NoteTakingChangeSet()
	out := gen.ApplyWithRollback(context.Background(), "req-1", cs)

	if out.Result.Failed != 0 {
		t.Fatalf("failed ops: %v", out.Result.Errors)
	}
	if out.Result.Succeeded != 4 {
		t.Fatalf("succeeded = %d, want 4", out.Result.Succeeded)
	}
	if !out.NeedsRestart {
		t.Error("restart flag lost")
	}
	if out.SnapshotKey == "" {
		t.Error("missing snapshot key")
	}

	// New module landed on disk and in the index.
	if _, ok := scanner.Store().Get("src/features/notes.js"); !ok {
		t.Error("notes module not indexed after apply")
	}
	app, ok := scanner.Store().Get("src/app.js")
	if !ok {
		t.Fatal("app.js missing from index")
	}
	if !strings.Contains(app.Content, "this.noteManager = new NoteManager();") {
		t.Error("constructor wiring missing")
	}
	if !strings.Contains(app.Content, "addNote(text)") || !strings.Contains(app.Content, "listNotes()") {
		t.Error("note methods missing from app.js")
	}
	onDisk, err := os.ReadFile(scanner.AbsPath("src/app.js"))
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != app.Content {
		t.Error("index and disk diverged after apply")
	}
}

func TestApplyWithRollback_PartialFailureStillSnapshots(t *testing.T) {
	gen, _ := newTestGenerator(t, &MockLLMClient{})

	cs := &ChangeSet{
		Description:  "one good, one bad anchor",
		NeedsRestart: true,
		Changes: []patch.Operation{
			{File: "app", Kind: patch.KindAddMethod, Content: "  a() {}"},
			{File: "app", Kind: patch.KindUpdateMethod, Method: "noSuchMethod", Content: "x"},
		},
	}
	out := gen.ApplyWithRollback(context.Background(), "req-2", cs)

	if out.Result.Succeeded != 1 || out.Result.Failed != 1 {
		t.Fatalf("result = %+v", out.Result)
	}
	if !out.NeedsRestart {
		t.Error("restart still applies when at least one change landed")
	}
	if out.SnapshotKey == "" {
		t.Error("missing snapshot key")
	}
}

func TestApplyWithRollback_RecordsAudit(t *testing.T) {
	gen, _ := newTestGenerator(t, &MockLLMClient{})

	audit, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer audit.Close()
	gen.SetAudit(audit)

	cs := &ChangeSet{
		Description: "adds a helper",
		Changes: []patch.Operation{
			{File: "app", Kind: patch.KindAddMethod, Content: "  helper() {}"},
		},
	}
	out := gen.ApplyWithRollback(context.Background(), "req-3", cs)

	entries, err := audit.Recent(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.RequestID != "req-3" || got.Description != "adds a helper" {
		t.Errorf("entry = %+v", got)
	}
	if got.Succeeded != 1 || got.Failed != 0 {
		t.Errorf("counts = %d/%d", got.Succeeded, got.Failed)
	}
	if got.SnapshotKey != out.SnapshotKey {
		t.Error("snapshot key not recorded")
	}
}

func TestBuildSourceSummary_TruncatesLongFiles(t *testing.T) {
	store := index.NewStore()
	long := strings.Repeat("// padding line\n", 200)
	store.Put("src/big.js", "function tiny() {\n}\n"+long)

	summary := BuildSourceSummary(store, 120)

	if !strings.Contains(summary, "src/big.js") {
		t.Fatal("summary missing file header")
	}
	if !strings.Contains(summary, "truncated") {
		t.Error("long excerpt not truncated")
	}
	if !strings.Contains(summary, "tiny") {
		t.Error("function inventory missing")
	}
}
