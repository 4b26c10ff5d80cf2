package forge

import (
	"strings"
	"text/template"

	"selfforge/internal/patch"
)

// =============================================================================
// FALLBACK CHANGE-SETS
// =============================================================================
// When the oracle's reply cannot be parsed, a request that clearly asks for a
// known capability still gets a working change-set instead of a shrug. The
// anchors target the conventional app entry file.

var noteModuleTemplate = template.Must(template.New("notes").Parse(`// {{.Feature}} storage for the assistant.
class {{.ClassName}} {
  constructor() {
    this.notes = this.load();
  }

  load() {
    try {
      return JSON.parse(localStorage.getItem('{{.StorageKey}}') || '[]');
    } catch (e) {
      return [];
    }
  }

  save() {
    localStorage.setItem('{{.StorageKey}}', JSON.stringify(this.notes));
  }

  add(text) {
    this.notes.push({ text: text, createdAt: Date.now() });
    this.save();
  }

  list() {
    return this.notes.slice();
  }
}
`))

type noteTemplateData struct {
	Feature    string
	ClassName  string
	StorageKey string
}

// NoteTakingChangeSet is the fixed fallback for note-taking requests: a note
// store module wired into the app entry file against known anchors.
func NoteTakingChangeSet() *ChangeSet {
	var module strings.Builder
	// Static data renders deterministically; template execution cannot fail here
	_ = noteModuleTemplate.Execute(&module, noteTemplateData{
		Feature:    "Note",
		ClassName:  "NoteManager",
		StorageKey: "selfforge.notes",
	})

	return &ChangeSet{
		Description:  "Adds a basic note-taking capability (create, list, persist notes)",
		NeedsRestart: true,
		Changes: []patch.Operation{
			{
				File:    "src/features/notes.js",
				Kind:    patch.KindCreateFile,
				Content: module.String(),
			},
			{
				File:        "app",
				Kind:        patch.KindInsertAfter,
				InsertAfter: "constructor() {",
				Content:     "\n    this.noteManager = new NoteManager();",
			},
			{
				File: "app",
				Kind: patch.KindAddMethod,
				Content: "  addNote(text) {\n" +
					"    this.noteManager.add(text);\n" +
					"    return 'Noted.';\n" +
					"  }",
			},
			{
				File: "app",
				Kind: patch.KindAddMethod,
				Content: "  listNotes() {\n" +
					"    return this.noteManager.list();\n" +
					"  }",
			},
		},
	}
}

// FailureChangeSet is the empty change-set returned when no fallback applies.
func FailureChangeSet(reason string) *ChangeSet {
	if reason == "" {
		reason = "I couldn't produce a usable change-set for that request."
	}
	return &ChangeSet{Description: reason}
}

// conversationMentions reports whether any user turn contains the given word.
func conversationMentions(conversation []Turn, word string) bool {
	word = strings.ToLower(word)
	for _, turn := range conversation {
		if turn.Role != "user" {
			continue
		}
		if strings.Contains(strings.ToLower(turn.Content), word) {
			return true
		}
	}
	return false
}
