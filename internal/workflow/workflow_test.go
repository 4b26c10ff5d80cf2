package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"selfforge/internal/forge"
	"selfforge/internal/patch"
)

// --- test doubles ---

type mockClient struct {
	CompleteFunc func(ctx context.Context, prompt string) (string, error)
	Prompts      []string
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "", nil
}

type mockOrchestrator struct {
	changeSet *forge.ChangeSet
	outcome   forge.ApplyOutcome

	GenerateCalls []([]forge.Turn)
	ApplyCalls    []string // request IDs
}

func (m *mockOrchestrator) Generate(ctx context.Context, conversation []forge.Turn) *forge.ChangeSet {
	m.GenerateCalls = append(m.GenerateCalls, conversation)
	if m.changeSet != nil {
		return m.changeSet
	}
	return forge.FailureChangeSet("")
}

func (m *mockOrchestrator) ApplyWithRollback(ctx context.Context, requestID string, cs *forge.ChangeSet) forge.ApplyOutcome {
	m.ApplyCalls = append(m.ApplyCalls, requestID)
	return m.outcome
}

type mockRestarter struct {
	calls int
	err   error
}

func (m *mockRestarter) Request() error {
	m.calls++
	return m.err
}

const featureIntentJSON = `{"is_feature_request": true, "target": "app", "type": "ui", "priority": 0.6, "confidence": 0.9, "description": "add a button that logs page views"}`

// scriptedClient answers classification prompts with the canned intent and
// everything else (clarify/confirm message generation) with fixed text.
func scriptedClient(intentReply string) *mockClient {
	return &mockClient{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, "is_feature_request") {
				return intentReply, nil
			}
			return "Should it log to the console or send somewhere?", nil
		},
	}
}

func singleSuccessOutcome(needsRestart bool) forge.ApplyOutcome {
	return forge.ApplyOutcome{
		Result:       patch.Result{Succeeded: 1},
		SnapshotKey:  "20260101T000000.000000000",
		NeedsRestart: needsRestart,
	}
}

// --- tests ---

func TestHandle_OrdinaryUtterancePassesThrough(t *testing.T) {
	client := scriptedClient(`{"is_feature_request": false, "confidence": 0.9}`)
	wf := New(client, &mockOrchestrator{}, &mockRestarter{}, 0.7)

	reply, handled := wf.Handle(context.Background(), "what time is it?")
	if handled {
		t.Fatalf("ordinary utterance consumed: %q", reply)
	}
	if wf.Stage() != StageIdle {
		t.Errorf("stage = %s, want idle", wf.Stage())
	}
	// "what time is it?" matches no feature pattern: no oracle call either.
	if len(client.Prompts) != 0 {
		t.Errorf("oracle called %d times for a non-feature utterance", len(client.Prompts))
	}
}

func TestHandle_InternalTextNeverClassified(t *testing.T) {
	client := scriptedClient(featureIntentJSON)
	wf := New(client, &mockOrchestrator{}, &mockRestarter{}, 0.7)

	inputs := []string{
		`{"changes":[{"filePath":"app","operation":"addMethod"}]}`,
		"Error: I want to add ENOENT handling",
		"stack trace follows\n  at App.render (app.js:10)",
	}
	for _, in := range inputs {
		if _, handled := wf.Handle(context.Background(), in); handled {
			t.Errorf("internal-looking text consumed: %q", in)
		}
	}
	if len(client.Prompts) != 0 {
		t.Errorf("oracle called for internal text")
	}
}

func TestHandle_LowConfidenceIgnored(t *testing.T) {
	client := scriptedClient(`{"is_feature_request": true, "confidence": 0.4, "description": "maybe a feature"}`)
	wf := New(client, &mockOrchestrator{}, &mockRestarter{}, 0.7)

	_, handled := wf.Handle(context.Background(), "can you add a dark mode option")
	if handled {
		t.Error("low-confidence intent should not start a dialogue")
	}
}

func TestHandle_ClassificationFailureFallsBackThenDefaultsToNo(t *testing.T) {
	client := &mockClient{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("oracle down")
		},
	}
	wf := New(client, &mockOrchestrator{}, &mockRestarter{}, 0.7)

	_, handled := wf.Handle(context.Background(), "can you add a dark mode option")
	if handled {
		t.Error("unclassifiable utterance must default to not-a-feature-request")
	}
	// Primary and coarse prompts were both attempted.
	if len(client.Prompts) != 2 {
		t.Errorf("oracle called %d times, want 2 (primary + coarse)", len(client.Prompts))
	}
}

func TestHandle_CoarseFallbackCanStillDetect(t *testing.T) {
	calls := 0
	client := &mockClient{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("oracle hiccup")
			}
			if strings.Contains(prompt, "is_feature_request") {
				return `{"is_feature_request": true, "confidence": 0.85}`, nil
			}
			return "What should the button do?", nil
		},
	}
	wf := New(client, &mockOrchestrator{}, &mockRestarter{}, 0.7)

	reply, handled := wf.Handle(context.Background(), "can you add a share button")
	if !handled {
		t.Fatal("coarse classification hit should start the dialogue")
	}
	if reply == "" {
		t.Error("clarifying stage must emit a message")
	}
	if wf.Stage() != StageClarifying {
		t.Errorf("stage = %s, want clarifying", wf.Stage())
	}
}

func TestHandle_FullDialogueAppliesAndReports(t *testing.T) {
	client := scriptedClient(featureIntentJSON)
	orch := &mockOrchestrator{
		changeSet: &forge.ChangeSet{
			Description: "Adds a page view logger button",
			Changes: []patch.Operation{
				{File: "app", Kind: patch.KindAddMethod, Content: "  logViews() {}"},
			},
		},
		outcome: singleSuccessOutcome(false),
	}
	restarter := &mockRestarter{}
	wf := New(client, orch, restarter, 0.7)
	ctx := context.Background()

	reply, handled := wf.Handle(ctx, "add a button that logs page views")
	if !handled || reply == "" {
		t.Fatalf("expected a clarifying question, got handled=%v reply=%q", handled, reply)
	}

	reply, handled = wf.Handle(ctx, "just a console log is fine")
	if !handled || reply == "" {
		t.Fatalf("expected a confirmation message, got handled=%v reply=%q", handled, reply)
	}
	if wf.Stage() != StageConfirming {
		t.Fatalf("stage = %s, want confirming", wf.Stage())
	}

	reply, handled = wf.Handle(ctx, "yes")
	if !handled {
		t.Fatal("affirmation not consumed")
	}
	if !strings.Contains(reply, "Done") {
		t.Errorf("success report missing: %q", reply)
	}
	if wf.Stage() != StageIdle {
		t.Errorf("stage after execution = %s, want idle", wf.Stage())
	}

	if len(orch.GenerateCalls) != 1 || len(orch.ApplyCalls) != 1 {
		t.Fatalf("orchestrator calls = %d/%d, want 1/1", len(orch.GenerateCalls), len(orch.ApplyCalls))
	}
	if orch.ApplyCalls[0] == "" {
		t.Error("missing request id")
	}
	// The generated conversation carries both the request and clarification.
	conv := orch.GenerateCalls[0]
	var joined strings.Builder
	for _, turn := range conv {
		joined.WriteString(turn.Content + "\n")
	}
	if !strings.Contains(joined.String(), "logs page views") || !strings.Contains(joined.String(), "console log") {
		t.Errorf("conversation missing request or clarification: %q", joined.String())
	}
	if restarter.calls != 0 {
		t.Errorf("restart requested %d times for a no-restart change", restarter.calls)
	}
}

func TestHandle_QuitAtAnyStageLeavesFilesUntouched(t *testing.T) {
	for _, quitAt := range []Stage{StageClarifying, StageConfirming} {
		t.Run(string(quitAt), func(t *testing.T) {
			client := scriptedClient(featureIntentJSON)
			orch := &mockOrchestrator{}
			wf := New(client, orch, &mockRestarter{}, 0.7)
			ctx := context.Background()

			if _, handled := wf.Handle(ctx, "add a button that logs page views"); !handled {
				t.Fatal("dialogue did not start")
			}
			if quitAt == StageConfirming {
				wf.Handle(ctx, "make it blue")
			}

			reply, handled := wf.Handle(ctx, "quit")
			if !handled || reply == "" {
				t.Fatal("quit must be consumed with a farewell")
			}
			if wf.Stage() != StageIdle {
				t.Errorf("stage after quit = %s, want idle", wf.Stage())
			}
			if len(orch.GenerateCalls) != 0 || len(orch.ApplyCalls) != 0 {
				t.Error("quit before confirmation must not touch the orchestrator")
			}
		})
	}
}

func TestHandle_DenialCancelsWithoutChanges(t *testing.T) {
	client := scriptedClient(featureIntentJSON)
	orch := &mockOrchestrator{}
	wf := New(client, orch, &mockRestarter{}, 0.7)
	ctx := context.Background()

	wf.Handle(ctx, "add a button that logs page views")
	wf.Handle(ctx, "whatever is simplest")
	reply, _ := wf.Handle(ctx, "no")

	if reply == "" {
		t.Error("denial must produce a reply")
	}
	if wf.Stage() != StageIdle {
		t.Errorf("stage = %s, want idle", wf.Stage())
	}
	if len(orch.ApplyCalls) != 0 {
		t.Error("denied request must not apply changes")
	}
}

func TestHandle_AmbiguousConfirmationReprompts(t *testing.T) {
	client := scriptedClient(featureIntentJSON)
	orch := &mockOrchestrator{}
	wf := New(client, orch, &mockRestarter{}, 0.7)
	ctx := context.Background()

	wf.Handle(ctx, "add a button that logs page views")
	wf.Handle(ctx, "console is fine")

	reply, handled := wf.Handle(ctx, "hmm, what happens if I say maybe?")
	if !handled {
		t.Fatal("ambiguous reply not consumed")
	}
	if !strings.Contains(strings.ToLower(reply), "yes or no") {
		t.Errorf("expected a re-prompt, got %q", reply)
	}
	if wf.Stage() != StageConfirming {
		t.Errorf("stage = %s, want confirming", wf.Stage())
	}
	if len(orch.ApplyCalls) != 0 {
		t.Error("ambiguous reply must not execute")
	}
}

// A second feature-sounding utterance while a dialogue is active is
// treated as dialogue input, never as a fresh classification.
func TestHandle_ActiveDialogueSkipsClassification(t *testing.T) {
	client := scriptedClient(featureIntentJSON)
	wf := New(client, &mockOrchestrator{}, &mockRestarter{}, 0.7)
	ctx := context.Background()

	wf.Handle(ctx, "add a button that logs page views")
	classifyCalls := len(client.Prompts)

	_, handled := wf.Handle(ctx, "can you also add a settings page")
	if !handled {
		t.Fatal("utterance during active dialogue not consumed")
	}
	if wf.Stage() != StageConfirming {
		t.Errorf("stage = %s, want confirming (treated as clarification)", wf.Stage())
	}
	for _, p := range client.Prompts[classifyCalls:] {
		if strings.Contains(p, "is_feature_request") {
			t.Error("classification ran while a dialogue was active")
		}
	}
}

func TestHandle_RestartRequestedExactlyOnce(t *testing.T) {
	client := scriptedClient(featureIntentJSON)
	orch := &mockOrchestrator{
		changeSet: &forge.ChangeSet{
			Description:  "Adds notes",
			NeedsRestart: true,
			Changes: []patch.Operation{
				{File: "app", Kind: patch.KindAddMethod, Content: "  addNote() {}"},
			},
		},
		outcome: singleSuccessOutcome(true),
	}
	restarter := &mockRestarter{}
	wf := New(client, orch, restarter, 0.7)
	ctx := context.Background()

	wf.Handle(ctx, "add a button that logs page views")
	wf.Handle(ctx, "notes please")
	reply, _ := wf.Handle(ctx, "go ahead")

	if restarter.calls != 1 {
		t.Errorf("restart requested %d times, want 1", restarter.calls)
	}
	if !strings.Contains(strings.ToLower(reply), "restart") {
		t.Errorf("report does not mention the restart: %q", reply)
	}
}

func TestHandle_RestartLaunchFailureSurfacesInReport(t *testing.T) {
	client := scriptedClient(featureIntentJSON)
	orch := &mockOrchestrator{
		changeSet: &forge.ChangeSet{
			Description:  "Adds notes",
			NeedsRestart: true,
			Changes: []patch.Operation{
				{File: "app", Kind: patch.KindAddMethod, Content: "  addNote() {}"},
			},
		},
		outcome: singleSuccessOutcome(true),
	}
	restarter := &mockRestarter{err: errors.New("npm not found")}
	wf := New(client, orch, restarter, 0.7)
	ctx := context.Background()

	wf.Handle(ctx, "add a button that logs page views")
	wf.Handle(ctx, "notes please")
	reply, _ := wf.Handle(ctx, "yes")

	if !strings.Contains(reply, "npm not found") {
		t.Errorf("launch failure not surfaced: %q", reply)
	}
	if wf.Stage() != StageIdle {
		t.Errorf("stage = %s, want idle", wf.Stage())
	}
}

func TestHandle_EmptyChangeSetReportsFailureWithoutApply(t *testing.T) {
	client := scriptedClient(featureIntentJSON)
	orch := &mockOrchestrator{
		changeSet: forge.FailureChangeSet("The generated change-set could not be understood, so no changes were applied."),
	}
	wf := New(client, orch, &mockRestarter{}, 0.7)
	ctx := context.Background()

	wf.Handle(ctx, "add a button that logs page views")
	wf.Handle(ctx, "console is fine")
	reply, _ := wf.Handle(ctx, "yes")

	if reply == "" {
		t.Error("failure path must still reply")
	}
	if len(orch.ApplyCalls) != 0 {
		t.Error("empty change-set must not be applied")
	}
	if wf.Stage() != StageIdle {
		t.Errorf("stage = %s, want idle", wf.Stage())
	}
}

func TestMatchesPhrase(t *testing.T) {
	tests := []struct {
		reply  string
		quit   bool
		affirm bool
		negate bool
	}{
		{"quit", true, false, false},
		{"  STOP  ", true, false, false},
		{"cancel", true, false, false},
		{"never mind, keep it as is", true, false, false},
		{"yes", false, true, false},
		{"Yes!", false, true, false},
		{"go ahead", false, true, false},
		{"proceed with it", false, true, false},
		{"no", false, false, true},
		{"Nope.", false, false, true},
		{"maybe later", false, false, false},
		{"yesterday was fine", false, false, false},
		{"nothing", false, false, false},
	}

	for _, tt := range tests {
		if got := isQuitPhrase(tt.reply); got != tt.quit {
			t.Errorf("isQuitPhrase(%q) = %v, want %v", tt.reply, got, tt.quit)
		}
		if got := isAffirmative(tt.reply); got != tt.affirm {
			t.Errorf("isAffirmative(%q) = %v, want %v", tt.reply, got, tt.affirm)
		}
		if got := isNegative(tt.reply); got != tt.negate {
			t.Errorf("isNegative(%q) = %v, want %v", tt.reply, got, tt.negate)
		}
	}
}
