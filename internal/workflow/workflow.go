package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"selfforge/internal/forge"
	"selfforge/internal/logging"
)

// LLMClient is the narrow oracle surface the workflow needs.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Orchestrator turns a feature conversation into applied source changes.
// Satisfied by *forge.Generator.
type Orchestrator interface {
	Generate(ctx context.Context, conversation []forge.Turn) *forge.ChangeSet
	ApplyWithRollback(ctx context.Context, requestID string, cs *forge.ChangeSet) forge.ApplyOutcome
}

// Restarter schedules a process restart. Satisfied by *restart.Trigger.
type Restarter interface {
	Request() error
}

// Stage is the workflow's position in the feature dialogue.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageClarifying Stage = "clarifying"
	StageConfirming Stage = "confirming"
)

// featureState is the single in-flight feature conversation. At most one
// exists per Workflow; a nil state means idle.
type featureState struct {
	requestID     string
	utterance     string
	intent        *FeatureIntent
	stage         Stage
	clarification string
}

// Workflow gates the patch engine behind a classify → clarify → confirm
// dialogue. It is the only caller of the orchestrator.
type Workflow struct {
	detector     *Detector
	client       LLMClient
	orchestrator Orchestrator
	restarter    Restarter

	mu    sync.Mutex
	state *featureState
}

// New builds the workflow over the shared oracle client and orchestrator.
func New(client LLMClient, orchestrator Orchestrator, restarter Restarter, confidenceThreshold float64) *Workflow {
	return &Workflow{
		detector:     NewDetector(client, confidenceThreshold),
		client:       client,
		orchestrator: orchestrator,
		restarter:    restarter,
	}
}

// Stage reports the current dialogue stage.
func (w *Workflow) Stage() Stage {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == nil {
		return StageIdle
	}
	return w.state.stage
}

// Handle routes one user utterance through the state machine. The boolean
// reports whether the workflow consumed the utterance; when false the
// caller should treat it as ordinary input. A consumed utterance always
// produces a non-empty reply.
func (w *Workflow) Handle(ctx context.Context, utterance string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != nil {
		return w.continueDialogue(ctx, utterance), true
	}

	intent := w.detector.Detect(ctx, utterance)
	if intent == nil {
		return "", false
	}

	w.state = &featureState{
		requestID: uuid.NewString(),
		utterance: utterance,
		intent:    intent,
		stage:     StageClarifying,
	}
	logging.Workflow("feature dialogue %s started: %q", w.state.requestID, intent.Description)
	return w.clarifyingMessage(ctx), true
}

// continueDialogue advances a non-idle state machine. Callers hold w.mu.
func (w *Workflow) continueDialogue(ctx context.Context, reply string) string {
	if isQuitPhrase(reply) {
		logging.Workflow("feature dialogue %s cancelled at stage %s", w.state.requestID, w.state.stage)
		w.state = nil
		return "Okay, dropping that feature request. Nothing was changed."
	}

	switch w.state.stage {
	case StageClarifying:
		w.state.clarification = strings.TrimSpace(reply)
		w.state.stage = StageConfirming
		return w.confirmationMessage(ctx)

	case StageConfirming:
		switch {
		case isAffirmative(reply):
			return w.execute(ctx)
		case isNegative(reply):
			logging.Workflow("feature dialogue %s denied", w.state.requestID)
			w.state = nil
			return "Understood, I won't make that change."
		default:
			return "Just to be safe, I need a clear yes or no: should I go ahead with this change?"
		}
	}

	// Unreachable while stages stay two-valued; reset rather than wedge.
	w.state = nil
	return "Something went wrong with that feature conversation, so I've reset it. Please start over."
}

// execute runs the orchestrator for the confirmed request and returns the
// human-readable outcome report. Always clears the state.
func (w *Workflow) execute(ctx context.Context) string {
	state := w.state
	w.state = nil

	conversation := []forge.Turn{
		{Role: "user", Content: state.utterance},
	}
	if state.intent.Description != "" {
		conversation = append(conversation, forge.Turn{Role: "assistant", Content: "Understood: " + state.intent.Description})
	}
	if state.clarification != "" {
		conversation = append(conversation, forge.Turn{Role: "user", Content: state.clarification})
	}

	cs := w.orchestrator.Generate(ctx, conversation)
	if len(cs.Changes) == 0 {
		logging.Workflow("feature dialogue %s produced no changes: %s", state.requestID, cs.Description)
		return cs.Description
	}

	out := w.orchestrator.ApplyWithRollback(ctx, state.requestID, cs)
	logging.Workflow("feature dialogue %s applied: %d ok, %d failed, restart=%v",
		state.requestID, out.Result.Succeeded, out.Result.Failed, out.NeedsRestart)

	var report strings.Builder
	if out.Result.Failed == 0 {
		fmt.Fprintf(&report, "Done! %s (%d change(s) applied.)", cs.Description, out.Result.Succeeded)
	} else if out.Result.Succeeded == 0 {
		fmt.Fprintf(&report, "I couldn't apply that change: all %d operation(s) failed. Your files were not modified.", out.Result.Failed)
	} else {
		fmt.Fprintf(&report, "Partially done: %d change(s) applied, %d failed. %s", out.Result.Succeeded, out.Result.Failed, cs.Description)
	}

	if out.NeedsRestart {
		if err := w.restarter.Request(); err != nil {
			logging.Get(logging.CategoryWorkflow).Warn("restart request failed: %v", err)
			fmt.Fprintf(&report, " The change needs a restart, but relaunching failed (%v) — please restart manually.", err)
		} else {
			report.WriteString(" Restarting shortly so the change takes effect.")
		}
	}
	return report.String()
}

// clarifyingMessage asks the oracle for a targeted follow-up question,
// falling back to a fixed one so the user always gets a reply.
func (w *Workflow) clarifyingMessage(ctx context.Context) string {
	prompt := fmt.Sprintf(`The user asked for a new feature: %q

Ask ONE short, friendly clarifying question about how the feature should behave. Reply with the question only, no preamble.`, w.state.utterance)

	msg, err := w.client.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(msg) == "" {
		if err != nil {
			logging.Get(logging.CategoryWorkflow).Warn("clarifying message generation failed: %v", err)
		}
		return fmt.Sprintf("I can try to build that (%s). Is there anything specific about how it should work? (Say \"quit\" to cancel.)", w.state.intent.Description)
	}
	return strings.TrimSpace(msg)
}

// confirmationMessage restates the request plus the clarification and asks
// for a yes/no, with a fixed fallback.
func (w *Workflow) confirmationMessage(ctx context.Context) string {
	prompt := fmt.Sprintf(`The user asked for a new feature: %q
They clarified: %q

Write ONE short confirmation message that restates both the request and the clarification, ending with a question asking the user to confirm. Reply with the message only.`,
		w.state.utterance, w.state.clarification)

	msg, err := w.client.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(msg) == "" {
		if err != nil {
			logging.Get(logging.CategoryWorkflow).Warn("confirmation message generation failed: %v", err)
		}
		return fmt.Sprintf("So: you want %q (%s). Shall I go ahead and make that change? (yes/no)",
			w.state.utterance, w.state.clarification)
	}
	return strings.TrimSpace(msg)
}

var (
	quitPhrases        = []string{"quit", "cancel", "stop", "exit", "never mind", "nevermind", "forget it"}
	affirmativePhrases = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm", "confirmed", "proceed", "go ahead", "do it"}
	negativePhrases    = []string{"no", "n", "nope", "don't", "do not"}
)

func isQuitPhrase(reply string) bool {
	return matchesPhrase(reply, quitPhrases)
}

func isAffirmative(reply string) bool {
	return matchesPhrase(reply, affirmativePhrases)
}

func isNegative(reply string) bool {
	return matchesPhrase(reply, negativePhrases)
}

// matchesPhrase checks the trimmed, lowercased reply against a phrase
// list: exact match or phrase followed by punctuation/space.
func matchesPhrase(reply string, phrases []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(reply))
	normalized = strings.TrimRight(normalized, ".!?,")
	for _, p := range phrases {
		if normalized == p || strings.HasPrefix(normalized, p+" ") || strings.HasPrefix(normalized, p+",") {
			return true
		}
	}
	return false
}
