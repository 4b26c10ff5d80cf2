package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"selfforge/internal/forge"
	"selfforge/internal/logging"
)

// FeatureIntent is the classified shape of a user utterance.
type FeatureIntent struct {
	IsFeatureRequest bool    // Whether this asks for a new capability
	Target           string  // Where the feature lives ("app", "settings page", ...)
	Type             string  // Rough category (ui, storage, integration, ...)
	Priority         float64 // How urgent the user sounds (0.0 - 1.0)
	Confidence       float64 // How sure we are this is a real request
	Description      string  // Human-readable restatement of the request
}

// Feature request detection patterns
var (
	// Phrasings that suggest the user is asking for a new capability
	featureRequestPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(add|create|build|implement|make)\b.+\b(feature|button|page|screen|option|support|ability|command|shortcut)\b`),
		regexp.MustCompile(`(?i)i\s+(want|need|wish|would\s+like)\b`),
		regexp.MustCompile(`(?i)can\s+(you|it|we)\s+(add|make|create|build|support)\b`),
		regexp.MustCompile(`(?i)it\s+would\s+be\s+(nice|great|good|helpful)\s+(if|to)\b`),
		regexp.MustCompile(`(?i)is\s+there\s+(a\s+)?way\s+to\b`),
		regexp.MustCompile(`(?i)\bshould\s+(be\s+able\s+to|have|let\s+me)\b`),
	}

	// Text that looks machine-generated rather than typed by a person.
	// Classifying these would hijack ordinary command traffic.
	internalTextPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?s)^\s*[\[{]`),
		regexp.MustCompile(`(?i)^(error|warning|fatal|panic):`),
		regexp.MustCompile(`(?i)\bstack\s*trace\b`),
		regexp.MustCompile(`(?m)^\s+at\s+\S+\s+\(`),
	}
)

// Detector classifies utterances as feature requests via the oracle,
// gated by a cheap regex prescreen.
type Detector struct {
	client    LLMClient
	threshold float64
}

// NewDetector builds a detector with the given confidence threshold.
func NewDetector(client LLMClient, threshold float64) *Detector {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Detector{client: client, threshold: threshold}
}

// Detect classifies the utterance. It deliberately favors false negatives:
// no prescreen hit, internal-looking text, or confidence below the
// threshold all classify as not-a-feature-request.
func (d *Detector) Detect(ctx context.Context, utterance string) *FeatureIntent {
	timer := logging.StartTimer(logging.CategoryWorkflow, "Detect")
	defer timer.Stop()

	for _, pattern := range internalTextPatterns {
		if pattern.MatchString(utterance) {
			logging.WorkflowDebug("utterance looks like internal text, skipping classification")
			return nil
		}
	}

	matched := false
	for _, pattern := range featureRequestPatterns {
		if pattern.MatchString(utterance) {
			matched = true
			break
		}
	}
	if !matched {
		logging.WorkflowDebug("no feature request pattern in utterance")
		return nil
	}

	intent, err := d.classify(ctx, utterance)
	if err != nil {
		logging.Get(logging.CategoryWorkflow).Warn("classification failed: %v, trying coarse prompt", err)
		intent, err = d.classifyCoarse(ctx, utterance)
		if err != nil {
			logging.Get(logging.CategoryWorkflow).Warn("coarse classification failed: %v, treating as not a feature request", err)
			return nil
		}
	}

	if intent == nil || !intent.IsFeatureRequest {
		return nil
	}
	if intent.Confidence < d.threshold {
		logging.Workflow("feature intent below threshold (%.2f < %.2f), ignoring", intent.Confidence, d.threshold)
		return nil
	}

	logging.Workflow("feature request detected: %q (confidence=%.2f, type=%s)", intent.Description, intent.Confidence, intent.Type)
	return intent
}

// classify asks the oracle for the full intent shape.
func (d *Detector) classify(ctx context.Context, utterance string) (*FeatureIntent, error) {
	prompt := fmt.Sprintf(`Analyze this user message and determine if it is a request for a NEW feature in the application.

User Message: %q

Ordinary usage, questions, and commands are NOT feature requests. Only classify as a feature request when the user clearly asks for a capability the application does not have.

Return JSON only:
{
  "is_feature_request": true/false,
  "target": "where in the app the feature belongs",
  "type": "ui | storage | integration | automation | other",
  "priority": 0.0-1.0,
  "confidence": 0.0-1.0,
  "description": "one sentence restating what the user wants"
}

JSON only:`, utterance)

	reply, err := d.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var result struct {
		IsFeatureRequest bool    `json:"is_feature_request"`
		Target           string  `json:"target"`
		Type             string  `json:"type"`
		Priority         float64 `json:"priority"`
		Confidence       float64 `json:"confidence"`
		Description      string  `json:"description"`
	}
	jsonStr := forge.ExtractJSON(reply)
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("failed to parse classification reply: %w", err)
	}

	intent := &FeatureIntent{
		IsFeatureRequest: result.IsFeatureRequest,
		Target:           result.Target,
		Type:             result.Type,
		Priority:         result.Priority,
		Confidence:       result.Confidence,
		Description:      result.Description,
	}
	if intent.Description == "" {
		intent.Description = strings.TrimSpace(utterance)
	}
	return intent, nil
}

// classifyCoarse is the fallback when the structured prompt fails: a
// yes/no question with a confidence score and nothing else.
func (d *Detector) classifyCoarse(ctx context.Context, utterance string) (*FeatureIntent, error) {
	prompt := fmt.Sprintf(`Is the following message a request to add a new feature to an application? Answer with JSON only: {"is_feature_request": true/false, "confidence": 0.0-1.0}

Message: %q`, utterance)

	reply, err := d.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var result struct {
		IsFeatureRequest bool    `json:"is_feature_request"`
		Confidence       float64 `json:"confidence"`
	}
	jsonStr := forge.ExtractJSON(reply)
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("failed to parse coarse classification reply: %w", err)
	}

	return &FeatureIntent{
		IsFeatureRequest: result.IsFeatureRequest,
		Type:             "other",
		Priority:         0.5,
		Confidence:       result.Confidence,
		Description:      strings.TrimSpace(utterance),
	}, nil
}
