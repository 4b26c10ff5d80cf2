package forge

import (
	"context"

	"selfforge/internal/backup"
	"selfforge/internal/history"
	"selfforge/internal/index"
	"selfforge/internal/logging"
	"selfforge/internal/patch"
)

// LLMClient is the narrow oracle surface the generator needs.
// Mirrors oracle.Client to avoid coupling to a provider package.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Generator builds change-sets from feature conversations and applies them.
type Generator struct {
	client       LLMClient
	scanner      *index.Scanner
	engine       *patch.Engine
	backups      *backup.Store
	audit        *history.Store // optional
	excerptLimit int
}

// NewGenerator wires the orchestrator over the shared stores.
func NewGenerator(client LLMClient, scanner *index.Scanner, engine *patch.Engine, backups *backup.Store, excerptLimit int) *Generator {
	return &Generator{
		client:       client,
		scanner:      scanner,
		engine:       engine,
		backups:      backups,
		excerptLimit: excerptLimit,
	}
}

// SetAudit attaches the change-set audit log.
func (g *Generator) SetAudit(audit *history.Store) {
	g.audit = audit
}

// Generate asks the oracle for a change-set implementing the conversation's
// request. It never returns nil: on an unusable reply it falls back to a
// fixed change-set for known capabilities, else to an empty failure
// change-set.
func (g *Generator) Generate(ctx context.Context, conversation []Turn) *ChangeSet {
	timer := logging.StartTimer(logging.CategoryForge, "Generate")
	defer timer.Stop()

	summary := BuildSourceSummary(g.scanner.Store(), g.excerptLimit)
	prompt := buildGenerationPrompt(conversation, summary)
	logging.ForgeDebug("generation prompt: %d bytes over %d files", len(prompt), g.scanner.Store().Len())

	reply, err := g.client.Complete(ctx, prompt)
	if err != nil {
		logging.Get(logging.CategoryForge).Warn("oracle call failed: %v", err)
		return g.fallback(conversation, "The language model was unavailable, so no changes were generated.")
	}

	cs, err := ParseChangeSet(reply)
	if err != nil {
		logging.Get(logging.CategoryForge).Warn("change-set parse failed: %v", err)
		return g.fallback(conversation, "The generated change-set could not be understood, so no changes were applied.")
	}

	logging.Forge("generated change-set: %q with %d changes (restart=%v)", cs.Description, len(cs.Changes), cs.NeedsRestart)
	return cs
}

func (g *Generator) fallback(conversation []Turn, reason string) *ChangeSet {
	if conversationMentions(conversation, "note") {
		logging.Forge("falling back to fixed note-taking change-set")
		return NoteTakingChangeSet()
	}
	return FailureChangeSet(reason)
}

// ApplyOutcome reports one executed change-set batch.
type ApplyOutcome struct {
	Result       patch.Result
	SnapshotKey  string
	NeedsRestart bool
}

// Apply runs the change-set without a snapshot (legacy entry point) and
// refreshes the index so later prompts see the new tree.
func (g *Generator) Apply(ctx context.Context, cs *ChangeSet) patch.Result {
	res := g.engine.Apply(cs.Changes)
	g.rescan(ctx)
	return res
}

// ApplyWithRollback snapshots the indexed tree, runs the change-set, then
// refreshes the index and records the batch to the audit log. The returned
// snapshot key is the rollback point for this batch.
func (g *Generator) ApplyWithRollback(ctx context.Context, requestID string, cs *ChangeSet) ApplyOutcome {
	key := g.backups.Snapshot()
	res := g.engine.Apply(cs.Changes)
	g.rescan(ctx)

	outcome := ApplyOutcome{
		Result:       res,
		SnapshotKey:  key,
		NeedsRestart: cs.NeedsRestart && res.Succeeded > 0,
	}

	if g.audit != nil {
		if _, err := g.audit.Record(history.Entry{
			RequestID:    requestID,
			Description:  cs.Description,
			Succeeded:    res.Succeeded,
			Failed:       res.Failed,
			NeedsRestart: outcome.NeedsRestart,
			SnapshotKey:  key,
		}); err != nil {
			logging.Get(logging.CategoryForge).Warn("audit record failed: %v", err)
		}
	}

	return outcome
}

func (g *Generator) rescan(ctx context.Context) {
	if _, err := g.scanner.Scan(ctx); err != nil {
		logging.Get(logging.CategoryForge).Warn("post-batch rescan failed: %v", err)
	}
}
