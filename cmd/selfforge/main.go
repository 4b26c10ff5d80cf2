package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"selfforge/internal/backup"
	"selfforge/internal/config"
	"selfforge/internal/forge"
	"selfforge/internal/history"
	"selfforge/internal/index"
	"selfforge/internal/logging"
	"selfforge/internal/oracle"
	"selfforge/internal/patch"
	"selfforge/internal/restart"
	"selfforge/internal/workflow"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	timeout   time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "selfforge",
	Short: "selfforge - self-extending assistant with a source-patching engine",
	Long: `selfforge is an assistant that can extend its own application by
patching its source tree.

User requests are classified by a language model; confirmed feature
requests are turned into change-sets (addMethod, updateMethod,
insertAfter, replaceSection, createFile) applied to the indexed source
files, with a snapshot taken before every batch and an optional process
restart afterwards.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The chat interface owns its own presentation
		if cmd.Use == "selfforge" && cmd.CalledAs() == "selfforge" {
			return nil
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat()
	},
}

// runCmd applies a single feature request without the dialogue
var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Generate and apply a change-set for one feature request",
	Long: `Skips the clarify/confirm dialogue: the request goes straight to the
orchestrator, the resulting change-set is applied with a snapshot, and
the outcome is printed. Restart is NOT triggered; rerun the app yourself.

Example:
  selfforge run "add a button that logs page views"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

// indexCmd scans the source roots and prints what was indexed
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the source roots and print the indexed files",
	RunE:  runIndex,
}

// historyCmd lists recent change-set applications
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently applied change-sets",
	RunE:  runHistory,
}

var historyLimit int

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (or set OPENAI_API_KEY / GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired subsystems shared by every command.
type app struct {
	cfg       *config.Config
	workspace string
	scanner   *index.Scanner
	engine    *patch.Engine
	backups   *backup.Store
	audit     *history.Store
	client    oracle.Client
	generator *forge.Generator
	trigger   *restart.Trigger
	flow      *workflow.Workflow
	watcher   *index.Watcher
}

// newApp loads config, initializes logging, scans the tree, and wires
// the orchestrator, workflow and restart trigger over shared stores.
func newApp(ctx context.Context) (*app, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
	}

	cfg, err := config.Load(config.DefaultConfigPath(ws))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Initialize(ws); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Boot("selfforge starting in %s (provider=%s)", ws, cfg.LLM.Provider)

	store := index.NewStore()
	scanner := index.NewScanner(ws, cfg.Source.Roots, cfg.Source.Extensions, store)
	count, err := scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial scan failed: %w", err)
	}
	logging.Boot("indexed %d source files", count)

	engine := patch.NewEngine(scanner)
	backups := backup.NewStore(scanner)

	dbPath := cfg.History.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(ws, dbPath)
	}
	audit, err := history.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	client, err := oracle.NewClient(cfg)
	if err != nil {
		audit.Close()
		return nil, err
	}

	generator := forge.NewGenerator(client, scanner, engine, backups, cfg.Source.ExcerptLimit)
	generator.SetAudit(audit)

	launcher := &restart.ExecLauncher{
		Command: cfg.Restart.Command,
		Args:    cfg.Restart.Args,
		Dir:     ws,
	}
	trigger := restart.NewTrigger(launcher, cfg.GetGraceDelay(), cfg.GetExitDelay())

	flow := workflow.New(client, generator, trigger, cfg.Workflow.ConfidenceThreshold)

	a := &app{
		cfg:       cfg,
		workspace: ws,
		scanner:   scanner,
		engine:    engine,
		backups:   backups,
		audit:     audit,
		client:    client,
		generator: generator,
		trigger:   trigger,
		flow:      flow,
	}

	if cfg.Source.Watch {
		watcher, err := index.NewWatcher(scanner)
		if err != nil {
			logging.Get(logging.CategoryIndex).Warn("file watcher unavailable: %v", err)
		} else if err := watcher.Start(); err != nil {
			logging.Get(logging.CategoryIndex).Warn("file watcher failed to start: %v", err)
		} else {
			a.watcher = watcher
		}
	}

	return a, nil
}

func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
	logging.CloseAll()
}

// commandContext returns a ctx bound to the timeout flag and SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	request := strings.Join(args, " ")
	logger.Info("Processing feature request", zap.String("request", request))

	cs := a.generator.Generate(ctx, []forge.Turn{{Role: "user", Content: request}})
	if len(cs.Changes) == 0 {
		fmt.Println(cs.Description)
		return nil
	}

	fmt.Printf("Change-set: %s\n", cs.Description)
	for _, op := range cs.Changes {
		fmt.Printf("  - %s\n", op)
	}

	out := a.generator.ApplyWithRollback(ctx, "cli-run", cs)
	fmt.Printf("Applied: %d succeeded, %d failed (snapshot %s)\n",
		out.Result.Succeeded, out.Result.Failed, out.SnapshotKey)
	for _, msg := range out.Result.Errors {
		fmt.Printf("  ! %s\n", msg)
	}
	if out.NeedsRestart {
		fmt.Println("The change needs an application restart to take effect.")
	}
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.scanner.Store()
	paths := store.Paths()
	fmt.Printf("Indexed %d source files under %s:\n", len(paths), a.workspace)
	for _, path := range paths {
		file, _ := store.Get(path)
		fmt.Printf("  %s (%d lines, %d functions, %d classes)\n",
			path, file.LineCount, len(file.Functions), len(file.Classes))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.audit.Recent(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No change-sets applied yet.")
		return nil
	}

	for _, e := range entries {
		status := "ok"
		if e.Failed > 0 {
			status = fmt.Sprintf("%d failed", e.Failed)
		}
		restartNote := ""
		if e.NeedsRestart {
			restartNote = " [restart]"
		}
		fmt.Printf("%s  %-40s  %d applied, %s%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Description, e.Succeeded, status, restartNote)
	}
	return nil
}
