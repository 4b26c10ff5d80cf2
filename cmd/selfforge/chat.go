// This file implements the interactive chat interface.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"selfforge/internal/logging"
)

// chatStyles groups the lipgloss styles used by the chat loop.
type chatStyles struct {
	Banner    lipgloss.Style
	Prompt    lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Error     lipgloss.Style
}

func newChatStyles() chatStyles {
	return chatStyles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		System:    lipgloss.NewStyle().Faint(true),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// runInteractiveChat is the default entry point: a REPL where feature
// requests are intercepted by the workflow and everything else goes to
// the oracle as ordinary conversation.
func runInteractiveChat() error {
	ctx := context.Background()
	styles := newChatStyles()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println(styles.Banner.Render("selfforge") + styles.System.Render("  — ask for a feature and I'll build it into myself"))
	fmt.Println(styles.System.Render(fmt.Sprintf("indexed %d files | /help for commands | /quit to exit", a.scanner.Store().Len())))
	fmt.Println()

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print(styles.Prompt.Render("you> "))
		if !reader.Scan() {
			fmt.Println()
			return reader.Err()
		}
		input := strings.TrimSpace(reader.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if done := a.handleSlashCommand(ctx, styles, input); done {
				return nil
			}
			continue
		}

		// Feature dialogue first; anything it doesn't consume is plain chat.
		if reply, handled := a.flow.Handle(ctx, input); handled {
			fmt.Println(styles.Assistant.Render(reply))
			continue
		}

		reply, err := a.client.Complete(ctx, chatPrompt(input))
		if err != nil {
			logging.Get(logging.CategoryAPI).Warn("chat completion failed: %v", err)
			fmt.Println(styles.Error.Render("I couldn't reach the language model just now. Try again, or use /help."))
			continue
		}
		fmt.Println(styles.Assistant.Render(strings.TrimSpace(reply)))
	}
}

func chatPrompt(input string) string {
	return "You are selfforge, a helpful desktop assistant. Answer the user's message conversationally and briefly.\n\nUser: " + input
}

// handleSlashCommand executes a /command. Returns true when the chat
// should exit.
func (a *app) handleSlashCommand(ctx context.Context, styles chatStyles, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Println(styles.System.Render("bye"))
		return true

	case "/help":
		fmt.Println(styles.System.Render(`commands:
  /index            rescan the source roots
  /files            list indexed files
  /snapshot         snapshot the current source state
  /restore <key>    restore files from a snapshot
  /snapshots        list snapshot keys held this session
  /history [n]      show recently applied change-sets
  /quit             exit`))

	case "/index":
		count, err := a.scanner.Scan(ctx)
		if err != nil {
			fmt.Println(styles.Error.Render("rescan failed: " + err.Error()))
			break
		}
		fmt.Println(styles.System.Render(fmt.Sprintf("indexed %d source files", count)))

	case "/files":
		for _, path := range a.scanner.Store().Paths() {
			file, _ := a.scanner.Store().Get(path)
			fmt.Println(styles.System.Render(fmt.Sprintf("  %s (%d lines)", path, file.LineCount)))
		}

	case "/snapshot":
		key := a.backups.Snapshot()
		fmt.Println(styles.System.Render("snapshot taken: " + key))

	case "/snapshots":
		keys := a.backups.Keys()
		if len(keys) == 0 {
			fmt.Println(styles.System.Render("no snapshots this session"))
			break
		}
		for _, key := range keys {
			fmt.Println(styles.System.Render("  " + key))
		}

	case "/restore":
		if len(fields) < 2 {
			fmt.Println(styles.Error.Render("usage: /restore <key>  (see /snapshots)"))
			break
		}
		restored, err := a.backups.Restore(fields[1])
		if err != nil {
			fmt.Println(styles.Error.Render("restore failed: " + err.Error()))
			break
		}
		fmt.Println(styles.System.Render(fmt.Sprintf("restored %d files from %s", restored, fields[1])))

	case "/history":
		limit := 10
		if len(fields) > 1 {
			fmt.Sscanf(fields[1], "%d", &limit)
		}
		entries, err := a.audit.Recent(limit)
		if err != nil {
			fmt.Println(styles.Error.Render("history unavailable: " + err.Error()))
			break
		}
		if len(entries) == 0 {
			fmt.Println(styles.System.Render("no change-sets applied yet"))
			break
		}
		for _, e := range entries {
			fmt.Println(styles.System.Render(fmt.Sprintf("  %s  %s (%d ok, %d failed)",
				e.CreatedAt.Local().Format("15:04:05"), e.Description, e.Succeeded, e.Failed)))
		}

	default:
		fmt.Println(styles.Error.Render("unknown command " + fields[0] + " — try /help"))
	}
	return false
}
