// Package restart relaunches the assistant as a detached process and retires
// the current one, so freshly patched source takes effect.
package restart

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"selfforge/internal/logging"
)

// ProcessLauncher abstracts the detached relaunch and process exit so the
// trigger can be exercised in tests without spawning anything.
type ProcessLauncher interface {
	// Launch starts a detached instance of the application's normal startup
	// command. It returns once the new process is running (or failed to).
	Launch() error
	// Exit terminates the current process after the given delay.
	Exit(after time.Duration)
}

// ExecLauncher is the production launcher: it execs the configured startup
// command with the workspace as working directory.
type ExecLauncher struct {
	Command string
	Args    []string
	Dir     string
}

// Launch starts the startup command detached from the current process.
func (l *ExecLauncher) Launch() error {
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", l.Command, err)
	}
	// Detach: the new instance must outlive us
	return cmd.Process.Release()
}

// Exit schedules process termination.
func (l *ExecLauncher) Exit(after time.Duration) {
	go func() {
		time.Sleep(after)
		os.Exit(0)
	}()
}

// Trigger drives the restart sequence with a guard against concurrent
// requests.
type Trigger struct {
	launcher   ProcessLauncher
	graceDelay time.Duration
	exitDelay  time.Duration

	mu      sync.Mutex
	pending bool

	sleep func(time.Duration) // test seam
}

// NewTrigger creates a trigger. graceDelay lets in-flight operations settle
// before the relaunch; exitDelay runs between a successful launch and our own
// exit.
func NewTrigger(launcher ProcessLauncher, graceDelay, exitDelay time.Duration) *Trigger {
	return &Trigger{
		launcher:   launcher,
		graceDelay: graceDelay,
		exitDelay:  exitDelay,
		sleep:      time.Sleep,
	}
}

// Request performs the restart sequence. A request while one is already
// pending is a no-op. A failed launch clears the pending flag so a later
// call can retry, and never terminates the current process.
func (t *Trigger) Request() error {
	t.mu.Lock()
	if t.pending {
		t.mu.Unlock()
		logging.Restart("restart already pending, ignoring request")
		return nil
	}
	t.pending = true
	t.mu.Unlock()

	logging.Restart("restart requested, settling for %v", t.graceDelay)
	t.sleep(t.graceDelay)

	if err := t.launcher.Launch(); err != nil {
		t.mu.Lock()
		t.pending = false
		t.mu.Unlock()
		logging.Get(logging.CategoryRestart).Error("relaunch failed: %v", err)
		return fmt.Errorf("relaunch failed: %w", err)
	}

	logging.Restart("new instance launched, exiting in %v", t.exitDelay)
	t.launcher.Exit(t.exitDelay)
	return nil
}

// Pending reports whether a restart is in flight.
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
