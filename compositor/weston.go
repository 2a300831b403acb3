// Package compositor supervises the two processes the container depends on:
// the Weston compositor that owns the nested X display, and the Waydroid
// session rendered inside it. Liveness is judged from the process table and
// the X window tree, never from log scraping.
package compositor

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/jnjsoftone/jnj-android/errors"
)

// Runner abstracts host command execution for testability. Run waits for
// the command and returns its output; Launch fires a long-lived process and
// returns without waiting, since a compositor or session never exits on its
// own.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	Launch(ctx context.Context, name string, args ...string) error
}

// WindowFinder locates a window by title substring on the compositor display.
// capture.Grabber satisfies it.
type WindowFinder interface {
	FindWindow(titleSubstr string) (image.Rectangle, bool, error)
}

// Weston supervises the Weston compositor process and its X window.
type Weston struct {
	processName  string
	windowTitle  string
	startCommand string
	display      string
	startTimeout time.Duration
	pollInterval time.Duration
	runner       Runner
	finder       WindowFinder
	logger       *slog.Logger
	sleep        func(context.Context, time.Duration) error
}

// NewWeston creates a Weston supervisor.
func NewWeston(processName, windowTitle, startCommand, display string, startTimeout time.Duration, runner Runner, finder WindowFinder, logger *slog.Logger) *Weston {
	if startTimeout <= 0 {
		startTimeout = 10 * time.Second
	}
	return &Weston{
		processName:  processName,
		windowTitle:  windowTitle,
		startCommand: startCommand,
		display:      display,
		startTimeout: startTimeout,
		pollInterval: 500 * time.Millisecond,
		runner:       runner,
		finder:       finder,
		logger:       logger,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRunning reports whether a compositor process exists.
func (w *Weston) IsRunning(ctx context.Context) bool {
	out, err := w.runner.Run(ctx, "pgrep", "-x", w.processName)
	return err == nil && strings.TrimSpace(string(out)) != ""
}

// WindowGeometry returns the compositor window's rectangle when it is mapped.
func (w *Weston) WindowGeometry() (image.Rectangle, bool) {
	rect, found, err := w.finder.FindWindow(w.windowTitle)
	if err != nil || !found {
		return image.Rectangle{}, false
	}
	return rect, true
}

// Ready reports whether the compositor is both alive and presenting a window.
func (w *Weston) Ready(ctx context.Context) bool {
	if !w.IsRunning(ctx) {
		return false
	}
	_, ok := w.WindowGeometry()
	return ok
}

// Start launches the compositor unless it is already presenting, then waits
// for its window to appear. Process-alive without a window within the budget
// is a failure, not a partial success.
func (w *Weston) Start(ctx context.Context) error {
	if w.Ready(ctx) {
		return nil
	}
	if !w.IsRunning(ctx) {
		if err := w.runner.Launch(ctx, "sh", "-c", w.startCommand); err != nil {
			return errors.NewDependencyError("compositor", err)
		}
		if w.logger != nil {
			w.logger.Info("compositor start requested", "command", w.startCommand)
		}
	}
	deadline := time.Now().Add(w.startTimeout)
	for time.Now().Before(deadline) {
		if w.Ready(ctx) {
			return nil
		}
		if err := w.sleep(ctx, w.pollInterval); err != nil {
			return err
		}
	}
	return errors.NewDependencyError("compositor",
		fmt.Errorf("no window titled %q within %s: %w", w.windowTitle, w.startTimeout, errors.ErrCompositorUnavailable))
}

// Stop terminates the compositor, escalating to SIGKILL when it lingers.
func (w *Weston) Stop(ctx context.Context) error {
	if !w.IsRunning(ctx) {
		return nil
	}
	_, _ = w.runner.Run(ctx, "pkill", "-x", w.processName)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !w.IsRunning(ctx) {
			return nil
		}
		if err := w.sleep(ctx, w.pollInterval); err != nil {
			return err
		}
	}
	if _, err := w.runner.Run(ctx, "pkill", "-9", "-x", w.processName); err != nil {
		return errors.NewActionError("compositor-stop", err)
	}
	return nil
}

// Click injects a pointer click at display coordinates through xdotool. Used
// for interactions that must land on the compositor surface rather than
// inside the Android input pipeline.
func (w *Weston) Click(ctx context.Context, x, y int) error {
	cmd := fmt.Sprintf("DISPLAY=%s xdotool mousemove --sync %d %d click 1", w.display, x, y)
	if _, err := w.runner.Run(ctx, "sh", "-c", cmd); err != nil {
		return errors.NewActionError("compositor-click", err)
	}
	return nil
}
