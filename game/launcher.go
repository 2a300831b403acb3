// Package game drives the target app: launching it into the foreground and
// orchestrating the full path from a cold container to a confirmed main
// screen.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/errors"
)

// Device is the slice of the adb transport the game layer needs.
// device.Controller satisfies it.
type Device interface {
	Tap(ctx context.Context, x, y int) error
	Key(ctx context.Context, name string) error
	StartApp(ctx context.Context, pkg, activity string) error
	StopApp(ctx context.Context, pkg string) error
	IsAppRunning(ctx context.Context, pkg string) bool
	CurrentFocus(ctx context.Context) (string, error)
}

// Launcher starts, stops, and verifies the target app.
type Launcher struct {
	dev          Device
	pkg          string
	activity     string
	startTimeout time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
}

// NewLauncher builds a launcher for the configured app.
func NewLauncher(dev Device, cfg config.GameConfig, logger *slog.Logger) *Launcher {
	timeout := time.Duration(cfg.StartTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Launcher{
		dev:          dev,
		pkg:          cfg.Package,
		activity:     cfg.MainActivity,
		startTimeout: timeout,
		pollInterval: time.Second,
		logger:       logger,
		now:          time.Now,
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

// Running reports whether an app process exists.
func (l *Launcher) Running(ctx context.Context) bool {
	return l.dev.IsAppRunning(ctx, l.pkg)
}

// IsForeground reports whether the app owns the current window focus.
func (l *Launcher) IsForeground(ctx context.Context) bool {
	focus, err := l.dev.CurrentFocus(ctx)
	return err == nil && strings.Contains(focus, l.pkg)
}

// OnMainActivity reports whether the main activity itself has focus. The
// focus line carries pkg/activity, with the activity possibly shortened to
// its class name.
func (l *Launcher) OnMainActivity(ctx context.Context) bool {
	focus, err := l.dev.CurrentFocus(ctx)
	if err != nil || !strings.Contains(focus, l.pkg) {
		return false
	}
	if l.activity == "" {
		return true
	}
	short := l.activity
	if i := strings.LastIndex(short, "."); i >= 0 {
		short = short[i:]
	}
	return strings.Contains(focus, l.activity) || strings.Contains(focus, short)
}

// Start foregrounds the app and waits for it to take focus. Already
// foregrounded is a no-op.
func (l *Launcher) Start(ctx context.Context) error {
	if l.IsForeground(ctx) {
		return nil
	}
	if err := l.dev.StartApp(ctx, l.pkg, l.activity); err != nil {
		return err
	}
	deadline := l.now().Add(l.startTimeout)
	for l.now().Before(deadline) {
		if l.IsForeground(ctx) {
			if l.logger != nil {
				l.logger.Info("app foregrounded", "package", l.pkg)
			}
			return nil
		}
		if err := l.sleep(ctx, l.pollInterval); err != nil {
			return err
		}
	}
	return errors.NewActionError("app-start",
		fmt.Errorf("%s did not take focus within %s", l.pkg, l.startTimeout))
}

// Stop force-stops the app.
func (l *Launcher) Stop(ctx context.Context) error {
	return l.dev.StopApp(ctx, l.pkg)
}

// Restart force-stops the app and starts it fresh.
func (l *Launcher) Restart(ctx context.Context) error {
	if err := l.Stop(ctx); err != nil {
		return err
	}
	if err := l.sleep(ctx, 2*time.Second); err != nil {
		return err
	}
	return l.Start(ctx)
}

// Background sends the app to the background with the HOME key, leaving its
// process alive.
func (l *Launcher) Background(ctx context.Context) error {
	return l.dev.Key(ctx, "HOME")
}
