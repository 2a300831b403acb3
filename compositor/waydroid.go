package compositor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jnjsoftone/jnj-android/errors"
)

// Session supervises the Waydroid container session.
type Session struct {
	processPattern string
	startScript    string
	startTimeout   time.Duration
	startGrace     time.Duration
	pollInterval   time.Duration
	runner         Runner
	logger         *slog.Logger
	sleep          func(context.Context, time.Duration) error
}

// NewSession creates a Waydroid session supervisor.
func NewSession(processPattern, startScript string, startTimeout, startGrace time.Duration, runner Runner, logger *slog.Logger) *Session {
	if startTimeout <= 0 {
		startTimeout = 60 * time.Second
	}
	return &Session{
		processPattern: processPattern,
		startScript:    startScript,
		startTimeout:   startTimeout,
		startGrace:     startGrace,
		pollInterval:   time.Second,
		runner:         runner,
		logger:         logger,
		sleep:          sleepCtx,
	}
}

// IsRunning reports whether a session process matching the pattern exists.
func (s *Session) IsRunning(ctx context.Context) bool {
	out, err := s.runner.Run(ctx, "pgrep", "-f", s.processPattern)
	return err == nil && strings.TrimSpace(string(out)) != ""
}

// Status queries waydroid for the session state. A running session reports
// RUNNING; anything else, including a failed query, counts as stopped.
func (s *Session) Status(ctx context.Context) (string, error) {
	out, err := s.runner.Run(ctx, "waydroid", "status")
	if err != nil {
		return "", errors.NewDependencyError("session", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		key, val, ok := strings.Cut(line, ":")
		if ok && strings.TrimSpace(key) == "Session" {
			return strings.TrimSpace(val), nil
		}
	}
	return "", nil
}

// Ready reports a live session: process present and status RUNNING.
func (s *Session) Ready(ctx context.Context) bool {
	if !s.IsRunning(ctx) {
		return false
	}
	status, err := s.Status(ctx)
	return err == nil && status == "RUNNING"
}

// Start launches the session unless already running, then waits for it to
// report RUNNING and sits out the boot grace period.
func (s *Session) Start(ctx context.Context) error {
	if s.Ready(ctx) {
		return nil
	}
	if err := s.runner.Launch(ctx, "sh", "-c", s.startScript); err != nil {
		return errors.NewDependencyError("session", err)
	}
	if s.logger != nil {
		s.logger.Info("session start requested", "script", s.startScript)
	}
	deadline := time.Now().Add(s.startTimeout)
	for time.Now().Before(deadline) {
		if s.Ready(ctx) {
			if s.startGrace > 0 {
				if err := s.sleep(ctx, s.startGrace); err != nil {
					return err
				}
			}
			return nil
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
	return errors.NewDependencyError("session",
		fmt.Errorf("not RUNNING within %s: %w", s.startTimeout, errors.ErrSessionUnavailable))
}

// Stop tears the session down.
func (s *Session) Stop(ctx context.Context) error {
	if !s.IsRunning(ctx) {
		return nil
	}
	if _, err := s.runner.Run(ctx, "waydroid", "session", "stop"); err != nil {
		return errors.NewActionError("session-stop", err)
	}
	return nil
}
