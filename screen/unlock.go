package screen

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/errors"
)

// Clicker injects a pointer click at desktop coordinates.
type Clicker interface {
	Click(ctx context.Context, x, y int) error
}

// Sequencer replays the configured unlock sequence against a locked screen.
// The sequence is speculative-safe: every step lands on either the wake
// surface or the unlock button, so replaying it on an already-unlocked
// screen is harmless.
type Sequencer struct {
	clicker  Clicker
	classify func(ctx context.Context) (State, error)
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewSequencer builds a sequencer. classify re-captures and re-judges the
// screen; it is consulted between attempts, never mid-sequence.
func NewSequencer(clicker Clicker, classify func(ctx context.Context) (State, error), logger *slog.Logger) *Sequencer {
	return &Sequencer{
		clicker:  clicker,
		classify: classify,
		logger:   logger,
		sleep:    sleepCtx,
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

// resolveTarget maps a step target to desktop coordinates. Element positions
// are window-relative; the window rectangle translates them.
func resolveTarget(target string, ui *config.UI, window image.Rectangle) (image.Point, error) {
	switch target {
	case config.UnlockTargetCenter:
		return image.Pt(window.Min.X+window.Dx()/2, window.Min.Y+window.Dy()/2), nil
	case config.UnlockTargetButton:
		p := ui.UnlockButton().Position
		return image.Pt(window.Min.X+p.X, window.Min.Y+p.Y), nil
	default:
		return image.Point{}, fmt.Errorf("unknown unlock target %q", target)
	}
}

// Run replays the unlock sequence until the screen stops classifying as
// locked or attempts run out. Returns nil when the screen already is not
// locked.
func (s *Sequencer) Run(ctx context.Context, ui *config.UI, window image.Rectangle) error {
	state, err := s.classify(ctx)
	if err != nil {
		return err
	}
	if state != StateLocked {
		return nil
	}

	seq := ui.Desktop.UnlockSequence
	for attempt := 1; attempt <= seq.Retry.MaxAttempts; attempt++ {
		if s.logger != nil {
			s.logger.Info("unlock attempt", "attempt", attempt, "steps", len(seq.Steps))
		}
		for _, step := range seq.Steps {
			if step.Action != config.UnlockActionClick {
				return errors.NewActionError("unlock", fmt.Errorf("unsupported action %q", step.Action))
			}
			pt, err := resolveTarget(step.Target, ui, window)
			if err != nil {
				return errors.NewActionError("unlock", err)
			}
			if err := s.clicker.Click(ctx, pt.X, pt.Y); err != nil {
				return errors.NewActionError("unlock", err)
			}
			if step.WaitAfter > 0 {
				wait := time.Duration(step.WaitAfter * float64(time.Second))
				if err := s.sleep(ctx, wait); err != nil {
					return err
				}
			}
		}
		if !seq.Retry.VerifyAfterEach && attempt < seq.Retry.MaxAttempts {
			continue
		}
		state, err = s.classify(ctx)
		if err != nil {
			return err
		}
		if state != StateLocked {
			return nil
		}
	}
	return errors.NewActionError("unlock",
		fmt.Errorf("still locked after %d attempts", seq.Retry.MaxAttempts))
}
