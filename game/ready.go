package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/errors"
	"github.com/jnjsoftone/jnj-android/screen"
)

// Outcome is the verdict of one readiness run.
type Outcome int

const (
	// OutcomeFailure means the app could not be brought up.
	OutcomeFailure Outcome = iota
	// OutcomePartial means the app process is alive but the main screen
	// could not be confirmed.
	OutcomePartial
	// OutcomeSuccess means the main screen is confirmed interactive.
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	default:
		return "failure"
	}
}

// MarshalJSON emits the outcome name rather than the enum value.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Event is one timestamped step of a readiness run.
type Event struct {
	Elapsed time.Duration `json:"elapsed"`
	Phase   string        `json:"phase"`
	Note    string        `json:"note"`
}

// Result reports how a readiness run ended.
type Result struct {
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	LastState screen.State  `json:"last_state"`
	Elapsed   time.Duration `json:"elapsed"`
	Events    []Event       `json:"events"`
}

// Compositor is the compositor supervisor surface the orchestrator needs.
type Compositor interface {
	Ready(ctx context.Context) bool
	Start(ctx context.Context) error
}

// Session is the container session surface the orchestrator needs.
type Session interface {
	Ready(ctx context.Context) bool
	Start(ctx context.Context) error
}

// Screen is the capture-and-classify surface the orchestrator needs.
// screen.Service satisfies it.
type Screen interface {
	State(ctx context.Context) (screen.State, error)
	Unlock(ctx context.Context) error
	ClickUnlockPoint(ctx context.Context) error
	MenuVisible(ctx context.Context) (bool, error)
}

// App is the launcher surface the orchestrator needs.
type App interface {
	Start(ctx context.Context) error
	Running(ctx context.Context) bool
	OnMainActivity(ctx context.Context) bool
}

// overlayMarkers are window-focus substrings that identify system surfaces
// sitting on top of the game.
var overlayMarkers = []string{"statusbar", "notificationshade", "systemui", "panelview"}

// Orchestrator walks the container from any state to a confirmed game main
// screen. Runs are idempotent and concurrent callers share one in-flight
// run.
type Orchestrator struct {
	comp   Compositor
	sess   Session
	scr    Screen
	app    App
	dev    Device
	store  *config.Store
	cfg    config.ReadyConfig
	logger *slog.Logger

	group singleflight.Group
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewOrchestrator wires a readiness orchestrator.
func NewOrchestrator(comp Compositor, sess Session, scr Screen, app App, dev Device, store *config.Store, cfg config.ReadyConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		comp:   comp,
		sess:   sess,
		scr:    scr,
		app:    app,
		dev:    dev,
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// EnsureReady drives the container to a confirmed main screen. Concurrent
// calls coalesce into a single run and receive its result.
func (o *Orchestrator) EnsureReady(ctx context.Context) (*Result, error) {
	v, err, _ := o.group.Do("ensure-ready", func() (any, error) {
		return o.run(ctx), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// run executes one full readiness pass.
func (o *Orchestrator) run(ctx context.Context) *Result {
	start := o.now()
	res := &Result{LastState: screen.StateUnknown}
	budget := time.Duration(o.cfg.BudgetSec) * time.Second

	record := func(phase, note string) {
		res.Events = append(res.Events, Event{Elapsed: o.now().Sub(start), Phase: phase, Note: note})
		if o.logger != nil {
			o.logger.Info("readiness", "phase", phase, "note", note)
		}
	}
	fail := func(reason string) *Result {
		res.Outcome = OutcomeFailure
		res.Reason = reason
		res.Elapsed = o.now().Sub(start)
		record("done", "failure: "+reason)
		return res
	}
	overBudget := func() bool { return o.now().Sub(start) > budget }

	// compositor first: without a display nothing downstream can be judged
	record("ensure_compositor", "")
	if !o.comp.Ready(ctx) {
		if err := o.comp.Start(ctx); err != nil {
			return fail("compositor unavailable: " + err.Error())
		}
	}

	record("ensure_session", "")
	if !o.sess.Ready(ctx) {
		if err := o.sess.Start(ctx); err != nil {
			return fail("session unavailable: " + err.Error())
		}
	}

	record("handle_screen_state", "")
	state, err := o.settleScreen(ctx, res)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fail("canceled")
		}
		return fail(err.Error())
	}
	res.LastState = state
	if state == screen.StateUnknown {
		// nothing to judge; keep going and let confirmation decide
		record("handle_screen_state", "state unknown, proceeding")
	}

	record("launch_app", "")
	if err := o.app.Start(ctx); err != nil {
		return fail("app start: " + err.Error())
	}

	record("bypass_startup", "")
	confirmed, err := o.bypassStartup(ctx, func(note string) { record("bypass_startup", note) }, overBudget)
	if err != nil {
		return fail("canceled")
	}
	res.Elapsed = o.now().Sub(start)
	if confirmed {
		res.Outcome = OutcomeSuccess
		res.LastState = screen.StateLoaded
		record("done", "success")
		return res
	}
	if o.app.Running(ctx) {
		_, gate := o.confirmGates(ctx)
		res.Outcome = OutcomePartial
		res.Reason = "app running, main screen unconfirmed at " + gate + " gate"
		record("done", "partial")
		return res
	}
	res.Outcome = OutcomeFailure
	res.Reason = "app process died during startup"
	record("done", "failure: "+res.Reason)
	return res
}

// settleScreen waits for the compositor window to reach the loaded home
// screen, unlocking and re-judging along the way.
func (o *Orchestrator) settleScreen(ctx context.Context, res *Result) (screen.State, error) {
	deadline := o.now().Add(time.Duration(o.cfg.LoadWaitSec) * time.Second)
	unlocked := false
	var last screen.State
	for {
		state, err := o.scr.State(ctx)
		if err != nil && !errors.IsRetryable(err) {
			return state, err
		}
		last = state
		res.LastState = state
		switch state {
		case screen.StateLoaded:
			return state, nil
		case screen.StateUnknown:
			// classification is a heuristic: an unreadable screen must
			// not stall the launch
			if o.logger != nil {
				o.logger.Warn("screen state unknown, proceeding best-effort")
			}
			return state, nil
		case screen.StateLocked:
			// one unlock pass per run; the sequencer retries internally
			if unlocked {
				return state, fmt.Errorf("screen locked again after unlock")
			}
			if err := o.scr.Unlock(ctx); err != nil {
				return state, fmt.Errorf("unlock: %w", err)
			}
			unlocked = true
		case screen.StateEmpty:
			if err := o.sess.Start(ctx); err != nil {
				return state, fmt.Errorf("session restart: %w", err)
			}
		case screen.StateBlack:
			// wake tap at the configured point before judging again
			wake := o.store.Snapshot().TapToStart()
			_ = o.dev.Tap(ctx, wake.X, wake.Y)
		}
		if !o.now().Before(deadline) {
			return last, errors.NewTimeoutError("screen settle",
				time.Duration(o.cfg.LoadWaitSec)*time.Second, last.String())
		}
		if err := o.sleep(ctx, time.Second); err != nil {
			return last, err
		}
	}
}

// bypassStartup taps through the splash sequence on a fixed elapsed-time
// schedule while watching for system overlays, confirming the main screen
// once per tick so the loop exits as early as the game allows.
func (o *Orchestrator) bypassStartup(ctx context.Context, record func(note string), overBudget func() bool) (bool, error) {
	checkpoints := o.cfg.TapCheckpointsSec
	overlayInterval := time.Duration(o.cfg.OverlayIntervalSec) * time.Second
	// the last checkpoint bounds the whole loop; the overlay budget only
	// matters when no checkpoints are configured
	window := time.Duration(o.cfg.OverlayChecks) * overlayInterval
	if len(checkpoints) > 0 {
		window = time.Duration(checkpoints[len(checkpoints)-1]) * time.Second
	}

	tap := o.store.Snapshot().TapToStart()
	begin := o.now()
	nextCp := 0
	overlayChecks := 0
	lastOverlay := begin

	// quick burst right after launch knocks out the first splash prompt,
	// covering both the desktop unlock point and the in-game tap point
	for i := 0; i < 3; i++ {
		if o.confirmMain(ctx) {
			return true, nil
		}
		if err := o.scr.ClickUnlockPoint(ctx); err != nil {
			if o.logger != nil {
				o.logger.Warn("burst unlock click failed", "error", err)
			}
		} else {
			record("burst unlock click")
		}
		if err := o.dev.Tap(ctx, tap.X, tap.Y); err != nil {
			if o.logger != nil {
				o.logger.Warn("burst tap failed", "error", err)
			}
		} else {
			record("burst tap")
		}
		if err := o.sleep(ctx, 500*time.Millisecond); err != nil {
			return false, err
		}
	}

	for {
		if o.confirmMain(ctx) {
			return true, nil
		}
		elapsed := o.now().Sub(begin)
		if elapsed > window || overBudget() {
			return o.confirmMain(ctx), nil
		}
		if nextCp < len(checkpoints) && elapsed >= time.Duration(checkpoints[nextCp])*time.Second {
			if err := o.dev.Tap(ctx, tap.X, tap.Y); err != nil {
				record("tap failed: " + err.Error())
			} else {
				record(fmt.Sprintf("tap checkpoint %ds", checkpoints[nextCp]))
			}
			nextCp++
		}
		if overlayChecks < o.cfg.OverlayChecks && o.now().Sub(lastOverlay) >= overlayInterval {
			if dismissed := o.dismissOverlay(ctx); dismissed {
				record("overlay dismissed")
			}
			overlayChecks++
			lastOverlay = o.now()
		}
		if err := o.sleep(ctx, time.Second); err != nil {
			return false, err
		}
	}
}

// confirmMain is the triple gate: process alive, main activity focused, and
// the in-game menu marker visible.
func (o *Orchestrator) confirmMain(ctx context.Context) bool {
	ok, _ := o.confirmGates(ctx)
	return ok
}

// confirmGates runs the triple gate and names the first gate that failed.
func (o *Orchestrator) confirmGates(ctx context.Context) (bool, string) {
	if !o.app.Running(ctx) {
		return false, "process"
	}
	if !o.app.OnMainActivity(ctx) {
		return false, "activity"
	}
	visible, err := o.scr.MenuVisible(ctx)
	if err != nil || !visible {
		return false, "menu-marker"
	}
	return true, ""
}

// dismissOverlay sends BACK when a system surface holds focus, retrying
// once. Reports whether an overlay was seen.
func (o *Orchestrator) dismissOverlay(ctx context.Context) bool {
	if !o.overlayPresent(ctx) {
		return false
	}
	for i := 0; i < 2; i++ {
		if err := o.dev.Key(ctx, "BACK"); err != nil {
			return true
		}
		if !o.overlayPresent(ctx) {
			return true
		}
	}
	return true
}

func (o *Orchestrator) overlayPresent(ctx context.Context) bool {
	focus, err := o.dev.CurrentFocus(ctx)
	if err != nil {
		return false
	}
	focus = strings.ToLower(focus)
	for _, marker := range overlayMarkers {
		if strings.Contains(focus, marker) {
			return true
		}
	}
	return false
}
