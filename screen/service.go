package screen

import (
	"context"
	"image"
	"log/slog"

	"github.com/jnjsoftone/jnj-android/capture"
	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/errors"
)

// FrameSource captures the compositor display and locates windows on it.
// capture.Grabber satisfies it.
type FrameSource interface {
	CaptureRoot() (*capture.Frame, error)
	FindWindow(titleSubstr string) (image.Rectangle, bool, error)
}

// DeviceScreen captures the Android framebuffer. device.Controller
// satisfies it.
type DeviceScreen interface {
	Screenshot(ctx context.Context) (*capture.Frame, error)
}

// SessionProbe reports container session liveness. compositor.Session
// satisfies it.
type SessionProbe interface {
	IsRunning(ctx context.Context) bool
}

// Service owns the capture-and-classify path. Desktop rules are judged on
// the compositor window cut from an X11 root capture; in-game rules are
// judged on adb screenshots, whose coordinates are device-native.
type Service struct {
	grabber     FrameSource
	device      DeviceScreen
	session     SessionProbe
	clicker     Clicker
	store       *config.Store
	windowTitle string
	recorder    *capture.Recorder
	logger      *slog.Logger
}

// NewService wires the capture-and-classify path. recorder may be nil.
func NewService(grabber FrameSource, device DeviceScreen, session SessionProbe, clicker Clicker, store *config.Store, windowTitle string, recorder *capture.Recorder, logger *slog.Logger) *Service {
	return &Service{
		grabber:     grabber,
		device:      device,
		session:     session,
		clicker:     clicker,
		store:       store,
		windowTitle: windowTitle,
		recorder:    recorder,
		logger:      logger,
	}
}

// Window returns the compositor window rectangle, falling back to the
// configured default geometry when the window cannot be located.
func (s *Service) Window() image.Rectangle {
	if rect, found, err := s.grabber.FindWindow(s.windowTitle); err == nil && found {
		return rect
	}
	g := s.store.Snapshot().Desktop.Window.DefaultGeometry
	return image.Rect(g.X, g.Y, g.X+g.Width, g.Y+g.Height)
}

// capture cuts the compositor window out of a fresh root capture.
func (s *Service) capture(ctx context.Context) (*capture.Frame, error) {
	root, err := s.grabber.CaptureRoot()
	if err != nil {
		return nil, errors.NewDependencyError("compositor", err)
	}
	rect := s.Window().Intersect(root.Bounds())
	if rect.Empty() {
		return nil, errors.NewInconclusiveError("capture", "window outside root bounds")
	}
	frame := root.Crop(rect)
	if s.recorder != nil {
		if _, err := s.recorder.Record(frame); err != nil && s.logger != nil {
			s.logger.Warn("frame record failed", "error", err)
		}
	}
	return frame, nil
}

// State captures and classifies the compositor window. A dead session skips
// the capture entirely.
func (s *Service) State(ctx context.Context) (State, error) {
	ui := s.store.Snapshot()
	if !s.session.IsRunning(ctx) {
		return StateEmpty, nil
	}
	frame, err := s.capture(ctx)
	if err != nil {
		return StateUnknown, err
	}
	state := Classify(frame, ui, true)
	if s.logger != nil {
		s.logger.Debug("screen classified", "state", state.String())
	}
	return state, nil
}

// Unlock replays the unlock sequence until the screen stops classifying
// as locked.
func (s *Service) Unlock(ctx context.Context) error {
	ui := s.store.Snapshot()
	seq := NewSequencer(s.clicker, s.State, s.logger)
	return seq.Run(ctx, ui, s.Window())
}

// ClickUnlockPoint clicks the desktop unlock button blindly, without
// classifying first. Startup bursts use it to cover a lock screen that may
// appear mid-launch.
func (s *Service) ClickUnlockPoint(ctx context.Context) error {
	p, err := resolveTarget(config.UnlockTargetButton, s.store.Snapshot(), s.Window())
	if err != nil {
		return err
	}
	return s.clicker.Click(ctx, p.X, p.Y)
}

// MenuVisible probes the in-game main-menu marker on a device screenshot.
func (s *Service) MenuVisible(ctx context.Context) (bool, error) {
	ui := s.store.Snapshot()
	frame, err := s.device.Screenshot(ctx)
	if err != nil {
		return false, err
	}
	menu := ui.MenuButton()
	return Detect(frame, menu.Position.Pt(), menu.Detection)
}

// PixelColor reports the RGB triple at window-relative coordinates on the
// compositor surface.
func (s *Service) PixelColor(ctx context.Context, x, y int) (r, g, b int, err error) {
	frame, err := s.capture(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	b0 := frame.Bounds()
	r, g, b, ok := frame.At(b0.Min.X+x, b0.Min.Y+y)
	if !ok {
		return 0, 0, 0, errors.NewInconclusiveError("pixel", "coordinates outside window")
	}
	return r, g, b, nil
}
