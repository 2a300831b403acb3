// Package device is the adb transport to the Android container: input
// dispatch, app lifecycle, foreground-activity queries, and screenshots.
// Every operation shells out to adb; failures are transient and surface as
// action errors, never as crashes.
package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/jnjsoftone/jnj-android/capture"
	"github.com/jnjsoftone/jnj-android/errors"
)

// Runner abstracts command execution for testability.
type Runner interface {
	// Run executes a command under ctx and returns its stdout.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner executes commands using os/exec.
type ExecRunner struct{}

// Run executes a command and returns its stdout.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// Launch spawns a long-lived process without waiting for it to exit. The
// child is deliberately not bound to ctx: a launched compositor or session
// must outlive the request that started it. Output goes to the null device
// so the child never blocks on an inherited pipe.
func (ExecRunner) Launch(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Controller drives one adb device.
type Controller struct {
	adbPath      string
	deviceID     string
	shellTimeout time.Duration
	runner       Runner
	logger       *slog.Logger
}

// NewController creates a controller for the given device endpoint.
func NewController(adbPath, deviceID string, shellTimeout time.Duration, runner Runner, logger *slog.Logger) *Controller {
	if runner == nil {
		runner = ExecRunner{}
	}
	if shellTimeout <= 0 {
		shellTimeout = 30 * time.Second
	}
	return &Controller{
		adbPath:      adbPath,
		deviceID:     deviceID,
		shellTimeout: shellTimeout,
		runner:       runner,
		logger:       logger,
	}
}

func (c *Controller) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.shellTimeout)
	defer cancel()
	return c.runner.Run(ctx, c.adbPath, args...)
}

func (c *Controller) deviceArgs(args ...string) []string {
	return append([]string{"-s", c.deviceID}, args...)
}

// Connect attaches to the device endpoint. Success when adb reports
// connected or already-connected.
func (c *Controller) Connect(ctx context.Context) error {
	out, err := c.run(ctx, "connect", c.deviceID)
	if err != nil {
		return errors.NewDependencyError("transport", err)
	}
	s := strings.ToLower(string(out))
	if !strings.Contains(s, "connected") {
		return errors.NewDependencyError("transport",
			fmt.Errorf("adb connect: %s", strings.TrimSpace(string(out))))
	}
	if c.logger != nil {
		c.logger.Info("adb connected", "device", c.deviceID)
	}
	return nil
}

// Disconnect detaches from the device endpoint. Best effort.
func (c *Controller) Disconnect(ctx context.Context) {
	_, _ = c.run(ctx, "disconnect", c.deviceID)
}

// IsConnected reports whether the device answers with state "device".
func (c *Controller) IsConnected(ctx context.Context) bool {
	out, err := c.run(ctx, c.deviceArgs("get-state")...)
	return err == nil && strings.TrimSpace(string(out)) == "device"
}

// Shell executes a shell command on the device and returns its output.
func (c *Controller) Shell(ctx context.Context, command string) (string, error) {
	out, err := c.run(ctx, c.deviceArgs("shell", command)...)
	if err != nil {
		return string(out), errors.NewActionError("shell", err)
	}
	return string(out), nil
}

// Tap issues an input tap at device coordinates.
func (c *Controller) Tap(ctx context.Context, x, y int) error {
	if _, err := c.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y)); err != nil {
		return errors.NewActionError("tap", err)
	}
	if c.logger != nil {
		c.logger.Debug("tap", "x", x, "y", y)
	}
	return nil
}

// Swipe issues an input swipe between two points over durMs milliseconds.
func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2, durMs int) error {
	cmd := fmt.Sprintf("input swipe %d %d %d %d %d", x1, y1, x2, y2, durMs)
	if _, err := c.Shell(ctx, cmd); err != nil {
		return errors.NewActionError("swipe", err)
	}
	return nil
}

// Key sends a key event by name (see keymap.go) or numeric keycode.
func (c *Controller) Key(ctx context.Context, name string) error {
	code, err := Keycode(name)
	if err != nil {
		return errors.NewActionError("keyevent", err)
	}
	if _, err := c.Shell(ctx, "input keyevent "+code); err != nil {
		return errors.NewActionError("keyevent", err)
	}
	return nil
}

// StartApp foregrounds the app, via an explicit activity when given,
// otherwise through the launcher intent.
func (c *Controller) StartApp(ctx context.Context, pkg, activity string) error {
	var cmd string
	if activity != "" {
		cmd = fmt.Sprintf("am start -n %s/%s", pkg, activity)
	} else {
		cmd = fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", pkg)
	}
	out, err := c.Shell(ctx, cmd)
	if err != nil {
		return errors.NewActionError("start-app", err)
	}
	if strings.Contains(strings.ToLower(out), "error") {
		return errors.NewActionError("start-app", fmt.Errorf("%s", strings.TrimSpace(out)))
	}
	if c.logger != nil {
		c.logger.Info("app start requested", "package", pkg, "activity", activity)
	}
	return nil
}

// StopApp force-stops the app.
func (c *Controller) StopApp(ctx context.Context, pkg string) error {
	if _, err := c.Shell(ctx, "am force-stop "+pkg); err != nil {
		return errors.NewActionError("stop-app", err)
	}
	return nil
}

// IsAppRunning reports whether a process for pkg exists.
func (c *Controller) IsAppRunning(ctx context.Context, pkg string) bool {
	out, err := c.Shell(ctx, "pidof "+pkg)
	return err == nil && strings.TrimSpace(out) != ""
}

// CurrentFocus returns the device's current focus line from the window
// manager, e.g. "Window{... com.example/com.example.MainActivity}". Empty
// when no focus is reported.
func (c *Controller) CurrentFocus(ctx context.Context) (string, error) {
	out, err := c.Shell(ctx, "dumpsys window")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "mCurrentFocus") {
			return strings.TrimSpace(line), nil
		}
	}
	return "", nil
}

// Screenshot captures the device screen and decodes it into a frame.
func (c *Controller) Screenshot(ctx context.Context) (*capture.Frame, error) {
	out, err := c.run(ctx, c.deviceArgs("exec-out", "screencap", "-p")...)
	if err != nil {
		return nil, errors.NewActionError("screencap", err)
	}
	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, errors.NewActionError("screencap", fmt.Errorf("decode: %w", err))
	}
	return capture.FromImage(img, time.Now()), nil
}

// PixelColor returns the RGB triple at device coordinates, capturing a fresh
// screenshot.
func (c *Controller) PixelColor(ctx context.Context, x, y int) (r, g, b int, err error) {
	frame, err := c.Screenshot(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	r, g, b, ok := frame.At(x, y)
	if !ok {
		return 0, 0, 0, errors.NewActionError("pixel-color",
			fmt.Errorf("(%d, %d) outside %v", x, y, frame.Bounds()))
	}
	return r, g, b, nil
}

// Info returns basic device properties for diagnostics.
func (c *Controller) Info(ctx context.Context) (map[string]string, error) {
	props := map[string]string{"device": c.deviceID}
	for _, p := range []struct{ key, prop string }{
		{"model", "ro.product.model"},
		{"android_version", "ro.build.version.release"},
		{"sdk", "ro.build.version.sdk"},
	} {
		out, err := c.Shell(ctx, "getprop "+p.prop)
		if err != nil {
			return nil, err
		}
		props[p.key] = strings.TrimSpace(out)
	}
	if out, err := c.Shell(ctx, "wm size"); err == nil {
		if _, size, ok := strings.Cut(out, ":"); ok {
			props["screen"] = strings.TrimSpace(size)
		}
	}
	return props, nil
}
