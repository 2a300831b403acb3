package game

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jnjsoftone/jnj-android/config"
)

type launcherDevice struct {
	fakeDevice
	startErr     error
	startedPkgs  []string
	stoppedPkgs  []string
	focusOnStart string
}

func (d *launcherDevice) StartApp(_ context.Context, pkg, activity string) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.startedPkgs = append(d.startedPkgs, pkg+"/"+activity)
	d.focus = d.focusOnStart
	return nil
}

func (d *launcherDevice) StopApp(_ context.Context, pkg string) error {
	d.stoppedPkgs = append(d.stoppedPkgs, pkg)
	return nil
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		Package:         "com.lilithgames.rok.gpkr",
		MainActivity:    "com.harry.engine.MainActivity",
		StartTimeoutSec: 30,
	}
}

func newTestLauncher(dev Device) (*Launcher, *fakeClock) {
	l := NewLauncher(dev, testGameConfig(), nil)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestLauncherStartForegroundsApp(t *testing.T) {
	dev := &launcherDevice{
		focusOnStart: "mCurrentFocus=Window{abc u0 com.lilithgames.rok.gpkr/com.harry.engine.MainActivity}",
	}
	l, _ := newTestLauncher(dev)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(dev.startedPkgs) != 1 || !strings.Contains(dev.startedPkgs[0], "com.harry.engine.MainActivity") {
		t.Errorf("started = %v", dev.startedPkgs)
	}
}

func TestLauncherStartAlreadyForegroundIsNoop(t *testing.T) {
	dev := &launcherDevice{}
	dev.focus = "mCurrentFocus=Window{abc u0 com.lilithgames.rok.gpkr/com.harry.engine.MainActivity}"
	l, _ := newTestLauncher(dev)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(dev.startedPkgs) != 0 {
		t.Errorf("foregrounded app relaunched: %v", dev.startedPkgs)
	}
}

func TestLauncherStartTimesOut(t *testing.T) {
	dev := &launcherDevice{focusOnStart: "mCurrentFocus=Window{launcher}"}
	l, _ := newTestLauncher(dev)
	err := l.Start(context.Background())
	if err == nil {
		t.Fatal("app never takes focus, want error")
	}
	if !strings.Contains(err.Error(), "focus") {
		t.Errorf("err = %v", err)
	}
}

func TestLauncherStartFailureSurfaces(t *testing.T) {
	dev := &launcherDevice{startErr: fmt.Errorf("device offline")}
	l, _ := newTestLauncher(dev)
	if err := l.Start(context.Background()); err == nil {
		t.Fatal("start failure should surface")
	}
}

func TestLauncherOnMainActivity(t *testing.T) {
	dev := &launcherDevice{}
	l, _ := newTestLauncher(dev)

	for focus, want := range map[string]bool{
		"mCurrentFocus=Window{x com.lilithgames.rok.gpkr/com.harry.engine.MainActivity}": true,
		"mCurrentFocus=Window{x com.lilithgames.rok.gpkr/.MainActivity}":                 true,
		"mCurrentFocus=Window{x com.lilithgames.rok.gpkr/com.other.LoginActivity}":       false,
		"mCurrentFocus=Window{x com.android.launcher/.Launcher}":                         false,
		"": false,
	} {
		dev.focus = focus
		if got := l.OnMainActivity(context.Background()); got != want {
			t.Errorf("OnMainActivity(%q) = %v, want %v", focus, got, want)
		}
	}
}

func TestLauncherRestart(t *testing.T) {
	dev := &launcherDevice{
		focusOnStart: "mCurrentFocus=Window{x com.lilithgames.rok.gpkr/com.harry.engine.MainActivity}",
	}
	l, _ := newTestLauncher(dev)
	if err := l.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if len(dev.stoppedPkgs) != 1 {
		t.Errorf("stops = %v, want one force-stop", dev.stoppedPkgs)
	}
	if len(dev.startedPkgs) != 1 {
		t.Errorf("starts = %v, want one start", dev.startedPkgs)
	}
}

func TestLauncherBackground(t *testing.T) {
	dev := &launcherDevice{}
	l, _ := newTestLauncher(dev)
	if err := l.Background(context.Background()); err != nil {
		t.Fatalf("Background: %v", err)
	}
	if len(dev.keys) != 1 || dev.keys[0] != "HOME" {
		t.Errorf("keys = %v, want [HOME]", dev.keys)
	}
}
