package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/errors"
	"github.com/jnjsoftone/jnj-android/game"
	"github.com/jnjsoftone/jnj-android/screen"
)

type stubScreen struct {
	state    screen.State
	stateErr error
	unlocked bool
	menu     bool
}

func (s *stubScreen) State(context.Context) (screen.State, error) { return s.state, s.stateErr }
func (s *stubScreen) Unlock(context.Context) error {
	s.unlocked = true
	return nil
}
func (s *stubScreen) MenuVisible(context.Context) (bool, error) { return s.menu, nil }
func (s *stubScreen) PixelColor(_ context.Context, x, y int) (int, int, int, error) {
	if x < 0 || y < 0 {
		return 0, 0, 0, errors.NewInconclusiveError("pixel", "out of window")
	}
	return 10, 20, 30, nil
}

type stubGame struct {
	running  bool
	onMain   bool
	stops    int
	restarts int
}

func (g *stubGame) Stop(context.Context) error {
	g.stops++
	return nil
}
func (g *stubGame) Restart(context.Context) error {
	g.restarts++
	return nil
}
func (g *stubGame) Running(context.Context) bool        { return g.running }
func (g *stubGame) OnMainActivity(context.Context) bool { return g.onMain }

type stubReady struct {
	res         *game.Result
	calls       int
	hadDeadline bool
}

func (r *stubReady) EnsureReady(ctx context.Context) (*game.Result, error) {
	r.calls++
	_, r.hadDeadline = ctx.Deadline()
	return r.res, nil
}

type stubSupervisor struct {
	ready   bool
	started bool
	stopped bool
}

func (s *stubSupervisor) Ready(context.Context) bool { return s.ready }
func (s *stubSupervisor) Start(context.Context) error {
	s.started = true
	return nil
}
func (s *stubSupervisor) Stop(context.Context) error {
	s.stopped = true
	return nil
}

type stubDevice struct {
	taps      []string
	connected bool
}

func (d *stubDevice) Tap(_ context.Context, x, y int) error {
	d.taps = append(d.taps, fmt.Sprintf("%d,%d", x, y))
	return nil
}
func (d *stubDevice) Swipe(context.Context, int, int, int, int, int) error { return nil }
func (d *stubDevice) IsConnected(context.Context) bool                     { return d.connected }
func (d *stubDevice) Info(context.Context) (map[string]string, error) {
	return map[string]string{"model": "waydroid"}, nil
}

type fixture struct {
	srv   *Server
	scr   *stubScreen
	app   *stubGame
	ready *stubReady
	comp  *stubSupervisor
	sess  *stubSupervisor
	dev   *stubDevice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := config.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		scr:  &stubScreen{state: screen.StateLoaded, menu: true},
		app:  &stubGame{running: true, onMain: true},
		comp: &stubSupervisor{ready: true},
		sess: &stubSupervisor{ready: true},
		dev:  &stubDevice{connected: true},
	}
	f.ready = &stubReady{res: &game.Result{
		Outcome:   game.OutcomeSuccess,
		LastState: screen.StateLoaded,
	}}
	f.srv = New(f.scr, f.app, f.ready, f.comp, f.sess, f.dev, store, 5*time.Minute, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: bad envelope: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, "GET", "/health", "")
	if rec.Code != http.StatusOK || env["ok"] != true {
		t.Fatalf("health = %d %v", rec.Code, env)
	}
	data := env["data"].(map[string]any)
	for _, key := range []string{"compositor", "session", "device"} {
		if data[key] != true {
			t.Errorf("%s = %v, want true", key, data[key])
		}
	}
}

func TestScreenState(t *testing.T) {
	f := newFixture(t)
	f.scr.state = screen.StateLocked
	_, env := f.do(t, "GET", "/api/screen/state", "")
	data := env["data"].(map[string]any)
	if data["state"] != "locked" {
		t.Errorf("state = %v, want locked", data["state"])
	}
}

func TestScreenStateFailureStatus(t *testing.T) {
	f := newFixture(t)
	f.scr.stateErr = errors.NewDependencyError("compositor", fmt.Errorf("display gone"))
	rec, env := f.do(t, "GET", "/api/screen/state", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503 for a fatal error", rec.Code)
	}
	if env["ok"] != false {
		t.Errorf("envelope = %v", env)
	}
}

func TestScreenUnlock(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, "POST", "/api/screen/unlock", "")
	if rec.Code != http.StatusOK || !f.scr.unlocked {
		t.Errorf("unlock: code = %d, unlocked = %v", rec.Code, f.scr.unlocked)
	}
}

func TestScreenPixel(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, "GET", "/api/screen/pixel?x=100&y=200", "")
	data := env["data"].(map[string]any)
	if data["r"] != float64(10) || data["g"] != float64(20) || data["b"] != float64(30) {
		t.Errorf("pixel = %v", data)
	}

	rec, _ := f.do(t, "GET", "/api/screen/pixel?x=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400 for bad params", rec.Code)
	}
}

func TestGameLifecycle(t *testing.T) {
	f := newFixture(t)
	for path, counter := range map[string]*int{
		"/api/game/stop":    &f.app.stops,
		"/api/game/restart": &f.app.restarts,
	} {
		rec, _ := f.do(t, "POST", path, "")
		if rec.Code != http.StatusOK || *counter != 1 {
			t.Errorf("%s: code = %d, count = %d", path, rec.Code, *counter)
		}
	}

	_, env := f.do(t, "GET", "/api/game/status", "")
	data := env["data"].(map[string]any)
	if data["running"] != true || data["main_activity"] != true {
		t.Errorf("status = %v", data)
	}
}

func TestGameStartRunsOrchestration(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, "POST", "/api/game/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if f.ready.calls != 1 {
		t.Errorf("EnsureReady calls = %d, want 1", f.ready.calls)
	}
	if !f.ready.hadDeadline {
		t.Error("orchestration ran without the configured budget deadline")
	}
	data := env["data"].(map[string]any)
	if data["outcome"] != "success" || data["last_state"] != "loaded" {
		t.Errorf("start = %v", data)
	}
}

func TestMainScreenCheck(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, "GET", "/api/game/main-screen", "")
	data := env["data"].(map[string]any)
	if data["main_screen"] != true {
		t.Errorf("main-screen = %v", data)
	}

	f.scr.menu = false
	_, env = f.do(t, "GET", "/api/game/main-screen", "")
	data = env["data"].(map[string]any)
	if data["main_screen"] != false || data["main_activity"] != true {
		t.Errorf("main-screen with hidden menu = %v", data)
	}
	if f.ready.calls != 0 {
		t.Errorf("main-screen check triggered orchestration %d times", f.ready.calls)
	}
}

func TestSupervisorRoutes(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/compositor/start", "")
	f.do(t, "POST", "/api/session/stop", "")
	if !f.comp.started {
		t.Error("compositor start not routed")
	}
	if !f.sess.stopped {
		t.Error("session stop not routed")
	}

	_, env := f.do(t, "GET", "/api/session/status", "")
	data := env["data"].(map[string]any)
	if data["ready"] != true {
		t.Errorf("session status = %v", data)
	}
}

func TestDeviceTap(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, "POST", "/api/device/tap", `{"x": 512, "y": 284}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(f.dev.taps) != 1 || f.dev.taps[0] != "512,284" {
		t.Errorf("taps = %v", f.dev.taps)
	}

	rec, _ = f.do(t, "POST", "/api/device/tap", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestConfigReload(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, "POST", "/api/config/reload", "")
	if rec.Code != http.StatusOK || env["ok"] != true {
		t.Errorf("reload = %d %v", rec.Code, env)
	}
}

func TestMethodRouting(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest("GET", "/api/game/start", nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on POST route = %d, want 405", rec.Code)
	}
}
