// Package server exposes the control surface over HTTP. Handlers are thin:
// they parse, delegate to the domain layers, and encode the outcome. All
// responses share one JSON envelope.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/errors"
	"github.com/jnjsoftone/jnj-android/game"
	"github.com/jnjsoftone/jnj-android/screen"
)

// ScreenAPI is the screen surface the server exposes.
type ScreenAPI interface {
	State(ctx context.Context) (screen.State, error)
	Unlock(ctx context.Context) error
	MenuVisible(ctx context.Context) (bool, error)
	PixelColor(ctx context.Context, x, y int) (r, g, b int, err error)
}

// GameAPI is the app-lifecycle surface the server exposes.
type GameAPI interface {
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Running(ctx context.Context) bool
	OnMainActivity(ctx context.Context) bool
}

// ReadyAPI runs the readiness orchestration.
type ReadyAPI interface {
	EnsureReady(ctx context.Context) (*game.Result, error)
}

// Supervisor is the start/stop/status surface shared by the compositor and
// session supervisors.
type Supervisor interface {
	Ready(ctx context.Context) bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DeviceAPI is the raw-input surface the server exposes.
type DeviceAPI interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durMs int) error
	IsConnected(ctx context.Context) bool
	Info(ctx context.Context) (map[string]string, error)
}

// Server routes the HTTP control API.
type Server struct {
	scr    ScreenAPI
	app    GameAPI
	ready  ReadyAPI
	comp   Supervisor
	sess   Supervisor
	dev    DeviceAPI
	store  *config.Store
	budget time.Duration
	logger *slog.Logger
	mux    *http.ServeMux
}

// New wires the routes. budget caps each orchestration request.
func New(scr ScreenAPI, app GameAPI, ready ReadyAPI, comp, sess Supervisor, dev DeviceAPI, store *config.Store, budget time.Duration, logger *slog.Logger) *Server {
	s := &Server{
		scr:    scr,
		app:    app,
		ready:  ready,
		comp:   comp,
		sess:   sess,
		dev:    dev,
		store:  store,
		budget: budget,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/screen/state", s.handleScreenState)
	s.mux.HandleFunc("POST /api/screen/unlock", s.handleScreenUnlock)
	s.mux.HandleFunc("GET /api/screen/pixel", s.handleScreenPixel)

	s.mux.HandleFunc("POST /api/game/start", s.handleGameStart)
	s.mux.HandleFunc("POST /api/game/stop", s.handleGameStop)
	s.mux.HandleFunc("POST /api/game/restart", s.handleGameRestart)
	s.mux.HandleFunc("GET /api/game/status", s.handleGameStatus)
	s.mux.HandleFunc("GET /api/game/main-screen", s.handleMainScreen)

	s.mux.HandleFunc("POST /api/compositor/start", s.supervisorStart(func() Supervisor { return s.comp }))
	s.mux.HandleFunc("POST /api/compositor/stop", s.supervisorStop(func() Supervisor { return s.comp }))
	s.mux.HandleFunc("GET /api/compositor/status", s.supervisorStatus(func() Supervisor { return s.comp }))
	s.mux.HandleFunc("POST /api/session/start", s.supervisorStart(func() Supervisor { return s.sess }))
	s.mux.HandleFunc("POST /api/session/stop", s.supervisorStop(func() Supervisor { return s.sess }))
	s.mux.HandleFunc("GET /api/session/status", s.supervisorStatus(func() Supervisor { return s.sess }))

	s.mux.HandleFunc("POST /api/device/tap", s.handleDeviceTap)
	s.mux.HandleFunc("POST /api/device/swipe", s.handleDeviceSwipe)
	s.mux.HandleFunc("GET /api/device/info", s.handleDeviceInfo)

	s.mux.HandleFunc("POST /api/config/reload", s.handleConfigReload)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	if s.logger != nil {
		s.logger.Info("control api listening", "addr", addr)
	}
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil && s.logger != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsFatal(err):
		status = http.StatusServiceUnavailable
	case errors.IsRetryable(err):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, envelope{OK: false, Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, envelope{OK: false, Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{
		"compositor": s.comp.Ready(r.Context()),
		"session":    s.sess.Ready(r.Context()),
		"device":     s.dev.IsConnected(r.Context()),
	})
}

func (s *Server) handleScreenState(w http.ResponseWriter, r *http.Request) {
	state, err := s.scr.State(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"state": state.String()})
}

func (s *Server) handleScreenUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.scr.Unlock(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) handleScreenPixel(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.URL.Query().Get("x"))
	y, errY := strconv.Atoi(r.URL.Query().Get("y"))
	if errX != nil || errY != nil {
		s.badRequest(w, "x and y query parameters required")
		return
	}
	red, green, blue, err := s.scr.PixelColor(r.Context(), x, y)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]int{"r": red, "g": green, "b": blue})
}

// handleGameStart runs the full readiness orchestration under the
// configured budget. Concurrent calls are coalesced by the orchestrator and
// share one result.
func (s *Server) handleGameStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}
	res, err := s.ready.EnsureReady(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, resultPayload(res))
}

func (s *Server) handleGameStop(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Stop(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) handleGameRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Restart(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) handleGameStatus(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]bool{
		"running":       s.app.Running(r.Context()),
		"main_activity": s.app.OnMainActivity(r.Context()),
	})
}

// handleMainScreen reports whether the game currently sits on its main
// screen, without driving it there.
func (s *Server) handleMainScreen(w http.ResponseWriter, r *http.Request) {
	onMain := s.app.OnMainActivity(r.Context())
	menu, err := s.scr.MenuVisible(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]bool{
		"main_activity": onMain,
		"menu_visible":  menu,
		"main_screen":   onMain && menu,
	})
}

func resultPayload(res *game.Result) map[string]any {
	return map[string]any{
		"outcome":    res.Outcome.String(),
		"reason":     res.Reason,
		"last_state": res.LastState.String(),
		"elapsed_ms": res.Elapsed.Milliseconds(),
		"events":     res.Events,
	}
}

func (s *Server) supervisorStart(get func() Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := get().Start(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		s.ok(w, nil)
	}
}

func (s *Server) supervisorStop(get func() Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := get().Stop(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		s.ok(w, nil)
	}
}

func (s *Server) supervisorStatus(get func() Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.ok(w, map[string]bool{"ready": get().Ready(r.Context())})
	}
}

type tapRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (s *Server) handleDeviceTap(w http.ResponseWriter, r *http.Request) {
	var req tapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if err := s.dev.Tap(r.Context(), req.X, req.Y); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, nil)
}

type swipeRequest struct {
	X1         int `json:"x1"`
	Y1         int `json:"y1"`
	X2         int `json:"x2"`
	Y2         int `json:"y2"`
	DurationMs int `json:"duration_ms"`
}

func (s *Server) handleDeviceSwipe(w http.ResponseWriter, r *http.Request) {
	var req swipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.DurationMs <= 0 {
		req.DurationMs = 300
	}
	if err := s.dev.Swipe(r.Context(), req.X1, req.Y1, req.X2, req.Y2, req.DurationMs); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.dev.Info(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, info)
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reload(); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"version": s.store.Snapshot().Desktop.Version})
}
