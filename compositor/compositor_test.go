package compositor

import (
	"context"
	"fmt"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/jnjsoftone/jnj-android/errors"
)

type fakeRunner struct {
	calls   []string
	outputs map[string][]byte
	errs    map[string]error
	// after this many pgrep calls the process "appears"
	appearsAfter int
	pgrepCalls   int
}

func (f *fakeRunner) Launch(_ context.Context, name string, args ...string) error {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	return nil
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if name == "pgrep" {
		f.pgrepCalls++
		if f.appearsAfter > 0 && f.pgrepCalls >= f.appearsAfter {
			return []byte("1234\n"), nil
		}
	}
	for key, err := range f.errs {
		if strings.Contains(call, key) {
			return nil, err
		}
	}
	for key, out := range f.outputs {
		if strings.Contains(call, key) {
			return out, nil
		}
	}
	return nil, nil
}

type fakeFinder struct {
	rect  image.Rectangle
	found bool
	// window appears after this many lookups; 0 means static
	appearsAfter int
	lookups      int
}

func (f *fakeFinder) FindWindow(string) (image.Rectangle, bool, error) {
	f.lookups++
	if f.appearsAfter > 0 && f.lookups >= f.appearsAfter {
		return f.rect, true, nil
	}
	return f.rect, f.found, nil
}

func newTestWeston(r Runner, f WindowFinder) *Weston {
	w := NewWeston("weston", "Waydroid", "weston --socket=waydroid", ":10.0", 500*time.Millisecond, r, f, nil)
	w.pollInterval = time.Millisecond
	return w
}

func TestWestonReady(t *testing.T) {
	r := &fakeRunner{outputs: map[string][]byte{"pgrep -x weston": []byte("42\n")}}
	f := &fakeFinder{rect: image.Rect(5, 29, 1029, 629), found: true}
	if !newTestWeston(r, f).Ready(context.Background()) {
		t.Error("process up and window mapped, want ready")
	}

	// alive but no window
	f = &fakeFinder{found: false}
	if newTestWeston(r, f).Ready(context.Background()) {
		t.Error("no window, want not ready")
	}

	// window but no process
	r = &fakeRunner{}
	f = &fakeFinder{found: true}
	if newTestWeston(r, f).Ready(context.Background()) {
		t.Error("no process, want not ready")
	}
}

func TestWestonStartWaitsForWindow(t *testing.T) {
	r := &fakeRunner{appearsAfter: 2}
	f := &fakeFinder{rect: image.Rect(0, 0, 1024, 600), appearsAfter: 3}
	w := newTestWeston(r, f)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	launched := false
	for _, c := range r.calls {
		if strings.Contains(c, "sh -c weston") {
			launched = true
		}
	}
	if !launched {
		t.Errorf("start command never ran: %v", r.calls)
	}
}

func TestWestonStartTimesOut(t *testing.T) {
	r := &fakeRunner{outputs: map[string][]byte{"pgrep -x weston": []byte("42\n")}}
	f := &fakeFinder{found: false}
	w := newTestWeston(r, f)
	w.startTimeout = 10 * time.Millisecond
	err := w.Start(context.Background())
	if err == nil {
		t.Fatal("window never appears, want error")
	}
	if !errors.Is(err, errors.ErrCompositorUnavailable) {
		t.Errorf("err = %v, want ErrCompositorUnavailable", err)
	}
	if !errors.IsFatal(err) {
		t.Errorf("compositor failure should be fatal, got %v", err)
	}
}

func TestWestonStartAlreadyReady(t *testing.T) {
	r := &fakeRunner{outputs: map[string][]byte{"pgrep -x weston": []byte("42\n")}}
	f := &fakeFinder{found: true}
	if err := newTestWeston(r, f).Start(context.Background()); err != nil {
		t.Fatalf("Start on ready compositor: %v", err)
	}
	for _, c := range r.calls {
		if strings.HasPrefix(c, "sh -c") {
			t.Errorf("ready compositor relaunched: %v", r.calls)
		}
	}
}

func TestWestonStartCancellation(t *testing.T) {
	r := &fakeRunner{}
	f := &fakeFinder{found: false}
	w := newTestWeston(r, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// blockingRunner simulates a host whose launched process never exits: any
// attempt to execute the launch command through Run stalls until released.
type blockingRunner struct {
	fakeRunner
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if name == "sh" {
		<-b.release
	}
	return b.fakeRunner.Run(ctx, name, args...)
}

func TestWestonStartDoesNotWaitForProcessExit(t *testing.T) {
	r := &blockingRunner{
		fakeRunner: fakeRunner{appearsAfter: 3},
		release:    make(chan struct{}),
	}
	defer close(r.release)
	f := &fakeFinder{rect: image.Rect(0, 0, 1024, 600), appearsAfter: 2}
	w := newTestWeston(r, f)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start blocked on the compositor process lifetime")
	}
	launched := false
	for _, c := range r.calls {
		if strings.Contains(c, "sh -c weston") {
			launched = true
		}
	}
	if !launched {
		t.Errorf("start command never launched: %v", r.calls)
	}
}

func TestSessionStartDoesNotWaitForScriptExit(t *testing.T) {
	r := &blockingRunner{
		fakeRunner: fakeRunner{
			appearsAfter: 2,
			outputs:      map[string][]byte{"waydroid status": []byte("Session:\tRUNNING\n")},
		},
		release: make(chan struct{}),
	}
	defer close(r.release)
	s := newTestSession(r)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start blocked on the session script lifetime")
	}
}

func newTestSession(r Runner) *Session {
	s := NewSession("waydroid session", "start-waydroid.sh", 100*time.Millisecond, 0, r, nil)
	s.pollInterval = time.Millisecond
	return s
}

func TestSessionStatusParsing(t *testing.T) {
	out := []byte("Session:\tRUNNING\nContainer:\tRUNNING\nVendor type:\tMAINLINE\n")
	r := &fakeRunner{outputs: map[string][]byte{"waydroid status": out}}
	got, err := newTestSession(r).Status(context.Background())
	if err != nil || got != "RUNNING" {
		t.Errorf("Status = %q, %v, want RUNNING", got, err)
	}

	r = &fakeRunner{outputs: map[string][]byte{"waydroid status": []byte("Session:\tSTOPPED\n")}}
	got, err = newTestSession(r).Status(context.Background())
	if err != nil || got != "STOPPED" {
		t.Errorf("Status = %q, %v, want STOPPED", got, err)
	}

	r = &fakeRunner{errs: map[string]error{"waydroid status": fmt.Errorf("command not found")}}
	if _, err := newTestSession(r).Status(context.Background()); !errors.IsFatal(err) {
		t.Errorf("status query failure should be fatal, got %v", err)
	}
}

func TestSessionStartBecomesRunning(t *testing.T) {
	r := &fakeRunner{
		appearsAfter: 2,
		outputs:      map[string][]byte{"waydroid status": []byte("Session:\tRUNNING\n")},
	}
	if err := newTestSession(r).Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestSessionStartTimesOut(t *testing.T) {
	r := &fakeRunner{outputs: map[string][]byte{"waydroid status": []byte("Session:\tSTOPPED\n")}}
	err := newTestSession(r).Start(context.Background())
	if !errors.Is(err, errors.ErrSessionUnavailable) {
		t.Errorf("err = %v, want ErrSessionUnavailable", err)
	}
}

func TestSessionStopIdleIsNoop(t *testing.T) {
	r := &fakeRunner{}
	if err := newTestSession(r).Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for _, c := range r.calls {
		if strings.Contains(c, "session stop") {
			t.Errorf("stop issued for idle session: %v", r.calls)
		}
	}
}
