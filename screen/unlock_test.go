package screen

import (
	"context"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/errors"
)

type recordingClicker struct {
	clicks []image.Point
	err    error
}

func (c *recordingClicker) Click(_ context.Context, x, y int) error {
	if c.err != nil {
		return c.err
	}
	c.clicks = append(c.clicks, image.Pt(x, y))
	return nil
}

// scriptedStates yields classification results in order, repeating the last.
func scriptedStates(states ...State) func(context.Context) (State, error) {
	i := 0
	return func(context.Context) (State, error) {
		s := states[min(i, len(states)-1)]
		i++
		return s, nil
	}
}

func newTestSequencer(c Clicker, classify func(context.Context) (State, error)) *Sequencer {
	s := NewSequencer(c, classify, nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

var testWindow = image.Rect(5, 29, 5+1024, 29+600)

func TestUnlockAlreadyUnlockedIsNoop(t *testing.T) {
	c := &recordingClicker{}
	s := newTestSequencer(c, scriptedStates(StateLoaded))
	if err := s.Run(context.Background(), config.DefaultUI(), testWindow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.clicks) != 0 {
		t.Errorf("clicked %v on an unlocked screen", c.clicks)
	}
}

func TestUnlockSucceedsFirstAttempt(t *testing.T) {
	c := &recordingClicker{}
	s := newTestSequencer(c, scriptedStates(StateLocked, StateLoaded))
	ui := config.DefaultUI()
	if err := s.Run(context.Background(), ui, testWindow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []image.Point{
		{X: 5 + 512, Y: 29 + 300}, // center
		{X: 5 + 129, Y: 29 + 104}, // unlock button
	}
	if len(c.clicks) != len(want) {
		t.Fatalf("clicks = %v, want %v", c.clicks, want)
	}
	for i, pt := range want {
		if c.clicks[i] != pt {
			t.Errorf("click %d = %v, want %v", i, c.clicks[i], pt)
		}
	}
}

func TestUnlockRetriesThenSucceeds(t *testing.T) {
	c := &recordingClicker{}
	s := newTestSequencer(c, scriptedStates(StateLocked, StateLocked, StateLoaded))
	if err := s.Run(context.Background(), config.DefaultUI(), testWindow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.clicks) != 4 {
		t.Errorf("clicks = %d, want 4 across two attempts", len(c.clicks))
	}
}

func TestUnlockExhaustsAttempts(t *testing.T) {
	c := &recordingClicker{}
	s := newTestSequencer(c, scriptedStates(StateLocked))
	err := s.Run(context.Background(), config.DefaultUI(), testWindow)
	if err == nil {
		t.Fatal("screen never unlocks, want error")
	}
	if !errors.IsRetryable(err) {
		t.Errorf("exhausted unlock should be an action error, got %v", err)
	}
	if len(c.clicks) != 4 {
		t.Errorf("clicks = %d, want 4 for max_attempts 2", len(c.clicks))
	}
}

func TestUnlockClickFailureSurfaces(t *testing.T) {
	c := &recordingClicker{err: fmt.Errorf("display gone")}
	s := newTestSequencer(c, scriptedStates(StateLocked))
	if err := s.Run(context.Background(), config.DefaultUI(), testWindow); err == nil {
		t.Fatal("click failure should surface")
	}
}

func TestUnlockCancellation(t *testing.T) {
	c := &recordingClicker{}
	s := NewSequencer(c, scriptedStates(StateLocked), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, config.DefaultUI(), testWindow); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
