package screen

import (
	"encoding/json"
	"image"

	"github.com/jnjsoftone/jnj-android/capture"
	"github.com/jnjsoftone/jnj-android/config"
)

// State is the classified condition of the compositor window.
type State int

const (
	// StateUnknown is the fallback when no rule can be judged.
	StateUnknown State = iota
	// StateEmpty means the container session is not running at all.
	StateEmpty
	// StateBlack means the window is rendering but showing a black frame.
	StateBlack
	// StateLocked means the Android lockscreen is up.
	StateLocked
	// StateLoading means the session is booting, screen mostly monochrome.
	StateLoading
	// StateLoaded means the home screen is up and interactive.
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBlack:
		return "black"
	case StateLocked:
		return "locked"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the state name rather than the enum value.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Classify judges one frame against the detection snapshot. Rules are
// checked in a fixed order: a dead session wins over everything, then black
// screen, then lockscreen, then the loading-vs-loaded heuristic. Frames that
// cannot be sampled classify as unknown rather than guessing.
func Classify(f *capture.Frame, ui *config.UI, sessionRunning bool) State {
	if !sessionRunning {
		return StateEmpty
	}
	if f == nil || ui == nil {
		return StateUnknown
	}
	b := f.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return StateUnknown
	}

	center := image.Pt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)
	if black, err := Detect(f, center, ui.BlackScreen()); err == nil && black {
		return StateBlack
	}

	unlock := ui.UnlockButton()
	if locked, err := Detect(f, unlock.Position.Pt(), unlock.Detection); err == nil && locked {
		return StateLocked
	}

	if colorful(f, ui.Desktop.LoadedCheck) {
		return StateLoaded
	}
	return StateLoading
}

// colorful samples a horizontal band in the lower-middle of the frame and
// reports whether enough of it is saturated. App icons make the band
// colorful; a boot splash leaves it flat.
func colorful(f *capture.Frame, lc config.LoadedCheck) bool {
	b := f.Bounds()
	w, h := b.Dx(), b.Dy()
	y := b.Min.Y + int(float64(h)*lc.BandYRatio)
	xMin := b.Min.X + int(float64(w)*lc.BandXMinRatio)
	xMax := b.Min.X + int(float64(w)*lc.BandXMaxRatio)

	var hits, total int
	for x := xMin; x <= xMax; x += lc.XStep {
		for dy := -lc.YSpan; dy <= lc.YSpan; dy += lc.YStep {
			r, g, b8, ok := f.At(x, y+dy)
			if !ok {
				continue
			}
			total++
			hi := max(r, g, b8)
			lo := min(r, g, b8)
			if hi-lo > lc.SpreadMin && hi > lc.BrightnessMin {
				hits++
			}
		}
	}
	return total > 0 && float64(hits)/float64(total) > lc.ColorfulRatio
}
