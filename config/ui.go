package config

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
)

// UI detection documents. Two JSON files describe the pixel-level knowledge
// about the desktop and the game: where to sample, which colors count as a
// match, and how many matches make a detection. The schema is typed and
// validated at load time; defaults live here, not at call sites.

const (
	DesktopDocName = "ui_desktop.json"
	GameDocName    = "ui_game.json"
)

// ChannelRange is one inclusive channel interval.
type ChannelRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v lies inside the interval.
func (r ChannelRange) Contains(v int) bool { return v >= r.Min && v <= r.Max }

// ColorRange holds three independent inclusive channel intervals. A pixel
// matches iff all three channels fall inside.
type ColorRange struct {
	R ChannelRange `json:"r"`
	G ChannelRange `json:"g"`
	B ChannelRange `json:"b"`
}

// Matches reports whether the RGB triple falls inside all three intervals.
func (c ColorRange) Matches(r, g, b int) bool {
	return c.R.Contains(r) && c.G.Contains(g) && c.B.Contains(b)
}

// AxisRange describes a strided interval of offsets along one axis.
type AxisRange struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step"`
}

// SampleArea describes the sample offsets of a detection region relative to
// its anchor. Exactly one shape should be set:
//   - Offsets: explicit (dx, dy) pairs
//   - XRange/YRange: a strided rectangular grid
//   - Width/Height: a dense box centered on the anchor
type SampleArea struct {
	Offsets [][2]int   `json:"offsets,omitempty"`
	XRange  *AxisRange `json:"x_range,omitempty"`
	YRange  *AxisRange `json:"y_range,omitempty"`
	Width   int        `json:"width,omitempty"`
	Height  int        `json:"height,omitempty"`
}

// Points resolves the area into concrete offsets. The result is never nil
// for a valid area; an empty area resolves to the anchor itself.
func (a SampleArea) Points() []image.Point {
	var pts []image.Point
	switch {
	case len(a.Offsets) > 0:
		for _, o := range a.Offsets {
			pts = append(pts, image.Pt(o[0], o[1]))
		}
	case a.XRange != nil && a.YRange != nil:
		xs, ys := *a.XRange, *a.YRange
		if xs.Step <= 0 {
			xs.Step = 1
		}
		if ys.Step <= 0 {
			ys.Step = 1
		}
		for dx := xs.Min; dx <= xs.Max; dx += xs.Step {
			for dy := ys.Min; dy <= ys.Max; dy += ys.Step {
				pts = append(pts, image.Pt(dx, dy))
			}
		}
	case a.Width > 0 && a.Height > 0:
		for dx := -(a.Width / 2); dx <= a.Width/2; dx++ {
			for dy := -(a.Height / 2); dy <= a.Height/2; dy++ {
				pts = append(pts, image.Pt(dx, dy))
			}
		}
	default:
		pts = append(pts, image.Pt(0, 0))
	}
	return pts
}

// Threshold decides when a detection fires: either a minimum ratio of
// matching samples or a minimum absolute count. Exactly one is consulted per
// rule; zero values fall back to the rule's default.
type Threshold struct {
	Ratio     float64 `json:"ratio,omitempty"`
	MinPixels int     `json:"min_pixels,omitempty"`
}

// Detection is one complete pixel rule: where to sample, what counts as a
// match, and how many matches are enough.
type Detection struct {
	SampleArea SampleArea `json:"sample_area"`
	ColorRange ColorRange `json:"color_range"`
	Threshold  Threshold  `json:"threshold"`
}

// Position is an absolute anchor point.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Pt converts to image.Point.
func (p Position) Pt() image.Point { return image.Pt(p.X, p.Y) }

// Element ties an anchor position to its detection rule.
type Element struct {
	Position  Position  `json:"position"`
	Detection Detection `json:"detection"`
}

// Geometry is a window rectangle in desktop coordinates.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the geometric center of the rectangle.
func (g Geometry) Center() image.Point { return image.Pt(g.X+g.Width/2, g.Y+g.Height/2) }

// LoadedCheck tunes the loading-vs-loaded heuristic: a strided band in the
// lower-middle of the window where app icons appear once the home screen is
// up. A sample is "colorful" when its channel spread exceeds SpreadMin and
// its brightest channel exceeds BrightnessMin.
type LoadedCheck struct {
	BandYRatio    float64 `json:"band_y_ratio"` // vertical anchor as fraction of window height
	BandXMinRatio float64 `json:"band_x_min_ratio"`
	BandXMaxRatio float64 `json:"band_x_max_ratio"`
	XStep         int     `json:"x_step"`
	YSpan         int     `json:"y_span"` // sampled dy in [-YSpan, YSpan]
	YStep         int     `json:"y_step"`
	BrightnessMin int     `json:"brightness_min"`
	SpreadMin     int     `json:"spread_min"`
	ColorfulRatio float64 `json:"colorful_ratio"` // empirically tuned; keep configurable
}

// Unlock sequence actions.
const (
	UnlockActionClick  = "click"
	UnlockTargetCenter = "center"
	UnlockTargetButton = "button_unlock"
)

// UnlockStep is one replayable step of the unlock sequence.
type UnlockStep struct {
	Action    string  `json:"action"`
	Target    string  `json:"target"`
	WaitAfter float64 `json:"wait_after"` // seconds
}

// UnlockRetry bounds the unlock sequence replay.
type UnlockRetry struct {
	MaxAttempts     int  `json:"max_attempts"`
	VerifyAfterEach bool `json:"verify_after_each"`
}

// UnlockSequence is the full unlock procedure.
type UnlockSequence struct {
	Steps []UnlockStep `json:"steps"`
	Retry UnlockRetry  `json:"retry"`
}

// DesktopDoc is the compositor-side document (ui_desktop.json).
type DesktopDoc struct {
	Version string `json:"version"`
	Display string `json:"display"`
	Window  struct {
		DefaultGeometry Geometry `json:"default_geometry"`
	} `json:"window"`
	Elements       map[string]Element `json:"elements"`
	LoadedCheck    LoadedCheck        `json:"loaded_check"`
	UnlockSequence UnlockSequence     `json:"unlock_sequence"`
}

// GameDoc is the in-game document (ui_game.json).
type GameDoc struct {
	Version          string `json:"version"`
	ScreenResolution struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"screen_resolution"`
	Buttons map[string]Element `json:"buttons"`
}

// UI is one immutable snapshot of both documents. It is fully populated
// after Load: accessor methods never return zero-valued rules.
type UI struct {
	Desktop DesktopDoc
	Game    GameDoc
}

// Element names used by the classifier and orchestrator.
const (
	ElemUnlockButton = "button_unlock"
	ElemBlackScreen  = "black_screen"
	ElemMenuMain     = "menu_main"
	ElemTapToStart   = "tap_to_start"
)

// DefaultUI returns a snapshot populated with the stock detection values for
// a 1024x600 compositor window.
func DefaultUI() *UI {
	ui := &UI{}
	ui.Desktop.Version = "1"
	ui.Desktop.Display = ":10.0"
	ui.Desktop.Window.DefaultGeometry = Geometry{X: 5, Y: 29, Width: 1024, Height: 600}
	ui.Desktop.Elements = map[string]Element{
		ElemUnlockButton: {
			Position: Position{X: 129, Y: 104},
			Detection: Detection{
				SampleArea: SampleArea{Width: 3, Height: 3},
				ColorRange: ColorRange{
					R: ChannelRange{Min: 130, Max: 145},
					G: ChannelRange{Min: 125, Max: 140},
					B: ChannelRange{Min: 125, Max: 135},
				},
				Threshold: Threshold{MinPixels: 1},
			},
		},
		ElemBlackScreen: {
			Detection: Detection{
				SampleArea: SampleArea{
					XRange: &AxisRange{Min: -10, Max: 10, Step: 5},
					YRange: &AxisRange{Min: -10, Max: 10, Step: 5},
				},
				ColorRange: ColorRange{
					R: ChannelRange{Min: 0, Max: 10},
					G: ChannelRange{Min: 0, Max: 10},
					B: ChannelRange{Min: 0, Max: 10},
				},
				Threshold: Threshold{Ratio: 0.8},
			},
		},
	}
	ui.Desktop.LoadedCheck = LoadedCheck{
		BandYRatio:    0.7,
		BandXMinRatio: 0.3,
		BandXMaxRatio: 0.7,
		XStep:         20,
		YSpan:         20,
		YStep:         10,
		BrightnessMin: 100,
		SpreadMin:     30,
		ColorfulRatio: 0.1,
	}
	ui.Desktop.UnlockSequence = UnlockSequence{
		Steps: []UnlockStep{
			{Action: UnlockActionClick, Target: UnlockTargetCenter, WaitAfter: 1},
			{Action: UnlockActionClick, Target: UnlockTargetButton, WaitAfter: 2},
		},
		Retry: UnlockRetry{MaxAttempts: 2, VerifyAfterEach: true},
	}

	ui.Game.Version = "1"
	ui.Game.ScreenResolution.Width = 1024
	ui.Game.ScreenResolution.Height = 568
	ui.Game.Buttons = map[string]Element{
		ElemMenuMain: {
			Position: Position{X: 990, Y: 530},
			Detection: Detection{
				SampleArea: SampleArea{Offsets: crossOffsets(-2, 0, 2)},
				ColorRange: ColorRange{
					R: ChannelRange{Min: 0, Max: 50},
					G: ChannelRange{Min: 60, Max: 140},
					B: ChannelRange{Min: 110, Max: 170},
				},
				Threshold: Threshold{MinPixels: 1},
			},
		},
		ElemTapToStart: {
			Position: Position{X: 512, Y: 284},
		},
	}
	return ui
}

// crossOffsets expands 1-D axis offsets into their (dx, dy) cross product.
func crossOffsets(vals ...int) [][2]int {
	out := make([][2]int, 0, len(vals)*len(vals))
	for _, dx := range vals {
		for _, dy := range vals {
			out = append(out, [2]int{dx, dy})
		}
	}
	return out
}

// Validate fills absent rules from the defaults and clamps nonsensical
// values so the classifier never consults a zero threshold.
func (u *UI) Validate() error {
	def := DefaultUI()
	if u.Desktop.Display == "" {
		u.Desktop.Display = def.Desktop.Display
	}
	if u.Desktop.Window.DefaultGeometry.Width <= 0 || u.Desktop.Window.DefaultGeometry.Height <= 0 {
		u.Desktop.Window.DefaultGeometry = def.Desktop.Window.DefaultGeometry
	}
	if u.Desktop.Elements == nil {
		u.Desktop.Elements = map[string]Element{}
	}
	for _, name := range []string{ElemUnlockButton, ElemBlackScreen} {
		el, ok := u.Desktop.Elements[name]
		if !ok {
			u.Desktop.Elements[name] = def.Desktop.Elements[name]
			continue
		}
		u.Desktop.Elements[name] = fillElement(el, def.Desktop.Elements[name])
	}
	lc := &u.Desktop.LoadedCheck
	dlc := def.Desktop.LoadedCheck
	if lc.BandYRatio <= 0 || lc.BandYRatio >= 1 {
		lc.BandYRatio = dlc.BandYRatio
	}
	if lc.BandXMinRatio <= 0 || lc.BandXMaxRatio <= lc.BandXMinRatio || lc.BandXMaxRatio >= 1 {
		lc.BandXMinRatio, lc.BandXMaxRatio = dlc.BandXMinRatio, dlc.BandXMaxRatio
	}
	if lc.XStep <= 0 {
		lc.XStep = dlc.XStep
	}
	if lc.YSpan <= 0 {
		lc.YSpan = dlc.YSpan
	}
	if lc.YStep <= 0 {
		lc.YStep = dlc.YStep
	}
	if lc.BrightnessMin <= 0 {
		lc.BrightnessMin = dlc.BrightnessMin
	}
	if lc.SpreadMin <= 0 {
		lc.SpreadMin = dlc.SpreadMin
	}
	if lc.ColorfulRatio <= 0 || lc.ColorfulRatio >= 1 {
		lc.ColorfulRatio = dlc.ColorfulRatio
	}
	if len(u.Desktop.UnlockSequence.Steps) == 0 {
		u.Desktop.UnlockSequence = def.Desktop.UnlockSequence
	}
	if u.Desktop.UnlockSequence.Retry.MaxAttempts <= 0 {
		u.Desktop.UnlockSequence.Retry.MaxAttempts = def.Desktop.UnlockSequence.Retry.MaxAttempts
	}

	if u.Game.ScreenResolution.Width <= 0 || u.Game.ScreenResolution.Height <= 0 {
		u.Game.ScreenResolution = def.Game.ScreenResolution
	}
	if u.Game.Buttons == nil {
		u.Game.Buttons = map[string]Element{}
	}
	for _, name := range []string{ElemMenuMain, ElemTapToStart} {
		el, ok := u.Game.Buttons[name]
		if !ok {
			u.Game.Buttons[name] = def.Game.Buttons[name]
			continue
		}
		u.Game.Buttons[name] = fillElement(el, def.Game.Buttons[name])
	}
	return nil
}

// fillElement completes a partially specified element. A document that names
// an element but leaves out its threshold, color range, or sample area gets
// that field's documented default, never a match-anything rule.
func fillElement(el, def Element) Element {
	if el.Position == (Position{}) {
		el.Position = def.Position
	}
	if el.Detection.Threshold == (Threshold{}) {
		el.Detection.Threshold = def.Detection.Threshold
	}
	if el.Detection.ColorRange == (ColorRange{}) {
		el.Detection.ColorRange = def.Detection.ColorRange
	}
	a := el.Detection.SampleArea
	if len(a.Offsets) == 0 && (a.XRange == nil || a.YRange == nil) && (a.Width <= 0 || a.Height <= 0) {
		el.Detection.SampleArea = def.Detection.SampleArea
	}
	return el
}

// UnlockButton returns the unlock-button element.
func (u *UI) UnlockButton() Element { return u.Desktop.Elements[ElemUnlockButton] }

// BlackScreen returns the black-screen detection rule.
func (u *UI) BlackScreen() Detection { return u.Desktop.Elements[ElemBlackScreen].Detection }

// MenuButton returns the main-menu marker element.
func (u *UI) MenuButton() Element { return u.Game.Buttons[ElemMenuMain] }

// TapToStart returns the tap-to-start anchor.
func (u *UI) TapToStart() Position { return u.Game.Buttons[ElemTapToStart].Position }

// LoadUI reads both documents from dir. A missing file contributes defaults;
// a malformed file is an error. The returned snapshot is validated and
// complete.
func LoadUI(dir string) (*UI, error) {
	ui := &UI{}
	if err := readDoc(filepath.Join(dir, DesktopDocName), &ui.Desktop); err != nil {
		return nil, fmt.Errorf("load %s: %w", DesktopDocName, err)
	}
	if err := readDoc(filepath.Join(dir, GameDocName), &ui.Game); err != nil {
		return nil, fmt.Errorf("load %s: %w", GameDocName, err)
	}
	_ = ui.Validate()
	return ui, nil
}

func readDoc(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
