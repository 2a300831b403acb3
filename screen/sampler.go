// Package screen turns captured frames into screen states. Classification is
// a pure function of one frame and one detection snapshot; nothing here
// touches the display, the device, or the wall clock.
package screen

import (
	"fmt"
	"image"

	"github.com/jnjsoftone/jnj-android/capture"
	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/errors"
)

// MatchRatio samples the area around anchor and counts pixels falling inside
// the color range. Samples outside the frame are excluded from the total.
func MatchRatio(f *capture.Frame, anchor image.Point, area config.SampleArea, cr config.ColorRange) (matched, total int) {
	for _, off := range area.Points() {
		r, g, b, ok := f.At(anchor.X+off.X, anchor.Y+off.Y)
		if !ok {
			continue
		}
		total++
		if cr.Matches(r, g, b) {
			matched++
		}
	}
	return matched, total
}

// Detect applies one detection rule at its anchor. A rule whose samples all
// fall outside the frame cannot be judged and reports an inconclusive error.
func Detect(f *capture.Frame, anchor image.Point, det config.Detection) (bool, error) {
	matched, total := MatchRatio(f, anchor, det.SampleArea, det.ColorRange)
	if total == 0 {
		return false, errors.NewInconclusiveError("detect",
			fmt.Sprintf("no samples inside %v at %v", f.Bounds(), anchor))
	}
	if det.Threshold.MinPixels > 0 {
		return matched >= det.Threshold.MinPixels, nil
	}
	if det.Threshold.Ratio > 0 {
		return float64(matched)/float64(total) >= det.Threshold.Ratio, nil
	}
	return matched > 0, nil
}
