package tracker

import (
	"fmt"
	"image/color"
	"math"

	"github.com/fogleman/gg"
)

const (
	plotW      = 800
	plotH      = 500
	plotMargin = 60.0
)

// SaveRewardCurve renders the mean episode reward against total
// environment steps as a PNG at path. The series must be the same
// length and non-empty.
func SaveRewardCurve(path string, steps, rewards []float64) error {
	if len(steps) != len(rewards) {
		return fmt.Errorf("saverewardcurve: series lengths differ "+
			"\n\tsteps(%v) \n\trewards(%v)", len(steps), len(rewards))
	}
	if len(steps) == 0 {
		return fmt.Errorf("saverewardcurve: nothing to plot")
	}

	minX, maxX := steps[0], steps[0]
	minY, maxY := rewards[0], rewards[0]
	for i := range steps {
		minX = math.Min(minX, steps[i])
		maxX = math.Max(maxX, steps[i])
		minY = math.Min(minY, rewards[i])
		maxY = math.Max(maxY, rewards[i])
	}
	if maxX == minX {
		maxX = minX + 1
	}
	if maxY == minY {
		maxY = minY + 1
	}

	toPixel := func(x, y float64) (float64, float64) {
		px := plotMargin + (x-minX)/(maxX-minX)*
			(float64(plotW)-2*plotMargin)
		py := float64(plotH) - plotMargin - (y-minY)/(maxY-minY)*
			(float64(plotH)-2*plotMargin)
		return px, py
	}

	dc := gg.NewContext(plotW, plotH)
	dc.SetColor(color.White)
	dc.Clear()

	// Axes
	dc.SetColor(color.Black)
	dc.SetLineWidth(1.5)
	dc.DrawLine(plotMargin, plotMargin, plotMargin,
		float64(plotH)-plotMargin)
	dc.DrawLine(plotMargin, float64(plotH)-plotMargin,
		float64(plotW)-plotMargin, float64(plotH)-plotMargin)
	dc.Stroke()

	dc.DrawStringAnchored(fmt.Sprintf("%.3g", minX), plotMargin,
		float64(plotH)-plotMargin/2, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3g", maxX),
		float64(plotW)-plotMargin, float64(plotH)-plotMargin/2, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3g", minY), plotMargin/2,
		float64(plotH)-plotMargin, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3g", maxY), plotMargin/2,
		plotMargin, 0.5, 0.5)
	dc.DrawStringAnchored("environment steps", float64(plotW)/2,
		float64(plotH)-plotMargin/4, 0.5, 0.5)

	// Reward curve
	dc.ClearPath()
	dc.SetColor(color.RGBA{R: 128, G: 102, B: 230, A: 255})
	dc.SetLineWidth(2.0)
	for i := range steps {
		px, py := toPixel(steps[i], rewards[i])
		dc.LineTo(px, py)
	}
	dc.Stroke()

	return dc.SavePNG(path)
}
