package processor

import (
	"fmt"
	"math"
	"sort"

	"github.com/nci/runoff/raster"
)

const (
	ElevationBand       = "elevation"
	SlopeDegreesBand    = "slope_degrees"
	SlopePercentBand    = "slope_percent"
	SlopeClassBand      = "slope_class"
	NoSlopeClass        = 0
	DefaultMedianRadius = 60.
)

// slopeClassUpper holds the inclusive upper bound (percent) of classes
// 1..6; anything above the last bound is class 7.
var slopeClassUpper = [...]float64{3, 7, 12, 25, 50, 75}

// SlopeClass returns the 1..7 class of a slope in percent. Intervals
// are (lower, upper] with class 1 open below.
func SlopeClass(percent float64) int {
	for i, upper := range slopeClassUpper {
		if percent <= upper {
			return i + 1
		}
	}
	return len(slopeClassUpper) + 1
}

// SlopeClassName describes the percent interval of a class.
func SlopeClassName(class int) string {
	switch {
	case class == 1:
		return fmt.Sprintf("0-%g%%", slopeClassUpper[0])
	case class > 1 && class <= len(slopeClassUpper):
		return fmt.Sprintf("%g-%g%%", slopeClassUpper[class-2], slopeClassUpper[class-1])
	case class == len(slopeClassUpper)+1:
		return fmt.Sprintf(">%g%%", slopeClassUpper[len(slopeClassUpper)-1])
	}
	return ""
}

// SlopeClassifier smooths elevation with a circular median filter,
// derives slope and bins it into seven classes.
type SlopeClassifier struct {
	Runner *TileRunner
	// MedianRadius is the filter radius in metres.
	MedianRadius float64
}

func NewSlopeClassifier(runner *TileRunner, medianRadius float64) *SlopeClassifier {
	if medianRadius <= 0 {
		medianRadius = DefaultMedianRadius
	}
	return &SlopeClassifier{Runner: runner, MedianRadius: medianRadius}
}

// Classify returns slope_degrees, slope_percent and slope_class.
func (c *SlopeClassifier) Classify(stack *raster.Stack) ([]*raster.Raster, error) {
	bands, err := stack.Require("slope", ElevationBand)
	if err != nil {
		return nil, err
	}
	dem := bands[0]

	smoothed, err := c.medianFilter(dem)
	if err != nil {
		return nil, err
	}

	degrees := dem.Derive(SlopeDegreesBand, raster.DefaultNoData, "terrain_slope")
	percent := dem.Derive(SlopePercentBand, raster.DefaultNoData, "slope_percent")
	classes := dem.Derive(SlopeClassBand, NoSlopeClass, "slope_class")

	grid := stack.Grid()
	err = c.Runner.Run(grid, func(t RowTile) error {
		for y := t.Row0; y < t.Row1; y++ {
			cx, cy := grid.CellMetres(y)
			for x := 0; x < grid.Width; x++ {
				i := y*grid.Width + x
				deg, ok := slopeDegrees(smoothed, x, y, cx, cy)
				if !ok {
					continue
				}
				pct := math.Tan(deg*math.Pi/180.) * 100.
				degrees.Data[i] = deg
				percent.Data[i] = pct
				classes.Data[i] = float64(SlopeClass(pct))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []*raster.Raster{degrees, percent, classes}, nil
}

type kernelOffset struct{ dx, dy int }

func circularKernel(radius, cx, cy float64) []kernelOffset {
	rx := int(math.Floor(radius / cx))
	ry := int(math.Floor(radius / cy))
	var out []kernelOffset
	for dy := -ry; dy <= ry; dy++ {
		for dx := -rx; dx <= rx; dx++ {
			mx, my := float64(dx)*cx, float64(dy)*cy
			if mx*mx+my*my <= radius*radius {
				out = append(out, kernelOffset{dx, dy})
			}
		}
	}
	return out
}

func (c *SlopeClassifier) medianFilter(dem *raster.Raster) (*raster.Raster, error) {
	grid := dem.Grid
	cx, cy := grid.CellMetres(grid.Height / 2)
	kernel := circularKernel(c.MedianRadius, cx, cy)

	out := dem.Derive(dem.Name, dem.NoData, "focal_median")
	err := c.Runner.Run(grid, func(t RowTile) error {
		window := make([]float64, 0, len(kernel))
		for y := t.Row0; y < t.Row1; y++ {
			for x := 0; x < grid.Width; x++ {
				if dem.IsNoData(dem.At(x, y)) {
					continue
				}
				window = window[:0]
				for _, k := range kernel {
					xx, yy := x+k.dx, y+k.dy
					if xx < 0 || yy < 0 || xx >= grid.Width || yy >= grid.Height {
						continue
					}
					if v := dem.At(xx, yy); !dem.IsNoData(v) {
						window = append(window, v)
					}
				}
				out.Data[y*grid.Width+x] = median(window)
			}
		}
		return nil
	})
	return out, err
}

func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2.
}

// slopeDegrees uses 4-connected central differences, falling back to a
// one-sided difference where a neighbour is off-grid or no-data.
func slopeDegrees(dem *raster.Raster, x, y int, cx, cy float64) (float64, bool) {
	z := dem.At(x, y)
	if dem.IsNoData(z) {
		return 0, false
	}

	sample := func(xx, yy int) (float64, bool) {
		if xx < 0 || yy < 0 || xx >= dem.Grid.Width || yy >= dem.Grid.Height {
			return 0, false
		}
		v := dem.At(xx, yy)
		return v, !dem.IsNoData(v)
	}

	gradient := func(lo, hi float64, okLo, okHi bool, step float64) (float64, bool) {
		switch {
		case okLo && okHi:
			return (hi - lo) / (2 * step), true
		case okHi:
			return (hi - z) / step, true
		case okLo:
			return (z - lo) / step, true
		}
		return 0, false
	}

	w, okW := sample(x-1, y)
	e, okE := sample(x+1, y)
	n, okN := sample(x, y-1)
	s, okS := sample(x, y+1)

	dzdx, okX := gradient(w, e, okW, okE, cx)
	dzdy, okY := gradient(n, s, okN, okS, cy)
	if !okX && !okY {
		return 0, false
	}
	return math.Atan(math.Hypot(dzdx, dzdy)) * 180. / math.Pi, true
}
