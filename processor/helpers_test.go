package processor

import (
	"math"
	"testing"

	"github.com/nci/runoff/raster"
)

const testTol = 1e-6

func projectedGrid(w, h int, cell float64) raster.Grid {
	return raster.Grid{OriginX: 300000, OriginY: 6300000, CellSizeX: cell, CellSizeY: cell, Width: w, Height: h, CRS: "EPSG:32719"}
}

func filledBand(name string, g raster.Grid, noData float64, vals ...float64) *raster.Raster {
	r := raster.New(name, g, noData)
	if len(vals) == 1 {
		for i := range r.Data {
			r.Data[i] = vals[0]
		}
		return r
	}
	copy(r.Data, vals)
	return r
}

func mustStack(t *testing.T, g raster.Grid, bands ...*raster.Raster) *raster.Stack {
	t.Helper()
	s, err := raster.NewStack(g).AddBands(bands...)
	if err != nil {
		t.Fatalf("failed to build stack: %v", err)
	}
	return s
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= testTol
}
