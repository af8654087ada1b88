package processor

import (
	"testing"

	"github.com/nci/runoff/raster"
)

func TestMedianMosaic(t *testing.T) {
	g := projectedGrid(3, 1, 10)
	nd := raster.DefaultNoData
	scenes := []*raster.Stack{
		mustStack(t, g, filledBand("NIR", g, nd, 0.3, nd, nd)),
		mustStack(t, g, filledBand("NIR", g, nd, 0.1, 0.4, nd)),
		mustStack(t, g, filledBand("NIR", g, nd, 0.2, 0.2, nd)),
	}

	out, err := NewMedianMosaic(NewTileRunner(1, 0)).Composite(scenes)
	if err != nil {
		t.Fatalf("mosaic failed: %v", err)
	}
	nir, _ := out.Band("NIR")
	expected := []float64{0.2, 0.3, nd}
	for i := range expected {
		if !almostEqual(nir.Data[i], expected[i]) {
			t.Errorf("expected %v, actual %v", expected, nir.Data)
			break
		}
	}

	other := mustStack(t, projectedGrid(2, 1, 10), filledBand("NIR", projectedGrid(2, 1, 10), nd, 1, 1))
	if _, err := NewMedianMosaic(NewTileRunner(1, 0)).Composite(append(scenes, other)); err == nil {
		t.Errorf("expected a grid mismatch error")
	}
}

func TestNDVI(t *testing.T) {
	g := projectedGrid(3, 1, 10)
	nd := raster.DefaultNoData
	stack := mustStack(t, g,
		filledBand("NIR", g, nd, 0.5, 0, nd),
		filledBand("Red", g, nd, 0.1, 0, 0.2),
	)
	out, err := NDVI(NewTileRunner(1, 0), stack)
	if err != nil {
		t.Fatalf("ndvi failed: %v", err)
	}
	if !almostEqual(out.Data[0], 0.4/0.6) {
		t.Errorf("expected %v, actual %v", 0.4/0.6, out.Data[0])
	}
	if !out.IsNoData(out.Data[1]) || !out.IsNoData(out.Data[2]) {
		t.Errorf("expected no-data where the index is undefined, actual %v", out.Data)
	}
}
