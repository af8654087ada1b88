package processor

import (
	"github.com/nci/runoff/raster"
)

const NDVIBand = "NDVI"

// NormalizedDifference computes (a - b) / (a + b). Pixels where either
// input is no-data or the denominator is zero are no-data.
func NormalizedDifference(runner *TileRunner, stack *raster.Stack, a, b, name string) (*raster.Raster, error) {
	bands, err := stack.Require("normalized difference", a, b)
	if err != nil {
		return nil, err
	}
	ra, rb := bands[0], bands[1]

	out := ra.Derive(name, raster.DefaultNoData, "normalized_difference:"+a+","+b)
	err = runner.Run(stack.Grid(), func(t RowTile) error {
		i0, i1 := t.Offsets()
		for i := i0; i < i1; i++ {
			va, vb := ra.Data[i], rb.Data[i]
			if ra.IsNoData(va) || rb.IsNoData(vb) || va+vb == 0 {
				continue
			}
			out.Data[i] = (va - vb) / (va + vb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NDVI derives the vegetation index from the NIR and Red bands.
func NDVI(runner *TileRunner, stack *raster.Stack) (*raster.Raster, error) {
	return NormalizedDifference(runner, stack, "NIR", "Red", NDVIBand)
}
