package processor

import (
	"fmt"

	"github.com/nci/runoff/raster"
)

// MedianMosaic composites several scenes on the same grid into one stack
// by taking, per band and pixel, the median of the valid observations.
// It is the fallback when no single scene covers enough of the AOI.
type MedianMosaic struct {
	Runner *TileRunner
}

func NewMedianMosaic(runner *TileRunner) *MedianMosaic {
	return &MedianMosaic{Runner: runner}
}

func (m *MedianMosaic) Composite(scenes []*raster.Stack, bands ...string) (*raster.Stack, error) {
	if len(scenes) == 0 {
		return nil, fmt.Errorf("median mosaic: no scenes")
	}
	grid := scenes[0].Grid()
	for _, s := range scenes[1:] {
		if !s.Grid().Equal(grid) {
			return nil, &raster.GridMismatchError{Band: "mosaic", Expected: grid, Actual: s.Grid()}
		}
	}
	if len(bands) == 0 {
		bands = scenes[0].BandNames()
	}

	out := raster.NewStack(grid)
	for _, name := range bands {
		inputs := make([]*raster.Raster, len(scenes))
		for i, s := range scenes {
			r, err := s.Require("median mosaic", name)
			if err != nil {
				return nil, fmt.Errorf("scene %d: %v", i, err)
			}
			inputs[i] = r[0]
		}

		composite := inputs[0].Derive(name, inputs[0].NoData, fmt.Sprintf("median_mosaic:%d", len(scenes)))
		err := m.Runner.Run(grid, func(t RowTile) error {
			obs := make([]float64, 0, len(inputs))
			i0, i1 := t.Offsets()
			for i := i0; i < i1; i++ {
				obs = obs[:0]
				for _, r := range inputs {
					if v := r.Data[i]; !r.IsNoData(v) {
						obs = append(obs, v)
					}
				}
				if len(obs) > 0 {
					composite.Data[i] = median(obs)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		out, err = out.AddBands(composite)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
