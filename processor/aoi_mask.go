package processor

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/nci/runoff/raster"
)

// AOIMask flags the pixels of grid whose centre lies inside aoi or on
// its edge. aoi must be in the grid's reference system.
func AOIMask(runner *TileRunner, grid raster.Grid, aoi geom.Polygonal) ([]bool, error) {
	b := grid.Bounds()
	gridBounds := &geom.Bounds{Min: geom.Point{X: b[0], Y: b[1]}, Max: geom.Point{X: b[2], Y: b[3]}}
	if !aoi.Bounds().Overlaps(gridBounds) {
		return nil, fmt.Errorf("area of interest does not overlap the input grid %v", grid)
	}

	mask := make([]bool, grid.Size())
	err := runner.Run(grid, func(t RowTile) error {
		for y := t.Row0; y < t.Row1; y++ {
			for x := 0; x < grid.Width; x++ {
				cx, cy := grid.CellCentre(x, y)
				mask[y*grid.Width+x] = geom.Point{X: cx, Y: cy}.Within(aoi) != geom.Outside
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mask, nil
}

// ClipStack sets every pixel outside mask to the no-data value of its
// band.
func ClipStack(stack *raster.Stack, mask []bool) (*raster.Stack, error) {
	if len(mask) != stack.Grid().Size() {
		return nil, fmt.Errorf("mask of %d pixels for grid %v", len(mask), stack.Grid())
	}
	var clipped []*raster.Raster
	for _, name := range stack.BandNames() {
		r, _ := stack.Band(name)
		out := r.Derive(r.Name, r.NoData, "clip:aoi")
		for i, in := range mask {
			if in {
				out.Data[i] = r.Data[i]
			}
		}
		clipped = append(clipped, out)
	}
	return stack.ReplaceBands(clipped...)
}
