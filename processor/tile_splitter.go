package processor

import (
	"github.com/nci/runoff/raster"
)

const defaultTileRows = 256

// RowTile is a horizontal strip of a grid, rows [Row0, Row1).
type RowTile struct {
	Row0, Row1 int
	Width      int
}

// Offsets returns the flat index range of the tile.
func (t RowTile) Offsets() (int, int) {
	return t.Row0 * t.Width, t.Row1 * t.Width
}

func splitRows(grid raster.Grid, tileRows int) []RowTile {
	if tileRows <= 0 {
		tileRows = defaultTileRows
	}
	var out []RowTile
	for y := 0; y < grid.Height; y += tileRows {
		y1 := y + tileRows
		if y1 > grid.Height {
			y1 = grid.Height
		}
		out = append(out, RowTile{Row0: y, Row1: y1, Width: grid.Width})
	}
	return out
}

// TileRunner evaluates a per-tile function over every row tile of a
// grid with a bounded number of goroutines. Tiles write disjoint ranges
// of the output so no synchronisation is needed on the pixel data.
type TileRunner struct {
	Workers  int
	TileRows int
}

func NewTileRunner(workers, tileRows int) *TileRunner {
	return &TileRunner{Workers: workers, TileRows: tileRows}
}

// Run returns the first error raised by any tile.
func (tr *TileRunner) Run(grid raster.Grid, fn func(RowTile) error) error {
	tiles := splitRows(grid, tr.TileRows)
	if len(tiles) == 1 {
		return fn(tiles[0])
	}

	cLimiter := NewConcLimiter(tr.Workers)
	for _, tile := range tiles {
		t := tile
		cLimiter.Go(func() error { return fn(t) })
	}
	return cLimiter.Wait()
}
