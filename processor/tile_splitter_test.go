package processor

import (
	"fmt"
	"sync/atomic"
	"testing"
)

func TestSplitRows(t *testing.T) {
	g := projectedGrid(4, 10, 30)
	tiles := splitRows(g, 4)
	if len(tiles) != 3 {
		t.Fatalf("expected 3 tiles, actual %d", len(tiles))
	}
	last := tiles[2]
	if last.Row0 != 8 || last.Row1 != 10 {
		t.Errorf("expected last tile rows [8, 10), actual [%d, %d)", last.Row0, last.Row1)
	}
	if i0, i1 := last.Offsets(); i0 != 32 || i1 != 40 {
		t.Errorf("expected offsets [32, 40), actual [%d, %d)", i0, i1)
	}

	if tiles := splitRows(g, 0); len(tiles) != 1 {
		t.Errorf("expected the default tile height to cover the grid, got %d tiles", len(tiles))
	}
}

func TestTileRunner(t *testing.T) {
	g := projectedGrid(5, 9, 30)

	var rows int64
	err := NewTileRunner(3, 2).Run(g, func(tile RowTile) error {
		atomic.AddInt64(&rows, int64(tile.Row1-tile.Row0))
		return nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rows != 9 {
		t.Errorf("expected 9 rows visited, actual %d", rows)
	}

	err = NewTileRunner(3, 2).Run(g, func(tile RowTile) error {
		if tile.Row0 == 4 {
			return fmt.Errorf("tile %d failed", tile.Row0)
		}
		return nil
	})
	if err == nil || err.Error() != "tile 4 failed" {
		t.Errorf("expected the tile error, actual %v", err)
	}
}
