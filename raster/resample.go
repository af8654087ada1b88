package raster

import (
	"fmt"
	"math"
	"strings"
)

type ResampleMethod int

const (
	Nearest ResampleMethod = iota
	Bilinear
)

func (m ResampleMethod) String() string {
	switch m {
	case Bilinear:
		return "bilinear"
	default:
		return "nearest"
	}
}

func ParseResampleMethod(s string) (ResampleMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	}
	return Nearest, fmt.Errorf("unknown resampling method: %s", s)
}

// Resample maps r onto grid. Both grids must share a reference system;
// reprojection is not supported. The step is recorded in the lineage
// of the returned band.
func Resample(r *Raster, grid Grid, method ResampleMethod) (*Raster, error) {
	if r.Grid.CRS != grid.CRS || r.Grid.Geographic != grid.Geographic {
		return nil, fmt.Errorf("band %s: cannot resample from %s to %s", r.Name, r.Grid.CRS, grid.CRS)
	}

	out := New(r.Name, grid, r.NoData)
	out.NativeScale = r.NativeScale
	out.Lineage = append(append([]string{}, r.Lineage...),
		fmt.Sprintf("resample:%s:%gx%g", method, grid.CellSizeX, grid.CellSizeY))

	src := r.Grid
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			mx, my := grid.CellCentre(x, y)
			// fractional pixel coordinates relative to source pixel centres
			fx := (mx-src.OriginX)/src.CellSizeX - .5
			fy := (src.OriginY-my)/src.CellSizeY - .5

			var v float64
			switch method {
			case Bilinear:
				v = bilinear(r, fx, fy)
			default:
				v = nearest(r, fx, fy)
			}
			out.Data[y*grid.Width+x] = v
		}
	}
	return out, nil
}

func nearest(r *Raster, fx, fy float64) float64 {
	ix, iy := int(math.Floor(fx+.5)), int(math.Floor(fy+.5))
	if ix < 0 || iy < 0 || ix >= r.Grid.Width || iy >= r.Grid.Height {
		return r.NoData
	}
	return r.At(ix, iy)
}

func bilinear(r *Raster, fx, fy float64) float64 {
	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	dx, dy := fx-float64(x0), fy-float64(y0)

	var sum, wsum float64
	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			x, y := x0+i, y0+j
			if x < 0 || y < 0 || x >= r.Grid.Width || y >= r.Grid.Height {
				continue
			}
			v := r.At(x, y)
			if r.IsNoData(v) {
				continue
			}
			w := (1 - math.Abs(float64(i)-dx)) * (1 - math.Abs(float64(j)-dy))
			sum += w * v
			wsum += w
		}
	}
	if wsum == 0 {
		return r.NoData
	}
	return sum / wsum
}
