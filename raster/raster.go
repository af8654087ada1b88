package raster

import (
	"fmt"
	"math"
)

// DefaultNoData is the fill value used for derived floating point bands.
const DefaultNoData = -9999.

const gridTol = 1e-9

// Grid describes the extent, resolution and reference system shared
// by all the bands of a Stack. OriginX/OriginY is the upper-left
// corner, rows run southwards.
type Grid struct {
	OriginX    float64 `json:"origin_x"`
	OriginY    float64 `json:"origin_y"`
	CellSizeX  float64 `json:"cell_size_x"`
	CellSizeY  float64 `json:"cell_size_y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	CRS        string  `json:"crs"`
	Geographic bool    `json:"geographic"`
}

func (g Grid) Size() int {
	return g.Width * g.Height
}

// Equal reports whether two grids cover the same extent at the same
// resolution and in the same reference system.
func (g Grid) Equal(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height && g.CRS == o.CRS &&
		g.Geographic == o.Geographic &&
		math.Abs(g.OriginX-o.OriginX) <= gridTol &&
		math.Abs(g.OriginY-o.OriginY) <= gridTol &&
		math.Abs(g.CellSizeX-o.CellSizeX) <= gridTol &&
		math.Abs(g.CellSizeY-o.CellSizeY) <= gridTol
}

// CellCentre returns the map coordinates of the centre of pixel (x, y).
func (g Grid) CellCentre(x, y int) (float64, float64) {
	return g.OriginX + (float64(x)+.5)*g.CellSizeX, g.OriginY - (float64(y)+.5)*g.CellSizeY
}

// CellMetres returns the pixel size in metres at row y. Geographic
// grids are converted using the latitude of the row centre.
func (g Grid) CellMetres(y int) (float64, float64) {
	if !g.Geographic {
		return g.CellSizeX, g.CellSizeY
	}
	const metresPerDegree = 111320.
	_, lat := g.CellCentre(0, y)
	return g.CellSizeX * metresPerDegree * math.Cos(lat*math.Pi/180.), g.CellSizeY * metresPerDegree
}

// Bounds returns minX, minY, maxX, maxY.
func (g Grid) Bounds() []float64 {
	return []float64{g.OriginX, g.OriginY - float64(g.Height)*g.CellSizeY, g.OriginX + float64(g.Width)*g.CellSizeX, g.OriginY}
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d@(%g,%g) cell %gx%g %s", g.Width, g.Height, g.OriginX, g.OriginY, g.CellSizeX, g.CellSizeY, g.CRS)
}

// Raster is a single named band. Data is row-major over Grid.
type Raster struct {
	Name        string
	Grid        Grid
	Data        []float64
	NoData      float64
	NativeScale float64
	Lineage     []string
}

// New allocates a band filled with its no-data value.
func New(name string, grid Grid, noData float64) *Raster {
	data := make([]float64, grid.Size())
	for i := range data {
		data[i] = noData
	}
	return &Raster{Name: name, Grid: grid, Data: data, NoData: noData}
}

// IsNoData reports whether v is the band's no-data value. NaN is always no-data.
func (r *Raster) IsNoData(v float64) bool {
	return math.IsNaN(v) || v == r.NoData
}

func (r *Raster) At(x, y int) float64 {
	return r.Data[y*r.Grid.Width+x]
}

// Rename returns a shallow copy of the band under a new name. The pixel
// data is shared; bands are never mutated once in a Stack.
func (r *Raster) Rename(name string) *Raster {
	out := *r
	out.Name = name
	out.Lineage = append(append([]string{}, r.Lineage...), fmt.Sprintf("rename:%s", r.Name))
	return &out
}

// Derive allocates an empty band on the same grid carrying r's lineage.
func (r *Raster) Derive(name string, noData float64, step string) *Raster {
	out := New(name, r.Grid, noData)
	out.NativeScale = r.NativeScale
	out.Lineage = append(append([]string{}, r.Lineage...), step)
	return out
}

func (r *Raster) validate() error {
	if len(r.Name) == 0 {
		return fmt.Errorf("raster has no band name")
	}
	if len(r.Data) != r.Grid.Size() {
		return fmt.Errorf("band %s: %d values for a %dx%d grid", r.Name, len(r.Data), r.Grid.Width, r.Grid.Height)
	}
	return nil
}
