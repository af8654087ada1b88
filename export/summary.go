package export

import (
	"fmt"
	"sort"

	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/raster"
	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
)

// ClassArea is the area a class covers within one categorical layer.
type ClassArea struct {
	Layer   string  `parquet:"layer" json:"layer"`
	Code    int32   `parquet:"code" json:"code"`
	Class   string  `parquet:"class" json:"class"`
	Pixels  int64   `parquet:"pixels" json:"pixels"`
	AreaHa  float64 `parquet:"area_ha" json:"area_ha"`
	Percent float64 `parquet:"percent" json:"percent"`
}

type classifier struct {
	band string
	// code maps a pixel value to a class code, ok false skips the pixel.
	code func(v float64) (int, bool)
	name func(code int) string
}

func classCode(v float64) (int, bool) {
	return int(v), v > 0
}

var summaryLayers = []classifier{
	{band: processor.TextureBand, code: classCode, name: processor.TextureName},
	{band: processor.HSGBand, code: classCode, name: processor.HSGLetter},
	{band: processor.SlopeClassBand, code: classCode, name: processor.SlopeClassName},
	{band: processor.LandCoverBand, code: classCode, name: processor.LandCoverName},
	{
		band: processor.RunoffCNBand,
		code: func(v float64) (int, bool) { return processor.RunoffBucketIndex(v) + 1, true },
		name: func(code int) string { return processor.RunoffBuckets[code-1] },
	},
}

// ClassAreas tallies the area of every class of the categorical layers
// present in stack. Curve numbers are grouped into runoff buckets.
func ClassAreas(stack *raster.Stack) []ClassArea {
	var rows []ClassArea
	for _, c := range summaryLayers {
		r, ok := stack.Band(c.band)
		if !ok {
			continue
		}

		pixels := map[int]int64{}
		areas := map[int]float64{}
		var total float64
		g := r.Grid
		for y := 0; y < g.Height; y++ {
			cx, cy := g.CellMetres(y)
			cellHa := cx * cy / 10000.
			for x := 0; x < g.Width; x++ {
				v := r.At(x, y)
				if r.IsNoData(v) {
					continue
				}
				code, ok := c.code(v)
				if !ok {
					continue
				}
				pixels[code]++
				areas[code] += cellHa
				total += cellHa
			}
		}

		var codes []int
		for code := range pixels {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			row := ClassArea{
				Layer:  c.band,
				Code:   int32(code),
				Class:  c.name(code),
				Pixels: pixels[code],
				AreaHa: areas[code],
			}
			if total > 0 {
				row.Percent = areas[code] / total * 100.
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func WriteSummaryParquet(path string, rows []ClassArea) error {
	return parquet.WriteFile(path, rows)
}

var summaryHeader = []interface{}{"Code", "Class", "Pixels", "Area (ha)", "Percent"}

// WriteSummaryXLSX writes one sheet per layer.
func WriteSummaryXLSX(path string, rows []ClassArea) error {
	wb := excelize.NewFile()
	defer wb.Close()

	sheets := map[string]int{}
	first := true
	for _, r := range rows {
		n, found := sheets[r.Layer]
		if !found {
			if first {
				if err := wb.SetSheetName("Sheet1", r.Layer); err != nil {
					return err
				}
				first = false
			} else if _, err := wb.NewSheet(r.Layer); err != nil {
				return err
			}
			if err := wb.SetSheetRow(r.Layer, "A1", &summaryHeader); err != nil {
				return err
			}
			n = 1
		}
		n++
		sheets[r.Layer] = n

		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		values := []interface{}{r.Code, r.Class, r.Pixels, r.AreaHa, r.Percent}
		if err := wb.SetSheetRow(r.Layer, cell, &values); err != nil {
			return fmt.Errorf("summary sheet %s: %v", r.Layer, err)
		}
	}
	return wb.SaveAs(path)
}
