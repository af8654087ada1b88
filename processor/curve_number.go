package processor

import (
	"fmt"
	"math"
	"sort"

	"github.com/nci/runoff/raster"
)

const (
	LandCoverBand = "LandCover"
	CNBaseBand    = "cn_base"
	RunoffCNBand  = "Runoff_CN"
)

// cnTable maps a land cover code to a curve number for one HSG.
type cnTable map[int]float64

// CurveNumberTable holds the per-HSG land cover lookups of one land
// cover product edition. Index 0 (unknown group) is always empty.
type CurveNumberTable struct {
	Edition string
	Product string
	byHSG   [5]cnTable
}

// Lookup returns the curve number of a land cover code under a group.
// ok is false for an unknown group or a code outside the table.
func (t *CurveNumberTable) Lookup(group, code int) (float64, bool) {
	if group <= HSGUnknown || group > HSGD {
		return 0, false
	}
	cn, ok := t.byHSG[group][code]
	return cn, ok
}

// Codes returns the land cover codes of the table, ascending.
func (t *CurveNumberTable) Codes() []int {
	var codes []int
	for code := range t.byHSG[HSGA] {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

func newCurveNumberTable(edition, product string, codes []int, a, b, c, d []float64) *CurveNumberTable {
	t := &CurveNumberTable{Edition: edition, Product: product}
	for g, vals := range [][]float64{a, b, c, d} {
		m := make(cnTable, len(codes))
		for i, code := range codes {
			m[code] = vals[i]
		}
		t.byHSG[g+1] = m
	}
	return t
}

// ESA WorldCover classes: tree cover, shrubland, grassland, cropland,
// built-up, bare/sparse, herbaceous wetland, mangroves. Snow, water and
// moss (70, 80, 100) have no curve number.
var worldCoverCodes = []int{10, 20, 30, 40, 50, 60, 90, 95}

var landCoverNames = map[int]string{
	10: "Tree cover", 20: "Shrubland", 30: "Grassland", 40: "Cropland",
	50: "Built-up", 60: "Bare / sparse vegetation", 70: "Snow and ice",
	80: "Permanent water bodies", 90: "Herbaceous wetland", 95: "Mangroves",
	100: "Moss and lichen",
}

func LandCoverName(code int) string {
	return landCoverNames[code]
}

var curveNumberTables = map[string]*CurveNumberTable{
	"2020": newCurveNumberTable("2020", "ESA/WorldCover/v100", worldCoverCodes,
		[]float64{30, 39, 39, 67, 77, 77, 39, 30},
		[]float64{55, 61, 61, 78, 86, 86, 61, 55},
		[]float64{70, 74, 74, 85, 91, 91, 74, 70},
		[]float64{77, 80, 80, 89, 94, 94, 80, 77}),
	"2021": newCurveNumberTable("2021", "ESA/WorldCover/v200", worldCoverCodes,
		[]float64{30, 39, 39, 67, 77, 77, 39, 30},
		[]float64{55, 61, 61, 78, 86, 86, 61, 55},
		[]float64{70, 74, 74, 85, 91, 91, 74, 70},
		[]float64{77, 80, 80, 89, 94, 94, 80, 77}),
}

// CurveNumberTableFor returns the lookup of a land cover edition.
func CurveNumberTableFor(edition string) (*CurveNumberTable, error) {
	if t, ok := curveNumberTables[edition]; ok {
		return t, nil
	}
	var known []string
	for k := range curveNumberTables {
		known = append(known, k)
	}
	sort.Strings(known)
	return nil, fmt.Errorf("no curve number table for land cover edition %q, available: %v", edition, known)
}

// LandCoverProduct returns the product identifier of an edition.
func LandCoverProduct(edition string) (string, error) {
	t, err := CurveNumberTableFor(edition)
	if err != nil {
		return "", err
	}
	return t.Product, nil
}

// AdjustCurveNumber applies the slope correction to a base curve number.
// The result is not clamped; very steep slopes may exceed 100.
func AdjustCurveNumber(base, slopePercent float64) float64 {
	s := slopePercent / 100.
	remaining := 100. - base
	return base + (20.*s*remaining)/(remaining+math.Exp(7.5*s))
}

// RunoffBuckets lists the bucket names from lowest to highest.
var RunoffBuckets = []string{"Very Low", "Low", "Moderate", "High", "Very High"}

// RunoffBucket names the presentation bucket of a curve number.
func RunoffBucket(cn float64) string {
	return RunoffBuckets[RunoffBucketIndex(cn)]
}

var runoffBucketUpper = [...]float64{55, 70, 80, 90}

// RunoffBucketIndex returns the position of cn's bucket in RunoffBuckets.
func RunoffBucketIndex(cn float64) int {
	for i, upper := range runoffBucketUpper {
		if cn < upper {
			return i
		}
	}
	return len(runoffBucketUpper)
}

var curveNumberInputs = []string{SlopePercentBand, HSGBand, LandCoverBand}

type CurveNumberEngine struct {
	Runner *TileRunner
	Table  *CurveNumberTable
}

func NewCurveNumberEngine(runner *TileRunner, table *CurveNumberTable) *CurveNumberEngine {
	return &CurveNumberEngine{Runner: runner, Table: table}
}

// Compute returns the base and slope adjusted curve number bands. The
// request is rejected with a *raster.MissingBandError when any input is
// absent from the stack.
func (e *CurveNumberEngine) Compute(stack *raster.Stack) (*raster.Raster, *raster.Raster, error) {
	bands, err := stack.Require("curve number", curveNumberInputs...)
	if err != nil {
		return nil, nil, err
	}
	slope, hsg, lulc := bands[0], bands[1], bands[2]

	base := slope.Derive(CNBaseBand, raster.DefaultNoData, "cn_lookup:"+e.Table.Edition)
	runoff := slope.Derive(RunoffCNBand, raster.DefaultNoData, "cn_slope_adjust")

	err = e.Runner.Run(stack.Grid(), func(t RowTile) error {
		i0, i1 := t.Offsets()
		for i := i0; i < i1; i++ {
			g, code := hsg.Data[i], lulc.Data[i]
			if hsg.IsNoData(g) || lulc.IsNoData(code) {
				continue
			}
			// non-integral categories are unknown, never truncated
			if float64(int(g)) != g || float64(int(code)) != code {
				continue
			}
			cn, ok := e.Table.Lookup(int(g), int(code))
			if !ok {
				continue
			}
			base.Data[i] = cn

			pct := slope.Data[i]
			if slope.IsNoData(pct) {
				continue
			}
			runoff.Data[i] = AdjustCurveNumber(cn, pct)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return base, runoff, nil
}
