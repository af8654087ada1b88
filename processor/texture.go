package processor

import (
	"github.com/nci/runoff/raster"
)

// Texture class band names. The alias is accepted on lookup only.
const (
	TextureBand      = "soil_texture_class"
	TextureBandAlias = "texture_class"
)

// NoTextureClass marks pixels where no USDA predicate holds or where
// an input fraction is missing.
const NoTextureClass = 0

// USDA texture classes.
const (
	Sand = iota + 1
	LoamySand
	SandyLoam
	Loam
	SiltLoam
	Silt
	SandyClayLoam
	ClayLoam
	SiltyClayLoam
	SandyClay
	SiltyClay
	Clay
)

var textureNames = [...]string{"", "Sand", "Loamy Sand", "Sandy Loam", "Loam", "Silt Loam", "Silt",
	"Sandy Clay Loam", "Clay Loam", "Silty Clay Loam", "Sandy Clay", "Silty Clay", "Clay"}

// TextureName returns the USDA name of a class, empty for the sentinel.
func TextureName(class int) string {
	if class < 0 || class >= len(textureNames) {
		return ""
	}
	return textureNames[class]
}

type texturePredicate struct {
	class int
	holds func(sand, silt, clay float64) bool
}

// textureRules is folded in order; a later rule overwrites an earlier
// one on the same pixel, so the highest matching class wins.
var textureRules = []texturePredicate{
	{Sand, func(sand, silt, clay float64) bool {
		return sand >= 85 && silt+clay*1.5 < 15
	}},
	{LoamySand, func(sand, silt, clay float64) bool {
		return sand >= 70 && sand < 90 && silt+clay*1.5 >= 15 && silt+clay*2 < 30
	}},
	{SandyLoam, func(sand, silt, clay float64) bool {
		return (clay >= 7 && clay < 20 && sand > 52 && silt+clay*2 >= 30) ||
			(clay < 7 && silt < 50 && silt+clay*2 >= 30)
	}},
	{Loam, func(sand, silt, clay float64) bool {
		return clay >= 7 && clay < 27 && silt >= 28 && silt < 50 && sand <= 52
	}},
	{SiltLoam, func(sand, silt, clay float64) bool {
		return (silt >= 50 && clay >= 12 && clay < 27) ||
			(silt >= 50 && silt < 80 && clay < 12)
	}},
	{Silt, func(sand, silt, clay float64) bool {
		return silt >= 80 && clay < 12
	}},
	{SandyClayLoam, func(sand, silt, clay float64) bool {
		return clay >= 20 && clay < 35 && silt < 28 && sand > 45
	}},
	{ClayLoam, func(sand, silt, clay float64) bool {
		return clay >= 27 && clay < 40 && sand > 20 && sand <= 45
	}},
	{SiltyClayLoam, func(sand, silt, clay float64) bool {
		return clay >= 27 && clay < 40 && sand <= 20
	}},
	{SandyClay, func(sand, silt, clay float64) bool {
		return clay >= 35 && sand >= 45
	}},
	{SiltyClay, func(sand, silt, clay float64) bool {
		return clay >= 40 && silt >= 40
	}},
	{Clay, func(sand, silt, clay float64) bool {
		return clay >= 40 && sand <= 45 && silt < 40
	}},
}

// ClassifyTexture returns the USDA class of one sand/silt/clay triple
// (percentages). Inputs are not checked to sum to 100.
func ClassifyTexture(sand, silt, clay float64) int {
	class := NoTextureClass
	for _, rule := range textureRules {
		if rule.holds(sand, silt, clay) {
			class = rule.class
		}
	}
	return class
}

// MatchingTextureClasses lists every class whose predicate holds,
// ascending. Used to audit boundary pixels.
func MatchingTextureClasses(sand, silt, clay float64) []int {
	var out []int
	for _, rule := range textureRules {
		if rule.holds(sand, silt, clay) {
			out = append(out, rule.class)
		}
	}
	return out
}

// SoilTextureClassifier derives the texture class band from the sand,
// silt and clay bands of a stack.
type SoilTextureClassifier struct {
	Runner *TileRunner
}

func NewSoilTextureClassifier(runner *TileRunner) *SoilTextureClassifier {
	return &SoilTextureClassifier{Runner: runner}
}

func (c *SoilTextureClassifier) Classify(stack *raster.Stack) (*raster.Raster, error) {
	bands, err := stack.Require("soil texture", "sand", "silt", "clay")
	if err != nil {
		return nil, err
	}
	sand, silt, clay := bands[0], bands[1], bands[2]

	out := sand.Derive(TextureBand, NoTextureClass, "usda_texture")
	err = c.Runner.Run(stack.Grid(), func(t RowTile) error {
		i0, i1 := t.Offsets()
		for i := i0; i < i1; i++ {
			sa, si, cl := sand.Data[i], silt.Data[i], clay.Data[i]
			if sand.IsNoData(sa) || silt.IsNoData(si) || clay.IsNoData(cl) {
				out.Data[i] = NoTextureClass
				continue
			}
			out.Data[i] = float64(ClassifyTexture(sa, si, cl))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lookupTexture finds the texture band under its name or its alias.
func lookupTexture(stack *raster.Stack) (*raster.Raster, error) {
	if r, ok := stack.Band(TextureBand); ok {
		return r, nil
	}
	if r, ok := stack.Band(TextureBandAlias); ok {
		return r, nil
	}
	return nil, &raster.MissingBandError{Op: "hydrologic soil group", Missing: []string{TextureBand}}
}
