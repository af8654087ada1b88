package processor

import (
	"fmt"
	"math"

	"github.com/nci/runoff/raster"
)

const HSGBand = "hsg"

// Hydrologic soil groups. HSGUnknown is the band's no-data value.
const (
	HSGUnknown = iota
	HSGA
	HSGB
	HSGC
	HSGD
)

// CategoryDomainError reports a categorical value outside the fixed
// domain of a lookup table.
type CategoryDomainError struct {
	Band  string
	Value float64
	Index int
}

func (e *CategoryDomainError) Error() string {
	return fmt.Sprintf("band %s: value %v at pixel %d is outside the lookup domain", e.Band, e.Value, e.Index)
}

// textureToHSG is indexed by texture class; index 0 is the no-class sentinel.
var textureToHSG = [13]int{
	HSGUnknown,
	HSGA, HSGA,
	HSGB, HSGB, HSGB,
	HSGC, HSGC, HSGC,
	HSGD, HSGD, HSGD, HSGD,
}

// HSGFromTexture maps a texture class to its hydrologic soil group.
// ok is false outside 0..12.
func HSGFromTexture(class int) (int, bool) {
	if class < 0 || class >= len(textureToHSG) {
		return HSGUnknown, false
	}
	return textureToHSG[class], true
}

func HSGLetter(group int) string {
	switch group {
	case HSGA:
		return "A"
	case HSGB:
		return "B"
	case HSGC:
		return "C"
	case HSGD:
		return "D"
	}
	return ""
}

type HydrologicGroupMapper struct {
	Runner *TileRunner
}

func NewHydrologicGroupMapper(runner *TileRunner) *HydrologicGroupMapper {
	return &HydrologicGroupMapper{Runner: runner}
}

// Map derives the hsg band. Any texture value outside 0..12 fails the
// whole band with a *CategoryDomainError.
func (m *HydrologicGroupMapper) Map(stack *raster.Stack) (*raster.Raster, error) {
	texture, err := lookupTexture(stack)
	if err != nil {
		return nil, err
	}

	out := texture.Derive(HSGBand, HSGUnknown, "hsg_remap")
	err = m.Runner.Run(stack.Grid(), func(t RowTile) error {
		i0, i1 := t.Offsets()
		for i := i0; i < i1; i++ {
			v := texture.Data[i]
			if math.IsNaN(v) {
				out.Data[i] = HSGUnknown
				continue
			}
			class := int(v)
			group, ok := HSGFromTexture(class)
			if !ok || float64(class) != v {
				return &CategoryDomainError{Band: texture.Name, Value: v, Index: i}
			}
			out.Data[i] = float64(group)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
