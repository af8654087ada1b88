package utils

import (
	"fmt"

	"github.com/nci/runoff/raster"
)

// ByteNoData is the no-data value of quantised bands.
const ByteNoData = 0xFF

type ScaleParams struct {
	Offset float64
	Scale  float64
	Clip   float64
	// Categorical bands are copied as class codes, not rescaled.
	Categorical bool
}

// ByteBand is a band quantised to 8 bits for export.
type ByteBand struct {
	Name   string
	Grid   raster.Grid
	Data   []uint8
	NoData uint8
}

func scale(r *raster.Raster, params ScaleParams) (*ByteBand, error) {
	out := &ByteBand{Name: r.Name, Grid: r.Grid, Data: make([]uint8, len(r.Data)), NoData: ByteNoData}

	if params.Categorical {
		for i, value := range r.Data {
			if r.IsNoData(value) {
				out.Data[i] = ByteNoData
				continue
			}
			if value < 0 || value >= ByteNoData || value != float64(int(value)) {
				return nil, fmt.Errorf("band %s: class %v at pixel %d does not fit a byte", r.Name, value, i)
			}
			out.Data[i] = uint8(value)
		}
		return out, nil
	}

	clip := params.Clip
	if clip <= 0 {
		return nil, fmt.Errorf("band %s: clip must be positive", r.Name)
	}
	for i, value := range r.Data {
		if r.IsNoData(value) {
			out.Data[i] = ByteNoData
			continue
		}
		value += params.Offset
		if value > clip {
			value = clip
		}
		if value < 0 {
			value = 0
		}
		if params.Scale == 0 {
			value = value * 254.0 / clip
		} else {
			value *= params.Scale
		}
		if value > 254 {
			value = 254
		}
		out.Data[i] = uint8(value)
	}
	return out, nil
}

func Scale(rs []*raster.Raster, params ScaleParams) ([]*ByteBand, error) {
	out := make([]*ByteBand, len(rs))

	for i, r := range rs {
		br, err := scale(r, params)
		if err != nil {
			return out, err
		}
		out[i] = br
	}

	return out, nil
}
