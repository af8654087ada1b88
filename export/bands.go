package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/raster"
	"github.com/nci/runoff/utils"
)

// BandFile records one written layer.
type BandFile struct {
	Band     string      `json:"band"`
	Label    string      `json:"label"`
	File     string      `json:"file"`
	DataType string      `json:"data_type"`
	Scale    float64     `json:"scale"`
	Grid     raster.Grid `json:"grid"`
	NumValid int         `json:"num_valid"`
	Bytes    int64       `json:"bytes"`
}

// PrepareLayer brings r to the layer resolution. Categorical bands are
// resampled with nearest neighbour so class codes are kept.
func PrepareLayer(r *raster.Raster, l Layer) (*raster.Raster, error) {
	grid, ok := processor.ScaleGrid(r.Grid, l.Scale)
	if !ok {
		return r, nil
	}
	method := raster.Bilinear
	if l.Categorical {
		method = raster.Nearest
	}
	return raster.Resample(r, grid, method)
}

// WriteLayer writes r under dir as label_location.bil, gzip compressed
// with a .gz suffix when compress is set, plus its header.
func WriteLayer(dir, location string, compress bool, r *raster.Raster, l Layer) (*BandFile, error) {
	r, err := PrepareLayer(r, l)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, FileStem(l.Label, location)+utils.BandExt)
	if compress {
		path += utils.GzipExt
	}

	hdr := &utils.BandHeader{
		Name:        l.Band,
		Grid:        r.Grid,
		NativeScale: l.Scale,
		Lineage:     r.Lineage,
		Label:       l.Label,
	}

	var encode func(io.Writer) error
	if l.Categorical || l.Clip > 0 {
		bands, err := utils.Scale([]*raster.Raster{r}, utils.ScaleParams{Clip: l.Clip, Categorical: l.Categorical})
		if err != nil {
			return nil, err
		}
		hdr.DataType = "Byte"
		hdr.NoData = float64(bands[0].NoData)
		encode = func(w io.Writer) error {
			_, err := w.Write(bands[0].Data)
			return err
		}
	} else {
		hdr.DataType = "Float32"
		hdr.NoData = r.NoData
		encode = func(w io.Writer) error { return utils.EncodeFloat32(w, r) }
	}

	if err := writeBandFile(path, compress, encode); err != nil {
		return nil, fmt.Errorf("layer %s: %v", l.Label, err)
	}
	if err := utils.WriteBandHeader(path, hdr); err != nil {
		return nil, fmt.Errorf("layer %s: %v", l.Label, err)
	}

	bf := &BandFile{
		Band:     l.Band,
		Label:    l.Label,
		File:     filepath.Base(path),
		DataType: hdr.DataType,
		Scale:    l.Scale,
		Grid:     r.Grid,
	}
	for _, v := range r.Data {
		if !r.IsNoData(v) {
			bf.NumValid++
		}
	}
	if st, err := os.Stat(path); err == nil {
		bf.Bytes = st.Size()
	}
	return bf, nil
}

func writeBandFile(path string, compress bool, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)

	var w io.Writer = bw
	var gz *pgzip.Writer
	if compress {
		gz = pgzip.NewWriter(bw)
		w = gz
	}

	err = encode(w)
	if gz != nil {
		if cErr := gz.Close(); err == nil {
			err = cErr
		}
	}
	if fErr := bw.Flush(); err == nil {
		err = fErr
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	return err
}
