package utils

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/nci/runoff/raster"
)

// Band files are raw little endian rasters (.bil, optionally .bil.gz)
// described by a JSON sidecar with the same stem and a .hdr extension.
const (
	BandExt   = ".bil"
	HeaderExt = ".hdr"
	GzipExt   = ".gz"
)

type BandHeader struct {
	Name        string      `json:"name"`
	Grid        raster.Grid `json:"grid"`
	DataType    string      `json:"data_type"`
	NoData      float64     `json:"nodata"`
	NativeScale float64     `json:"native_scale"`
	Lineage     []string    `json:"lineage,omitempty"`
	Label       string      `json:"label,omitempty"`
}

// HeaderPath returns the sidecar path of a band file.
func HeaderPath(bandPath string) string {
	stem := strings.TrimSuffix(strings.TrimSuffix(bandPath, GzipExt), BandExt)
	return stem + HeaderExt
}

func ReadBandHeader(bandPath string) (*BandHeader, error) {
	raw, err := ioutil.ReadFile(HeaderPath(bandPath))
	if err != nil {
		return nil, err
	}
	var hdr BandHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("band header %s: %v", HeaderPath(bandPath), err)
	}
	if hdr.Grid.Width <= 0 || hdr.Grid.Height <= 0 {
		return nil, fmt.Errorf("band header %s: invalid size %dx%d", HeaderPath(bandPath), hdr.Grid.Width, hdr.Grid.Height)
	}
	return &hdr, nil
}

// ReadBand loads a band file. name overrides the header band name when
// not empty.
func ReadBand(bandPath, name string) (*raster.Raster, error) {
	hdr, err := ReadBandHeader(bandPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(bandPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rd io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(bandPath, GzipExt) {
		gz, err := pgzip.NewReader(rd)
		if err != nil {
			return nil, fmt.Errorf("band %s: %v", bandPath, err)
		}
		defer gz.Close()
		rd = gz
	}

	if len(name) == 0 {
		name = hdr.Name
	}
	r := raster.New(name, hdr.Grid, hdr.NoData)
	r.NativeScale = hdr.NativeScale
	r.Lineage = append(append([]string{}, hdr.Lineage...), "read:"+bandPath)
	if err := DecodeBandData(rd, hdr.DataType, r); err != nil {
		return nil, fmt.Errorf("band %s: %v", bandPath, err)
	}
	return r, nil
}

// DecodeBandData fills r.Data from a raw stream of the given data type.
func DecodeBandData(rd io.Reader, dataType string, r *raster.Raster) error {
	switch dataType {
	case "Float32", "":
		buf := make([]float32, len(r.Data))
		if err := binary.Read(rd, binary.LittleEndian, buf); err != nil {
			return err
		}
		for i, v := range buf {
			r.Data[i] = float64(v)
		}
	case "Int16":
		buf := make([]int16, len(r.Data))
		if err := binary.Read(rd, binary.LittleEndian, buf); err != nil {
			return err
		}
		for i, v := range buf {
			r.Data[i] = float64(v)
		}
	case "Byte":
		buf := make([]uint8, len(r.Data))
		if _, err := io.ReadFull(rd, buf); err != nil {
			return err
		}
		for i, v := range buf {
			r.Data[i] = float64(v)
		}
	default:
		return fmt.Errorf("data type %s not implemented", dataType)
	}
	return nil
}

// EncodeFloat32 writes r as little endian float32, NaN mapped to the
// band no-data value.
func EncodeFloat32(w io.Writer, r *raster.Raster) error {
	buf := make([]float32, len(r.Data))
	for i, v := range r.Data {
		if math.IsNaN(v) {
			v = r.NoData
		}
		buf[i] = float32(v)
	}
	return binary.Write(w, binary.LittleEndian, buf)
}

func WriteBandHeader(bandPath string, hdr *BandHeader) error {
	raw, err := json.MarshalIndent(hdr, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(HeaderPath(bandPath), raw, 0644)
}

// WriteBand writes an uncompressed Float32 band file and its header.
func WriteBand(bandPath string, r *raster.Raster) error {
	f, err := os.Create(bandPath)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := EncodeFloat32(w, r); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return WriteBandHeader(bandPath, &BandHeader{
		Name:        r.Name,
		Grid:        r.Grid,
		DataType:    "Float32",
		NoData:      r.NoData,
		NativeScale: r.NativeScale,
		Lineage:     r.Lineage,
	})
}
