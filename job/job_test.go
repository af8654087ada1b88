package job

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/nci/runoff/metrics"
	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/raster"
	"github.com/nci/runoff/utils"
)

var testGrid = raster.Grid{OriginX: 300000, OriginY: 6300000, CellSizeX: 30, CellSizeY: 30, Width: 4, Height: 4, CRS: "EPSG:32719"}

const testAOI = `{"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates":
	[[[300010, 6299890], [300110, 6299890], [300110, 6299990], [300010, 6299990], [300010, 6299890]]]}}`

const sceneTemplate = `id: %s
crs: EPSG:32719
geometry:
  type: Polygon
  coordinates:
    - [[%d, 6299880], [%d, 6299880], [%d, 6300000], [%d, 6300000], [%d, 6299880]]
properties:
  datetime: 2021-02-01T14:30:00Z
  eo:cloud_cover: %g
measurements:
  nbart_nir:
    path: nir.bil
  nbart_red:
    path: red.bil
`

func writeBand(t *testing.T, path, name string, f func(x, y int) float64) {
	t.Helper()
	r := raster.New(name, testGrid, raster.DefaultNoData)
	for y := 0; y < testGrid.Height; y++ {
		for x := 0; x < testGrid.Width; x++ {
			r.Data[y*testGrid.Width+x] = f(x, y)
		}
	}
	if err := utils.WriteBand(path, r); err != nil {
		t.Fatal(err)
	}
}

func constant(v float64) func(x, y int) float64 {
	return func(x, y int) float64 { return v }
}

func writeScene(t *testing.T, dir, id string, x0, x1 int, cloud float64) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	doc := fmt.Sprintf(sceneTemplate, id, x0, x1, x1, x0, x0, cloud)
	if err := ioutil.WriteFile(filepath.Join(dir, "odc-metadata.yaml"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	writeBand(t, filepath.Join(dir, "nir.bil"), "nir", constant(0.4))
	writeBand(t, filepath.Join(dir, "red.bil"), "red", constant(0.1))
}

func setup(t *testing.T) (string, *utils.Config) {
	t.Helper()
	dir, err := ioutil.TempDir("", "job")
	if err != nil {
		t.Fatal(err)
	}

	writeBand(t, filepath.Join(dir, "sand.bil"), "sand", constant(40))
	writeBand(t, filepath.Join(dir, "silt.bil"), "silt", constant(40))
	writeBand(t, filepath.Join(dir, "clay.bil"), "clay", constant(20))
	writeBand(t, filepath.Join(dir, "dem.bil"), "elevation", func(x, y int) float64 { return float64(x) * 3 })
	writeBand(t, filepath.Join(dir, "lulc.bil"), "LandCover", constant(30))

	writeScene(t, filepath.Join(dir, "scenes", "full"), "full", 300000, 300120, 10)
	writeScene(t, filepath.Join(dir, "scenes", "half"), "half", 300000, 300060, 1)

	conf := fmt.Sprintf(`service:
  scene_root: %[1]s/scenes
  scene_bands:
    nbart_nir: NIR
    nbart_red: Red
analysis:
  workers: 2
inputs:
  - {name: sand, path: %[1]s/sand.bil}
  - {name: silt, path: %[1]s/silt.bil}
  - {name: clay, path: %[1]s/clay.bil}
  - {name: elevation, path: %[1]s/dem.bil}
  - {name: LandCover, path: %[1]s/lulc.bil}
export:
  dir: %[1]s/out
  location: Test Site
  summaries: [xlsx, parquet]
`, dir)
	confPath := filepath.Join(dir, utils.ConfigFileName)
	if err := ioutil.WriteFile(confPath, []byte(conf), 0644); err != nil {
		t.Fatal(err)
	}
	config := &utils.Config{}
	if err := config.LoadConfigFile(confPath); err != nil {
		t.Fatal(err)
	}
	return dir, config
}

func TestRun(t *testing.T) {
	dir, conf := setup(t)
	defer os.RemoveAll(dir)

	aoi, err := utils.ParseAOI("test", []byte(testAOI))
	if err != nil {
		t.Fatal(err)
	}

	mc := metrics.NewMetricsCollector(nil)
	out, err := Run(context.Background(), conf, aoi, Options{RunID: "run-1"}, mc)
	if err != nil {
		t.Fatal(err)
	}

	if out.Gate == nil || out.Gate.Status != processor.GateSelected || out.Gate.Best.Candidate.ID != "full" {
		t.Fatalf("unexpected gate result %+v", out.Gate)
	}
	if mc.Info.Gate.NumCandidates != 2 || mc.Info.Gate.NumEligible != 1 || mc.Info.Gate.Selected != "full" {
		t.Errorf("unexpected gate metrics %+v", mc.Info.Gate)
	}

	stack := out.Result.Stack
	for _, b := range []string{processor.NDVIBand, processor.HSGBand, processor.SlopeClassBand, processor.RunoffCNBand} {
		if !stack.Has(b) {
			t.Errorf("band %s missing from %v", b, stack.BandNames())
		}
	}
	ndvi, _ := stack.Band(processor.NDVIBand)
	if v := ndvi.Data[0]; v < 0.5999 || v > 0.6001 {
		t.Errorf("ndvi %v, expected 0.6", v)
	}
	hsg, _ := stack.Band(processor.HSGBand)
	if hsg.Data[5] != processor.HSGB {
		t.Errorf("hsg %v, expected B", hsg.Data[5])
	}

	if out.Manifest == nil || len(out.Manifest.Summaries) != 2 {
		t.Fatalf("unexpected manifest %+v", out.Manifest)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "run-1", "Potencial_Escorrentia_CN_Test_Site.bil")); err != nil {
		t.Errorf("runoff layer not written: %v", err)
	}
	if mc.Info.Export.NumFiles != len(out.Manifest.Layers)+2 || mc.Info.Export.BytesWritten == 0 {
		t.Errorf("unexpected export metrics %+v", mc.Info.Export)
	}
}

func TestRunMosaicFallback(t *testing.T) {
	dir, conf := setup(t)
	defer os.RemoveAll(dir)
	full := 100.
	conf.Analysis.MinCoverage = &full
	os.RemoveAll(filepath.Join(dir, "scenes", "full"))

	aoi, err := utils.ParseAOI("test", []byte(testAOI))
	if err != nil {
		t.Fatal(err)
	}
	out, err := Run(context.Background(), conf, aoi, Options{NoExport: true}, metrics.NewMetricsCollector(nil))
	if err != nil {
		t.Fatal(err)
	}
	if out.Gate.Status != processor.GateNoEligible {
		t.Errorf("expected no eligible scene, got %v", out.Gate.Status)
	}
	if !out.Result.Stack.Has(processor.NDVIBand) {
		t.Error("mosaic fallback did not produce NDVI")
	}
	if out.Manifest != nil {
		t.Error("export ran with NoExport")
	}
}

func TestCoverage(t *testing.T) {
	dir, conf := setup(t)
	defer os.RemoveAll(dir)

	aoi, err := utils.ParseAOI("test", []byte(testAOI))
	if err != nil {
		t.Fatal(err)
	}
	gr, warnings, err := Coverage(context.Background(), conf, aoi, false, metrics.NewMetricsCollector(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings %v", warnings)
	}
	if len(gr.Assessments) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(gr.Assessments))
	}
	if a := gr.Assessments[1]; a.Candidate.ID != "half" || a.Eligible || a.Coverage < 49.99 || a.Coverage > 50.01 {
		t.Errorf("unexpected assessment %+v", a)
	}
}
