package export

import (
	"bytes"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/raster"
	"github.com/nci/runoff/utils"
	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
)

func testGrid() raster.Grid {
	return raster.Grid{OriginX: 300000, OriginY: 6300000, CellSizeX: 100, CellSizeY: 100, Width: 2, Height: 2, CRS: "EPSG:32719"}
}

func band(name string, noData float64, vals ...float64) *raster.Raster {
	r := raster.New(name, testGrid(), noData)
	copy(r.Data, vals)
	return r
}

func testResult(t *testing.T) *processor.AnalysisResult {
	t.Helper()
	stack, err := raster.NewStack(testGrid()).AddBands(
		band(processor.HSGBand, 0, 1, 1, 2, 0),
		band(processor.RunoffCNBand, raster.DefaultNoData, 50, 60, 95, raster.DefaultNoData),
		band(processor.ElevationBand, raster.DefaultNoData, 10, 20, 30, 40),
	)
	if err != nil {
		t.Fatal(err)
	}
	return &processor.AnalysisResult{
		Request:  processor.AnalysisRequest{ID: "test", Params: processor.DefaultAnalysisParams()},
		Stack:    stack,
		Warnings: []string{"coverage snapped"},
	}
}

func TestFileStem(t *testing.T) {
	if s := FileStem("Uso_Suelo_10m", " Valle del  Elqui "); s != "Uso_Suelo_10m_Valle_del_Elqui" {
		t.Errorf("unexpected stem %q", s)
	}
	if s := FileStem("Elevacion", ""); s != "Elevacion" {
		t.Errorf("unexpected stem %q", s)
	}
	if s := FileStem("Resumen_Clases", "x/../../../../tmp/evil"); s != "Resumen_Clases_x_tmp_evil" {
		t.Errorf("unexpected stem %q", s)
	}
	if s := FileStem("Uso_Suelo_10m", "Ñuñoa"); s != "Uso_Suelo_10m_Ñuñoa" {
		t.Errorf("unexpected stem %q", s)
	}
	for _, loc := range []string{"../etc", "a/b", `a\b`, ".."} {
		if ValidLocation(loc) == nil {
			t.Errorf("location %q accepted", loc)
		}
	}
	if err := ValidLocation("Valle del Elqui"); err != nil {
		t.Errorf("location rejected: %v", err)
	}
	if l := DisplayLabel("Potencial_Escorrentia_CN"); l != "Potencial Escorrentia CN" {
		t.Errorf("unexpected label %q", l)
	}
}

func TestClassAreas(t *testing.T) {
	rows := ClassAreas(testResult(t).Stack)

	expected := []ClassArea{
		{Layer: processor.HSGBand, Code: 1, Class: "A", Pixels: 2, AreaHa: 2},
		{Layer: processor.HSGBand, Code: 2, Class: "B", Pixels: 1, AreaHa: 1},
		{Layer: processor.RunoffCNBand, Code: 1, Class: "Very Low", Pixels: 1, AreaHa: 1},
		{Layer: processor.RunoffCNBand, Code: 2, Class: "Low", Pixels: 1, AreaHa: 1},
		{Layer: processor.RunoffCNBand, Code: 5, Class: "Very High", Pixels: 1, AreaHa: 1},
	}
	if len(rows) != len(expected) {
		t.Fatalf("expected %d rows, got %d: %v", len(expected), len(rows), rows)
	}
	for i, e := range expected {
		r := rows[i]
		if r.Layer != e.Layer || r.Code != e.Code || r.Class != e.Class || r.Pixels != e.Pixels || math.Abs(r.AreaHa-e.AreaHa) > 1e-9 {
			t.Errorf("row %d: got %+v, expected %+v", i, r, e)
		}
	}
	if math.Abs(rows[0].Percent-200./3.) > 1e-9 {
		t.Errorf("percent %v", rows[0].Percent)
	}
}

func TestWriteLayer(t *testing.T) {
	dir, err := ioutil.TempDir("", "layers")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	res := testResult(t)
	hsg, _ := res.Stack.Band(processor.HSGBand)
	bf, err := WriteLayer(dir, "Elqui", true, hsg, Layer{Band: processor.HSGBand, Label: "Grupo_Suelo_SCS", Categorical: true})
	if err != nil {
		t.Fatal(err)
	}
	if bf.File != "Grupo_Suelo_SCS_Elqui.bil.gz" || bf.DataType != "Byte" || bf.NumValid != 3 {
		t.Errorf("unexpected band file %+v", bf)
	}

	back, err := utils.ReadBand(filepath.Join(dir, bf.File), "")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 1, 2, utils.ByteNoData}
	for i, v := range want {
		if back.Data[i] != v {
			t.Errorf("pixel %d: got %v, expected %v", i, back.Data[i], v)
		}
	}

	elev, _ := res.Stack.Band(processor.ElevationBand)
	bf, err = WriteLayer(dir, "", false, elev, Layer{Band: processor.ElevationBand, Label: "Elevacion", Scale: 50})
	if err != nil {
		t.Fatal(err)
	}
	if bf.Grid.Width != 4 || bf.Grid.Height != 4 || bf.DataType != "Float32" {
		t.Errorf("unexpected resampled layer %+v", bf)
	}
}

func TestExport(t *testing.T) {
	dir, err := ioutil.TempDir("", "export")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	e := NewExporter(utils.ExportConfig{
		Dir:       dir,
		Location:  "Rio Elqui",
		Summaries: []string{SummaryXLSX, SummaryParquet},
		Layers: []utils.ExportLayer{
			{Name: processor.HSGBand, Label: "Grupo_Suelo_SCS", Categorical: true},
			{Name: processor.RunoffCNBand, Label: "Potencial_Escorrentia_CN"},
			{Name: processor.SlopeClassBand, Label: "Clases_Pendiente", Categorical: true},
		},
	})
	runID := NewRunID()
	m, err := e.Export(runID, testResult(t), "POLYGON EMPTY")
	if err != nil {
		t.Fatal(err)
	}

	// slope_class is not in the result and is skipped
	if len(m.Layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(m.Layers))
	}
	if m.BytesWritten() != 4+16 {
		t.Errorf("bytes written %d", m.BytesWritten())
	}
	if m.Product != "ESA/WorldCover/v200" {
		t.Errorf("product %q", m.Product)
	}

	out := filepath.Join(dir, runID)
	txt, err := ioutil.ReadFile(filepath.Join(out, "manifest.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{runID, "Potencial_Escorrentia_CN_Rio_Elqui.bil", "coverage snapped"} {
		if !strings.Contains(string(txt), s) {
			t.Errorf("manifest does not mention %q:\n%s", s, txt)
		}
	}

	rows, err := parquet.ReadFile[ClassArea](filepath.Join(out, "Resumen_Clases_Rio_Elqui.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(m.Classes) {
		t.Errorf("parquet rows %d, expected %d", len(rows), len(m.Classes))
	}

	wb, err := excelize.OpenFile(filepath.Join(out, "Resumen_Clases_Rio_Elqui.xlsx"))
	if err != nil {
		t.Fatal(err)
	}
	defer wb.Close()
	sheetRows, err := wb.GetRows(processor.HSGBand)
	if err != nil {
		t.Fatal(err)
	}
	if len(sheetRows) != 3 || sheetRows[1][1] != "A" {
		t.Errorf("unexpected hsg sheet %v", sheetRows)
	}
}

func TestRenderManifestTemplate(t *testing.T) {
	dir, err := ioutil.TempDir("", "manifest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	tmpl := filepath.Join(dir, "short.jet")
	if err := ioutil.WriteFile(tmpl, []byte(`{{ .RunID }}:{{ len(.Layers) }}`), 0644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	m := &Manifest{RunID: "r1", Layers: []*BandFile{{Label: "a"}, {Label: "b"}}}
	if err := RenderManifest(&buf, m, tmpl); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "r1:2" {
		t.Errorf("unexpected rendering %q", buf.String())
	}
}

func TestExportLocationStaysInRunDir(t *testing.T) {
	dir, err := ioutil.TempDir("", "export")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	e := NewExporter(utils.ExportConfig{
		Dir:      filepath.Join(dir, "exports"),
		Location: "x/../../../evil",
		Layers:   []utils.ExportLayer{{Name: processor.RunoffCNBand, Label: "Potencial_Escorrentia_CN"}},
	})
	m, err := e.Export("run1", testResult(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Layers) != 1 || m.Layers[0].File != "Potencial_Escorrentia_CN_x_evil.bil" {
		t.Fatalf("unexpected layers %+v", m.Layers)
	}
	if _, err := os.Stat(filepath.Join(dir, "exports", "run1", m.Layers[0].File)); err != nil {
		t.Errorf("layer not written in the run directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "evil.bil")); err == nil {
		t.Errorf("layer written outside the export directory")
	}
}
