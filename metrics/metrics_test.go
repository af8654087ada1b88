package metrics

import (
	"encoding/json"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunInfoToJSON(t *testing.T) {
	m := NewMetricsCollector(nil)
	m.Info.RunID = "b4d1"
	m.Info.RemoteAddr = "10.0.0.7:51234"
	m.Info.URL.RawURL = "http://runoff.example.org/chile/maule/analysis?Edition=2021&layers=soil"
	m.AddBand("Runoff_CN", []float64{70, -9999, 80, math.NaN()}, func(v float64) bool { return math.IsNaN(v) || v == -9999 })

	out, err := m.Info.ToJSON()
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}

	var back RunInfo
	if err := json.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("invalid json %s: %v", out, err)
	}
	if back.RemoteHost != "10.0.0.7" || back.RemotePort != "51234" {
		t.Errorf("unexpected remote address %s %s", back.RemoteHost, back.RemotePort)
	}
	if back.URL.Path != "/chile/maule/analysis" || back.URL.Query["edition"] != "2021" {
		t.Errorf("unexpected url %+v", back.URL)
	}
	if back.AOI.Geometry != "POLYGON EMPTY" {
		t.Errorf("expected an empty geometry, actual %s", back.AOI.Geometry)
	}
	if len(back.Bands) != 1 || back.Bands[0].NumValid != 2 || back.Bands[0].Mean != 75 {
		t.Errorf("unexpected band statistics %+v", back.Bands)
	}
}

func TestFileLoggerRotation(t *testing.T) {
	dir, err := ioutil.TempDir("", "runoff_metrics")
	if err != nil {
		t.Fatalf("%v", err)
	}
	defer os.RemoveAll(dir)

	logger := NewFileLogger(dir, 10, 2, false)
	for i := 0; i < 20; i++ {
		logger.Log(&RunInfo{RunID: "run"})
	}
	logger.Close()

	files, _ := ioutil.ReadDir(dir)
	perWriter := map[string]int{}
	for _, f := range files {
		prefix := strings.SplitN(filepath.Base(f.Name()), ".", 2)[0]
		perWriter[prefix]++
	}
	for w, n := range perWriter {
		// the live file plus at most MaxLogFiles rotated ones
		if n > 3 {
			t.Errorf("writer %s kept %d files", w, n)
		}
	}
	if len(files) == 0 {
		t.Errorf("no log file written")
	}
}
