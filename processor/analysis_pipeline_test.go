package processor

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/nci/runoff/raster"
)

func e2eInputs(t *testing.T, g raster.Grid) *raster.Stack {
	dem := raster.New(ElevationBand, g, raster.DefaultNoData)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			dem.Data[y*g.Width+x] = 500 + 0.02*float64(x)*g.CellSizeX
		}
	}
	return mustStack(t, g,
		filledBand("sand", g, raster.DefaultNoData, 90),
		filledBand("silt", g, raster.DefaultNoData, 5),
		filledBand("clay", g, raster.DefaultNoData, 5),
		dem,
		filledBand(LandCoverBand, g, 0, 40),
	)
}

func TestRunAnalysisEndToEnd(t *testing.T) {
	g := projectedGrid(4, 3, 30)
	params := DefaultAnalysisParams()
	params.MedianRadius = 1
	params.Workers = 2
	params.TileRows = 1

	req := AnalysisRequest{ID: "e2e", AOI: square(300000, 6299910, 300120, 6300000), Params: params, Inputs: e2eInputs(t, g)}
	res, err := RunAnalysis(context.Background(), req, false)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}

	for _, name := range []string{TextureBand, HSGBand, SlopePercentBand, SlopeClassBand, CNBaseBand, RunoffCNBand} {
		if !res.Stack.Has(name) {
			t.Errorf("band %s missing from the result", name)
		}
	}
	if req.Inputs.Has(TextureBand) {
		t.Errorf("analysis modified the input stack")
	}
	if _, ok := res.Aliases[LandCoverAliasBand]; !ok {
		t.Errorf("expected the %s alias", LandCoverAliasBand)
	}

	check := func(name string, expected float64) {
		r, _ := res.Stack.Band(name)
		for i, v := range r.Data {
			if !almostEqual(v, expected) {
				t.Errorf("%s pixel %d: expected %v, actual %v", name, i, expected, v)
				return
			}
		}
	}
	check(TextureBand, Sand)
	check(HSGBand, HSGA)
	check(SlopePercentBand, 2)
	check(SlopeClassBand, 1)
	check(CNBaseBand, 67)
	check(RunoffCNBand, 67+(20*0.02*33)/(33+math.Exp(0.15)))
}

func TestAnalysisLayerFlags(t *testing.T) {
	g := projectedGrid(2, 2, 30)
	params := DefaultAnalysisParams()
	params.ComputeRunoff = false
	params.EnableElevation = false
	params.EnableLandCover = false

	inputs := mustStack(t, g,
		filledBand("sand", g, raster.DefaultNoData, 45),
		filledBand("silt", g, raster.DefaultNoData, 10),
		filledBand("clay", g, raster.DefaultNoData, 45),
	)
	res, err := RunAnalysis(context.Background(), AnalysisRequest{ID: "soil", Params: params, Inputs: inputs}, false)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	expected := []string{"sand", "silt", "clay", TextureBand, HSGBand}
	if !reflect.DeepEqual(res.Stack.BandNames(), expected) {
		t.Errorf("expected bands %v, actual %v", expected, res.Stack.BandNames())
	}
}

func TestAnalysisClipsToAOI(t *testing.T) {
	g := projectedGrid(4, 1, 30)
	params := DefaultAnalysisParams()
	params.ComputeRunoff = false
	params.EnableElevation = false
	params.EnableLandCover = false

	inputs := mustStack(t, g,
		filledBand("sand", g, raster.DefaultNoData, 90),
		filledBand("silt", g, raster.DefaultNoData, 5),
		filledBand("clay", g, raster.DefaultNoData, 5),
	)
	req := AnalysisRequest{ID: "clip", AOI: square(299990, 6299960, 300030, 6300010), Params: params, Inputs: inputs}
	res, err := RunAnalysis(context.Background(), req, false)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}

	texture, _ := res.Stack.Band(TextureBand)
	expected := []float64{Sand, NoTextureClass, NoTextureClass, NoTextureClass}
	if !reflect.DeepEqual(texture.Data, expected) {
		t.Errorf("expected %v, actual %v", expected, texture.Data)
	}
	sand, _ := res.Stack.Band("sand")
	if sand.Data[0] != 90 || !sand.IsNoData(sand.Data[1]) {
		t.Errorf("expected sand clipped to the AOI, actual %v", sand.Data)
	}
	if orig, _ := inputs.Band("sand"); orig.Data[1] != 90 {
		t.Errorf("clip modified the input stack")
	}

	req.AOI = square(0, 0, 10, 10)
	if _, err := RunAnalysis(context.Background(), req, false); err == nil {
		t.Errorf("expected an AOI outside the grid to be rejected")
	}
}

func TestAnalysisValidation(t *testing.T) {
	g := projectedGrid(2, 2, 30)
	inputs, _ := e2eInputs(t, g).Select("sand", "silt", "clay", ElevationBand)

	_, err := RunAnalysis(context.Background(), AnalysisRequest{ID: "nolc", Params: DefaultAnalysisParams(), Inputs: inputs}, false)
	var mbe *raster.MissingBandError
	if !errors.As(err, &mbe) || !reflect.DeepEqual(mbe.Missing, []string{LandCoverBand}) {
		t.Errorf("expected LandCover to be reported missing, actual %v", err)
	}

	params := DefaultAnalysisParams()
	params.EnableLandCover = false
	if err := (AnalysisRequest{ID: "x", Params: params, Inputs: inputs}).Validate(); err == nil {
		t.Errorf("expected runoff without land cover to be rejected")
	}

	params = DefaultAnalysisParams()
	params.LandCoverEdition = "1999"
	if err := (AnalysisRequest{ID: "x", Params: params, Inputs: e2eInputs(t, g)}).Validate(); err == nil {
		t.Errorf("expected an unknown edition to be rejected")
	}
}

func TestAnalysisCancelled(t *testing.T) {
	g := projectedGrid(2, 2, 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunAnalysis(ctx, AnalysisRequest{ID: "c", Params: DefaultAnalysisParams(), Inputs: e2eInputs(t, g)}, false)
	if err == nil {
		t.Errorf("expected a cancelled analysis to fail")
	}
}

func TestAnalysisPipelineManyRequests(t *testing.T) {
	g := projectedGrid(2, 2, 30)
	inputs := e2eInputs(t, g)
	invalid := DefaultAnalysisParams()
	invalid.LandCoverEdition = "1999"

	run := func(ctx context.Context, params AnalysisParams) int {
		errChan := make(chan error, 10)
		reqs := make(chan AnalysisRequest, 30)
		for i := 0; i < 30; i++ {
			reqs <- AnalysisRequest{ID: "batch", Params: params, Inputs: inputs}
		}
		close(reqs)

		done := make(chan int)
		go func() {
			n := 0
			for range InitAnalysisPipeline(ctx, errChan, false).Process(reqs) {
				n++
			}
			done <- n
		}()
		select {
		case n := <-done:
			return n
		case <-time.After(10 * time.Second):
			t.Fatalf("pipeline blocked")
		}
		return -1
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := run(ctx, DefaultAnalysisParams()); n != 0 {
		t.Errorf("expected no result from a cancelled pipeline, got %d", n)
	}
	if n := run(context.Background(), invalid); n != 0 {
		t.Errorf("expected no result from invalid requests, got %d", n)
	}
	if n := run(context.Background(), DefaultAnalysisParams()); n != 30 {
		t.Errorf("expected 30 results, got %d", n)
	}
}

func TestAliasGrid(t *testing.T) {
	g := projectedGrid(4, 4, 10)
	alias, ok := ScaleGrid(g, 30)
	if !ok {
		t.Fatalf("expected a new grid")
	}
	if alias.Width != 1 || alias.Height != 1 || alias.CellSizeX != 30 {
		t.Errorf("unexpected alias grid %v", alias)
	}
	if _, ok := ScaleGrid(projectedGrid(4, 4, 30), 30); ok {
		t.Errorf("expected a grid already at 30 m to be kept")
	}
}
