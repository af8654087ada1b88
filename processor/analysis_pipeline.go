package processor

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/ctessum/geom"
	"github.com/nci/runoff/raster"
)

const LandCoverAliasBand = "lulc_30m"

// AnalysisParams are the recognised options of one analysis run.
type AnalysisParams struct {
	LandCoverEdition string
	MinCoverage      float64
	EnableSoil       bool
	EnableElevation  bool
	EnableLandCover  bool
	ComputeRunoff    bool
	MedianRadius     float64
	Workers          int
	TileRows         int
	// AliasScale is the resolution, in metres, of the lulc_30m band.
	AliasScale  float64
	AliasMethod raster.ResampleMethod
}

func DefaultAnalysisParams() AnalysisParams {
	return AnalysisParams{
		LandCoverEdition: "2021",
		MinCoverage:      DefaultMinCoverage,
		EnableSoil:       true,
		EnableElevation:  true,
		EnableLandCover:  true,
		ComputeRunoff:    true,
		MedianRadius:     DefaultMedianRadius,
		AliasScale:       30,
		AliasMethod:      raster.Nearest,
	}
}

// AnalysisRequest is passed by value through every stage; stages never
// modify it and keep no state of their own between requests.
type AnalysisRequest struct {
	ID     string
	AOI    geom.Polygonal
	Params AnalysisParams
	Inputs *raster.Stack
}

type AnalysisResult struct {
	Request AnalysisRequest
	Stack   *raster.Stack
	// Aliases hold bands on a grid other than the stack grid.
	Aliases  map[string]*raster.Raster
	Elapsed  time.Duration
	Warnings []string
}

// Validate checks that every enabled layer can run with the inputs given.
func (r AnalysisRequest) Validate() error {
	if r.Inputs == nil {
		return fmt.Errorf("analysis %s: no input stack", r.ID)
	}
	p := r.Params
	if p.ComputeRunoff && !(p.EnableSoil && p.EnableElevation && p.EnableLandCover) {
		return fmt.Errorf("analysis %s: runoff needs the soil, elevation and land cover layers enabled", r.ID)
	}
	if p.EnableLandCover || p.ComputeRunoff {
		if _, err := CurveNumberTableFor(p.LandCoverEdition); err != nil {
			return err
		}
	}
	var need []string
	if p.EnableSoil {
		need = append(need, "sand", "silt", "clay")
	}
	if p.EnableElevation {
		need = append(need, ElevationBand)
	}
	if p.EnableLandCover {
		need = append(need, LandCoverBand)
	}
	if missing := r.Inputs.Missing(need...); len(missing) > 0 {
		return &raster.MissingBandError{Op: "analysis " + r.ID, Missing: missing}
	}
	return nil
}

type analysisState struct {
	req      AnalysisRequest
	stack    *raster.Stack
	aliases  map[string]*raster.Raster
	warnings []string
	start    time.Time
}

// analysisStage is one step of the chain. apply returns the new stack
// state; it must not touch the previous one.
type analysisStage struct {
	Context context.Context
	Name    string
	In      chan *analysisState
	Out     chan *analysisState
	Error   chan error
	apply   func(*analysisState) error
}

func newAnalysisStage(ctx context.Context, name string, errChan chan error, apply func(*analysisState) error) *analysisStage {
	return &analysisStage{
		Context: ctx,
		Name:    name,
		Out:     make(chan *analysisState, 10),
		Error:   errChan,
		apply:   apply,
	}
}

func (s *analysisStage) Run(verbose bool) {
	defer close(s.Out)
	for st := range s.In {
		select {
		case <-s.Context.Done():
			sendError(s.Error, fmt.Errorf("%s stage context has been cancelled: %v", s.Name, s.Context.Err()))
			// keep upstream stages from blocking on a stage that stopped
			for range s.In {
			}
			return
		default:
		}

		t0 := time.Now()
		if err := s.apply(st); err != nil {
			sendError(s.Error, fmt.Errorf("analysis %s, %s: %w", st.req.ID, s.Name, err))
			continue
		}
		if verbose {
			log.Printf("analysis %s: %s stage done in %v", st.req.ID, s.Name, time.Since(t0))
		}
		s.Out <- st
	}
}

// sendError never blocks; errors beyond the channel capacity are dropped.
func sendError(errChan chan error, err error) {
	select {
	case errChan <- err:
	default:
	}
}

// AnalysisPipeline chains the AOI clip, soil, terrain, land cover and
// runoff stages. Independent requests may be pushed through one pipeline.
// Error keeps the first cap(Error) errors, later ones are dropped.
type AnalysisPipeline struct {
	Context context.Context
	Error   chan error
	Verbose bool
}

func InitAnalysisPipeline(ctx context.Context, errChan chan error, verbose bool) *AnalysisPipeline {
	return &AnalysisPipeline{Context: ctx, Error: errChan, Verbose: verbose}
}

func (p *AnalysisPipeline) Process(reqs <-chan AnalysisRequest) chan *AnalysisResult {
	in := make(chan *analysisState, 10)
	go func() {
		defer close(in)
		for req := range reqs {
			if err := req.Validate(); err != nil {
				sendError(p.Error, err)
				continue
			}
			in <- &analysisState{req: req, stack: req.Inputs, aliases: map[string]*raster.Raster{}, start: time.Now()}
		}
	}()

	stages := []*analysisStage{
		newAnalysisStage(p.Context, "clip", p.Error, clipStage),
		newAnalysisStage(p.Context, "soil", p.Error, soilStage),
		newAnalysisStage(p.Context, "terrain", p.Error, terrainStage),
		newAnalysisStage(p.Context, "land cover", p.Error, landCoverStage),
		newAnalysisStage(p.Context, "runoff", p.Error, runoffStage),
	}
	prev := in
	for _, s := range stages {
		s.In = prev
		prev = s.Out
		go s.Run(p.Verbose)
	}

	out := make(chan *AnalysisResult, 10)
	go func() {
		defer close(out)
		for st := range prev {
			out <- &AnalysisResult{
				Request:  st.req,
				Stack:    st.stack,
				Aliases:  st.aliases,
				Elapsed:  time.Since(st.start),
				Warnings: st.warnings,
			}
		}
	}()
	return out
}

// RunAnalysis pushes a single request through a fresh pipeline.
func RunAnalysis(ctx context.Context, req AnalysisRequest, verbose bool) (*AnalysisResult, error) {
	errChan := make(chan error, 10)
	reqs := make(chan AnalysisRequest, 1)
	reqs <- req
	close(reqs)

	out := InitAnalysisPipeline(ctx, errChan, verbose).Process(reqs)
	var res *AnalysisResult
	for r := range out {
		res = r
	}
	select {
	case err := <-errChan:
		return nil, err
	default:
	}
	if res == nil {
		return nil, fmt.Errorf("analysis %s produced no result", req.ID)
	}
	return res, nil
}

func runnerFor(p AnalysisParams) *TileRunner {
	return NewTileRunner(p.Workers, p.TileRows)
}

// clipStage masks every input band to the AOI so that derived bands,
// exports and summaries only cover it.
func clipStage(st *analysisState) error {
	if st.req.AOI == nil {
		return nil
	}
	mask, err := AOIMask(runnerFor(st.req.Params), st.stack.Grid(), st.req.AOI)
	if err != nil {
		return err
	}
	st.stack, err = ClipStack(st.stack, mask)
	return err
}

func soilStage(st *analysisState) error {
	p := st.req.Params
	if !p.EnableSoil {
		return nil
	}
	runner := runnerFor(p)
	texture, err := NewSoilTextureClassifier(runner).Classify(st.stack)
	if err != nil {
		return err
	}
	stack, err := st.stack.AddBands(texture)
	if err != nil {
		return err
	}
	hsg, err := NewHydrologicGroupMapper(runner).Map(stack)
	if err != nil {
		return err
	}
	st.stack, err = stack.AddBands(hsg)
	return err
}

func terrainStage(st *analysisState) error {
	p := st.req.Params
	if !p.EnableElevation {
		return nil
	}
	bands, err := NewSlopeClassifier(runnerFor(p), p.MedianRadius).Classify(st.stack)
	if err != nil {
		return err
	}
	st.stack, err = st.stack.AddBands(bands...)
	return err
}

func landCoverStage(st *analysisState) error {
	p := st.req.Params
	if !p.EnableLandCover {
		return nil
	}
	lulc, _ := st.stack.Band(LandCoverBand)
	grid, ok := ScaleGrid(lulc.Grid, p.AliasScale)
	if !ok {
		st.aliases[LandCoverAliasBand] = lulc.Rename(LandCoverAliasBand)
		return nil
	}
	alias, err := raster.Resample(lulc, grid, p.AliasMethod)
	if err != nil {
		return err
	}
	if p.AliasMethod == raster.Bilinear {
		st.warnings = append(st.warnings, "lulc_30m is bilinearly resampled and no longer holds class codes")
	}
	st.aliases[LandCoverAliasBand] = alias.Rename(LandCoverAliasBand)
	return nil
}

func runoffStage(st *analysisState) error {
	p := st.req.Params
	if !p.ComputeRunoff {
		return nil
	}
	table, err := CurveNumberTableFor(p.LandCoverEdition)
	if err != nil {
		return err
	}
	base, adjusted, err := NewCurveNumberEngine(runnerFor(p), table).Compute(st.stack)
	if err != nil {
		return err
	}
	st.stack, err = st.stack.AddBands(base, adjusted)
	return err
}

// ScaleGrid returns the grid covering g at the given scale in metres.
// ok is false when g is already at that scale.
func ScaleGrid(g raster.Grid, scale float64) (raster.Grid, bool) {
	if scale <= 0 {
		return g, false
	}
	cx, cy := scale, scale
	if g.Geographic {
		const metresPerDegree = 111320.
		cx, cy = scale/metresPerDegree, scale/metresPerDegree
	}
	mx, my := g.CellMetres(g.Height / 2)
	if math.Abs(mx-scale) < 1e-6 && math.Abs(my-scale) < 1e-6 {
		return g, false
	}
	b := g.Bounds()
	out := g
	out.CellSizeX, out.CellSizeY = cx, cy
	out.Width = int((b[2]-b[0])/cx + .5)
	out.Height = int((b[3]-b[1])/cy + .5)
	if out.Width < 1 {
		out.Width = 1
	}
	if out.Height < 1 {
		out.Height = 1
	}
	return out, true
}
