package job

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/nci/runoff/catalog"
	extr "github.com/nci/runoff/crawl/extractor"
	"github.com/nci/runoff/export"
	"github.com/nci/runoff/metrics"
	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/raster"
	"github.com/nci/runoff/utils"
)

// Options adjust a run beyond its namespace config.
type Options struct {
	RunID    string
	Location string
	// NoExport stops after the analysis.
	NoExport bool
	Verbose  bool
}

type Outcome struct {
	RunID    string                    `json:"run_id"`
	Gate     *processor.GateResult     `json:"gate,omitempty"`
	Bands    []string                  `json:"bands"`
	Warnings []string                  `json:"warnings,omitempty"`
	Manifest *export.Manifest          `json:"manifest,omitempty"`
	Result   *processor.AnalysisResult `json:"-"`
}

// Run executes one analysis: candidate scene selection, input loading,
// the analysis pipeline and the export. Metrics are recorded on mc.
func Run(ctx context.Context, conf *utils.Config, aoi *utils.AOI, opts Options, mc *metrics.MetricsCollector) (*Outcome, error) {
	if len(opts.RunID) == 0 {
		opts.RunID = export.NewRunID()
	}
	out := &Outcome{RunID: opts.RunID}
	mc.Info.RunID = opts.RunID
	mc.Info.Namespace = conf.Namespace
	mc.Info.AOI.Name = aoi.Name
	mc.Info.AOI.Geometry = aoi.WKT
	mc.Info.AOI.Area = aoi.Area

	inputs, err := utils.LoadInputStack(conf.Inputs)
	if err != nil {
		return nil, err
	}

	scenes, err := FindScenes(ctx, conf, aoi, opts.Verbose)
	if err != nil {
		return nil, err
	}
	if len(scenes) > 0 {
		var warnings []string
		inputs, out.Gate, warnings, err = addSceneBands(conf, aoi, scenes, inputs, mc)
		if err != nil {
			return nil, err
		}
		out.Warnings = append(out.Warnings, warnings...)
	}

	params, err := conf.AnalysisParams()
	if err != nil {
		return nil, err
	}
	req := processor.AnalysisRequest{ID: opts.RunID, AOI: aoi.Polygon, Params: params, Inputs: inputs}

	t0 := time.Now()
	res, err := processor.RunAnalysis(ctx, req, opts.Verbose)
	mc.Info.Analysis = time.Since(t0)
	if err != nil {
		return nil, err
	}
	out.Result = res
	out.Bands = res.Stack.BandNames()
	out.Warnings = append(out.Warnings, res.Warnings...)
	for _, name := range out.Bands {
		r, _ := res.Stack.Band(name)
		mc.AddBand(name, r.Data, r.IsNoData)
	}

	if opts.NoExport {
		return out, nil
	}

	exporter := export.NewExporter(conf.Export)
	if len(opts.Location) > 0 {
		exporter.Location = opts.Location
	}
	exporter.Verbose = opts.Verbose
	res.Warnings = out.Warnings

	t0 = time.Now()
	out.Manifest, err = exporter.Export(opts.RunID, res, aoi.WKT)
	mc.Info.Export.Duration = time.Since(t0)
	if err != nil {
		return nil, err
	}
	mc.Info.Export.NumFiles = len(out.Manifest.Layers) + len(out.Manifest.Summaries)
	mc.Info.Export.BytesWritten = out.Manifest.BytesWritten()
	return out, nil
}

// FindScenes lists candidate scenes from the catalog when one is
// configured, otherwise by crawling the scene root. No source yields
// no scenes.
func FindScenes(ctx context.Context, conf *utils.Config, aoi *utils.AOI, verbose bool) ([]*extr.SceneInfo, error) {
	svc := conf.Service
	if len(svc.CatalogDSN) > 0 {
		cat, err := catalog.Open(svc.CatalogDSN, 2, 8, svc.MemcacheServers)
		if err != nil {
			return nil, err
		}
		defer cat.Close()
		cat.Verbose = verbose

		b := aoi.Polygon.Bounds()
		return cat.Intersects(ctx, catalog.Query{XMin: b.Min.X, YMin: b.Min.Y, XMax: b.Max.X, YMax: b.Max.Y, MaxCloud: -1})
	}

	if len(svc.SceneRoot) == 0 {
		return nil, nil
	}
	scenes, err := extr.CollectScenes(svc.SceneRoot, svc.CrawlConc, svc.ScenePattern)
	if err != nil && verbose {
		log.Printf("scene crawl: %v", err)
	}
	return scenes, nil
}

// Coverage runs the coverage gate over the candidate scenes of aoi.
func Coverage(ctx context.Context, conf *utils.Config, aoi *utils.AOI, verbose bool, mc *metrics.MetricsCollector) (*processor.GateResult, []string, error) {
	scenes, err := FindScenes(ctx, conf, aoi, verbose)
	if err != nil {
		return nil, nil, err
	}
	return runGate(conf, aoi, scenes, mc)
}

func runGate(conf *utils.Config, aoi *utils.AOI, scenes []*extr.SceneInfo, mc *metrics.MetricsCollector) (*processor.GateResult, []string, error) {
	var warnings []string
	candidates, skipped := extr.Candidates(scenes)
	for _, id := range skipped {
		warnings = append(warnings, fmt.Sprintf("scene %s has no usable footprint", id))
	}

	gate, err := processor.NewAreaStatisticsGate(conf.Analysis.MinCoveragePercent(), conf.Analysis.GateTolerance)
	if err != nil {
		return nil, nil, err
	}
	t0 := time.Now()
	gr, err := gate.Select(aoi.Polygon, candidates)
	if err != nil {
		return nil, nil, err
	}
	mc.Info.Gate.Duration = time.Since(t0)
	mc.Info.Gate.NumCandidates = len(candidates)
	mc.Info.Gate.NumEligible = len(gr.Eligible())
	mc.Info.Gate.Status = gr.Status.String()
	mc.Info.Gate.NumWarnings = len(gr.Warnings)
	for _, w := range gr.Warnings {
		warnings = append(warnings, w.String())
	}
	if gr.Best != nil {
		mc.Info.Gate.Selected = gr.Best.Candidate.ID
		mc.Info.Gate.Coverage = gr.Best.Coverage
	}
	return gr, warnings, nil
}

// addSceneBands runs the coverage gate over the scenes and adds the
// configured scene bands to inputs: those of the selected scene, or a
// median mosaic of every overlapping scene when none is eligible. NDVI
// is derived when NIR and Red are present.
func addSceneBands(conf *utils.Config, aoi *utils.AOI, scenes []*extr.SceneInfo, inputs *raster.Stack, mc *metrics.MetricsCollector) (*raster.Stack, *processor.GateResult, []string, error) {
	gr, warnings, err := runGate(conf, aoi, scenes, mc)
	if err != nil {
		return nil, nil, nil, err
	}
	byID := make(map[string]*extr.SceneInfo, len(scenes))
	for _, s := range scenes {
		byID[s.ID] = s
	}

	if len(conf.Service.SceneBands) == 0 {
		return inputs, gr, warnings, nil
	}

	var bandNames []string
	for _, name := range conf.Service.SceneBands {
		bandNames = append(bandNames, name)
	}
	sort.Strings(bandNames)

	var optical *raster.Stack
	switch gr.Status {
	case processor.GateSelected:
		optical, err = LoadSceneStack(byID[gr.Best.Candidate.ID], conf.Service.SceneBands, inputs.Grid())
		if err != nil {
			return nil, nil, nil, err
		}
	case processor.GateNoEligible:
		var stacks []*raster.Stack
		for _, a := range gr.Assessments {
			if a.Coverage <= 0 {
				continue
			}
			s, err := LoadSceneStack(byID[a.Candidate.ID], conf.Service.SceneBands, inputs.Grid())
			if err != nil {
				return nil, nil, nil, err
			}
			stacks = append(stacks, s)
		}
		if len(stacks) == 0 {
			return inputs, gr, warnings, nil
		}
		warnings = append(warnings, fmt.Sprintf("no scene covers %.0f%% of the area, using a median mosaic of %d scenes", conf.Analysis.MinCoveragePercent(), len(stacks)))
		optical, err = processor.NewMedianMosaic(processor.NewTileRunner(conf.Analysis.Workers, conf.Analysis.TileRows)).Composite(stacks, bandNames...)
		if err != nil {
			return nil, nil, nil, err
		}
	default:
		return inputs, gr, warnings, nil
	}

	merged, err := inputs.Merge(optical)
	if err != nil {
		return nil, nil, nil, err
	}
	if merged.Has("NIR") && merged.Has("Red") {
		ndvi, err := processor.NDVI(processor.NewTileRunner(conf.Analysis.Workers, conf.Analysis.TileRows), merged)
		if err != nil {
			return nil, nil, nil, err
		}
		merged, err = merged.AddBands(ndvi)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return merged, gr, warnings, nil
}

// LoadSceneStack reads the mapped measurements of a scene onto grid.
func LoadSceneStack(scene *extr.SceneInfo, bands map[string]string, grid raster.Grid) (*raster.Stack, error) {
	var measurements []string
	for m := range bands {
		measurements = append(measurements, m)
	}
	sort.Strings(measurements)

	stack := raster.NewStack(grid)
	for _, m := range measurements {
		path, ok := scene.BandPath(m)
		if !ok {
			return nil, fmt.Errorf("scene %s has no measurement %s", scene.ID, m)
		}
		r, err := utils.ReadBand(path, bands[m])
		if err != nil {
			return nil, err
		}
		if !r.Grid.Equal(grid) {
			r, err = raster.Resample(r, grid, raster.Bilinear)
			if err != nil {
				return nil, err
			}
		}
		stack, err = stack.AddBands(r)
		if err != nil {
			return nil, err
		}
	}
	return stack, nil
}
