package export

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/utils"
)

// Summary formats.
const (
	SummaryXLSX    = "xlsx"
	SummaryParquet = "parquet"
)

func NewRunID() string {
	return uuid.New().String()
}

type Exporter struct {
	Dir              string
	Location         string
	Compress         bool
	Layers           []Layer
	Summaries        []string
	ManifestTemplate string
	Verbose          bool
}

func NewExporter(cfg utils.ExportConfig) *Exporter {
	return &Exporter{
		Dir:              cfg.Dir,
		Location:         cfg.Location,
		Compress:         cfg.Compress,
		Layers:           LayersFromConfig(cfg.Layers),
		Summaries:        cfg.Summaries,
		ManifestTemplate: cfg.ManifestTemplate,
	}
}

// Export writes every configured layer present in the result, the class
// area summaries and the manifest under Dir/runID. Layers whose band
// was not produced are skipped.
func (e *Exporter) Export(runID string, res *processor.AnalysisResult, aoiWKT string) (*Manifest, error) {
	if res == nil || res.Stack == nil {
		return nil, fmt.Errorf("export %s: no analysis result", runID)
	}
	dir := filepath.Join(e.Dir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	m := &Manifest{
		RunID:    runID,
		Location: e.Location,
		Created:  time.Now().UTC(),
		AOI:      aoiWKT,
		Warnings: res.Warnings,
	}
	p := res.Request.Params
	if p.EnableLandCover {
		m.Edition = p.LandCoverEdition
		m.Product, _ = processor.LandCoverProduct(p.LandCoverEdition)
	}

	for _, l := range e.Layers {
		r, ok := res.Stack.Band(l.Band)
		if !ok {
			r, ok = res.Aliases[l.Band]
		}
		if !ok {
			continue
		}
		bf, err := WriteLayer(dir, e.Location, e.Compress, r, l)
		if err != nil {
			return nil, fmt.Errorf("export %s: %v", runID, err)
		}
		if e.Verbose {
			log.Printf("export %s: %s -> %s (%d bytes)", runID, l.Band, bf.File, bf.Bytes)
		}
		m.Layers = append(m.Layers, bf)
	}

	if len(e.Summaries) > 0 {
		m.Classes = ClassAreas(res.Stack)
		for _, format := range e.Summaries {
			name := FileStem("Resumen_Clases", e.Location) + "." + format
			var err error
			switch format {
			case SummaryXLSX:
				err = WriteSummaryXLSX(filepath.Join(dir, name), m.Classes)
			case SummaryParquet:
				err = WriteSummaryParquet(filepath.Join(dir, name), m.Classes)
			default:
				err = fmt.Errorf("unknown summary format %q", format)
			}
			if err != nil {
				return nil, fmt.Errorf("export %s: %v", runID, err)
			}
			m.Summaries = append(m.Summaries, name)
		}
	}

	if err := writeManifest(dir, m, e.ManifestTemplate); err != nil {
		return nil, fmt.Errorf("export %s manifest: %v", runID, err)
	}
	return m, nil
}

func (m *Manifest) BytesWritten() int64 {
	var total int64
	for _, l := range m.Layers {
		total += l.Bytes
	}
	return total
}
