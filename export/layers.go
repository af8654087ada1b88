package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/utils"
)

// Layer is one exported band. Scale is the output resolution in metres,
// zero keeps the band grid.
type Layer struct {
	Band        string
	Label       string
	Scale       float64
	Categorical bool
	// Clip > 0 quantises a continuous band to bytes over [0, Clip].
	Clip float64
}

// DefaultLayers is the export table used when the config lists none.
var DefaultLayers = []Layer{
	{Band: "sand", Label: "Textura_Arena", Scale: 250},
	{Band: "silt", Label: "Textura_Limo", Scale: 250},
	{Band: "clay", Label: "Textura_Arcilla", Scale: 250},
	{Band: processor.ElevationBand, Label: "Elevacion", Scale: 30},
	{Band: processor.SlopeDegreesBand, Label: "Pendiente_grados", Scale: 30},
	{Band: processor.SlopePercentBand, Label: "Pendiente_percent", Scale: 30},
	{Band: processor.LandCoverBand, Label: "Uso_Suelo_10m", Scale: 10, Categorical: true},
	{Band: processor.SlopeClassBand, Label: "Clases_Pendiente", Scale: 30, Categorical: true},
	{Band: processor.HSGBand, Label: "Grupo_Suelo_SCS", Scale: 250, Categorical: true},
	{Band: processor.TextureBand, Label: "Clase_Textural_USDA", Scale: 250, Categorical: true},
	{Band: processor.LandCoverAliasBand, Label: "Uso_Suelo_30m", Scale: 30, Categorical: true},
	{Band: processor.RunoffCNBand, Label: "Potencial_Escorrentia_CN", Scale: 30},
}

func LayersFromConfig(cfg []utils.ExportLayer) []Layer {
	if len(cfg) == 0 {
		return DefaultLayers
	}
	layers := make([]Layer, len(cfg))
	for i, l := range cfg {
		layers[i] = Layer{Band: l.Name, Label: l.Label, Scale: l.Scale, Categorical: l.Categorical, Clip: l.Clip}
	}
	return layers
}

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

func cleanName(name string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
}

// FileStem names an export as label_location. Anything but letters,
// digits, '-' and '_' is replaced by underscores, so the stem never
// holds a path separator.
func FileStem(label, location string) string {
	label = cleanName(label)
	location = cleanName(location)
	if len(location) == 0 {
		return label
	}
	return label + "_" + location
}

// ValidLocation rejects location names that are not plain names.
func ValidLocation(location string) error {
	if strings.ContainsAny(location, `/\`) || strings.Contains(location, "..") {
		return fmt.Errorf("invalid location %q", location)
	}
	return nil
}

// DisplayLabel is the label with underscores shown as spaces.
func DisplayLabel(label string) string {
	return strings.Replace(label, "_", " ", -1)
}
