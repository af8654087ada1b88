package export

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/edisonguo/jet"
)

// Manifest lists everything written by one export.
type Manifest struct {
	RunID     string      `json:"run_id"`
	Location  string      `json:"location"`
	Created   time.Time   `json:"created"`
	AOI       string      `json:"aoi,omitempty"`
	Edition   string      `json:"land_cover_edition,omitempty"`
	Product   string      `json:"land_cover_product,omitempty"`
	Layers    []*BandFile `json:"layers"`
	Summaries []string    `json:"summaries,omitempty"`
	Classes   []ClassArea `json:"classes,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
}

const defaultManifestTemplate = `Runoff analysis {{ .RunID }}
Location: {{ .Location }}
Created: {{ created }}
{{ if .Product }}Land cover: {{ .Product }}
{{ end }}
Layers:
{{ range i, l := .Layers }}  {{ l.Label }}: {{ l.File }} ({{ l.DataType }}, {{ l.Scale }} m, {{ l.NumValid }} valid pixels)
{{ end }}{{ if len(.Summaries) > 0 }}
Summaries:
{{ range i, s := .Summaries }}  {{ s }}
{{ end }}{{ end }}{{ if len(.Warnings) > 0 }}
Warnings:
{{ range i, w := .Warnings }}  {{ w }}
{{ end }}{{ end }}`

const defaultManifestName = "manifest.txt.jet"

// RenderManifest executes a jet template over the manifest. An empty
// templatePath uses the built-in text template.
func RenderManifest(w io.Writer, m *Manifest, templatePath string) error {
	dir := "."
	if len(templatePath) > 0 {
		dir = filepath.Dir(templatePath)
	}
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), dir, "/")

	var template *jet.Template
	var err error
	if len(templatePath) > 0 {
		template, err = view.GetTemplate("/" + filepath.Base(templatePath))
	} else {
		template, err = view.LoadTemplate(defaultManifestName, defaultManifestTemplate)
	}
	if err != nil {
		return err
	}

	vars := make(jet.VarMap)
	vars.Set("created", m.Created.UTC().Format(time.RFC3339))
	return template.Execute(w, vars, m)
}

func writeManifest(dir string, m *Manifest, templatePath string) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0644); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := RenderManifest(&buf, m, templatePath); err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(dir, "manifest.txt"), buf.Bytes(), 0644)
}
