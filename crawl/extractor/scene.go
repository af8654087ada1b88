package extractor

import (
	"fmt"

	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/utils"
)

// Candidate converts the scene into a coverage gate candidate. Cloud
// cover is used as the obscuration score.
func (s *SceneInfo) Candidate() (processor.Candidate, error) {
	footprint, err := utils.PolygonFromRing(s.Footprint)
	if err != nil {
		return processor.Candidate{}, fmt.Errorf("scene %s footprint: %v", s.ID, err)
	}
	return processor.Candidate{
		ID:          s.ID,
		Path:        s.FileName,
		Acquired:    s.Acquired,
		Footprint:   footprint,
		Obscuration: s.CloudCover,
	}, nil
}

// BandPath returns the file holding the named measurement.
func (s *SceneInfo) BandPath(name string) (string, bool) {
	for _, b := range s.Bands {
		if b.Name == name {
			return b.Path, true
		}
	}
	return "", false
}

// Candidates converts every scene, skipping those without a usable
// footprint. The skipped scene IDs are returned alongside.
func Candidates(scenes []*SceneInfo) ([]processor.Candidate, []string) {
	var out []processor.Candidate
	var skipped []string
	for _, s := range scenes {
		c, err := s.Candidate()
		if err != nil {
			skipped = append(skipped, s.ID)
			continue
		}
		out = append(out, c)
	}
	return out, skipped
}
