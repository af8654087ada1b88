package processor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ctessum/geom"
)

// DefaultGateTolerance is in units of the footprint reference system.
const DefaultGateTolerance = 1.

// DefaultMinCoverage is the percentage of the AOI a single image must
// cover to be used without a mosaic.
const DefaultMinCoverage = 95.

// Candidate is a source image considered for a single-image composite.
type Candidate struct {
	ID          string         `json:"id"`
	Path        string         `json:"path,omitempty"`
	Acquired    time.Time      `json:"acquired"`
	Footprint   geom.Polygonal `json:"-"`
	Obscuration float64        `json:"obscuration"`
}

// GeometryPrecisionWarning is raised when a coverage value was within
// the tolerance band of 0% or 100% and has been snapped.
type GeometryPrecisionWarning struct {
	CandidateID string  `json:"candidate_id"`
	Raw         float64 `json:"raw"`
	Snapped     float64 `json:"snapped"`
	Tolerance   float64 `json:"tolerance"`
}

func (w GeometryPrecisionWarning) String() string {
	return fmt.Sprintf("candidate %s: coverage %.6f%% snapped to %g%% (tolerance %g)", w.CandidateID, w.Raw, w.Snapped, w.Tolerance)
}

type CoverageAssessment struct {
	Candidate Candidate `json:"candidate"`
	Coverage  float64   `json:"coverage"`
	Eligible  bool      `json:"eligible"`
}

type GateStatus int

const (
	GateSelected GateStatus = iota
	// GateNoEligible is the empty result: candidates existed but none
	// reached the threshold. Callers fall back to a mosaic.
	GateNoEligible
	GateNoCandidates
)

func (s GateStatus) String() string {
	switch s {
	case GateSelected:
		return "selected"
	case GateNoEligible:
		return "no_eligible"
	case GateNoCandidates:
		return "no_candidates"
	}
	return fmt.Sprintf("GateStatus(%d)", int(s))
}

func (s GateStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type GateResult struct {
	Status      GateStatus                 `json:"status"`
	Best        *CoverageAssessment        `json:"best,omitempty"`
	Assessments []CoverageAssessment       `json:"assessments"`
	Warnings    []GeometryPrecisionWarning `json:"warnings,omitempty"`
}

// Eligible returns the eligible assessments ordered by obscuration.
func (r *GateResult) Eligible() []CoverageAssessment {
	var out []CoverageAssessment
	for _, a := range r.Assessments {
		if a.Eligible {
			out = append(out, a)
		}
	}
	return out
}

type AreaStatisticsGate struct {
	// MinCoverage is a percentage in [0, 100].
	MinCoverage float64
	Tolerance   float64
}

func NewAreaStatisticsGate(minCoverage, tolerance float64) (*AreaStatisticsGate, error) {
	if minCoverage < 0 || minCoverage > 100 || math.IsNaN(minCoverage) {
		return nil, fmt.Errorf("minimum coverage %v outside [0, 100]", minCoverage)
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("negative geometry tolerance %v", tolerance)
	}
	if tolerance == 0 {
		tolerance = DefaultGateTolerance
	}
	return &AreaStatisticsGate{MinCoverage: minCoverage, Tolerance: tolerance}, nil
}

// Coverage returns the percentage of the AOI covered by footprint.
func (g *AreaStatisticsGate) Coverage(aoi, footprint geom.Polygonal) (float64, *GeometryPrecisionWarning, error) {
	aoiArea := math.Abs(aoi.Area())
	if aoiArea == 0 {
		return 0, nil, fmt.Errorf("area of interest has zero area")
	}
	if footprint == nil {
		return 0, nil, nil
	}

	var covered float64
	if aoi.Bounds().Overlaps(footprint.Bounds()) {
		if inter := aoi.Intersection(footprint); inter != nil {
			covered = math.Abs(inter.Area())
		}
	}
	if covered > aoiArea {
		covered = aoiArea
	}

	raw := covered / aoiArea * 100.
	// A band as wide as the AOI itself, e.g. a tolerance in metres over
	// an AOI in degrees, would snap everything; no snapping then.
	sliver := g.Tolerance * perimeter(aoi)
	if sliver >= aoiArea/2 {
		return raw, nil, nil
	}
	switch {
	case covered < aoiArea && aoiArea-covered <= sliver:
		return 100, &GeometryPrecisionWarning{Raw: raw, Snapped: 100, Tolerance: g.Tolerance}, nil
	case covered > 0 && covered <= sliver:
		return 0, &GeometryPrecisionWarning{Raw: raw, Snapped: 0, Tolerance: g.Tolerance}, nil
	}
	return raw, nil, nil
}

// Select assesses every candidate against the AOI and picks the
// eligible one with the lowest obscuration. Ties are broken by ID.
func (g *AreaStatisticsGate) Select(aoi geom.Polygonal, candidates []Candidate) (*GateResult, error) {
	res := &GateResult{Status: GateNoCandidates}
	if len(candidates) == 0 {
		return res, nil
	}

	for _, c := range candidates {
		cov, warn, err := g.Coverage(aoi, c.Footprint)
		if err != nil {
			return nil, err
		}
		if warn != nil {
			warn.CandidateID = c.ID
			res.Warnings = append(res.Warnings, *warn)
		}
		res.Assessments = append(res.Assessments, CoverageAssessment{
			Candidate: c,
			Coverage:  cov,
			Eligible:  cov >= g.MinCoverage,
		})
	}

	sort.SliceStable(res.Assessments, func(i, j int) bool {
		a, b := res.Assessments[i], res.Assessments[j]
		if a.Eligible != b.Eligible {
			return a.Eligible
		}
		if a.Candidate.Obscuration != b.Candidate.Obscuration {
			return a.Candidate.Obscuration < b.Candidate.Obscuration
		}
		return a.Candidate.ID < b.Candidate.ID
	})

	if !res.Assessments[0].Eligible {
		res.Status = GateNoEligible
		return res, nil
	}
	best := res.Assessments[0]
	res.Best = &best
	res.Status = GateSelected
	return res, nil
}

func perimeter(p geom.Polygonal) float64 {
	var rings []geom.Path
	switch t := p.(type) {
	case geom.Polygon:
		rings = t
	case *geom.Polygon:
		rings = *t
	case geom.MultiPolygon:
		for _, poly := range t {
			rings = append(rings, poly...)
		}
	}

	var total float64
	for _, ring := range rings {
		n := len(ring)
		for i := 0; i < n; i++ {
			a, b := ring[i], ring[(i+1)%n]
			total += math.Hypot(b.X-a.X, b.Y-a.Y)
		}
	}
	return total
}
