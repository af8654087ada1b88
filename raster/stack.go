package raster

import (
	"fmt"
	"strings"
)

// MissingBandError is returned when an operation needs bands that are
// not part of the stack. Missing lists every absent band name and
// Required every band the operation asked for.
type MissingBandError struct {
	Op       string
	Missing  []string
	Required []string
}

func (e *MissingBandError) Error() string {
	msg := fmt.Sprintf("%s: missing bands: %s", e.Op, strings.Join(e.Missing, ", "))
	if len(e.Required) > len(e.Missing) {
		msg += fmt.Sprintf(" (requires %s)", strings.Join(e.Required, ", "))
	}
	return msg
}

// GridMismatchError is returned when a band is added to a stack with a
// different grid. Bands of a different native resolution must go
// through Resample first.
type GridMismatchError struct {
	Band     string
	Expected Grid
	Actual   Grid
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("band %s: grid %v does not match stack grid %v", e.Band, e.Actual, e.Expected)
}

// Stack is an immutable set of named bands sharing one grid. Every
// mutating operation returns a new Stack; the receiver is untouched.
type Stack struct {
	grid  Grid
	names []string
	bands map[string]*Raster
}

func NewStack(grid Grid) *Stack {
	return &Stack{grid: grid, bands: map[string]*Raster{}}
}

func (s *Stack) Grid() Grid {
	return s.grid
}

func (s *Stack) Len() int {
	return len(s.names)
}

// BandNames returns the band names in insertion order.
func (s *Stack) BandNames() []string {
	return append([]string{}, s.names...)
}

func (s *Stack) Has(name string) bool {
	_, ok := s.bands[name]
	return ok
}

func (s *Stack) Band(name string) (*Raster, bool) {
	r, ok := s.bands[name]
	return r, ok
}

// Missing returns the names among required that are absent, in the
// order they were asked for.
func (s *Stack) Missing(required ...string) []string {
	var missing []string
	for _, name := range required {
		if !s.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Require returns the requested bands or a *MissingBandError naming all
// of the absent ones.
func (s *Stack) Require(op string, required ...string) ([]*Raster, error) {
	if missing := s.Missing(required...); len(missing) > 0 {
		return nil, &MissingBandError{Op: op, Missing: missing, Required: append([]string{}, required...)}
	}
	out := make([]*Raster, len(required))
	for i, name := range required {
		out[i] = s.bands[name]
	}
	return out, nil
}

// Select returns a stack holding only the named bands.
func (s *Stack) Select(names ...string) (*Stack, error) {
	bands, err := s.Require("select", names...)
	if err != nil {
		return nil, err
	}
	out := NewStack(s.grid)
	for _, r := range bands {
		if _, dup := out.bands[r.Name]; dup {
			continue
		}
		out.names = append(out.names, r.Name)
		out.bands[r.Name] = r
	}
	return out, nil
}

// AddBands returns a new stack with the given bands appended. Adding a
// name that already exists is an error; use ReplaceBands when the
// overwrite is intended.
func (s *Stack) AddBands(rasters ...*Raster) (*Stack, error) {
	return s.add(false, rasters)
}

// ReplaceBands is AddBands with explicit overwrite of existing names.
func (s *Stack) ReplaceBands(rasters ...*Raster) (*Stack, error) {
	return s.add(true, rasters)
}

// Merge adds every band of o to s.
func (s *Stack) Merge(o *Stack) (*Stack, error) {
	rasters := make([]*Raster, 0, o.Len())
	for _, name := range o.names {
		rasters = append(rasters, o.bands[name])
	}
	return s.AddBands(rasters...)
}

func (s *Stack) add(replace bool, rasters []*Raster) (*Stack, error) {
	out := &Stack{grid: s.grid, names: append([]string{}, s.names...), bands: make(map[string]*Raster, len(s.bands)+len(rasters))}
	for k, v := range s.bands {
		out.bands[k] = v
	}

	for _, r := range rasters {
		if r == nil {
			return nil, fmt.Errorf("cannot add a nil band")
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
		if !r.Grid.Equal(s.grid) {
			return nil, &GridMismatchError{Band: r.Name, Expected: s.grid, Actual: r.Grid}
		}
		if _, found := out.bands[r.Name]; found {
			if !replace {
				return nil, fmt.Errorf("band %s already exists in the stack", r.Name)
			}
		} else {
			out.names = append(out.names, r.Name)
		}
		out.bands[r.Name] = r
	}
	return out, nil
}
