package utils

import (
	"fmt"
	"sort"

	"github.com/nci/runoff/raster"
)

// resolveDataPath looks p up under the data search path. Missing files
// are left to fail when read.
func resolveDataPath(resolver *RuntimeFileResolver, p string) string {
	path, err := resolver.Lookup(p)
	if err != nil {
		return p
	}
	return path
}

// LoadInputStack reads the configured input bands into one stack. The
// grid of the first band is the stack grid; bands on another grid are
// resampled with their configured method.
func LoadInputStack(inputs []InputBand) (*raster.Stack, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no input bands configured")
	}

	resolver := NewRuntimeFileResolver(DataDir)
	var stack *raster.Stack
	for _, in := range inputs {
		r, err := loadInputBand(resolver, in)
		if err != nil {
			return nil, err
		}
		if stack == nil {
			stack = raster.NewStack(r.Grid)
		}
		if !r.Grid.Equal(stack.Grid()) {
			method, _ := raster.ParseResampleMethod(in.Resample)
			r, err = raster.Resample(r, stack.Grid(), method)
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

func loadInputBand(resolver *RuntimeFileResolver, in InputBand) (*raster.Raster, error) {
	if len(in.Path) > 0 {
		return ReadBand(resolveDataPath(resolver, in.Path), in.Name)
	}

	expr, err := ParseBandExpression(in.Name, in.Expression)
	if err != nil {
		return nil, err
	}

	var vars []string
	for v := range in.Sources {
		vars = append(vars, v)
	}
	sort.Strings(vars)

	var sources *raster.Stack
	for _, v := range vars {
		r, err := ReadBand(resolveDataPath(resolver, in.Sources[v]), v)
		if err != nil {
			return nil, err
		}
		if sources == nil {
			sources = raster.NewStack(r.Grid)
		}
		sources, err = sources.AddBands(r)
		if err != nil {
			return nil, fmt.Errorf("input band %s: %v", in.Name, err)
		}
	}
	if sources == nil {
		return nil, fmt.Errorf("input band %s: expression without sources", in.Name)
	}
	return expr.Evaluate(sources)
}
