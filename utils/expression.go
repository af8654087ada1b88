package utils

import (
	"fmt"
	"math"
	"sort"
	"strings"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/runoff/raster"
)

// BandExpression derives a band from other bands with an arithmetic
// expression such as "sand_mean / 10". Variables are band names.
type BandExpression struct {
	Name      string
	Source    string
	Variables []string
	expr      *goeval.EvaluableExpression
}

func ParseBandExpression(name, src string) (*BandExpression, error) {
	if len(strings.TrimSpace(src)) == 0 {
		return nil, fmt.Errorf("band %s: empty expression", name)
	}
	expr, err := goeval.NewEvaluableExpression(src)
	if err != nil {
		return nil, fmt.Errorf("band %s: %v", name, err)
	}

	vars := map[string]struct{}{}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			vars[varName] = struct{}{}
		}
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("band %s: expression %q references no band", name, src)
	}

	be := &BandExpression{Name: name, Source: src, expr: expr}
	for v := range vars {
		be.Variables = append(be.Variables, v)
	}
	sort.Strings(be.Variables)
	return be, nil
}

// Evaluate computes the expression pixel by pixel. A pixel is no-data
// when any referenced band is no-data there or the result is not finite.
func (be *BandExpression) Evaluate(stack *raster.Stack) (*raster.Raster, error) {
	bands, err := stack.Require("expression "+be.Name, be.Variables...)
	if err != nil {
		return nil, err
	}

	out := bands[0].Derive(be.Name, raster.DefaultNoData, "expression:"+be.Source)
	params := make(map[string]interface{}, len(bands))
	for i := range out.Data {
		valid := true
		for j, r := range bands {
			v := r.Data[i]
			if r.IsNoData(v) {
				valid = false
				break
			}
			params[be.Variables[j]] = v
		}
		if !valid {
			continue
		}

		result, err := be.expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("band %s: %v", be.Name, err)
		}
		switch val := result.(type) {
		case float64:
			if !out.IsNoData(val) && !math.IsInf(val, 0) {
				out.Data[i] = val
			}
		case bool:
			if val {
				out.Data[i] = 1
			} else {
				out.Data[i] = 0
			}
		default:
			return nil, fmt.Errorf("band %s: result '%v' is not numeric", be.Name, result)
		}
	}
	return out, nil
}
