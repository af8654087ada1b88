package processor

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/nci/runoff/raster"
)

func TestAdjustCurveNumber(t *testing.T) {
	if cn := AdjustCurveNumber(77, 0); cn != 77 {
		t.Errorf("expected a flat slope to keep the base curve number, actual %v", cn)
	}

	expected := 70 + (20*0.1*30)/(30+math.Exp(0.75))
	if cn := AdjustCurveNumber(70, 10); !almostEqual(cn, expected) {
		t.Errorf("expected %v, actual %v", expected, cn)
	}

	// Steep slopes are not clamped.
	if cn := AdjustCurveNumber(94, 100); cn <= 94 {
		t.Errorf("expected the adjustment to increase the curve number, actual %v", cn)
	}
}

func TestCurveNumberTables(t *testing.T) {
	for _, edition := range []string{"2020", "2021"} {
		table, err := CurveNumberTableFor(edition)
		if err != nil {
			t.Fatalf("edition %s: %v", edition, err)
		}
		if !reflect.DeepEqual(table.Codes(), []int{10, 20, 30, 40, 50, 60, 90, 95}) {
			t.Errorf("edition %s: unexpected codes %v", edition, table.Codes())
		}
		for _, code := range table.Codes() {
			prev := 0.
			for g := HSGA; g <= HSGD; g++ {
				cn, ok := table.Lookup(g, code)
				if !ok {
					t.Errorf("edition %s: no value for code %d group %s", edition, code, HSGLetter(g))
				}
				if cn <= prev {
					t.Errorf("edition %s: code %d is not increasing from A to D", edition, code)
				}
				prev = cn
			}
		}
		if _, ok := table.Lookup(HSGUnknown, 40); ok {
			t.Errorf("edition %s: unknown group must not resolve", edition)
		}
		if _, ok := table.Lookup(HSGA, 80); ok {
			t.Errorf("edition %s: water must not resolve", edition)
		}
	}

	if _, err := CurveNumberTableFor("2019"); err == nil {
		t.Errorf("expected an error for an unknown edition")
	}
}

func TestCurveNumberEngine(t *testing.T) {
	g := projectedGrid(4, 1, 30)
	nd := raster.DefaultNoData
	stack := mustStack(t, g,
		filledBand(SlopePercentBand, g, nd, 2, 2, 2, nd),
		filledBand(HSGBand, g, HSGUnknown, HSGA, HSGUnknown, HSGD, HSGB),
		filledBand(LandCoverBand, g, 0, 40, 40, 80, 50),
	)
	table, _ := CurveNumberTableFor("2021")

	base, adjusted, err := NewCurveNumberEngine(NewTileRunner(1, 0), table).Compute(stack)
	if err != nil {
		t.Fatalf("curve number failed: %v", err)
	}
	if base.Name != CNBaseBand || adjusted.Name != RunoffCNBand {
		t.Errorf("unexpected band names %s, %s", base.Name, adjusted.Name)
	}

	expBase := []float64{67, nd, nd, 86}
	if !reflect.DeepEqual(base.Data, expBase) {
		t.Errorf("expected base %v, actual %v", expBase, base.Data)
	}

	exp := 67 + (20*0.02*33)/(33+math.Exp(0.15))
	if !almostEqual(adjusted.Data[0], exp) {
		t.Errorf("expected %v, actual %v", exp, adjusted.Data[0])
	}
	for i := 1; i < 4; i++ {
		if !adjusted.IsNoData(adjusted.Data[i]) {
			t.Errorf("pixel %d: expected no-data, actual %v", i, adjusted.Data[i])
		}
	}
}

func TestCurveNumberEngineNonIntegralCategory(t *testing.T) {
	g := projectedGrid(3, 1, 30)
	nd := raster.DefaultNoData
	stack := mustStack(t, g,
		filledBand(SlopePercentBand, g, nd, 0, 0, 0),
		filledBand(HSGBand, g, HSGUnknown, 1.7, HSGA, HSGA),
		filledBand(LandCoverBand, g, 0, 40, 40.5, 40),
	)
	table, _ := CurveNumberTableFor("2021")

	base, adjusted, err := NewCurveNumberEngine(NewTileRunner(1, 0), table).Compute(stack)
	if err != nil {
		t.Fatalf("curve number failed: %v", err)
	}
	expBase := []float64{nd, nd, 67}
	if !reflect.DeepEqual(base.Data, expBase) {
		t.Errorf("expected base %v, actual %v", expBase, base.Data)
	}
	if !adjusted.IsNoData(adjusted.Data[0]) || !adjusted.IsNoData(adjusted.Data[1]) {
		t.Errorf("expected masked runoff, actual %v", adjusted.Data)
	}
}

func TestCurveNumberEngineMissingLandCover(t *testing.T) {
	g := projectedGrid(1, 1, 30)
	stack := mustStack(t, g,
		filledBand(SlopePercentBand, g, raster.DefaultNoData, 2),
		filledBand(HSGBand, g, HSGUnknown, HSGA),
	)
	table, _ := CurveNumberTableFor("2020")

	_, _, err := NewCurveNumberEngine(NewTileRunner(1, 0), table).Compute(stack)
	var mbe *raster.MissingBandError
	if !errors.As(err, &mbe) {
		t.Fatalf("expected a MissingBandError, actual %v", err)
	}
	if !reflect.DeepEqual(mbe.Missing, []string{LandCoverBand}) {
		t.Errorf("unexpected missing bands %v", mbe.Missing)
	}
	for _, name := range []string{SlopePercentBand, HSGBand, LandCoverBand} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err.Error(), name)
		}
	}
}

func TestRunoffBucket(t *testing.T) {
	tests := map[float64]string{30: "Very Low", 55: "Low", 70: "Moderate", 80: "High", 90: "Very High", 104: "Very High"}
	for cn, bucket := range tests {
		if b := RunoffBucket(cn); b != bucket {
			t.Errorf("cn %v: expected %s, actual %s", cn, bucket, b)
		}
	}
}
