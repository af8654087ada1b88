package utils

import (
	"math"
	"testing"
)

const featureJSON = `{"type":"Feature","properties":{"name":"test"},"geometry":{"type":"Polygon",
"coordinates":[[[0,0],[1000,0],[1000,500],[0,500],[0,0]]]}}`

const collectionJSON = `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},
"geometry":{"type":"MultiPolygon","coordinates":[[[[0,0],[10,0],[10,10],[0,10],[0,0]]],[[[20,0],[30,0],[30,10],[20,10],[20,0]]]]}}]}`

func TestParseAOI(t *testing.T) {
	aoi, err := ParseAOI("feature", []byte(featureJSON))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if math.Abs(aoi.Area-500000) > 1e-6 {
		t.Errorf("expected area 500000, actual %v", aoi.Area)
	}
	if aoi.Centre.X != 500 || aoi.Centre.Y != 250 {
		t.Errorf("unexpected centre %v", aoi.Centre)
	}
	if len(aoi.WKT) == 0 {
		t.Errorf("expected a WKT representation")
	}

	aoi, err = ParseAOI("collection", []byte(collectionJSON))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if math.Abs(aoi.Area-200) > 1e-6 {
		t.Errorf("expected area 200, actual %v", aoi.Area)
	}

	invalid := []string{
		`{"type":"Point","coordinates":[1,2]}`,
		`{"type":"FeatureCollection","features":[]}`,
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]}}`,
		`not json`,
	}
	for _, doc := range invalid {
		if _, err := ParseAOI("bad", []byte(doc)); err == nil {
			t.Errorf("expected an error for %s", doc)
		}
	}
}

func TestPolygonFromRing(t *testing.T) {
	p, err := PolygonFromRing([][]float64{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}})
	if err != nil {
		t.Fatalf("%v", err)
	}
	if len(p[0]) != 4 {
		t.Errorf("expected the closing vertex to be dropped, actual %v", p[0])
	}
	if _, err := PolygonFromRing([][]float64{{0, 0}, {1, 1}}); err == nil {
		t.Errorf("expected an error for a degenerate ring")
	}
}
