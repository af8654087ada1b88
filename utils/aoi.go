package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"

	"github.com/ctessum/geom"
	geo "github.com/nci/geometry"
)

// AOI is the area of interest of one analysis run. It is immutable
// once parsed.
type AOI struct {
	Name    string
	Feature geo.Feature
	Polygon geom.Polygonal
	WKT     string
	Area    float64
	Centre  geom.Point
}

type geoJSONType struct {
	Type string `json:"type"`
}

type geoJSONCoords struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseAOI decodes a GeoJSON Feature or FeatureCollection holding a
// Polygon or MultiPolygon. Only the first feature of a collection is used.
func ParseAOI(name string, data []byte) (*AOI, error) {
	var t geoJSONType
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("Problem unmarshalling GeoJSON object: %v", err)
	}

	var feat geo.Feature
	switch t.Type {
	case "FeatureCollection":
		var fc geo.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("Problem unmarshalling GeoJSON object: %v", err)
		}
		if len(fc.Features) == 0 {
			return nil, fmt.Errorf("The feature collection does not contain any feature")
		}
		feat = fc.Features[0]
	case "Feature":
		if err := json.Unmarshal(data, &feat); err != nil {
			return nil, fmt.Errorf("Problem unmarshalling GeoJSON object: %v", err)
		}
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type %q, expecting Feature or FeatureCollection", t.Type)
	}

	switch feat.Geometry.(type) {
	case *geo.Polygon, *geo.MultiPolygon:
	default:
		return nil, fmt.Errorf("area of interest must be a Polygon or MultiPolygon, got %T", feat.Geometry)
	}

	poly, err := ToPolygonal(feat.Geometry)
	if err != nil {
		return nil, err
	}
	aoi := &AOI{
		Name:    name,
		Feature: feat,
		Polygon: poly,
		WKT:     feat.Geometry.MarshalWKT(),
		Area:    math.Abs(poly.Area()),
	}
	b := poly.Bounds()
	aoi.Centre = geom.Point{X: (b.Min.X + b.Max.X) / 2, Y: (b.Min.Y + b.Max.Y) / 2}
	if aoi.Area <= 0 {
		return nil, fmt.Errorf("area of interest %s has no area", name)
	}
	return aoi, nil
}

func LoadAOIFile(path string) (*AOI, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseAOI(path, data)
}

// ToPolygonal converts a decoded GeoJSON polygonal geometry into planar
// polygons. Coordinates are kept in the geometry's own reference system.
func ToPolygonal(g geo.Geometry) (geom.Polygonal, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	var gc geoJSONCoords
	if err := json.Unmarshal(raw, &gc); err != nil {
		return nil, err
	}

	switch gc.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(gc.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("invalid polygon coordinates: %v", err)
		}
		return polygonFromRings(rings)
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(gc.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("invalid multipolygon coordinates: %v", err)
		}
		var mp geom.MultiPolygon
		for _, rings := range polys {
			p, err := polygonFromRings(rings)
			if err != nil {
				return nil, err
			}
			mp = append(mp, p)
		}
		return mp, nil
	}
	return nil, fmt.Errorf("geometry type %s is not polygonal", gc.Type)
}

func polygonFromRings(rings [][][]float64) (geom.Polygon, error) {
	var poly geom.Polygon
	for _, ring := range rings {
		path, err := pathFromCoords(ring)
		if err != nil {
			return nil, err
		}
		poly = append(poly, path)
	}
	if len(poly) == 0 {
		return nil, fmt.Errorf("polygon without rings")
	}
	return poly, nil
}

// pathFromCoords drops the closing vertex of a GeoJSON ring.
func pathFromCoords(ring [][]float64) (geom.Path, error) {
	if len(ring) < 3 {
		return nil, fmt.Errorf("ring with %d vertices", len(ring))
	}
	var path geom.Path
	for _, c := range ring {
		if len(c) < 2 {
			return nil, fmt.Errorf("coordinate with %d dimensions", len(c))
		}
		path = append(path, geom.Point{X: c[0], Y: c[1]})
	}
	if n := len(path); path[0] == path[n-1] {
		path = path[:n-1]
	}
	return path, nil
}

// PolygonFromRing builds a single ring footprint, as found in scene
// metadata documents.
func PolygonFromRing(ring [][]float64) (geom.Polygon, error) {
	path, err := pathFromCoords(ring)
	if err != nil {
		return nil, err
	}
	return geom.Polygon{path}, nil
}
