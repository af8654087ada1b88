package extractor

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Scene metadata families.
const (
	FamilyARD = "ard"
	FamilyEO3 = "eo3"
)

// DetectYamlFamily tells ARD documents (grid_spatial section) from eo3
// documents (top level crs and measurements).
func DetectYamlFamily(rawData []byte) (string, error) {
	md := make(map[string]interface{})
	if err := yaml.Unmarshal(rawData, &md); err != nil {
		return "", err
	}
	if _, ok := md["grid_spatial"]; ok {
		return FamilyARD, nil
	}
	if _, ok := md["measurements"]; ok {
		return FamilyEO3, nil
	}
	return "", fmt.Errorf("unsupported yaml family")
}

func ExtractYaml(filename string) (*SceneInfo, error) {
	rawData, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	family, err := DetectYamlFamily(rawData)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}

	var scene *SceneInfo
	if family == FamilyARD {
		scene, err = extractArdYaml(filename, rawData)
	} else {
		scene, err = extractEo3Yaml(filename, rawData)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}

	fStat, fErr := os.Lstat(filename)
	if fErr != nil {
		scene.PosixInfo = &PosixInfo{}
	} else {
		scene.PosixInfo = GetPosixInfo(filename, fStat)
		scene.PosixInfo.FilePath = ""
	}
	if len(scene.ID) == 0 {
		scene.ID = scene.PosixInfo.ID
	}
	return scene, nil
}

func extractArdYaml(filename string, rawData []byte) (*SceneInfo, error) {
	type ArdBand struct {
		Path string
	}

	type ArdMetadata struct {
		Id       string
		Platform struct {
			Code string
		}

		Extent struct {
			Center_dt string
		}

		Grid_spatial struct {
			Projection struct {
				Valid_data struct {
					Coordinates [][][]string
				}
				Spatial_reference string
			}
		}

		Lineage struct {
			Cloud_cover string
		}

		Image struct {
			Bands map[string]*ArdBand
		}
	}

	ard := ArdMetadata{}
	err := yaml.Unmarshal(rawData, &ard)
	if err != nil {
		return nil, err
	}

	dsPath, _ := filepath.Split(filename)
	scene := &SceneInfo{
		FileName: filename,
		Family:   FamilyARD,
		ID:       ard.Id,
		Platform: ard.Platform.Code,
		CRS:      ard.Grid_spatial.Projection.Spatial_reference,
	}

	timestampFormat := "2006-01-02T15:04:05Z"
	scene.Acquired, err = time.ParseInLocation(timestampFormat, ard.Extent.Center_dt, time.UTC)
	if err != nil {
		log.Printf("invalid timestamp: %v", err)
	}

	if len(ard.Lineage.Cloud_cover) > 0 {
		scene.CloudCover, err = strconv.ParseFloat(ard.Lineage.Cloud_cover, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cloud cover: %v", err)
		}
	}

	coords := ard.Grid_spatial.Projection.Valid_data.Coordinates
	if len(coords) == 0 {
		return nil, fmt.Errorf("no valid data polygon")
	}
	for _, coord := range coords[0] {
		if len(coord) < 2 {
			return nil, fmt.Errorf("invalid coordinate: %v", coord)
		}
		x, errX := strconv.ParseFloat(coord[0], 64)
		y, errY := strconv.ParseFloat(coord[1], 64)
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("invalid coordinate: %v", coord)
		}
		scene.Footprint = append(scene.Footprint, []float64{x, y})
	}

	for ns, aband := range ard.Image.Bands {
		scene.Bands = append(scene.Bands, SceneBand{Name: ns, Path: filepath.Join(dsPath, aband.Path)})
	}
	finishScene(scene)
	return scene, nil
}

func extractEo3Yaml(filename string, rawData []byte) (*SceneInfo, error) {
	md := make(map[string]interface{})
	err := yaml.Unmarshal(rawData, &md)
	if err != nil {
		return nil, err
	}

	fn, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	scene := &SceneInfo{FileName: fn, Family: FamilyEO3}

	if id, ok := md["id"].(string); ok {
		scene.ID = id
	}
	if crs, ok := md["crs"].(string); ok {
		scene.CRS = crs
	}

	if geometryRaw, ok := md["geometry"].(map[interface{}]interface{}); ok {
		rings, _ := geometryRaw["coordinates"].([]interface{})
		if len(rings) == 0 {
			return nil, fmt.Errorf("geometry without coordinates")
		}
		ring, _ := rings[0].([]interface{})
		for _, coordRaw := range ring {
			coord, _ := coordRaw.([]interface{})
			if len(coord) < 2 {
				return nil, fmt.Errorf("invalid coordinate: %v", coordRaw)
			}
			x, okX := toFloat(coord[0])
			y, okY := toFloat(coord[1])
			if !okX || !okY {
				return nil, fmt.Errorf("invalid coordinate: %v", coord)
			}
			scene.Footprint = append(scene.Footprint, []float64{x, y})
		}
	}

	if props, ok := md["properties"].(map[interface{}]interface{}); ok {
		if datetimeRaw, ok := props["datetime"].(string); ok {
			scene.Acquired, err = parseEo3Datetime(datetimeRaw)
			if err != nil {
				return nil, err
			}
		}
		if cc, ok := toFloat(props["eo:cloud_cover"]); ok {
			scene.CloudCover = cc
		}
		if platform, ok := props["eo:platform"].(string); ok {
			scene.Platform = platform
		}
	}

	filePath := filepath.Dir(fn)
	if bands, ok := md["measurements"].(map[interface{}]interface{}); ok {
		for band, bandRaw := range bands {
			ns, _ := band.(string)
			bandMd, _ := bandRaw.(map[interface{}]interface{})
			dsName, _ := bandMd["path"].(string)
			if len(ns) == 0 || len(dsName) == 0 {
				return nil, fmt.Errorf("invalid measurement %v", band)
			}
			scene.Bands = append(scene.Bands, SceneBand{Name: ns, Path: filepath.Join(filePath, dsName)})
		}
	}
	finishScene(scene)
	return scene, nil
}

func parseEo3Datetime(datetimeRaw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, datetimeRaw); err == nil {
		return t.UTC(), nil
	}
	parts := strings.Split(datetimeRaw, " ")
	if len(parts) != 2 || len(parts[1]) < len("00:05:18") {
		return time.Time{}, fmt.Errorf("invalid datetime format: %v", datetimeRaw)
	}
	datetime := fmt.Sprintf("%sT%sZ", parts[0], parts[1][:len("00:05:18")])
	return time.ParseInLocation("2006-01-02T15:04:05Z", datetime, time.UTC)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func finishScene(scene *SceneInfo) {
	sort.Slice(scene.Bands, func(i, j int) bool { return scene.Bands[i].Name < scene.Bands[j].Name })

	var points []string
	for _, c := range scene.Footprint {
		points = append(points, fmt.Sprintf("%f %f", c[0], c[1]))
	}
	if len(points) > 0 {
		scene.Polygon = "POLYGON ((" + strings.Join(points, ",") + "))"
	} else {
		scene.Polygon = "POLYGON EMPTY"
	}
}
