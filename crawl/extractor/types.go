package extractor

import "time"

// SceneBand is one measurement of a scene, stored as a band file.
type SceneBand struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// SceneInfo is the metadata of one source image needed to decide
// whether it covers an area of interest.
type SceneInfo struct {
	FileName   string      `json:"filename"`
	Family     string      `json:"family"`
	ID         string      `json:"id"`
	Platform   string      `json:"platform,omitempty"`
	Acquired   time.Time   `json:"acquired"`
	CloudCover float64     `json:"cloud_cover"`
	CRS        string      `json:"crs"`
	Footprint  [][]float64 `json:"footprint"`
	Polygon    string      `json:"polygon"`
	Bands      []SceneBand `json:"bands"`
	PosixInfo  *PosixInfo  `json:"posix,omitempty"`
}

type PosixInfo struct {
	FilePath string    `json:"file_path"`
	INode    uint64    `json:"inode"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
	CTime    time.Time `json:"ctime"`
	ID       string    `json:"id"`
}
