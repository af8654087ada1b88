package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"time"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

type AOIInfo struct {
	Name     string  `json:"name"`
	Geometry string  `json:"geometry"`
	Area     float64 `json:"area"`
}

type GateInfo struct {
	Duration      time.Duration `json:"duration"`
	NumCandidates int           `json:"num_candidates"`
	NumEligible   int           `json:"num_eligible"`
	Status        string        `json:"status"`
	Selected      string        `json:"selected"`
	Coverage      float64       `json:"coverage"`
	NumWarnings   int           `json:"num_warnings"`
}

type BandInfo struct {
	Name     string  `json:"name"`
	NumValid int     `json:"num_valid"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
}

type ExportInfo struct {
	Duration     time.Duration `json:"duration"`
	NumFiles     int           `json:"num_files"`
	BytesWritten int64         `json:"bytes_written"`
}

// RunInfo is the record emitted once per analysis run.
type RunInfo struct {
	RunID       string        `json:"run_id"`
	Namespace   string        `json:"namespace"`
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	HTTPStatus  int           `json:"http_status"`
	Error       string        `json:"error,omitempty"`
	AOI         *AOIInfo      `json:"aoi"`
	Gate        *GateInfo     `json:"gate"`
	Analysis    time.Duration `json:"analysis_duration"`
	Bands       []BandInfo    `json:"bands"`
	Export      *ExportInfo   `json:"export"`
}

type MetricsCollector struct {
	Info   *RunInfo
	logger Logger
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &RunInfo{
			AOI:    &AOIInfo{},
			Gate:   &GateInfo{},
			Export: &ExportInfo{},
		},
		logger: logger,
	}
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

// AddBand records summary statistics of a band, skipping no-data.
func (m *MetricsCollector) AddBand(name string, data []float64, isNoData func(float64) bool) {
	bi := BandInfo{Name: name}
	var sum float64
	for _, v := range data {
		if isNoData(v) {
			continue
		}
		if bi.NumValid == 0 || v < bi.Min {
			bi.Min = v
		}
		if bi.NumValid == 0 || v > bi.Max {
			bi.Max = v
		}
		sum += v
		bi.NumValid++
	}
	if bi.NumValid > 0 {
		bi.Mean = sum / float64(bi.NumValid)
	}
	m.Info.Bands = append(m.Info.Bands, bi)
}

func (i *RunInfo) ToJSON() (string, error) {
	if len(i.RemoteAddr) > 0 {
		i.normaliseNetworkAddr(i.RemoteAddr)
	}
	i.normaliseURLs()
	i.normaliseGeometry()

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}

func (i *RunInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

func (i *RunInfo) normaliseURLs() {
	if len(i.URL.RawURL) == 0 {
		return
	}
	err := normaliseURL(&i.URL)
	if err != nil {
		log.Printf("metrics: normaliseUrl() error: %v", err)
	}
}

func normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		k = strings.ToLower(k)
		if len(v) == 1 {
			u.Query[k] = v[0]
		} else if len(v) > 1 {
			u.Query[k] = fmt.Sprintf("%v", v)
		} else {
			u.Query[k] = ""
		}
	}
	return nil
}

func (i *RunInfo) normaliseGeometry() {
	if i.AOI != nil && len(i.AOI.Geometry) == 0 {
		i.AOI.Geometry = "POLYGON EMPTY"
	}
}
