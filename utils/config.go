package utils

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/nci/runoff/processor"
	"github.com/nci/runoff/raster"
	yaml "gopkg.in/yaml.v2"
)

var EtcDir = "."
var DataDir = "."

const ConfigFileName = "runoff.yaml"

type ServiceConfig struct {
	Hostname        string   `yaml:"hostname"`
	CatalogDSN      string   `yaml:"catalog_dsn"`
	MemcacheServers []string `yaml:"memcache_servers"`
	SceneRoot       string   `yaml:"scene_root"`
	ScenePattern    string   `yaml:"scene_pattern"`
	CrawlConc       int      `yaml:"crawl_conc"`
	// SceneBands maps scene measurement names to stack band names,
	// e.g. nbart_nir: NIR.
	SceneBands map[string]string `yaml:"scene_bands"`
}

// Layer names accepted in AnalysisConfig.Layers.
const (
	LayerSoil      = "soil"
	LayerElevation = "elevation"
	LayerLandCover = "land_cover"
	LayerRunoff    = "runoff"
)

var defaultLayers = []string{LayerSoil, LayerElevation, LayerLandCover, LayerRunoff}

type AnalysisConfig struct {
	LandCoverEdition string   `yaml:"land_cover_edition"`
	// MinCoverage is nil when unset, so that an explicit 0 is kept.
	MinCoverage      *float64 `yaml:"min_coverage"`
	GateTolerance    float64  `yaml:"gate_tolerance"`
	Layers           []string `yaml:"layers"`
	MedianRadius     float64  `yaml:"median_radius"`
	Workers          int      `yaml:"workers"`
	TileRows         int      `yaml:"tile_rows"`
	AliasScale       float64  `yaml:"alias_scale"`
	AliasMethod      string   `yaml:"alias_method"`
}

// MinCoveragePercent is the configured minimum coverage, the default
// when unset.
func (a AnalysisConfig) MinCoveragePercent() float64 {
	if a.MinCoverage == nil {
		return processor.DefaultMinCoverage
	}
	return *a.MinCoverage
}

// InputBand describes how a stack band is loaded. Either Path names a
// band file, or Expression combines the band files listed in Sources,
// keyed by the variable names used in the expression.
type InputBand struct {
	Name       string            `yaml:"name"`
	Path       string            `yaml:"path"`
	Expression string            `yaml:"expression"`
	Sources    map[string]string `yaml:"sources"`
	Resample   string            `yaml:"resample"`
}

type ExportLayer struct {
	Name        string  `yaml:"name"`
	Label       string  `yaml:"label"`
	Scale       float64 `yaml:"scale"`
	Categorical bool    `yaml:"categorical"`
	Clip        float64 `yaml:"clip"`
}

type ExportConfig struct {
	Dir              string        `yaml:"dir"`
	Location         string        `yaml:"location"`
	Compress         bool          `yaml:"compress"`
	Layers           []ExportLayer `yaml:"layers"`
	Summaries        []string      `yaml:"summaries"`
	ManifestTemplate string        `yaml:"manifest_template"`
}

type Config struct {
	Namespace string         `yaml:"-"`
	Service   ServiceConfig  `yaml:"service"`
	Analysis  AnalysisConfig `yaml:"analysis"`
	Inputs    []InputBand    `yaml:"inputs"`
	Export    ExportConfig   `yaml:"export"`
}

// LoadConfigFile reads a YAML config document, applying defaults for
// every unset option.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = yaml.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return fmt.Errorf("Invalid config document: %s. Error: %v", configFile, err)
	}
	return nil
}

func (config *Config) applyDefaults() {
	a := &config.Analysis
	if len(a.LandCoverEdition) == 0 {
		a.LandCoverEdition = "2021"
	}
	if a.MinCoverage == nil {
		minCoverage := processor.DefaultMinCoverage
		a.MinCoverage = &minCoverage
	}
	if a.GateTolerance == 0 {
		a.GateTolerance = processor.DefaultGateTolerance
	}
	if len(a.Layers) == 0 {
		a.Layers = defaultLayers
	}
	if a.MedianRadius == 0 {
		a.MedianRadius = processor.DefaultMedianRadius
	}
	if a.AliasScale == 0 {
		a.AliasScale = 30
	}

	e := &config.Export
	if len(e.Dir) == 0 {
		e.Dir = filepath.Join(DataDir, "exports")
	}
	for i, l := range e.Layers {
		if len(l.Label) == 0 {
			e.Layers[i].Label = l.Name
		}
	}
}

func (config *Config) Validate() error {
	a := config.Analysis
	if minCoverage := a.MinCoveragePercent(); minCoverage < 0 || minCoverage > 100 {
		return fmt.Errorf("min_coverage %v outside [0, 100]", minCoverage)
	}
	if _, err := processor.CurveNumberTableFor(a.LandCoverEdition); err != nil {
		return err
	}
	if _, err := raster.ParseResampleMethod(a.AliasMethod); err != nil {
		return err
	}
	for _, l := range a.Layers {
		switch l {
		case LayerSoil, LayerElevation, LayerLandCover, LayerRunoff:
		default:
			return fmt.Errorf("unknown layer %q, valid layers are %v", l, defaultLayers)
		}
	}

	seen := map[string]bool{}
	for _, in := range config.Inputs {
		if len(in.Name) == 0 {
			return fmt.Errorf("input band without a name")
		}
		if seen[in.Name] {
			return fmt.Errorf("input band %s defined twice", in.Name)
		}
		seen[in.Name] = true
		if (len(in.Path) == 0) == (len(in.Expression) == 0) {
			return fmt.Errorf("input band %s: exactly one of path or expression is required", in.Name)
		}
		if _, err := raster.ParseResampleMethod(in.Resample); err != nil {
			return fmt.Errorf("input band %s: %v", in.Name, err)
		}
	}

	for _, s := range config.Export.Summaries {
		if s != "xlsx" && s != "parquet" {
			return fmt.Errorf("unknown summary format %q", s)
		}
	}
	return nil
}

func (config *Config) hasLayer(name string) bool {
	for _, l := range config.Analysis.Layers {
		if l == name {
			return true
		}
	}
	return false
}

// AnalysisParams converts the analysis section into processor options.
func (config *Config) AnalysisParams() (processor.AnalysisParams, error) {
	a := config.Analysis
	method, err := raster.ParseResampleMethod(a.AliasMethod)
	if err != nil {
		return processor.AnalysisParams{}, err
	}
	return processor.AnalysisParams{
		LandCoverEdition: a.LandCoverEdition,
		MinCoverage:      a.MinCoveragePercent(),
		EnableSoil:       config.hasLayer(LayerSoil),
		EnableElevation:  config.hasLayer(LayerElevation),
		EnableLandCover:  config.hasLayer(LayerLandCover),
		ComputeRunoff:    config.hasLayer(LayerRunoff),
		MedianRadius:     a.MedianRadius,
		Workers:          a.Workers,
		TileRows:         a.TileRows,
		AliasScale:       a.AliasScale,
		AliasMethod:      method,
	}, nil
}

// LoadAllConfigFiles loads every runoff.yaml under rootDir, keyed by
// the directory it was found in relative to rootDir.
func LoadAllConfigFiles(rootDir string) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.Name() == ConfigFileName {
			relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
			log.Printf("Loading config file: %s under namespace: %s\n", path, relPath)

			config := &Config{}
			e := config.LoadConfigFile(path)
			if e != nil {
				return e
			}

			ns := strings.Trim(filepath.ToSlash(relPath), "/")
			if ns == "." {
				ns = ""
			}
			config.Namespace = ns
			configMap[ns] = config
		}
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}

	return configMap, err
}

// ConfigStore holds the current config map; it is swapped as a whole on
// reload.
type ConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

func NewConfigStore(configs map[string]*Config) *ConfigStore {
	return &ConfigStore{configs: configs}
}

func (s *ConfigStore) Get(namespace string) (*Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[strings.Trim(namespace, "/")]
	return c, ok
}

func (s *ConfigStore) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.configs {
		out = append(out, k)
	}
	return out
}

func (s *ConfigStore) Replace(configs map[string]*Config) {
	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
}

func WatchConfig(infoLog, errLog *log.Logger, store *ConfigStore) {
	// Catch SIGHUP to automatically reload config
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			infoLog.Println("Caught SIGHUP, reloading config...")
			confMap, err := LoadAllConfigFiles(EtcDir)
			if err != nil {
				errLog.Printf("Error in loading config files: %v\n", err)
				continue
			}
			store.Replace(confMap)
		}
	}()
}
