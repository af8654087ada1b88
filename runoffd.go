package main

/* runoffd is a web server exposing the coverage gate and the runoff
   analysis over HTTP. Each namespace is configured by a runoff.yaml
   document found under the config directory; the documents are
   reloaded on SIGHUP.

   POST /coverage/<namespace>  GeoJSON AOI -> gate result
   POST /analyse/<namespace>   GeoJSON AOI -> analysis outcome */

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/runoff/export"
	"github.com/nci/runoff/job"
	"github.com/nci/runoff/metrics"
	"github.com/nci/runoff/utils"
)

var (
	port            = flag.Int("p", 8080, "Server listening port.")
	serverDataDir   = flag.String("data_dir", utils.DataDir, "Server data directory.")
	serverConfigDir = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverLogDir    = flag.String("log_dir", "", "Server log directory.")
	validateConfig  = flag.Bool("check_conf", false, "Validate server config files.")
	maxBodySize     = flag.Int64("max_body", 8<<20, "Maximum request body size in bytes.")
	runTimeout      = flag.Duration("timeout", 10*time.Minute, "Maximum duration of one analysis.")
	verbose         = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

var (
	Error *log.Logger
	Info  *log.Logger
)

var configStore *utils.ConfigStore
var metricsLogger metrics.Logger

func init() {
	Error = log.New(os.Stderr, "RUNOFF: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "RUNOFF: ", log.Ldate|log.Ltime|log.Lshortfile)

	flag.Parse()

	utils.DataDir = *serverDataDir
	utils.EtcDir = *serverConfigDir

	confMap, err := utils.LoadAllConfigFiles(utils.EtcDir)
	if err != nil {
		Error.Printf("Error in loading config files: %v\n", err)
		panic(err)
	}

	if *validateConfig {
		os.Exit(0)
	}

	configStore = utils.NewConfigStore(confMap)
	utils.WatchConfig(Info, Error, configStore)

	if len(*serverLogDir) > 0 {
		if *serverLogDir == "-" {
			metricsLogger = metrics.NewStdoutLogger()
		} else {
			maxLogFileSize := int64(0)
			if val, ok := os.LookupEnv("RUNOFF_MAX_LOG_FILE_SIZE"); ok {
				valInt, e := strconv.ParseInt(val, 10, 64)
				if e == nil {
					maxLogFileSize = valInt
				} else {
					Error.Printf("invalid RUNOFF_MAX_LOG_FILE_SIZE: %v", e)
				}
			}

			maxLogFiles := -1
			if val, ok := os.LookupEnv("RUNOFF_MAX_LOG_FILES"); ok {
				valInt, e := strconv.ParseInt(val, 10, 32)
				if e == nil {
					maxLogFiles = int(valInt)
				} else {
					Error.Printf("invalid RUNOFF_MAX_LOG_FILES: %v", e)
				}
			}

			metricsLogger = metrics.NewFileLogger(*serverLogDir, maxLogFileSize, maxLogFiles, *verbose)
		}
	}
}

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{ \"error\": %q }\n", err.Error())
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// namespaceOf returns the namespace following prefix in the URL path,
// "" for the root namespace.
func namespaceOf(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

type handlerFunc func(ctx context.Context, conf *utils.Config, aoi *utils.AOI, query url.Values, mc *metrics.MetricsCollector) (interface{}, error)

func generalHandler(prefix string, handle handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
		if *verbose {
			Info.Printf("%s %s\n", r.Method, r.URL.String())
		}

		mc := metrics.NewMetricsCollector(metricsLogger)
		defer mc.Log()

		t0 := time.Now()
		mc.Info.ReqTime = t0.Format(time.RFC3339)
		defer func() { mc.Info.ReqDuration = time.Since(t0) }()

		reqURL, e := url.QueryUnescape(r.URL.String())
		if e == nil {
			mc.Info.URL.RawURL = reqURL
		} else {
			mc.Info.URL.RawURL = r.URL.String()
		}
		mc.Info.RemoteAddr = r.RemoteAddr
		mc.Info.HTTPStatus = 200

		fail := func(err error, status int) {
			mc.Info.HTTPStatus = status
			mc.Info.Error = err.Error()
			httpJSONError(w, err, status)
		}

		if r.Method != "POST" {
			fail(fmt.Errorf("method %s not allowed, POST a GeoJSON area of interest", r.Method), 405)
			return
		}

		namespace := namespaceOf(r.URL.Path, prefix)
		conf, ok := configStore.Get(namespace)
		if !ok {
			Info.Printf("Invalid namespace: %v for url: %v\n", namespace, r.URL.Path)
			fail(fmt.Errorf("invalid namespace: %v", namespace), 404)
			return
		}

		body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, *maxBodySize))
		if err != nil {
			fail(fmt.Errorf("failed to read request body: %v", err), 400)
			return
		}
		aoi, err := utils.ParseAOI(r.URL.Query().Get("name"), body)
		if err != nil {
			fail(err, 400)
			return
		}

		if err := export.ValidLocation(r.URL.Query().Get("location")); err != nil {
			fail(err, 400)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), *runTimeout)
		defer cancel()

		res, err := handle(ctx, conf, aoi, r.URL.Query(), mc)
		if err != nil {
			Error.Printf("%s: %v\n", r.URL.Path, err)
			status := 500
			if ctx.Err() != nil {
				status = 503
			}
			fail(err, status)
			return
		}
		if err := writeJSON(w, res); err != nil {
			Error.Printf("%s: %v\n", r.URL.Path, err)
		}
	}
}

func serveCoverage(ctx context.Context, conf *utils.Config, aoi *utils.AOI, query url.Values, mc *metrics.MetricsCollector) (interface{}, error) {
	mc.Info.Namespace = conf.Namespace
	mc.Info.AOI.Name = aoi.Name
	mc.Info.AOI.Geometry = aoi.WKT
	mc.Info.AOI.Area = aoi.Area

	gr, warnings, err := job.Coverage(ctx, conf, aoi, *verbose, mc)
	if err != nil {
		return nil, err
	}
	return struct {
		Result   interface{} `json:"result"`
		Warnings []string    `json:"warnings,omitempty"`
	}{gr, warnings}, nil
}

func serveAnalysis(ctx context.Context, conf *utils.Config, aoi *utils.AOI, query url.Values, mc *metrics.MetricsCollector) (interface{}, error) {
	noExport, _ := strconv.ParseBool(query.Get("no_export"))
	opts := job.Options{
		Location: query.Get("location"),
		NoExport: noExport,
		Verbose:  *verbose,
	}
	return job.Run(ctx, conf, aoi, opts, mc)
}

func namespacesHandler(w http.ResponseWriter, r *http.Request) {
	namespaces := configStore.Namespaces()
	sort.Strings(namespaces)
	if err := writeJSON(w, namespaces); err != nil {
		Error.Printf("%s: %v\n", r.URL.Path, err)
	}
}

func main() {
	http.HandleFunc("/namespaces", namespacesHandler)
	http.HandleFunc("/coverage", generalHandler("/coverage", serveCoverage))
	http.HandleFunc("/coverage/", generalHandler("/coverage", serveCoverage))
	http.HandleFunc("/analyse", generalHandler("/analyse", serveAnalysis))
	http.HandleFunc("/analyse/", generalHandler("/analyse", serveAnalysis))

	listener, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Fatal(err)
	}

	Info.Printf("runoffd is ready")
	log.Fatal(http.Serve(listener, nil))
}
