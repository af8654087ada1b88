package main

/* analyse runs one runoff-potential analysis for an area of interest
   described by a GeoJSON file, using the inputs and export settings of
   a runoff.yaml config document. The outcome is printed as JSON. */

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nci/runoff/job"
	"github.com/nci/runoff/metrics"
	"github.com/nci/runoff/utils"
	"golang.org/x/crypto/ssh/terminal"
)

var (
	confFile = flag.String("conf", utils.ConfigFileName, "Config document.")
	aoiFile  = flag.String("aoi", "", "GeoJSON Feature or FeatureCollection of the area of interest.")
	location = flag.String("location", "", "Location name used in export file names.")
	runID    = flag.String("run_id", "", "Run identifier, a random UUID by default.")
	dataDir  = flag.String("data_dir", utils.DataDir, "Base directory of relative input paths.")
	noExport = flag.Bool("no_export", false, "Skip writing the export layers.")
	logDir   = flag.String("log_dir", "", "Metrics log directory, '-' for stdout.")
	verbose  = flag.Bool("v", false, "Verbose mode.")
)

var (
	passed = "OK"
	failed = "FAILED"
)

func inRed(str string) string {
	return fmt.Sprintf("\x1b[31;1m%s\x1b[0m", str)
}

func inGreen(str string) string {
	return fmt.Sprintf("\x1b[32;1m%s\x1b[0m", str)
}

func main() {
	flag.Parse()
	if len(*aoiFile) == 0 {
		log.Fatal("Please provide an area of interest with -aoi")
	}
	utils.DataDir = *dataDir

	if terminal.IsTerminal(int(os.Stderr.Fd())) {
		passed = inGreen(passed)
		failed = inRed(failed)
	}

	conf := &utils.Config{}
	if err := conf.LoadConfigFile(*confFile); err != nil {
		log.Fatal(err)
	}
	aoi, err := utils.LoadAOIFile(*aoiFile)
	if err != nil {
		log.Fatal(err)
	}

	var logger metrics.Logger
	var fileLogger *metrics.FileLogger
	if *logDir == "-" {
		logger = metrics.NewStdoutLogger()
	} else if len(*logDir) > 0 {
		fileLogger = metrics.NewFileLogger(*logDir, 0, -1, *verbose)
		logger = fileLogger
	}
	mc := metrics.NewMetricsCollector(logger)
	flushMetrics := func() {
		mc.Log()
		if fileLogger != nil {
			fileLogger.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	t0 := time.Now()
	mc.Info.ReqTime = t0.Format(time.RFC3339)
	fmt.Fprintf(os.Stderr, "Analysing %s: ", aoi.Name)
	out, err := job.Run(ctx, conf, aoi, job.Options{RunID: *runID, Location: *location, NoExport: *noExport, Verbose: *verbose}, mc)
	mc.Info.ReqDuration = time.Since(t0)
	if err != nil {
		fmt.Fprintln(os.Stderr, failed)
		mc.Info.Error = err.Error()
		flushMetrics()
		log.Fatal(err)
	}
	fmt.Fprintf(os.Stderr, "%s (%v)\n", passed, mc.Info.ReqDuration)
	flushMetrics()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal(err)
	}
}
