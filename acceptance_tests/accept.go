package main

/* accept posts every GeoJSON area of interest found in a directory to
   a running runoffd and checks the replies. */

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	proc "github.com/nci/runoff/processor"
	"golang.org/x/crypto/ssh/terminal"
)

var namespacesURL = "http://%s/namespaces"
var coverageURL = "http://%s/coverage/%s"
var analyseURL = "http://%s/analyse/%s?no_export=true"

var passed = "Passed"
var failed = "Failed"

func Namespaces(host string) ([]string, bool) {
	resp, err := http.Get(fmt.Sprintf(namespacesURL, host))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, false
	}

	var namespaces []string
	if err := json.NewDecoder(resp.Body).Decode(&namespaces); err != nil {
		return nil, false
	}
	return namespaces, true
}

// PostAOIs posts every .json/.geojson file of aoiDir to url with at
// most concLevel requests in flight. check validates one reply body.
func PostAOIs(url, aoiDir string, concLevel int, check func(body []byte) bool) (bool, int, time.Duration) {
	start := time.Now()

	files, err := ioutil.ReadDir(aoiDir)
	if err != nil {
		log.Fatal(err)
	}

	var mu sync.Mutex
	out := true
	n := 0
	conc := proc.NewConcLimiter(concLevel)
	for _, fi := range files {
		ext := strings.ToLower(filepath.Ext(fi.Name()))
		if ext != ".json" && ext != ".geojson" {
			continue
		}
		n++
		fPath := filepath.Join(aoiDir, fi.Name())
		conc.Go(func() error {
			ok := QueryAOI(url, fPath, check)
			mu.Lock()
			out = out && ok
			mu.Unlock()
			return nil
		})
	}
	conc.Wait()

	return out, n, time.Since(start)
}

func QueryAOI(url, fileName string, check func(body []byte) bool) bool {
	f, err := os.Open(fileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	resp, err := http.Post(url, "application/geo+json", f)
	if err != nil {
		log.Printf("%s: %v", fileName, err)
		return false
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != 200 {
		log.Printf("%s: status %d %s", fileName, resp.StatusCode, body)
		return false
	}
	if !check(body) {
		log.Printf("%s: unexpected reply %s", fileName, body)
		return false
	}
	return true
}

func hasGateStatus(body []byte) bool {
	var reply struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	return json.Unmarshal(body, &reply) == nil && len(reply.Result.Status) > 0
}

func hasRunoffBand(body []byte) bool {
	var reply struct {
		Bands []string `json:"bands"`
	}
	if json.Unmarshal(body, &reply) != nil {
		return false
	}
	for _, b := range reply.Bands {
		if b == proc.RunoffCNBand {
			return true
		}
	}
	return false
}

func inRed(str string) string {
	return fmt.Sprintf("\x1b[31;1m%s\x1b[0m", str)
}

func inGreen(str string) string {
	return fmt.Sprintf("\x1b[32;1m%s\x1b[0m", str)
}

func main() {
	host := flag.String("h", "localhost:8080", "runoffd host name or address")
	suite := flag.String("s", "coverage", "Test suite [coverage, analyse]")
	namespace := flag.String("ns", "", "Config namespace")
	aoiDir := flag.String("aoi_dir", "aoi_requests", "Directory of GeoJSON areas of interest")
	conc := flag.Int("n", 6, "Concurrency level for acceptance tests")
	flag.Parse()

	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		passed = inGreen(passed)
		failed = inRed(failed)
	}

	fmt.Printf("Testing namespaces: ")
	namespaces, ok := Namespaces(*host)
	if !ok {
		fmt.Println(failed)
		os.Exit(1)
	}
	found := false
	for _, ns := range namespaces {
		found = found || ns == *namespace
	}
	if !found {
		fmt.Println(failed, fmt.Sprintf("namespace %q not in %v", *namespace, namespaces))
		os.Exit(1)
	}
	fmt.Println(passed)

	var n int
	var t time.Duration
	switch *suite {
	case "coverage":
		fmt.Printf("Testing coverage selection: ")
		ok, n, t = PostAOIs(fmt.Sprintf(coverageURL, *host, *namespace), *aoiDir, *conc, hasGateStatus)
	case "analyse":
		fmt.Printf("Testing runoff analysis: ")
		ok, n, t = PostAOIs(fmt.Sprintf(analyseURL, *host, *namespace), *aoiDir, *conc, hasRunoffBand)
	default:
		log.Fatalf("unknown suite %s", *suite)
	}
	if !ok {
		fmt.Println(failed)
		os.Exit(1)
	}
	fmt.Println(passed, n, "requests", t)
}
