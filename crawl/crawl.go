package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"runtime"

	extr "github.com/nci/runoff/crawl/extractor"
)

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	conc := flag.Int("conc", runtime.NumCPU(), "Number of directories crawled concurrently")
	pattern := flag.String("pattern", "", "govaluate expression over 'path' and 'type' selecting the files to crawl")
	posix := flag.Bool("posix", false, "Only list the matching files with their posix info")
	outputFormat := flag.String("fmt", "json", "Output format for -posix: json or tsv")
	followSymlink := flag.Bool("follow_symlink", false, "Follow symbolic links for -posix")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Please provide the root directory to crawl")
	}
	rootDir := flag.Arg(0)

	if *posix {
		ensure(extr.ExtractPosix(rootDir, *conc, *pattern, *followSymlink, *outputFormat))
		return
	}

	scenes, err := extr.CollectScenes(rootDir, *conc, *pattern)
	if err != nil {
		log.Printf("%v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, s := range scenes {
		ensure(enc.Encode(s))
	}
}
