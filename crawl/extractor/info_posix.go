package extractor

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/runoff/processor"
)

func ExtractPosix(rootDir string, conc int, pattern string, followSymlink bool, outputFormat string) error {
	absRootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return err
	}

	expr, err := parsePatternExpression(pattern)
	if err != nil {
		return err
	}

	crawler := NewPosixCrawler(conc, expr, followSymlink, PrintPosixInfo(outputFormat))
	err = crawler.Crawl(absRootDir)
	if err != nil {
		os.Stderr.Write([]byte(err.Error() + "\n"))
	}
	return nil
}

func GetPosixInfo(filePath string, fStat os.FileInfo) *PosixInfo {
	info := &PosixInfo{
		FilePath: filePath,
		Size:     fStat.Size(),
		MTime:    fStat.ModTime().UTC(),
	}
	signature := fmt.Sprintf("%s%d%d", filePath, info.Size, info.MTime.UnixNano())
	if stat, ok := fStat.Sys().(*syscall.Stat_t); ok {
		info.INode = stat.Ino
		info.CTime = time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec)).UTC()
		signature = fmt.Sprintf("%s%d", signature, stat.Ino)
	}
	info.ID = fmt.Sprintf("%x", md5.Sum([]byte(signature)))
	return info
}

// Entry kinds as seen by pattern expressions.
const (
	kindDir  = "d"
	kindFile = "f"
)

// parsePatternExpression compiles a crawl filter. Only the variables
// path and type may be referenced.
func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": struct{}{}, "type": struct{}{}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, validVariables)
			}
		}
	}
	return expr, nil
}

const DefaultMaxPosixErrors = 1000

type dirKey struct {
	dev, ino uint64
}

// PosixCrawler walks a directory tree with a bounded number of
// goroutines. A directory is walked inline when no slot is free.
type PosixCrawler struct {
	pattern       *goeval.EvaluableExpression
	followSymlink bool
	emit          func(*PosixInfo)

	wg      sync.WaitGroup
	slots   chan struct{}
	found   chan *PosixInfo
	errs    chan error
	dropped int64
	visited sync.Map
}

// NewPosixCrawler returns a crawler handing every matching regular file
// to emit. emit is called from a single goroutine.
func NewPosixCrawler(conc int, pattern *goeval.EvaluableExpression, followSymlink bool, emit func(*PosixInfo)) *PosixCrawler {
	if conc <= 0 {
		conc = 1
	}
	return &PosixCrawler{
		pattern:       pattern,
		followSymlink: followSymlink,
		emit:          emit,
		slots:         make(chan struct{}, conc),
		found:         make(chan *PosixInfo, 4096),
		errs:          make(chan error, DefaultMaxPosixErrors),
	}
}

func (pc *PosixCrawler) Crawl(rootDir string) error {
	st, err := os.Stat(rootDir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", rootDir)
	}
	pc.firstVisit(st)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for info := range pc.found {
			if pc.emit != nil {
				pc.emit(info)
			}
		}
	}()

	pc.wg.Add(1)
	pc.walk(rootDir)
	pc.wg.Wait()
	close(pc.found)
	<-done

	close(pc.errs)
	var msgs []string
	for err := range pc.errs {
		msgs = append(msgs, err.Error())
	}
	if n := atomic.LoadInt64(&pc.dropped); n > 0 {
		msgs = append(msgs, fmt.Sprintf(" ... %d more errors", n))
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%s", strings.Join(msgs, "\n"))
	}
	return nil
}

func (pc *PosixCrawler) report(err error) {
	select {
	case pc.errs <- err:
	default:
		atomic.AddInt64(&pc.dropped, 1)
	}
}

// firstVisit is false for a directory already walked, which happens
// when symlinks are followed.
func (pc *PosixCrawler) firstVisit(fi os.FileInfo) bool {
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return true
	}
	_, seen := pc.visited.LoadOrStore(dirKey{dev: uint64(stat.Dev), ino: stat.Ino}, struct{}{})
	return !seen
}

func (pc *PosixCrawler) walk(dir string) {
	defer pc.wg.Done()

	entries, err := os.ReadDir(dir)
	if err != nil {
		pc.report(err)
		return
	}

	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		kind, fi, err := pc.classify(p, e)
		if err != nil {
			pc.report(err)
			continue
		}
		if len(kind) == 0 {
			continue
		}

		if pc.pattern != nil {
			ok, err := pc.evaluatePatternExpression(p, kind)
			if err != nil {
				pc.report(err)
				continue
			}
			if !ok {
				continue
			}
		}

		if fi == nil {
			if fi, err = e.Info(); err != nil {
				pc.report(err)
				continue
			}
		}

		if kind == kindDir {
			if !pc.firstVisit(fi) {
				continue
			}
			pc.wg.Add(1)
			select {
			case pc.slots <- struct{}{}:
				go func(p string) {
					defer func() { <-pc.slots }()
					pc.walk(p)
				}(p)
			default:
				pc.walk(p)
			}
			continue
		}

		pc.found <- GetPosixInfo(p, fi)
	}
}

// classify returns the entry kind, "" for entries to skip. Followed
// symlinks come back with the stat of their target.
func (pc *PosixCrawler) classify(p string, e os.DirEntry) (string, os.FileInfo, error) {
	mode := e.Type()
	var fi os.FileInfo
	if mode&os.ModeSymlink != 0 {
		if !pc.followSymlink {
			return "", nil, nil
		}
		st, err := os.Stat(p)
		if err != nil {
			return "", nil, err
		}
		fi = st
		mode = st.Mode().Type()
	}

	switch {
	case mode.IsDir():
		return kindDir, fi, nil
	case mode.IsRegular():
		return kindFile, fi, nil
	}
	return "", nil, nil
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath, kind string) (bool, error) {
	parameters := map[string]interface{}{"type": kind, "path": filePath}
	result, err := pc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}

// PrintPosixInfo writes one JSON record per file to stdout, prefixed
// with the path and record kind in tsv mode.
func PrintPosixInfo(outputFormat string) func(*PosixInfo) {
	return func(info *PosixInfo) {
		out, _ := json.Marshal(info)
		rec := string(out)
		if outputFormat == "tsv" {
			rec = fmt.Sprintf("%s\tposix\t%s", info.FilePath, rec)
		}
		fmt.Printf("%s\n", rec)
	}
}

// DefaultScenePattern selects scene metadata documents.
const DefaultScenePattern = `type == "d" || path =~ ".*\\.(yaml|yml)$"`

// CollectScenes crawls rootDir for scene metadata documents and parses
// them with at most conc workers. Documents that fail to parse are
// reported in the returned error, the others are still returned.
func CollectScenes(rootDir string, conc int, pattern string) ([]*SceneInfo, error) {
	absRootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(pattern)) == 0 {
		pattern = DefaultScenePattern
	}
	expr, err := parsePatternExpression(pattern)
	if err != nil {
		return nil, err
	}

	var files []string
	crawler := NewPosixCrawler(conc, expr, true, func(info *PosixInfo) {
		files = append(files, info.FilePath)
	})
	if err := crawler.Crawl(absRootDir); err != nil {
		return nil, err
	}
	sort.Strings(files)

	scenes := make([]*SceneInfo, len(files))
	errs := make([]error, len(files))
	cLimiter := processor.NewConcLimiter(conc)
	for i, f := range files {
		cLimiter.Increase()
		go func(i int, f string) {
			defer cLimiter.Decrease()
			scenes[i], errs[i] = ExtractYaml(f)
		}(i, f)
	}
	cLimiter.Wait()

	var out []*SceneInfo
	var msgs []string
	for i, s := range scenes {
		if errs[i] != nil {
			msgs = append(msgs, errs[i].Error())
			continue
		}
		out = append(out, s)
	}
	if len(msgs) > 0 {
		return out, fmt.Errorf("%s", strings.Join(msgs, "\n"))
	}
	return out, nil
}
