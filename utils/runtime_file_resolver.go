package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RuntimeFileResolver finds band files relative to a colon separated
// list of data directories. A band file missing uncompressed is also
// looked up with the .gz suffix.
type RuntimeFileResolver struct {
	DataDirs   []string
	mu         sync.Mutex
	fileLookup map[string]string
}

func NewRuntimeFileResolver(searchPath string) *RuntimeFileResolver {
	resolver := &RuntimeFileResolver{
		fileLookup: make(map[string]string),
	}

	for _, dataDir := range strings.Split(searchPath, ":") {
		dataDir = strings.TrimSpace(dataDir)
		if len(dataDir) == 0 {
			continue
		}
		resolver.DataDirs = append(resolver.DataDirs, dataDir)
	}
	if len(resolver.DataDirs) == 0 {
		resolver.DataDirs = []string{"."}
	}
	return resolver
}

func (r *RuntimeFileResolver) Resolve(filePath string) (string, error) {
	if filepath.IsAbs(filePath) {
		return checkBandFile(filePath)
	}

	for _, dataDir := range r.DataDirs {
		path, err := checkBandFile(filepath.Join(dataDir, filePath))
		if err == nil {
			return path, nil
		}
	}

	return filePath, fmt.Errorf("Failed to resolve %v under %v", filePath, r.DataDirs)
}

// Lookup is Resolve with the results cached.
func (r *RuntimeFileResolver) Lookup(filePath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path, found := r.fileLookup[filePath]; found {
		return path, nil
	}

	path, err := r.Resolve(filePath)
	if err != nil {
		return "", err
	}
	r.fileLookup[filePath] = path
	return path, nil
}

func checkBandFile(filePath string) (string, error) {
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil
	}
	if strings.HasSuffix(filePath, BandExt) {
		if _, err := os.Stat(filePath + GzipExt); err == nil {
			return filePath + GzipExt, nil
		}
	}
	_, err := os.Stat(filePath)
	return filePath, err
}
