package document

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// InputFiles lists every regular file under dir whose name carries an
// extension, which is what the suffix dispatch keys on.
func InputFiles(dir string) ([]string, error) {
	return pipeline.ListFiles(dir, "**/*.*")
}

// CrawlLogFolders parses a web crawl log and returns the folder names the
// crawl filled under the data directory, in first-seen order. A candidate
// line's third whitespace column is a path whose second segment names the
// folder; other lines are ignored.
func CrawlLogFolders(logPath string) ([]string, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("read crawl log: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var folders []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || !strings.HasPrefix(fields[2], "/") {
			continue
		}
		parts := strings.Split(fields[2], "/")
		if len(parts) < 3 || parts[2] == "" {
			continue
		}
		if folder := parts[2]; !seen[folder] {
			seen[folder] = true
			folders = append(folders, folder)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read crawl log: %w", err)
	}
	return folders, nil
}

// CrawledFiles returns every file under dataDir belonging to a folder the
// crawl log names. Folders the crawl logged but never created are
// skipped, so the caller decides what an empty result means.
func CrawledFiles(logPath, dataDir string) ([]string, error) {
	folders, err := CrawlLogFolders(logPath)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, folder := range folders {
		dir := filepath.Join(dataDir, folder)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		matches, err := pipeline.ListFiles(dir, "**/*")
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}
