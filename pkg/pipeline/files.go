package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ListFiles returns the files under dir that match the doublestar pattern,
// sorted so that every task ranks the same file list identically.
func ListFiles(dir, pattern string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s in %s: %w", pattern, dir, err)
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		full := filepath.Join(dir, filepath.FromSlash(m))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, full)
	}
	sort.Strings(files)
	return files, nil
}

// ShardFiles returns the slice of files assigned to rank out of world,
// distributing round-robin over the sorted list.
func ShardFiles(files []string, rank, world int) []string {
	if world <= 1 {
		return files
	}
	var shard []string
	for i, f := range files {
		if i%world == rank {
			shard = append(shard, f)
		}
	}
	return shard
}
