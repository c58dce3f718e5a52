package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxLineSize bounds a single JSONL record. Web documents occasionally
// reach several megabytes of text.
const maxLineSize = 64 << 20

// JSONLReader streams documents out of JSONL files, optionally
// gzip-compressed. Each task reads the shard of the sorted file list
// assigned to its rank.
type JSONLReader struct {
	Dir     string
	Pattern string
}

// NewJSONLReader reads files matching pattern under dir. An empty pattern
// matches any .jsonl.gz file in the tree.
func NewJSONLReader(dir, pattern string) *JSONLReader {
	if pattern == "" {
		pattern = "**/*.jsonl.gz"
	}
	return &JSONLReader{Dir: dir, Pattern: pattern}
}

func (r *JSONLReader) Name() string { return "jsonl_reader" }

func (r *JSONLReader) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
	ss := task.Stats.Step(r.Name())

	files, err := ListFiles(r.Dir, r.Pattern)
	if err != nil {
		return err
	}
	shard := ShardFiles(files, task.Rank, task.World)
	task.Log.Debugf("reading %d of %d files", len(shard), len(files))

	for _, path := range shard {
		if err := r.readFile(ctx, task, ss, path, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *JSONLReader) readFile(ctx context.Context, task *Task, ss *StepStats, path string, out chan<- *Document) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	rel, err := filepath.Rel(r.Dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 1<<20), maxLineSize)
	line := 0
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		doc, err := UnmarshalDocument(raw)
		if err != nil {
			task.Log.WithField("file", rel).Warnf("skipping line %d: %v", line, err)
			line++
			continue
		}
		if doc.ID == "" {
			doc.ID = fmt.Sprintf("%s/%d", rel, line)
		}
		ss.Input++
		ss.Bytes += int64(len(raw))
		if err := Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
		line++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
