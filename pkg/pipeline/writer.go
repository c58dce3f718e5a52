package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
)

// DocWriter is a sink that accepts documents outside the step chain.
// Filter steps use one to persist excluded documents.
type DocWriter interface {
	Write(task *Task, doc *Document) error
	Close(task *Task) error
}

// JSONLWriter writes documents as gzip-compressed JSONL, one output file
// per task. It can run as the final step of a chain or serve as the
// exclusion sink of a filter.
type JSONLWriter struct {
	Dir string

	f   *os.File
	gz  *pgzip.Writer
	buf *bufio.Writer
}

func NewJSONLWriter(dir string) *JSONLWriter {
	return &JSONLWriter{Dir: dir}
}

func (w *JSONLWriter) Name() string { return "jsonl_writer" }

// open creates the per-task output file on first write, so tasks whose
// shard produced nothing leave no empty files behind.
func (w *JSONLWriter) open(task *Task) error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("task_%05d.jsonl.gz", task.Rank))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w.f = f
	w.gz = pgzip.NewWriter(f)
	w.buf = bufio.NewWriterSize(w.gz, 1<<20)
	return nil
}

func (w *JSONLWriter) Write(task *Task, doc *Document) error {
	if err := w.open(task); err != nil {
		return err
	}
	line, err := doc.MarshalJSONL()
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return w.buf.WriteByte('\n')
}

func (w *JSONLWriter) Close(task *Task) error {
	if w.f == nil {
		return nil
	}
	defer func() { w.f, w.gz, w.buf = nil, nil, nil }()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if err := w.gz.Close(); err != nil {
		return fmt.Errorf("close gzip stream: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func (w *JSONLWriter) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
	ss := task.Stats.Step(w.Name())
	for doc := range in {
		ss.Input++
		if err := w.Write(task, doc); err != nil {
			w.Close(task)
			return err
		}
		ss.Bytes += int64(len(doc.Text))
		if err := Emit(ctx, out, doc); err != nil {
			w.Close(task)
			return err
		}
		ss.Forward()
	}
	return w.Close(task)
}
