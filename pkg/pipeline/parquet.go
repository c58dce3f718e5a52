package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

const parquetBatchSize = 1000

// parquetRecord is the row shape shared by the parquet reader and writer.
// Metadata rides along as a JSON string column.
type parquetRecord struct {
	Text     string `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8"`
	ID       string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source   string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Added    string `parquet:"name=added, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metadata string `parquet:"name=metadata, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ParquetReader streams documents out of parquet files, sharding the
// sorted file list across task ranks the same way JSONLReader does.
type ParquetReader struct {
	Dir     string
	Pattern string
}

func NewParquetReader(dir, pattern string) *ParquetReader {
	if pattern == "" {
		pattern = "**/*.parquet"
	}
	return &ParquetReader{Dir: dir, Pattern: pattern}
}

func (r *ParquetReader) Name() string { return "parquet_reader" }

func (r *ParquetReader) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
	ss := task.Stats.Step(r.Name())

	files, err := ListFiles(r.Dir, r.Pattern)
	if err != nil {
		return err
	}
	shard := ShardFiles(files, task.Rank, task.World)
	task.Log.Debugf("reading %d of %d parquet files", len(shard), len(files))

	for _, path := range shard {
		if err := r.readFile(ctx, ss, path, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *ParquetReader) readFile(ctx context.Context, ss *StepStats, path string, out chan<- *Document) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetRecord), 4)
	if err != nil {
		return fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer pr.ReadStop()

	remaining := pr.GetNumRows()
	for remaining > 0 {
		n := int64(parquetBatchSize)
		if remaining < n {
			n = remaining
		}
		batch := make([]parquetRecord, n)
		if err := pr.Read(&batch); err != nil {
			return fmt.Errorf("read parquet %s: %w", path, err)
		}
		for i := range batch {
			doc := recordToDocument(&batch[i])
			ss.Input++
			ss.Bytes += int64(len(doc.Text))
			if err := Emit(ctx, out, doc); err != nil {
				return err
			}
			ss.Forward()
		}
		remaining -= n
	}
	return nil
}

func recordToDocument(rec *parquetRecord) *Document {
	doc := &Document{
		Text:   rec.Text,
		ID:     rec.ID,
		Source: rec.Source,
		Added:  rec.Added,
	}
	if rec.Metadata != "" {
		// Malformed metadata is not worth failing a task over.
		_ = json.Unmarshal([]byte(rec.Metadata), &doc.Metadata)
	}
	return doc
}

// ParquetWriter writes documents to one snappy-compressed parquet file
// per task.
type ParquetWriter struct {
	Dir string

	fw source.ParquetFile
	pw *writer.ParquetWriter
}

func NewParquetWriter(dir string) *ParquetWriter {
	return &ParquetWriter{Dir: dir}
}

func (w *ParquetWriter) Name() string { return "parquet_writer" }

func (w *ParquetWriter) open(task *Task) error {
	if w.pw != nil {
		return nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("task_%05d.parquet", task.Rank))
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetRecord), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("create parquet writer for %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	w.fw, w.pw = fw, pw
	return nil
}

func (w *ParquetWriter) Write(task *Task, doc *Document) error {
	if err := w.open(task); err != nil {
		return err
	}
	rec := parquetRecord{
		Text:   doc.Text,
		ID:     doc.ID,
		Source: doc.Source,
		Added:  doc.Added,
	}
	if len(doc.Metadata) > 0 {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", doc.ID, err)
		}
		rec.Metadata = string(meta)
	}
	if err := w.pw.Write(rec); err != nil {
		return fmt.Errorf("write parquet row: %w", err)
	}
	return nil
}

func (w *ParquetWriter) Close(task *Task) error {
	if w.pw == nil {
		return nil
	}
	defer func() { w.fw, w.pw = nil, nil }()
	if err := w.pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet: %w", err)
	}
	if err := w.fw.Close(); err != nil {
		return fmt.Errorf("close parquet: %w", err)
	}
	return nil
}

func (w *ParquetWriter) Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error {
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
