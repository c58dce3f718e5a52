// Package document turns delivered files (txt, markdown, html, json,
// mail exports) into gzip-compressed JSONL records ready for the
// filtering pipeline. Extraction dispatches on file suffix, runs across
// a bounded worker pool, and can resume an interrupted delivery through
// an on-disk checkpoint.
package document

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/corpusworks/docpipe/pkg/logging"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// OutputSuffix is the default extension of processed deliveries.
const OutputSuffix = ".jsonl.gz"

// Processor extracts text from a batch of delivered files and writes the
// records of one source into a single compressed JSONL file.
type Processor struct {
	// Source names the delivering organisation and prefixes every
	// record id.
	Source string
	// Suffix of the output file when Run is handed a directory.
	Suffix string
	// Workers bounds concurrent extractions.
	Workers int
	// Opts is passed through to Extract.
	Opts Options
	// Resume skips files a previous run already processed, tracked in a
	// checkpoint database next to the output.
	Resume bool
}

// NewProcessor returns a processor with the defaults used by the CLI.
func NewProcessor(source string) *Processor {
	return &Processor{
		Source:  source,
		Suffix:  OutputSuffix,
		Workers: 4,
		Opts:    Options{KeyPath: "text", TextFormat: "txt"},
	}
}

// OutputPath resolves where records end up. An output argument already
// naming a .jsonl.gz file is used as is, anything else is treated as a
// directory that receives <source><suffix>.
func (p *Processor) OutputPath(output string) string {
	if strings.HasSuffix(output, OutputSuffix) {
		return output
	}
	suffix := p.Suffix
	if suffix == "" {
		suffix = OutputSuffix
	}
	return filepath.Join(output, p.Source+suffix)
}

// Result summarizes one processing run.
type Result struct {
	// Files handed to Run.
	Files int
	// Resumed files skipped because the checkpoint knew them.
	Resumed int
	// Processed files that produced at least one record.
	Processed int
	// Skipped files: unsupported, empty, or failed extraction.
	Skipped int
	// Records newly written to the output.
	Records int
	// Output is the path of the written file.
	Output string
}

// extraction carries one file's outcome from the workers to the writer.
type extraction struct {
	path   string
	docs   []*pipeline.Document
	failed bool
}

// Run extracts every file and streams the records into the resolved
// output path, writing through a temp file that is renamed into place
// only when the whole batch succeeded. Files that fail to extract are
// logged and skipped rather than failing the run.
func (p *Processor) Run(ctx context.Context, files []string, output string) (*Result, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to process")
	}
	log := logging.NewLogger("document").WithField("source", p.Source)

	out := p.OutputPath(output)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	res := &Result{Files: len(files), Output: out}

	pending := files
	var cp *Checkpoint
	if p.Resume {
		var err error
		cp, err = OpenCheckpoint(filepath.Join(filepath.Dir(out), "checkpoint.db"))
		if err != nil {
			return nil, err
		}
		defer cp.Close()

		pending = make([]string, 0, len(files))
		for _, f := range files {
			if cp.Done(f) {
				res.Resumed++
				continue
			}
			pending = append(pending, f)
		}
		if res.Resumed > 0 {
			log.Infof("resuming, %d of %d files already processed", res.Resumed, len(files))
		}
	}
	if len(pending) == 0 {
		log.Info("nothing to do, all files already processed")
		return res, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	gz := pgzip.NewWriter(tmp)
	buf := bufio.NewWriterSize(gz, 1<<20)
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	// A resumed run rewrites the output, keeping the previous records of
	// untouched files and dropping those about to be reprocessed.
	if res.Resumed > 0 {
		reprocess := make(map[string]bool, len(pending))
		for _, f := range pending {
			reprocess[f] = true
		}
		if err := carryOver(out, reprocess, buf); err != nil {
			cleanup()
			return nil, err
		}
	}

	var barOut io.Writer = os.Stderr
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		barOut = io.Discard
	}
	progress := mpb.New(mpb.WithWidth(80), mpb.WithOutput(barOut))
	bar := progress.AddBar(int64(len(pending)),
		mpb.PrependDecorators(
			decor.Name(p.Source+" "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
		),
	)

	var written []string
	g, gctx := errgroup.WithContext(ctx)
	results := make(chan extraction, p.Workers)

	g.Go(func() error {
		defer close(results)
		workers, wctx := errgroup.WithContext(gctx)
		workers.SetLimit(max(p.Workers, 1))
		for _, file := range pending {
			file := file
			workers.Go(func() error {
				docs, err := Extract(file, p.Source, p.Opts)
				if err != nil {
					log.WithField("file", file).WithError(err).Warn("extraction failed, skipping")
				}
				select {
				case results <- extraction{path: file, docs: docs, failed: err != nil}:
					return nil
				case <-wctx.Done():
					return wctx.Err()
				}
			})
		}
		return workers.Wait()
	})

	g.Go(func() error {
		for ex := range results {
			bar.Increment()
			if ex.failed || len(ex.docs) == 0 {
				res.Skipped++
				continue
			}
			for _, doc := range ex.docs {
				line, err := doc.MarshalJSONL()
				if err != nil {
					return err
				}
				if _, err := buf.Write(line); err != nil {
					return fmt.Errorf("write record: %w", err)
				}
				if err := buf.WriteByte('\n'); err != nil {
					return fmt.Errorf("write record: %w", err)
				}
			}
			res.Processed++
			res.Records += len(ex.docs)
			written = append(written, ex.path)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		bar.Abort(true)
		progress.Wait()
		cleanup()
		return nil, err
	}
	progress.Wait()

	if err := buf.Flush(); err != nil {
		cleanup()
		return nil, fmt.Errorf("flush output: %w", err)
	}
	if err := gz.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("close gzip stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("finalize output: %w", err)
	}

	// Mark only after the rename, so a crash mid-run never checkpoints
	// files whose records did not reach the final output.
	if cp != nil {
		for _, f := range written {
			if err := cp.Mark(f); err != nil {
				log.WithField("file", f).WithError(err).Warn("checkpoint update failed")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"files":     res.Files,
		"processed": res.Processed,
		"skipped":   res.Skipped,
		"records":   res.Records,
		"output":    out,
	}).Info("processing finished")
	return res, nil
}

// carryOver copies the records of a previous output into w, skipping
// those extracted from files marked for reprocessing. A missing previous
// output is fine, the checkpoint may outlive a deleted delivery.
func carryOver(prev string, reprocess map[string]bool, w *bufio.Writer) error {
	f, err := os.Open(prev)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open previous output: %w", err)
	}
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read previous output: %w", err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 1<<20), 64<<20)
	for scanner.Scan() {
		doc, err := pipeline.UnmarshalDocument(scanner.Bytes())
		if err != nil {
			return fmt.Errorf("parse previous output: %w", err)
		}
		if path, ok := doc.Metadata["file_path"].(string); ok && reprocess[path] {
			continue
		}
		if _, err := w.Write(scanner.Bytes()); err != nil {
			return fmt.Errorf("carry over record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("carry over record: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read previous output: %w", err)
	}
	return nil
}
