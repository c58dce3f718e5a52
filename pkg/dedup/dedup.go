// Package dedup implements the corpus deduplication stages: sentence
// level deduplication in three stages and minhash document
// deduplication in four. Stages hand data to each other through sorted
// fixed-size binary records on disk, one shard file per task, so each
// stage can run as its own executor with its own task count. The
// signature and filter stages of each method must read the input with
// the same sharding so document indexes line up.
package dedup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// SplitSentences breaks text into sentences after runs of terminal
// punctuation followed by whitespace. The signature and filter stages
// both use it, which keeps sentence indexes aligned between them.
func SplitSentences(text string) []string {
	var sents []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isSentenceEnd(runes[j]) {
			j++
		}
		if j >= len(runes) || unicode.IsSpace(runes[j]) {
			if s := strings.TrimSpace(string(runes[start:j])); s != "" {
				sents = append(sents, s)
			}
			start = j
		}
		i = j - 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sents = append(sents, tail)
	}
	return sents
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// normalizeForHash lowercases, drops punctuation and collapses
// whitespace so that trivially different renderings of the same text
// hash to the same value.
func normalizeForHash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

// countWords uses the same tokenizer as the quality filters so the
// minimum word floors mean the same thing across the whole run.
func countWords(text string) int {
	return len(pipeline.TokenizeWords(text))
}

func taskFile(rank int) string {
	return fmt.Sprintf("task_%05d.bin", rank)
}

func workerDir(worker int) string {
	return fmt.Sprintf("worker_%03d", worker)
}

func bucketDir(bucket int) string {
	return fmt.Sprintf("bucket_%03d", bucket)
}

// parseTaskRank recovers the writing task's rank from a shard file name.
func parseTaskRank(path string) (int, error) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(strings.TrimPrefix(base, "task_"), ".bin")
	rank, err := strconv.Atoi(name)
	if err != nil {
		return 0, fmt.Errorf("parse shard name %s: %w", base, err)
	}
	return rank, nil
}

// shardWriter writes fixed-size records through a buffer, creating the
// parent directory on open.
type shardWriter struct {
	f   *os.File
	buf *bufio.Writer
}

func newShardWriter(path string) (*shardWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create shard dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create shard: %w", err)
	}
	return &shardWriter{f: f, buf: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (w *shardWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *shardWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flush shard: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close shard: %w", err)
	}
	return nil
}

// recordSource streams decoded records from one shard file. rank is the
// rank of the task that wrote the shard.
type recordSource[T any] struct {
	rank  int
	next  func() (T, bool, error)
	close func() error
}

// openSource streams recordSize-byte records from path. The buffer
// handed to decode is reused between records, so decode must copy
// anything it keeps.
func openSource[T any](path string, recordSize int, decode func([]byte) T) (*recordSource[T], error) {
	rank, err := parseTaskRank(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}
	r := bufio.NewReaderSize(f, 1<<20)
	buf := make([]byte, recordSize)
	src := &recordSource[T]{rank: rank, close: f.Close}
	src.next = func() (T, bool, error) {
		var zero T
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return zero, false, nil
			}
			return zero, false, fmt.Errorf("read shard %s: %w", path, err)
		}
		return decode(buf), true, nil
	}
	return src, nil
}

func closeSources[T any](sources []*recordSource[T]) {
	for _, src := range sources {
		src.close()
	}
}

// openSources opens every shard in paths, closing the ones already open
// if any later one fails.
func openSources[T any](paths []string, recordSize int, decode func([]byte) T) ([]*recordSource[T], error) {
	sources := make([]*recordSource[T], 0, len(paths))
	for _, path := range paths {
		src, err := openSource(path, recordSize, decode)
		if err != nil {
			closeSources(sources)
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}
