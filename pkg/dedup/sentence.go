package dedup

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// Defaults for sentence deduplication. Three-sentence windows catch
// boilerplate paragraphs without punishing single recurring phrases.
const (
	DefaultNSentences      = 3
	DefaultMinDocWords     = 50
	DefaultMinNumSentences = 1
)

// SentParams tunes sentence-level deduplication. The same values must
// reach the signature and filter stages of one run.
type SentParams struct {
	NSentences      int
	MinDocWords     int
	MinNumSentences int
}

func DefaultSentParams() SentParams {
	return SentParams{
		NSentences:      DefaultNSentences,
		MinDocWords:     DefaultMinDocWords,
		MinNumSentences: DefaultMinNumSentences,
	}
}

// sigRecord locates one sentence window by its hash. Records sort by
// hash so equal windows become adjacent in the merged stream.
type sigRecord struct {
	Hash    uint64
	DocIdx  uint32
	SentIdx uint32
}

const sigRecordSize = 16

func encodeSigRecord(buf []byte, rec sigRecord) {
	binary.BigEndian.PutUint64(buf[0:8], rec.Hash)
	binary.BigEndian.PutUint32(buf[8:12], rec.DocIdx)
	binary.BigEndian.PutUint32(buf[12:16], rec.SentIdx)
}

func decodeSigRecord(buf []byte) sigRecord {
	return sigRecord{
		Hash:    binary.BigEndian.Uint64(buf[0:8]),
		DocIdx:  binary.BigEndian.Uint32(buf[8:12]),
		SentIdx: binary.BigEndian.Uint32(buf[12:16]),
	}
}

// dupRecord marks one duplicated window of one document.
type dupRecord struct {
	DocIdx  uint32
	SentIdx uint32
}

const dupRecordSize = 8

func encodeDupRecord(buf []byte, rec dupRecord) {
	binary.BigEndian.PutUint32(buf[0:4], rec.DocIdx)
	binary.BigEndian.PutUint32(buf[4:8], rec.SentIdx)
}

func decodeDupRecord(buf []byte) dupRecord {
	return dupRecord{
		DocIdx:  binary.BigEndian.Uint32(buf[0:4]),
		SentIdx: binary.BigEndian.Uint32(buf[4:8]),
	}
}

// SentenceSignatures passes documents through untouched while hashing
// every window of consecutive sentences. After the stream ends it
// writes the signatures sorted by hash, sharded across finder workers
// by hash range, to sigDir/worker_NNN/task_NNNNN.bin.
type SentenceSignatures struct {
	SigDir        string
	FinderWorkers int
	Params        SentParams
}

func NewSentenceSignatures(sigDir string, finderWorkers int) *SentenceSignatures {
	if finderWorkers < 1 {
		finderWorkers = 1
	}
	return &SentenceSignatures{
		SigDir:        sigDir,
		FinderWorkers: finderWorkers,
		Params:        DefaultSentParams(),
	}
}

func (s *SentenceSignatures) Name() string { return "sent_dedup_signatures" }

func (s *SentenceSignatures) Run(ctx context.Context, task *pipeline.Task, in <-chan *pipeline.Document, out chan<- *pipeline.Document) error {
	ss := task.Stats.Step(s.Name())
	var records []sigRecord
	docIdx := uint32(0)
	for doc := range in {
		ss.Input++
		records = append(records, s.signatures(doc.Text, docIdx)...)
		docIdx++
		if err := pipeline.Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Hash != b.Hash {
			return a.Hash < b.Hash
		}
		if a.DocIdx != b.DocIdx {
			return a.DocIdx < b.DocIdx
		}
		return a.SentIdx < b.SentIdx
	})
	task.Log.WithField("signatures", len(records)).Debug("writing sentence signatures")
	return s.writeShards(task, records)
}

func (s *SentenceSignatures) signatures(text string, docIdx uint32) []sigRecord {
	sents := SplitSentences(text)
	n := s.Params.NSentences
	if len(sents) < n {
		return nil
	}
	recs := make([]sigRecord, 0, len(sents)-n+1)
	for i := 0; i+n <= len(sents); i++ {
		window := normalizeForHash(strings.Join(sents[i:i+n], " "))
		recs = append(recs, sigRecord{
			Hash:    xxhash.Sum64String(window),
			DocIdx:  docIdx,
			SentIdx: uint32(i),
		})
	}
	return recs
}

// writeShards splits the sorted records into one file per finder
// worker. Hash-sorted input makes the target worker monotonic, so a
// single writer is open at a time. Workers whose hash range saw nothing
// get no file.
func (s *SentenceSignatures) writeShards(task *pipeline.Task, records []sigRecord) (err error) {
	var (
		w   *shardWriter
		cur = -1
		buf [sigRecordSize]byte
	)
	defer func() {
		if w != nil {
			if cerr := w.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	for _, rec := range records {
		worker := s.workerFor(rec.Hash)
		if worker != cur {
			if w != nil {
				if err := w.Close(); err != nil {
					w = nil
					return err
				}
			}
			path := filepath.Join(s.SigDir, workerDir(worker), taskFile(task.Rank))
			w, err = newShardWriter(path)
			if err != nil {
				return err
			}
			cur = worker
		}
		encodeSigRecord(buf[:], rec)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SentenceSignatures) workerFor(hash uint64) int {
	if s.FinderWorkers <= 1 {
		return 0
	}
	span := math.MaxUint64/uint64(s.FinderWorkers) + 1
	return int(hash / span)
}

// SentenceFindDups merges the sorted signature shards of one finder
// worker's hash range. The first record of each equal-hash run is the
// original; every later one is recorded as a duplicate, grouped by the
// rank that produced it so the filter stage only loads its own file.
type SentenceFindDups struct {
	SigDir string
	DupDir string
}

func NewSentenceFindDups(sigDir, dupDir string) *SentenceFindDups {
	return &SentenceFindDups{SigDir: sigDir, DupDir: dupDir}
}

func (f *SentenceFindDups) Name() string { return "sent_dedup_find" }

func (f *SentenceFindDups) Run(ctx context.Context, task *pipeline.Task, in <-chan *pipeline.Document, out chan<- *pipeline.Document) error {
	for range in {
	}
	ss := task.Stats.Step(f.Name())

	dir := filepath.Join(f.SigDir, workerDir(task.Rank))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		task.Log.Debug("no signatures in this hash range")
		return nil
	}
	files, err := pipeline.ListFiles(dir, "task_*.bin")
	if err != nil {
		return err
	}
	sources, err := openSources(files, sigRecordSize, decodeSigRecord)
	if err != nil {
		return err
	}
	defer closeSources(sources)

	dups := make(map[int][]dupRecord)
	var (
		last     sigRecord
		haveLast bool
		found    int64
	)
	less := func(a, b mergeItem[sigRecord]) bool {
		if a.rec.Hash != b.rec.Hash {
			return a.rec.Hash < b.rec.Hash
		}
		if a.src.rank != b.src.rank {
			return a.src.rank < b.src.rank
		}
		if a.rec.DocIdx != b.rec.DocIdx {
			return a.rec.DocIdx < b.rec.DocIdx
		}
		return a.rec.SentIdx < b.rec.SentIdx
	}
	err = mergeSorted(sources, less, func(rec sigRecord, rank int) error {
		ss.Input++
		if haveLast && rec.Hash == last.Hash {
			dups[rank] = append(dups[rank], dupRecord{DocIdx: rec.DocIdx, SentIdx: rec.SentIdx})
			found++
			ss.Drop("duplicate_window")
			return nil
		}
		last = rec
		haveLast = true
		ss.Forward()
		return nil
	})
	if err != nil {
		return err
	}
	task.Log.WithField("duplicates", found).Info("sentence windows matched")
	return f.writeDups(task, dups)
}

func (f *SentenceFindDups) writeDups(task *pipeline.Task, dups map[int][]dupRecord) error {
	var buf [dupRecordSize]byte
	for rank, recs := range dups {
		sort.Slice(recs, func(i, j int) bool {
			a, b := recs[i], recs[j]
			if a.DocIdx != b.DocIdx {
				return a.DocIdx < b.DocIdx
			}
			return a.SentIdx < b.SentIdx
		})
		path := filepath.Join(f.DupDir, workerDir(task.Rank), taskFile(rank))
		w, err := newShardWriter(path)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			encodeDupRecord(buf[:], rec)
			if _, err := w.Write(buf[:]); err != nil {
				w.Close()
				return err
			}
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// SentenceDedupFilter removes the duplicated sentence windows found for
// this task's documents and drops documents that fall below the word or
// sentence floors afterwards. The input must be read with the same
// sharding as the signature stage so document indexes agree.
type SentenceDedupFilter struct {
	DupDir     string
	Params     SentParams
	Exclusions pipeline.DocWriter
}

func NewSentenceDedupFilter(dupDir string, exclusions pipeline.DocWriter) *SentenceDedupFilter {
	return &SentenceDedupFilter{
		DupDir:     dupDir,
		Params:     DefaultSentParams(),
		Exclusions: exclusions,
	}
}

func (f *SentenceDedupFilter) Name() string { return "sent_dedup_filter" }

func (f *SentenceDedupFilter) Run(ctx context.Context, task *pipeline.Task, in <-chan *pipeline.Document, out chan<- *pipeline.Document) (err error) {
	ss := task.Stats.Step(f.Name())
	defer func() {
		if f.Exclusions != nil {
			if cerr := f.Exclusions.Close(task); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	dups, err := f.loadDups(task.Rank)
	if err != nil {
		return err
	}
	docIdx := uint32(0)
	for doc := range in {
		ss.Input++
		spans := dups[docIdx]
		docIdx++
		if len(spans) > 0 {
			text, sentsLeft := f.strip(doc.Text, spans)
			if countWords(text) < f.Params.MinDocWords || sentsLeft < f.Params.MinNumSentences {
				ss.Drop("too_short_after_dedup")
				if f.Exclusions != nil {
					if werr := f.Exclusions.Write(task, doc); werr != nil {
						return werr
					}
				}
				continue
			}
			doc.Text = text
		}
		if err := pipeline.Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
	}
	return nil
}

// loadDups reads this task's duplicate files from every finder worker
// and groups window starts by document index.
func (f *SentenceDedupFilter) loadDups(rank int) (map[uint32][]uint32, error) {
	if _, err := os.Stat(f.DupDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	files, err := pipeline.ListFiles(f.DupDir, fmt.Sprintf("worker_*/%s", taskFile(rank)))
	if err != nil {
		return nil, err
	}
	dups := make(map[uint32][]uint32)
	for _, path := range files {
		src, err := openSource(path, dupRecordSize, decodeDupRecord)
		if err != nil {
			return nil, err
		}
		for {
			rec, ok, err := src.next()
			if err != nil {
				src.close()
				return nil, err
			}
			if !ok {
				break
			}
			dups[rec.DocIdx] = append(dups[rec.DocIdx], rec.SentIdx)
		}
		if err := src.close(); err != nil {
			return nil, err
		}
	}
	for _, spans := range dups {
		sort.Slice(spans, func(i, j int) bool { return spans[i] < spans[j] })
	}
	return dups, nil
}

// strip removes every sentence covered by a duplicated window and
// rejoins the rest. Returns the new text and how many sentences remain.
func (f *SentenceDedupFilter) strip(text string, spans []uint32) (string, int) {
	sents := SplitSentences(text)
	removed := make([]bool, len(sents))
	for _, start := range spans {
		for i := int(start); i < int(start)+f.Params.NSentences && i < len(sents); i++ {
			removed[i] = true
		}
	}
	kept := make([]string, 0, len(sents))
	for i, sent := range sents {
		if !removed[i] {
			kept = append(kept, sent)
		}
	}
	return strings.Join(kept, " "), len(kept)
}
