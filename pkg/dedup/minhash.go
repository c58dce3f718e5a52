package dedup

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"math/bits"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// Defaults for minhash deduplication. 14 buckets of 8 hashes over
// 5-word shingles targets roughly 0.8 Jaccard similarity.
const (
	DefaultNumBuckets      = 14
	DefaultHashesPerBucket = 8
	DefaultShingleSize     = 5
)

// mersennePrime is the modulus of the permutation family. Products are
// reduced with 128-bit intermediates, so 61 bits keeps the math exact.
const mersennePrime = uint64(1)<<61 - 1

// minhashSeed fixes the permutation family. Changing it invalidates
// every signature already on disk.
const minhashSeed = 1

// MinhashParams tunes minhash deduplication. NumBuckets must equal the
// task count of the bucket stage so each task owns exactly one bucket,
// and the same params must reach all four stages of one run.
type MinhashParams struct {
	NumBuckets      int
	HashesPerBucket int
	ShingleSize     int
}

func DefaultMinhashParams() MinhashParams {
	return MinhashParams{
		NumBuckets:      DefaultNumBuckets,
		HashesPerBucket: DefaultHashesPerBucket,
		ShingleSize:     DefaultShingleSize,
	}
}

// NewMinhashParams returns the defaults with the bucket count replaced
// when numBuckets is positive.
func NewMinhashParams(numBuckets int) MinhashParams {
	p := DefaultMinhashParams()
	if numBuckets > 0 {
		p.NumBuckets = numBuckets
	}
	return p
}

// permutations derives the multiplier and offset of every hash function
// in the family from the fixed seed, so every stage and every run sees
// the same family.
func (p MinhashParams) permutations() (a, b []uint64) {
	rng := rand.New(rand.NewSource(minhashSeed))
	n := p.NumBuckets * p.HashesPerBucket
	a = make([]uint64, n)
	b = make([]uint64, n)
	for i := 0; i < n; i++ {
		a[i] = uint64(rng.Int63n(int64(mersennePrime-1))) + 1
		b[i] = uint64(rng.Int63n(int64(mersennePrime)))
	}
	return a, b
}

// permute maps h through (a*h + b) mod 2^61-1. The 128-bit product is
// reduced by summing its 61-bit chunks, which is exact for a Mersenne
// modulus.
func permute(h, a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, h)
	p0 := lo & mersennePrime
	p1 := ((lo >> 61) | (hi << 3)) & mersennePrime
	p2 := hi >> 58
	s := p0 + p1 + p2 + b
	for s >= mersennePrime {
		s -= mersennePrime
	}
	return s
}

// shingleHashes hashes every run of n consecutive words of the
// normalized text.
func shingleHashes(text string, n int) []uint64 {
	words := pipeline.TokenizeWords(normalizeForHash(text))
	if len(words) < n {
		return nil
	}
	hashes := make([]uint64, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		hashes = append(hashes, xxhash.Sum64String(strings.Join(words[i:i+n], " ")))
	}
	return hashes
}

// computeSignature takes the minimum of every permutation over the
// shingle hashes.
func computeSignature(shingles []uint64, a, b []uint64) []uint64 {
	sig := make([]uint64, len(a))
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for _, h := range shingles {
		for i := range a {
			if v := permute(h, a[i], b[i]); v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// minhashSig carries one document's signature slice for one bucket.
type minhashSig struct {
	Sig    []uint64
	DocIdx uint32
}

func minhashRecordSize(hashesPerBucket int) int {
	return hashesPerBucket*8 + 4
}

func encodeMinhashSig(buf []byte, rec minhashSig) {
	for i, v := range rec.Sig {
		binary.BigEndian.PutUint64(buf[i*8:], v)
	}
	binary.BigEndian.PutUint32(buf[len(rec.Sig)*8:], rec.DocIdx)
}

func decodeMinhashSig(hashesPerBucket int) func([]byte) minhashSig {
	return func(buf []byte) minhashSig {
		sig := make([]uint64, hashesPerBucket)
		for i := range sig {
			sig[i] = binary.BigEndian.Uint64(buf[i*8:])
		}
		return minhashSig{
			Sig:    sig,
			DocIdx: binary.BigEndian.Uint32(buf[hashesPerBucket*8:]),
		}
	}
}

// edgeRecord joins two documents whose signatures collided in a bucket.
type edgeRecord struct {
	ARank uint32
	ADoc  uint32
	BRank uint32
	BDoc  uint32
}

const edgeRecordSize = 16

func encodeEdgeRecord(buf []byte, rec edgeRecord) {
	binary.BigEndian.PutUint32(buf[0:4], rec.ARank)
	binary.BigEndian.PutUint32(buf[4:8], rec.ADoc)
	binary.BigEndian.PutUint32(buf[8:12], rec.BRank)
	binary.BigEndian.PutUint32(buf[12:16], rec.BDoc)
}

func decodeEdgeRecord(buf []byte) edgeRecord {
	return edgeRecord{
		ARank: binary.BigEndian.Uint32(buf[0:4]),
		ADoc:  binary.BigEndian.Uint32(buf[4:8]),
		BRank: binary.BigEndian.Uint32(buf[8:12]),
		BDoc:  binary.BigEndian.Uint32(buf[12:16]),
	}
}

// MinhashSignatures passes documents through untouched while computing
// their minhash signatures. After the stream ends it writes the
// signatures sorted, one shard per bucket, to
// sigDir/bucket_NNN/task_NNNNN.bin.
type MinhashSignatures struct {
	SigDir string
	Params MinhashParams
}

func NewMinhashSignatures(sigDir string, params MinhashParams) *MinhashSignatures {
	return &MinhashSignatures{SigDir: sigDir, Params: params}
}

func (s *MinhashSignatures) Name() string { return "minhash_signatures" }

func (s *MinhashSignatures) Run(ctx context.Context, task *pipeline.Task, in <-chan *pipeline.Document, out chan<- *pipeline.Document) error {
	ss := task.Stats.Step(s.Name())
	a, b := s.Params.permutations()
	perBucket := make([][]minhashSig, s.Params.NumBuckets)
	docIdx := uint32(0)
	for doc := range in {
		ss.Input++
		if shingles := shingleHashes(doc.Text, s.Params.ShingleSize); len(shingles) > 0 {
			sig := computeSignature(shingles, a, b)
			for bkt := 0; bkt < s.Params.NumBuckets; bkt++ {
				part := make([]uint64, s.Params.HashesPerBucket)
				copy(part, sig[bkt*s.Params.HashesPerBucket:])
				perBucket[bkt] = append(perBucket[bkt], minhashSig{Sig: part, DocIdx: docIdx})
			}
		}
		docIdx++
		if err := pipeline.Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
	}
	return s.writeShards(task, perBucket)
}

func (s *MinhashSignatures) writeShards(task *pipeline.Task, perBucket [][]minhashSig) error {
	buf := make([]byte, minhashRecordSize(s.Params.HashesPerBucket))
	for bkt, sigs := range perBucket {
		if len(sigs) == 0 {
			continue
		}
		sort.Slice(sigs, func(i, j int) bool {
			if c := slices.Compare(sigs[i].Sig, sigs[j].Sig); c != 0 {
				return c < 0
			}
			return sigs[i].DocIdx < sigs[j].DocIdx
		})
		path := filepath.Join(s.SigDir, bucketDir(bkt), taskFile(task.Rank))
		w, err := newShardWriter(path)
		if err != nil {
			return err
		}
		for _, rec := range sigs {
			encodeMinhashSig(buf, rec)
			if _, err := w.Write(buf); err != nil {
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

// MinhashBuckets merges one bucket's sorted signature shards and writes
// an edge for every pair of consecutive identical signatures. Chaining
// consecutive matches is enough: union-find closes the transitivity in
// the next stage.
type MinhashBuckets struct {
	SigDir    string
	BucketDir string
	Params    MinhashParams
}

func NewMinhashBuckets(sigDir, bucketDir string, params MinhashParams) *MinhashBuckets {
	return &MinhashBuckets{SigDir: sigDir, BucketDir: bucketDir, Params: params}
}

func (m *MinhashBuckets) Name() string { return "minhash_buckets" }

func (m *MinhashBuckets) Run(ctx context.Context, task *pipeline.Task, in <-chan *pipeline.Document, out chan<- *pipeline.Document) (err error) {
	for range in {
	}
	if task.World != m.Params.NumBuckets {
		return fmt.Errorf("bucket stage needs one task per bucket: %d tasks for %d buckets", task.World, m.Params.NumBuckets)
	}
	ss := task.Stats.Step(m.Name())

	dir := filepath.Join(m.SigDir, bucketDir(task.Rank))
	if _, serr := os.Stat(dir); errors.Is(serr, fs.ErrNotExist) {
		task.Log.Debug("no signatures in this bucket")
		return nil
	}
	files, err := pipeline.ListFiles(dir, "task_*.bin")
	if err != nil {
		return err
	}
	sources, err := openSources(files, minhashRecordSize(m.Params.HashesPerBucket), decodeMinhashSig(m.Params.HashesPerBucket))
	if err != nil {
		return err
	}
	defer closeSources(sources)

	w, err := newShardWriter(filepath.Join(m.BucketDir, bucketDir(task.Rank)+".bin"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var (
		last     minhashSig
		lastRank int
		haveLast bool
		edges    int64
		buf      [edgeRecordSize]byte
	)
	less := func(a, b mergeItem[minhashSig]) bool {
		if c := slices.Compare(a.rec.Sig, b.rec.Sig); c != 0 {
			return c < 0
		}
		if a.src.rank != b.src.rank {
			return a.src.rank < b.src.rank
		}
		return a.rec.DocIdx < b.rec.DocIdx
	}
	err = mergeSorted(sources, less, func(rec minhashSig, rank int) error {
		ss.Input++
		if haveLast && slices.Equal(last.Sig, rec.Sig) {
			encodeEdgeRecord(buf[:], edgeRecord{
				ARank: uint32(lastRank),
				ADoc:  last.DocIdx,
				BRank: uint32(rank),
				BDoc:  rec.DocIdx,
			})
			if _, werr := w.Write(buf[:]); werr != nil {
				return werr
			}
			edges++
		}
		last = rec
		lastRank = rank
		haveLast = true
		return nil
	})
	if err != nil {
		return err
	}
	task.Log.WithField("edges", edges).Info("signature collisions recorded")
	return nil
}

// docID names a document by the rank of the task that streamed it and
// its index within that task.
type docID struct {
	Rank uint32
	Doc  uint32
}

func (d docID) less(o docID) bool {
	if d.Rank != o.Rank {
		return d.Rank < o.Rank
	}
	return d.Doc < o.Doc
}

// unionFind keeps the smallest member of each cluster as the root, so
// the document that entered the corpus first survives deduplication.
type unionFind struct {
	parent map[docID]docID
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[docID]docID)}
}

func (u *unionFind) find(d docID) docID {
	p, ok := u.parent[d]
	if !ok {
		u.parent[d] = d
		return d
	}
	if p == d {
		return d
	}
	root := u.find(p)
	u.parent[d] = root
	return root
}

func (u *unionFind) union(a, b docID) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb.less(ra) {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

// MinhashClusters runs as a single task. It unions the edges of every
// bucket into clusters and writes the members to remove, one sorted
// shard per originating task, to removeDir/task_NNNNN.bin. Cluster
// roots are kept.
type MinhashClusters struct {
	BucketDir string
	RemoveDir string
}

func NewMinhashClusters(bucketDir, removeDir string) *MinhashClusters {
	return &MinhashClusters{BucketDir: bucketDir, RemoveDir: removeDir}
}

func (m *MinhashClusters) Name() string { return "minhash_clusters" }

func (m *MinhashClusters) Run(ctx context.Context, task *pipeline.Task, in <-chan *pipeline.Document, out chan<- *pipeline.Document) error {
	for range in {
	}
	ss := task.Stats.Step(m.Name())

	if _, err := os.Stat(m.BucketDir); errors.Is(err, fs.ErrNotExist) {
		task.Log.Debug("no bucket output, nothing to cluster")
		return nil
	}
	files, err := pipeline.ListFiles(m.BucketDir, "bucket_*.bin")
	if err != nil {
		return err
	}
	uf := newUnionFind()
	for _, path := range files {
		if err := m.unionEdges(uf, path); err != nil {
			return err
		}
	}

	removed := make(map[uint32][]uint32)
	var total int64
	for node := range uf.parent {
		ss.Input++
		if uf.find(node) != node {
			removed[node.Rank] = append(removed[node.Rank], node.Doc)
			total++
			ss.Drop("minhash_duplicate")
			continue
		}
		ss.Forward()
	}
	task.Log.WithField("documents", total).Info("marked for removal")
	return m.writeRemoveIDs(removed)
}

func (m *MinhashClusters) unionEdges(uf *unionFind, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open edges: %w", err)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)
	var buf [edgeRecordSize]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read edges %s: %w", path, err)
		}
		rec := decodeEdgeRecord(buf[:])
		uf.union(
			docID{Rank: rec.ARank, Doc: rec.ADoc},
			docID{Rank: rec.BRank, Doc: rec.BDoc},
		)
	}
}

func (m *MinhashClusters) writeRemoveIDs(removed map[uint32][]uint32) error {
	var buf [4]byte
	for rank, docs := range removed {
		sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })
		w, err := newShardWriter(filepath.Join(m.RemoveDir, taskFile(int(rank))))
		if err != nil {
			return err
		}
		for _, doc := range docs {
			binary.BigEndian.PutUint32(buf[:], doc)
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

// MinhashFilter drops every document in this task's remove set. The
// input must be read with the same sharding as the signature stage so
// document indexes agree.
type MinhashFilter struct {
	RemoveDir  string
	Exclusions pipeline.DocWriter
}

func NewMinhashFilter(removeDir string, exclusions pipeline.DocWriter) *MinhashFilter {
	return &MinhashFilter{RemoveDir: removeDir, Exclusions: exclusions}
}

func (f *MinhashFilter) Name() string { return "minhash_filter" }

func (f *MinhashFilter) Run(ctx context.Context, task *pipeline.Task, in <-chan *pipeline.Document, out chan<- *pipeline.Document) (err error) {
	ss := task.Stats.Step(f.Name())
	defer func() {
		if f.Exclusions != nil {
			if cerr := f.Exclusions.Close(task); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	removed, err := f.loadRemoveSet(task.Rank)
	if err != nil {
		return err
	}
	docIdx := uint32(0)
	for doc := range in {
		ss.Input++
		_, dup := removed[docIdx]
		docIdx++
		if dup {
			ss.Drop("minhash_duplicate")
			if f.Exclusions != nil {
				if werr := f.Exclusions.Write(task, doc); werr != nil {
					return werr
				}
			}
			continue
		}
		if err := pipeline.Emit(ctx, out, doc); err != nil {
			return err
		}
		ss.Forward()
	}
	return nil
}

func (f *MinhashFilter) loadRemoveSet(rank int) (map[uint32]struct{}, error) {
	path := filepath.Join(f.RemoveDir, taskFile(rank))
	fh, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open remove ids: %w", err)
	}
	defer fh.Close()
	r := bufio.NewReaderSize(fh, 1<<20)
	removed := make(map[uint32]struct{})
	var buf [4]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return removed, nil
			}
			return nil, fmt.Errorf("read remove ids %s: %w", path, err)
		}
		removed[binary.BigEndian.Uint32(buf[:])] = struct{}{}
	}
}
