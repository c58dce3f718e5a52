package stages

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/corpusworks/docpipe/pkg/cluster"
	"github.com/corpusworks/docpipe/pkg/config"
	"github.com/corpusworks/docpipe/pkg/executor"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

const configTemplate = `
datasets:
  - name: data1
    input_dir: ROOT/raw/data1
    output_dir: ROOT/processed/data1
    exclusion_dir: ROOT/exclusions/data1
    logging_dir: ROOT/logs/data1
sentence_deduplication:
  input_dir: ROOT/processed
  glob_pattern: "**/*.parquet"
  dedup_dir: ROOT/dedup/sentences
  exclusion_dir: ROOT/exclusions/sent_dedup
  output_dir: ROOT/sent_dedup
  logging_dir: ROOT/logs/sent_dedup
minhash_deduplication:
  input_dir: ROOT/sent_dedup
  glob_pattern: "**/*.parquet"
  dedup_dir: ROOT/dedup/minhash
  exclusion_dir: ROOT/exclusions/minhash_dedup
  output_dir: ROOT/minhash_dedup
  logging_dir: ROOT/logs/minhash_dedup
  n_buckets: 1
executor:
  n_workers: 1
  n_tasks: 1
cluster:
  type: local
`

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(strings.ReplaceAll(configTemplate, "ROOT", root)))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

func discardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func writeParquet(t *testing.T, dir string, docs []*pipeline.Document) {
	t.Helper()
	w := pipeline.NewParquetWriter(dir)
	task := &pipeline.Task{Rank: 0, World: 1, Log: discardLogger(), Stats: pipeline.NewStats()}
	for _, doc := range docs {
		if err := w.Write(task, doc); err != nil {
			t.Fatalf("write parquet: %v", err)
		}
	}
	if err := w.Close(task); err != nil {
		t.Fatalf("close parquet: %v", err)
	}
}

func chainNames(tail *executor.Executor) []string {
	var names []string
	for _, ex := range executor.Chain(tail) {
		names = append(names, ex.Name)
	}
	return names
}

func TestBuildChains(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	tests := []struct {
		stage string
		chain []string
	}{
		{StageFilter, []string{"filter/data1"}},
		{StageSent, []string{"sent_dedup_sigs/data1", "sent_dedup_find/data1", "sent_dedup_filter/data1"}},
		{StageMinhash, []string{"minhash_sigs/data1", "minhash_buckets/data1", "minhash_clusters/data1", "minhash_filter/data1"}},
		{StageRun, []string{"filter/data1", "sent_dedup_sigs/data1", "sent_dedup_find/data1", "sent_dedup_filter/data1"}},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			tail, err := Build(cfg, tt.stage, "data1")
			if err != nil {
				t.Fatalf("Build(%s) error = %v", tt.stage, err)
			}
			if got := chainNames(tail); !reflect.DeepEqual(got, tt.chain) {
				t.Errorf("chain = %v, want %v", got, tt.chain)
			}
		})
	}
}

func TestBuildPropagatesDebug(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Executor.Debug = true

	tail, err := Build(cfg, StageSent, "data1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, ex := range executor.Chain(tail) {
		if !ex.Debug {
			t.Errorf("executor %s Debug = false, want true", ex.Name)
		}
	}

	cfg.Executor.Debug = false
	tail, err = Build(cfg, StageSent, "data1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, ex := range executor.Chain(tail) {
		if ex.Debug {
			t.Errorf("executor %s Debug = true, want false", ex.Name)
		}
	}
}

func TestBuildTopology(t *testing.T) {
	yml := configTemplate
	yml = strings.Replace(yml, "n_tasks: 1", "n_tasks: 4", 1)
	yml = strings.Replace(yml, "n_workers: 1", "n_workers: 2", 1)
	yml = strings.Replace(yml, "n_buckets: 1", "n_buckets: 4", 1)
	cfg, err := config.Parse([]byte(strings.ReplaceAll(yml, "ROOT", t.TempDir())))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tail, err := Build(cfg, StageMinhash, "data1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	chain := executor.Chain(tail)
	if chain[0].Tasks != 4 || chain[0].Workers != 2 {
		t.Errorf("signature stage topology = %d/%d, want 4/2", chain[0].Tasks, chain[0].Workers)
	}
	if chain[1].Tasks != 4 {
		t.Errorf("bucket stage tasks = %d, want one per bucket", chain[1].Tasks)
	}
	if chain[2].Tasks != 1 || chain[2].Workers != 1 {
		t.Errorf("cluster stage topology = %d/%d, want 1/1", chain[2].Tasks, chain[2].Workers)
	}
	if chain[3].Tasks != 4 {
		t.Errorf("filter stage tasks = %d, want 4", chain[3].Tasks)
	}

	tail, err = Build(cfg, StageSent, "data1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	find := executor.Chain(tail)[1]
	if find.Tasks != 4 {
		t.Errorf("find stage tasks = %d, want one per finder worker", find.Tasks)
	}
	if find.Workers != 1 {
		t.Errorf("find stage workers = %d, want 1", find.Workers)
	}
}

func TestBuildErrors(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	if _, err := Build(cfg, StageFilter, "nope"); err == nil || !strings.Contains(err.Error(), "not declared") {
		t.Errorf("unknown dataset error = %v", err)
	}
	if _, err := Build(cfg, "tokenize", "data1"); err == nil || !strings.Contains(err.Error(), "unknown pipeline stage") {
		t.Errorf("unknown stage error = %v", err)
	}
}

func TestFilterStepOrder(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	tail, err := Build(cfg, StageFilter, "data1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{
		"jsonl_reader",
		"text_normalizer",
		"language_filter",
		"gopher_repetition_filter",
		"gopher_quality_filter",
		"c4_quality_filter",
		"fineweb_quality_filter",
		"tokens_counter",
		"parquet_writer",
	}
	if got := pipeline.Names(tail.Steps()); !reflect.DeepEqual(got, want) {
		t.Errorf("filter steps = %v, want %v", got, want)
	}
}

// Three sentences, so the whole document is exactly one dedup window.
const dupBlock = "Første sætning i denne blok. Anden sætning følger lige efter. Tredje sætning slutter blokken."

func TestSentDedupStage(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	writeParquet(t, filepath.Join(root, "processed", "data1"), []*pipeline.Document{
		{ID: "a", Text: dupBlock, Source: "test"},
		{ID: "b", Text: dupBlock, Source: "test"},
	})

	tail, err := Build(cfg, StageSent, "data1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	stats, err := tail.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ss := stats.Step("sent_dedup_filter")
	if ss.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", ss.Dropped)
	}
	if got := ss.Reasons["too_short_after_dedup"]; got != 1 {
		t.Errorf("too_short_after_dedup = %d, want 1", got)
	}
	if got := stats.TotalForwarded(); got != 1 {
		t.Errorf("TotalForwarded() = %d, want 1", got)
	}

	out := filepath.Join(root, "sent_dedup", "data1", "task_00000.parquet")
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output parquet: %v", err)
	}
	excl := filepath.Join(root, "exclusions", "sent_dedup", "data1", "task_00000.parquet")
	if _, err := os.Stat(excl); err != nil {
		t.Errorf("exclusion parquet: %v", err)
	}
}

func TestMinhashStage(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	shared := "Kommunen holder åbent hus på rådhuset næste lørdag eftermiddag hvor alle borgere kan komme forbi og høre om de nye planer for havneområdet."
	other := "Vejret bliver køligt og blæsende i morgen med enkelte byger fra vest og temperaturer omkring ti grader det meste af dagen."
	writeParquet(t, filepath.Join(root, "sent_dedup", "data1"), []*pipeline.Document{
		{ID: "a", Text: shared, Source: "test"},
		{ID: "b", Text: shared, Source: "test"},
		{ID: "c", Text: other, Source: "test"},
	})

	tail, err := Build(cfg, StageMinhash, "data1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	stats, err := tail.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ss := stats.Step("minhash_filter")
	if ss.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", ss.Dropped)
	}
	if got := ss.Reasons["minhash_duplicate"]; got != 1 {
		t.Errorf("minhash_duplicate = %d, want 1", got)
	}
	if got := stats.TotalForwarded(); got != 2 {
		t.Errorf("TotalForwarded() = %d, want 2", got)
	}

	out := filepath.Join(root, "minhash_dedup", "data1", "task_00000.parquet")
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output parquet: %v", err)
	}
}

func TestRunnerExecutesAndResumes(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	writeParquet(t, filepath.Join(root, "processed", "data1"), []*pipeline.Document{
		{ID: "a", Text: dupBlock, Source: "test"},
		{ID: "b", Text: dupBlock, Source: "test"},
	})

	raw, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	spec := cluster.JobSpec{Stage: StageSent, Dataset: "data1", Config: raw}

	stats, err := Runner(context.Background(), spec)
	if err != nil {
		t.Fatalf("Runner() error = %v", err)
	}
	if got := stats.TotalForwarded(); got != 1 {
		t.Errorf("TotalForwarded() = %d, want 1", got)
	}

	// Completion markers from the first run make the rerun a no-op that
	// still reports the saved per-task stats.
	again, err := Runner(context.Background(), spec)
	if err != nil {
		t.Fatalf("Runner() rerun error = %v", err)
	}
	if got := again.TotalForwarded(); got != 1 {
		t.Errorf("rerun TotalForwarded() = %d, want 1", got)
	}
}

func TestRunnerBadSpec(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	raw, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if _, err := Runner(context.Background(), cluster.JobSpec{Stage: StageSent, Dataset: "data1", Config: []byte("datasets: [")}); err == nil {
		t.Error("Runner() with broken config succeeded")
	}
	if _, err := Runner(context.Background(), cluster.JobSpec{Stage: "tokenize", Dataset: "data1", Config: raw}); err == nil {
		t.Error("Runner() with unknown stage succeeded")
	}
}
