package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const validYAML = `
datasets:
  - name: test
    input_dir: input
    output_dir: output
    exclusion_dir: exclude
    logging_dir: logs
sentence_deduplication:
  input_dir: output
  glob_pattern: "*.parquet"
  dedup_dir: dedup
  exclusion_dir: exclusions
  output_dir: sent_dedup
  logging_dir: sent_logs
minhash_deduplication:
  input_dir: sent_dedup
  glob_pattern: "*.parquet"
  dedup_dir: dedup
  exclusion_dir: exclusions
  output_dir: minh_dedup
  logging_dir: minh_logs
  n_buckets: 3
executor:
  n_workers: 2
  n_tasks: 3
cluster:
  type: distributed
`

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "pipeline.yml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Datasets))
	}
	if cfg.Datasets[0].Name != "data1" || cfg.Datasets[1].Name != "data2" {
		t.Errorf("unexpected dataset names: %q, %q", cfg.Datasets[0].Name, cfg.Datasets[1].Name)
	}
	if cfg.MinhashDedup.NBuckets != 10 {
		t.Errorf("n_buckets = %d, want 10", cfg.MinhashDedup.NBuckets)
	}
	if cfg.Executor.NTasks != 10 {
		t.Errorf("n_tasks = %d, want 10", cfg.Executor.NTasks)
	}
	if cfg.Cluster.Type != ClusterLocal {
		t.Errorf("cluster type = %q, want local", cfg.Cluster.Type)
	}
}

func TestRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "pipeline.yml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	reparsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()) error = %v", err)
	}

	if !reflect.DeepEqual(cfg, reparsed) {
		t.Errorf("round trip changed config:\nbefore: %+v\nafter:  %+v", cfg, reparsed)
	}
}

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Executor.NWorkers != 2 {
		t.Errorf("n_workers = %d, want 2", cfg.Executor.NWorkers)
	}
	if cfg.Cluster.Type != ClusterDistributed {
		t.Errorf("cluster type = %q, want distributed", cfg.Cluster.Type)
	}
	// Cluster fields beyond type come from defaults.
	if cfg.Cluster.SchedulerHost != "localhost" || cfg.Cluster.SchedulerPort != 8786 {
		t.Errorf("scheduler defaults not applied: %+v", cfg.Cluster)
	}
	if cfg.Cluster.NWorkers != 5 || cfg.Cluster.WorkerThreads != 3 {
		t.Errorf("cluster worker defaults not applied: %+v", cfg.Cluster)
	}
	if cfg.Datasets[0].GlobPattern != DefaultDatasetGlob {
		t.Errorf("dataset glob default not applied: %q", cfg.Datasets[0].GlobPattern)
	}
}

func TestParseDefaults(t *testing.T) {
	yml := `
datasets:
  - name: only
    input_dir: in
    output_dir: out
    exclusion_dir: excl
    logging_dir: logs
sentence_deduplication: {}
minhash_deduplication: {}
executor:
  n_tasks: 14
cluster:
  type: local
`
	cfg, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Executor.NWorkers != 1 {
		t.Errorf("executor.n_workers default = %d, want 1", cfg.Executor.NWorkers)
	}
	if cfg.MinhashDedup.NBuckets != DefaultNBuckets {
		t.Errorf("n_buckets default = %d, want %d", cfg.MinhashDedup.NBuckets, DefaultNBuckets)
	}
	if cfg.SentenceDedup.OutputDir != "sent_dedup/" {
		t.Errorf("sentence output_dir default = %q", cfg.SentenceDedup.OutputDir)
	}
	if cfg.MinhashDedup.ExclusionDir != "exclusions/minhash_dedup" {
		t.Errorf("minhash exclusion_dir default = %q", cfg.MinhashDedup.ExclusionDir)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(string) string
		wantKind  ErrorKind
		wantField string
	}{
		{
			name:      "bucket task mismatch",
			mutate:    func(s string) string { return strings.Replace(s, "n_buckets: 3", "n_buckets: 9", 1) },
			wantKind:  KindCrossField,
			wantField: "minhash_deduplication.n_buckets",
		},
		{
			name:      "invalid cluster type",
			mutate:    func(s string) string { return strings.Replace(s, "type: distributed", "type: foo", 1) },
			wantKind:  KindTypeMismatch,
			wantField: "cluster.type",
		},
		{
			name:      "missing dataset name",
			mutate:    func(s string) string { return strings.Replace(s, "- name: test\n    ", "- ", 1) },
			wantKind:  KindMissingField,
			wantField: "datasets[0].name",
		},
		{
			name:      "missing dataset input dir",
			mutate:    func(s string) string { return strings.Replace(s, "input_dir: input\n    ", "", 1) },
			wantKind:  KindMissingField,
			wantField: "datasets[0].input_dir",
		},
		{
			name:      "empty dataset logging dir",
			mutate:    func(s string) string { return strings.Replace(s, "logging_dir: logs", `logging_dir: ""`, 1) },
			wantKind:  KindMissingField,
			wantField: "datasets[0].logging_dir",
		},
		{
			name:      "negative workers",
			mutate:    func(s string) string { return strings.Replace(s, "n_workers: 2", "n_workers: -2", 1) },
			wantKind:  KindTypeMismatch,
			wantField: "executor.n_workers",
		},
		{
			name:      "worker count wrong type",
			mutate:    func(s string) string { return strings.Replace(s, "n_workers: 2", "n_workers: two", 1) },
			wantKind:  KindTypeMismatch,
			wantField: "executor.n_workers",
		},
		{
			name:      "task count float",
			mutate:    func(s string) string { return strings.Replace(s, "n_tasks: 3", "n_tasks: 3.14", 1) },
			wantKind:  KindTypeMismatch,
			wantField: "executor.n_tasks",
		},
		{
			name:      "unknown field",
			mutate:    func(s string) string { return strings.Replace(s, "n_tasks: 3", "n_tasks: 3\n  bogus: 1", 1) },
			wantKind:  KindTypeMismatch,
			wantField: "executor.bogus",
		},
		{
			name: "duplicate dataset names",
			mutate: func(s string) string {
				dup := `
  - name: test
    input_dir: input2
    output_dir: output2
    exclusion_dir: exclude2
    logging_dir: logs2
sentence_deduplication:`
				return strings.Replace(s, "\nsentence_deduplication:", dup, 1)
			},
			wantKind:  KindCrossField,
			wantField: "datasets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(validYAML)))
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("error %v is not a *ConfigError", err)
			}
			if cerr.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", cerr.Kind, tt.wantKind)
			}
			if cerr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", cerr.Field, tt.wantField)
			}
		})
	}
}

func TestBucketMismatchNamesBothFields(t *testing.T) {
	yml := strings.Replace(validYAML, "n_buckets: 3", "n_buckets: 9", 1)
	yml = strings.Replace(yml, "n_tasks: 3", "n_tasks: 10", 1)

	_, err := Parse([]byte(yml))
	if err == nil {
		t.Fatal("Parse() succeeded, want cross-field error")
	}
	msg := err.Error()
	for _, want := range []string{"minhash_deduplication.n_buckets", "executor.n_tasks", "9", "10"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestMissingSections(t *testing.T) {
	sections := []string{"datasets", "sentence_deduplication", "minhash_deduplication", "executor", "cluster"}
	for _, section := range sections {
		t.Run(section, func(t *testing.T) {
			lines := strings.Split(validYAML, "\n")
			var kept []string
			skipping := false
			for _, line := range lines {
				if strings.HasPrefix(line, section+":") {
					skipping = true
					continue
				}
				if skipping && (line == "" || !strings.HasPrefix(line, " ")) {
					skipping = false
				}
				if !skipping {
					kept = append(kept, line)
				}
			}

			_, err := Parse([]byte(strings.Join(kept, "\n")))
			if err == nil {
				t.Fatal("Parse() succeeded, want missing-field error")
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("error %v is not a *ConfigError", err)
			}
			if cerr.Kind != KindMissingField {
				t.Errorf("kind = %q, want %q", cerr.Kind, KindMissingField)
			}
			if cerr.Field != section {
				t.Errorf("field = %q, want %q", cerr.Field, section)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("nonexistent.yml")
	if err == nil {
		t.Fatal("Load() succeeded for nonexistent file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v does not wrap os.ErrNotExist", err)
	}
}

func TestParseInvalidSyntax(t *testing.T) {
	_, err := Parse([]byte("invalid: yaml: here"))
	if err == nil {
		t.Fatal("Parse() succeeded for invalid YAML")
	}
}

func TestClusterAddress(t *testing.T) {
	cc := &ClusterConfig{SchedulerHost: "scheduler.internal", SchedulerPort: 8786}
	if got := cc.Address(); got != "scheduler.internal:8786" {
		t.Errorf("Address() = %q", got)
	}
}
