// Package config defines the pipeline configuration schema, loading, and
// validation. A configuration is read once at process start, validated, and
// treated as immutable for the rest of the run.
package config

import (
	"net"
	"strconv"
)

// ClusterType selects how pipeline jobs are executed.
type ClusterType string

const (
	// ClusterLocal runs jobs in-process with a bounded worker pool.
	ClusterLocal ClusterType = "local"
	// ClusterDistributed submits jobs to a remote scheduler.
	ClusterDistributed ClusterType = "distributed"
)

// Defaults applied to fields left unset in the YAML document.
const (
	DefaultDatasetGlob   = "**/*.jsonl.gz"
	DefaultParquetGlob   = "**/*.parquet"
	DefaultSchedulerHost = "localhost"
	DefaultSchedulerPort = 8786
	DefaultNBuckets      = 14
)

// DatasetConfig describes one named dataset to be processed.
type DatasetConfig struct {
	Name         string `yaml:"name" validate:"required"`
	InputDir     string `yaml:"input_dir" validate:"required"`
	GlobPattern  string `yaml:"glob_pattern,omitempty"`
	OutputDir    string `yaml:"output_dir" validate:"required"`
	ExclusionDir string `yaml:"exclusion_dir" validate:"required"`
	LoggingDir   string `yaml:"logging_dir" validate:"required"`
	Debug        bool   `yaml:"debug,omitempty"`
}

// ExecutorConfig holds the task/worker topology for pipeline executors.
type ExecutorConfig struct {
	NWorkers int  `yaml:"n_workers" validate:"gt=0"`
	NTasks   int  `yaml:"n_tasks" validate:"gt=0"`
	Debug    bool `yaml:"debug,omitempty"`
}

// ClusterConfig describes where pipeline jobs run.
type ClusterConfig struct {
	Type          ClusterType `yaml:"type" validate:"oneof=local distributed"`
	SchedulerHost string      `yaml:"scheduler_host" validate:"required"`
	SchedulerPort int         `yaml:"scheduler_port" validate:"gt=0"`
	SchedulerFile string      `yaml:"scheduler_file,omitempty"`
	NWorkers      int         `yaml:"n_workers" validate:"gt=0"`
	WorkerThreads int         `yaml:"worker_threads" validate:"gt=0"`
}

// Address returns the scheduler address in host:port form.
func (c *ClusterConfig) Address() string {
	return joinHostPort(c.SchedulerHost, c.SchedulerPort)
}

// SentenceDedupConfig holds the directories for the sentence deduplication
// stages.
type SentenceDedupConfig struct {
	InputDir     string `yaml:"input_dir" validate:"required"`
	GlobPattern  string `yaml:"glob_pattern" validate:"required"`
	DedupDir     string `yaml:"dedup_dir" validate:"required"`
	ExclusionDir string `yaml:"exclusion_dir" validate:"required"`
	OutputDir    string `yaml:"output_dir" validate:"required"`
	LoggingDir   string `yaml:"logging_dir" validate:"required"`
}

// MinhashDedupConfig holds the directories and bucket count for the MinHash
// deduplication stages. NBuckets must equal ExecutorConfig.NTasks: the
// bucket stage runs one task per bucket.
type MinhashDedupConfig struct {
	InputDir     string `yaml:"input_dir" validate:"required"`
	GlobPattern  string `yaml:"glob_pattern" validate:"required"`
	DedupDir     string `yaml:"dedup_dir" validate:"required"`
	ExclusionDir string `yaml:"exclusion_dir" validate:"required"`
	OutputDir    string `yaml:"output_dir" validate:"required"`
	LoggingDir   string `yaml:"logging_dir" validate:"required"`
	NBuckets     int    `yaml:"n_buckets" validate:"gt=0"`
}

// Config is the root of the pipeline configuration file.
type Config struct {
	Datasets      []DatasetConfig      `yaml:"datasets" validate:"required,unique=Name,dive"`
	SentenceDedup *SentenceDedupConfig `yaml:"sentence_deduplication" validate:"required"`
	MinhashDedup  *MinhashDedupConfig  `yaml:"minhash_deduplication" validate:"required"`
	Executor      *ExecutorConfig      `yaml:"executor" validate:"required"`
	Cluster       *ClusterConfig       `yaml:"cluster" validate:"required"`
}

// Dataset returns the dataset with the given name.
func (c *Config) Dataset(name string) (*DatasetConfig, bool) {
	for i := range c.Datasets {
		if c.Datasets[i].Name == name {
			return &c.Datasets[i], true
		}
	}
	return nil, false
}

// applyDefaults fills unset fields. Zero values count as unset; negative
// numbers are left for validation to reject.
func (c *Config) applyDefaults() {
	for i := range c.Datasets {
		if c.Datasets[i].GlobPattern == "" {
			c.Datasets[i].GlobPattern = DefaultDatasetGlob
		}
	}
	if e := c.Executor; e != nil {
		if e.NWorkers == 0 {
			e.NWorkers = 1
		}
		if e.NTasks == 0 {
			e.NTasks = 1
		}
	}
	if s := c.SentenceDedup; s != nil {
		setIfEmpty(&s.InputDir, "output/")
		setIfEmpty(&s.GlobPattern, DefaultParquetGlob)
		setIfEmpty(&s.DedupDir, "dedup/")
		setIfEmpty(&s.ExclusionDir, "exclusions/sent_dedup")
		setIfEmpty(&s.OutputDir, "sent_dedup/")
		setIfEmpty(&s.LoggingDir, "logs/sent_dedup")
	}
	if m := c.MinhashDedup; m != nil {
		setIfEmpty(&m.InputDir, "sent_dedup/")
		setIfEmpty(&m.GlobPattern, DefaultParquetGlob)
		setIfEmpty(&m.DedupDir, "dedup/")
		setIfEmpty(&m.ExclusionDir, "exclusions/minhash_dedup")
		setIfEmpty(&m.OutputDir, "minhash_dedup/")
		setIfEmpty(&m.LoggingDir, "logs/minhash_dedup")
		if m.NBuckets == 0 {
			m.NBuckets = DefaultNBuckets
		}
	}
	if cl := c.Cluster; cl != nil {
		if cl.Type == "" {
			cl.Type = ClusterLocal
		}
		setIfEmpty(&cl.SchedulerHost, DefaultSchedulerHost)
		if cl.SchedulerPort == 0 {
			cl.SchedulerPort = DefaultSchedulerPort
		}
		if cl.NWorkers == 0 {
			cl.NWorkers = 5
		}
		if cl.WorkerThreads == 0 {
			cl.WorkerThreads = 3
		}
	}
}

func setIfEmpty(s *string, value string) {
	if *s == "" {
		*s = value
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
