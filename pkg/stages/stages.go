// Package stages assembles the executor chains behind the pipeline
// commands. Each stage of each dataset becomes a chain of executors
// sharing the task topology from the configuration, so an interrupted
// stage resumes from its completion markers on the next run.
//
// Stage directories nest the dataset name under the roots declared in
// the configuration: the filter stage writes to
// <dataset.output_dir>/filter_output, sentence deduplication keeps its
// artifacts under <dedup_dir>/<dataset>/{sigs,dups}, MinHash under
// <dedup_dir>/<dataset>/{signatures,buckets,remove_ids}. A dedup
// stage's input root is the previous stage's output root, so chained
// stages line up without per-dataset configuration.
package stages

import (
	"fmt"
	"path/filepath"

	"github.com/pemistahl/lingua-go"

	"github.com/corpusworks/docpipe/pkg/config"
	"github.com/corpusworks/docpipe/pkg/dedup"
	"github.com/corpusworks/docpipe/pkg/executor"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// Stage names accepted by Build. They double as the pipeline
// subcommand names and the stage identifiers in cluster job specs.
const (
	StageFilter  = "filter"
	StageSent    = "sent_dedup"
	StageMinhash = "minhash-dedup"
	StageRun     = "run"
)

// Names lists the buildable stages.
func Names() []string {
	return []string{StageFilter, StageSent, StageMinhash, StageRun}
}

// Build assembles the executor chain for one stage of one dataset and
// returns its tail. Running the tail runs the whole chain, dependencies
// first. StageRun chains the filter stage in front of sentence
// deduplication.
func Build(cfg *config.Config, stage, dataset string) (*executor.Executor, error) {
	ds, ok := cfg.Dataset(dataset)
	if !ok {
		return nil, fmt.Errorf("dataset %q is not declared in the configuration", dataset)
	}
	var tail *executor.Executor
	switch stage {
	case StageFilter:
		tail = Filter(cfg, ds)
	case StageSent:
		tail = SentDedup(cfg, ds, nil)
	case StageMinhash:
		tail = MinhashDedup(cfg, ds)
	case StageRun:
		tail = SentDedup(cfg, ds, Filter(cfg, ds))
	default:
		return nil, fmt.Errorf("unknown pipeline stage %q", stage)
	}
	if ds.Debug || cfg.Executor.Debug {
		for cur := tail; cur != nil; cur = cur.Depends {
			cur.Debug = true
		}
	}
	return tail, nil
}

// Filter builds the quality-filtering executor for one dataset: read
// the raw JSONL shards, normalize text, keep Danish documents, apply
// the Gopher, C4 and FineWeb heuristics, count tokens and write
// parquet. Each filter writes its rejects under the dataset's
// exclusion directory, named after the rule that dropped them.
func Filter(cfg *config.Config, ds *config.DatasetConfig) *executor.Executor {
	steps := func() []pipeline.Step {
		return []pipeline.Step{
			pipeline.NewJSONLReader(ds.InputDir, ds.GlobPattern),
			pipeline.NewTextNormalizer(),
			pipeline.NewLanguageFilter(lingua.Danish, 0).
				WithExclusions(pipeline.NewParquetWriter(filepath.Join(ds.ExclusionDir, "non_danish_documents"))),
			pipeline.NewGopherRepetitionFilter().
				WithExclusions(pipeline.NewParquetWriter(filepath.Join(ds.ExclusionDir, "gopher_repetition"))),
			pipeline.NewGopherQualityFilter(pipeline.DanishStopWords).
				WithExclusions(pipeline.NewParquetWriter(filepath.Join(ds.ExclusionDir, "gopher_quality"))),
			pipeline.NewC4QualityFilter().
				WithExclusions(pipeline.NewParquetWriter(filepath.Join(ds.ExclusionDir, "c4_quality"))),
			pipeline.NewFineWebQualityFilter().
				WithExclusions(pipeline.NewParquetWriter(filepath.Join(ds.ExclusionDir, "fineweb_quality"))),
			pipeline.NewTokensCounter(),
			pipeline.NewParquetWriter(filepath.Join(ds.OutputDir, "filter_output")),
		}
	}
	return executor.New(
		"filter/"+ds.Name,
		steps,
		filepath.Join(ds.LoggingDir, "filter"),
		cfg.Executor.NTasks,
		cfg.Executor.NWorkers,
	)
}

// SentDedup builds the three-executor sentence deduplication chain for
// one dataset: signature writing, duplicate finding, and the filter
// pass that strips flagged windows from a second read of the input.
// The signature and filter executors must see the input in the same
// order, so both read the same directory with the same task count.
// depends, when set, runs before the signature stage.
func SentDedup(cfg *config.Config, ds *config.DatasetConfig, depends *executor.Executor) *executor.Executor {
	sd := cfg.SentenceDedup
	inputDir := filepath.Join(sd.InputDir, ds.Name)
	sigDir := filepath.Join(sd.DedupDir, ds.Name, "sigs")
	dupDir := filepath.Join(sd.DedupDir, ds.Name, "dups")
	finderWorkers := cfg.Executor.NTasks

	sigs := executor.New(
		"sent_dedup_sigs/"+ds.Name,
		func() []pipeline.Step {
			return []pipeline.Step{
				pipeline.NewParquetReader(inputDir, sd.GlobPattern),
				dedup.NewSentenceSignatures(sigDir, finderWorkers),
			}
		},
		filepath.Join(sd.LoggingDir, ds.Name, "signatures"),
		cfg.Executor.NTasks,
		cfg.Executor.NWorkers,
	)
	sigs.Depends = depends

	find := executor.New(
		"sent_dedup_find/"+ds.Name,
		func() []pipeline.Step {
			return []pipeline.Step{
				dedup.NewSentenceFindDups(sigDir, dupDir),
			}
		},
		filepath.Join(sd.LoggingDir, ds.Name, "find"),
		finderWorkers,
		1,
	)
	find.Depends = sigs

	filter := executor.New(
		"sent_dedup_filter/"+ds.Name,
		func() []pipeline.Step {
			return []pipeline.Step{
				pipeline.NewParquetReader(inputDir, sd.GlobPattern),
				dedup.NewSentenceDedupFilter(dupDir,
					pipeline.NewParquetWriter(filepath.Join(sd.ExclusionDir, ds.Name))),
				pipeline.NewParquetWriter(filepath.Join(sd.OutputDir, ds.Name)),
			}
		},
		filepath.Join(sd.LoggingDir, ds.Name, "filter"),
		cfg.Executor.NTasks,
		cfg.Executor.NWorkers,
	)
	filter.Depends = find
	return filter
}

// MinhashDedup builds the four-executor MinHash chain for one dataset:
// signatures, per-bucket matching, cluster resolution, and the filter
// pass that removes all but one document per duplicate cluster. The
// bucket stage runs one task per bucket and the cluster stage runs as
// a single task over all bucket output. The filter executor re-reads
// the signature stage's input with the same task count, so removal IDs
// land on the documents they were computed from.
func MinhashDedup(cfg *config.Config, ds *config.DatasetConfig) *executor.Executor {
	mh := cfg.MinhashDedup
	params := dedup.NewMinhashParams(mh.NBuckets)
	inputDir := filepath.Join(mh.InputDir, ds.Name)
	sigDir := filepath.Join(mh.DedupDir, ds.Name, "signatures")
	bucketDir := filepath.Join(mh.DedupDir, ds.Name, "buckets")
	removeDir := filepath.Join(mh.DedupDir, ds.Name, "remove_ids")

	sigs := executor.New(
		"minhash_sigs/"+ds.Name,
		func() []pipeline.Step {
			return []pipeline.Step{
				pipeline.NewParquetReader(inputDir, mh.GlobPattern),
				dedup.NewMinhashSignatures(sigDir, params),
			}
		},
		filepath.Join(mh.LoggingDir, ds.Name, "signatures"),
		cfg.Executor.NTasks,
		cfg.Executor.NWorkers,
	)

	buckets := executor.New(
		"minhash_buckets/"+ds.Name,
		func() []pipeline.Step {
			return []pipeline.Step{
				dedup.NewMinhashBuckets(sigDir, bucketDir, params),
			}
		},
		filepath.Join(mh.LoggingDir, ds.Name, "buckets"),
		mh.NBuckets,
		cfg.Executor.NWorkers,
	)
	buckets.Depends = sigs

	clusters := executor.New(
		"minhash_clusters/"+ds.Name,
		func() []pipeline.Step {
			return []pipeline.Step{
				dedup.NewMinhashClusters(bucketDir, removeDir),
			}
		},
		filepath.Join(mh.LoggingDir, ds.Name, "clusters"),
		1,
		1,
	)
	clusters.Depends = buckets

	filter := executor.New(
		"minhash_filter/"+ds.Name,
		func() []pipeline.Step {
			return []pipeline.Step{
				pipeline.NewParquetReader(inputDir, mh.GlobPattern),
				dedup.NewMinhashFilter(removeDir,
					pipeline.NewParquetWriter(filepath.Join(mh.ExclusionDir, ds.Name))),
				pipeline.NewParquetWriter(filepath.Join(mh.OutputDir, ds.Name)),
			}
		},
		filepath.Join(mh.LoggingDir, ds.Name, "filter"),
		cfg.Executor.NTasks,
		cfg.Executor.NWorkers,
	)
	filter.Depends = clusters
	return filter
}
