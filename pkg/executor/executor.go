// Package executor runs document pipelines across numbered tasks with
// bounded concurrency. Each task writes its own log and stats files and
// leaves a completion marker, so an interrupted run picks up where it
// stopped. Executors chain through Depends; a failed dependency aborts
// every dependent.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/corpusworks/docpipe/pkg/logging"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// Executor runs one pipeline over Tasks rank-sharded tasks, at most
// Workers at a time. Steps is a factory so every task gets its own step
// instances and no state is shared between concurrent tasks.
type Executor struct {
	Name       string
	Steps      func() []pipeline.Step
	LoggingDir string
	Tasks      int
	Workers    int
	Depends    *Executor

	// Debug switches the per-task log files to debug level.
	Debug bool

	once   sync.Once
	stats  *pipeline.Stats
	runErr error
}

func New(name string, steps func() []pipeline.Step, loggingDir string, tasks, workers int) *Executor {
	if tasks < 1 {
		tasks = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Executor{
		Name:       name,
		Steps:      steps,
		LoggingDir: loggingDir,
		Tasks:      tasks,
		Workers:    workers,
	}
}

// Run executes the dependency chain, then this executor's pending
// tasks, and returns the stats merged across all tasks. Repeated calls
// return the first result, so an executor shared by two dependents runs
// once.
func (e *Executor) Run(ctx context.Context) (*pipeline.Stats, error) {
	e.once.Do(func() {
		e.stats, e.runErr = e.run(ctx)
	})
	return e.stats, e.runErr
}

func (e *Executor) run(ctx context.Context) (*pipeline.Stats, error) {
	if err := ValidateChain(e); err != nil {
		return nil, err
	}
	if e.Depends != nil {
		if _, err := e.Depends.Run(ctx); err != nil {
			return nil, fmt.Errorf("dependency %s: %w", e.Depends.Name, err)
		}
	}
	log := logging.NewLogger("executor").WithField("executor", e.Name)

	pending := make([]int, 0, e.Tasks)
	for rank := 0; rank < e.Tasks; rank++ {
		if e.taskComplete(rank) {
			log.WithField("task", rank).Debug("already complete, skipping")
			continue
		}
		pending = append(pending, rank)
	}

	if len(pending) == 0 {
		log.Infof("all %d tasks already complete", e.Tasks)
	} else {
		log.Infof("running %d of %d tasks with %d workers", len(pending), e.Tasks, e.Workers)
		if err := e.runTasks(ctx, pending); err != nil {
			return nil, err
		}
	}

	merged, err := e.mergeStats(log)
	if err != nil {
		return nil, err
	}
	log.WithField("documents", merged.TotalForwarded()).Info("executor finished")
	return merged, nil
}

func (e *Executor) runTasks(ctx context.Context, pending []int) error {
	var barOut io.Writer = os.Stderr
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		barOut = io.Discard
	}
	p := mpb.New(mpb.WithWidth(80), mpb.WithOutput(barOut))
	bar := p.AddBar(int64(len(pending)),
		mpb.PrependDecorators(
			decor.Name(e.Name+" "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
		),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)
	for _, rank := range pending {
		rank := rank
		g.Go(func() error {
			if err := e.runTask(gctx, rank); err != nil {
				return fmt.Errorf("task %d: %w", rank, err)
			}
			bar.Increment()
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		bar.Abort(true)
	}
	p.Wait()
	return err
}

func (e *Executor) runTask(ctx context.Context, rank int) error {
	logPath := filepath.Join(e.LoggingDir, "logs", fmt.Sprintf("task_%05d.log", rank))
	taskLog, closer, err := logging.NewFileLogger(logPath, "pipeline")
	if err != nil {
		return err
	}
	defer closer.Close()
	if e.Debug {
		taskLog.Logger.SetLevel(logrus.DebugLevel)
	}

	task := &pipeline.Task{
		Rank:  rank,
		World: e.Tasks,
		Log:   taskLog.WithField("task", rank),
		Stats: pipeline.NewStats(),
	}
	start := time.Now()
	task.Log.WithField("executor", e.Name).Info("task started")
	if err := pipeline.Run(ctx, task, e.Steps()); err != nil {
		return err
	}
	task.Log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("task finished")

	if err := e.saveTaskStats(rank, task.Stats); err != nil {
		return err
	}
	return e.markComplete(rank)
}

func (e *Executor) completionPath(rank int) string {
	return filepath.Join(e.LoggingDir, "completions", fmt.Sprintf("%05d", rank))
}

func (e *Executor) statsPath(rank int) string {
	return filepath.Join(e.LoggingDir, "stats", fmt.Sprintf("task_%05d.json", rank))
}

func (e *Executor) taskComplete(rank int) bool {
	_, err := os.Stat(e.completionPath(rank))
	return err == nil
}

// CompletedTasks counts the tasks that already left a completion
// marker, without running anything.
func (e *Executor) CompletedTasks() int {
	done := 0
	for rank := 0; rank < e.Tasks; rank++ {
		if e.taskComplete(rank) {
			done++
		}
	}
	return done
}

// markComplete writes the marker atomically so a crash mid-write can
// never leave a marker for an unfinished task.
func (e *Executor) markComplete(rank int) error {
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := writeFileAtomic(e.completionPath(rank), []byte(stamp)); err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}
	return nil
}

func (e *Executor) saveTaskStats(rank int, stats *pipeline.Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task stats: %w", err)
	}
	if err := writeFileAtomic(e.statsPath(rank), data); err != nil {
		return fmt.Errorf("write task stats: %w", err)
	}
	return nil
}

// mergeStats folds the saved per-task stats into one report, including
// tasks completed by earlier runs, and saves it next to the task files.
func (e *Executor) mergeStats(log *logrus.Entry) (*pipeline.Stats, error) {
	merged := pipeline.NewStats()
	for rank := 0; rank < e.Tasks; rank++ {
		data, err := os.ReadFile(e.statsPath(rank))
		if err != nil {
			log.WithField("task", rank).WithError(err).Warn("task stats missing")
			continue
		}
		var s pipeline.Stats
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse stats for task %d: %w", rank, err)
		}
		merged.Merge(&s)
	}
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal merged stats: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(e.LoggingDir, "stats.json"), data); err != nil {
		return nil, fmt.Errorf("write merged stats: %w", err)
	}
	return merged, nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return err
	}
	success = true
	return nil
}
