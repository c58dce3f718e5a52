package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Task identifies one shard of a pipeline run. Rank is the task index in
// [0, World); readers use it to pick their share of the input files.
type Task struct {
	Rank  int
	World int
	Log   *logrus.Entry
	Stats *Stats
}

// Step is one stage of a document pipeline. Run consumes documents from in
// until it is closed and sends results to out. Steps that generate
// documents (readers) ignore in; steps that only observe the stream pass
// every document through.
type Step interface {
	Name() string
	Run(ctx context.Context, task *Task, in <-chan *Document, out chan<- *Document) error
}

// Emit sends a document downstream, giving up when the run is canceled.
// Every step must use it for sends so that a failing sibling step cannot
// leave the chain blocked on a full channel.
func Emit(ctx context.Context, out chan<- *Document, doc *Document) error {
	select {
	case out <- doc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const chanBuffer = 64

// Run executes a chain of steps for one task. The first step receives an
// already-closed input stream; the final step's output is drained. Returns
// the first step error.
func Run(ctx context.Context, task *Task, steps []Step) error {
	g, ctx := errgroup.WithContext(ctx)

	// Register steps up front so the stats keep chain order regardless
	// of goroutine scheduling.
	for _, step := range steps {
		task.Stats.Step(step.Name())
	}

	head := make(chan *Document)
	close(head)
	var upstream <-chan *Document = head

	for _, step := range steps {
		step := step
		in := upstream
		out := make(chan *Document, chanBuffer)
		g.Go(func() error {
			defer close(out)
			start := time.Now()
			defer func() {
				task.Stats.Step(step.Name()).Elapsed += time.Since(start)
			}()
			if err := step.Run(ctx, task, in, out); err != nil {
				task.Log.WithField("step", step.Name()).WithError(err).Error("step failed")
				return err
			}
			return nil
		})
		upstream = out
	}

	tail := upstream
	g.Go(func() error {
		for range tail {
		}
		return nil
	})

	return g.Wait()
}

// Names returns the step names in order, for logging and debug output.
func Names(steps []Step) []string {
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = step.Name()
	}
	return names
}
