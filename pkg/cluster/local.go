package cluster

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// LocalClient runs jobs in-process, at most n_workers at a time.
type LocalClient struct {
	runner Runner
	sem    chan struct{}
	wg     sync.WaitGroup
}

func NewLocalClient(workers int, runner Runner) *LocalClient {
	if workers < 1 {
		workers = 1
	}
	return &LocalClient{
		runner: runner,
		sem:    make(chan struct{}, workers),
	}
}

type localResult struct {
	stats *pipeline.Stats
	err   error
}

func (c *LocalClient) Submit(ctx context.Context, spec JobSpec) (*Future, error) {
	done := make(chan localResult, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case c.sem <- struct{}{}:
			defer func() { <-c.sem }()
		case <-ctx.Done():
			done <- localResult{err: ctx.Err()}
			return
		}
		stats, err := c.runner(ctx, spec)
		done <- localResult{stats: stats, err: err}
	}()

	return &Future{
		ID: uuid.New().String(),
		fetch: func(ctx context.Context) (*pipeline.Stats, error) {
			select {
			case r := <-done:
				return r.stats, r.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}, nil
}

func (c *LocalClient) Gather(ctx context.Context, futures []*Future) ([]*pipeline.Stats, error) {
	return gatherAll(ctx, futures)
}

// Close waits for in-flight jobs to finish.
func (c *LocalClient) Close() error {
	c.wg.Wait()
	return nil
}
