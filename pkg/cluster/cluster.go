// Package cluster submits pipeline stage jobs to a compute backend:
// an in-process worker pool for local runs, or a remote scheduler
// speaking HTTP/JSON for distributed ones. Both paths execute jobs
// through the same Runner, so a stage behaves identically wherever it
// lands.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/corpusworks/docpipe/pkg/config"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// JobSpec describes one unit of work: a pipeline stage applied to one
// dataset under a serialized configuration.
type JobSpec struct {
	Stage   string `json:"stage"`
	Dataset string `json:"dataset"`
	Config  []byte `json:"config"`
}

// Runner executes one job. The local client and the scheduler share
// the implementation.
type Runner func(ctx context.Context, spec JobSpec) (*pipeline.Stats, error)

// JobStatus tracks a job through the scheduler.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Future resolves to the stats of one submitted job. Wait caches its
// result, so it can be called more than once.
type Future struct {
	ID string

	once  sync.Once
	fetch func(ctx context.Context) (*pipeline.Stats, error)
	stats *pipeline.Stats
	err   error
}

func (f *Future) Wait(ctx context.Context) (*pipeline.Stats, error) {
	f.once.Do(func() {
		f.stats, f.err = f.fetch(ctx)
	})
	return f.stats, f.err
}

// Client submits jobs and collects their results.
type Client interface {
	Submit(ctx context.Context, spec JobSpec) (*Future, error)
	Gather(ctx context.Context, futures []*Future) ([]*pipeline.Stats, error)
	Close() error
}

// NewClient builds the client the cluster config asks for. Distributed
// configs resolve the scheduler from scheduler_file when set, falling
// back to scheduler_host:scheduler_port.
func NewClient(cfg *config.ClusterConfig, runner Runner) (Client, error) {
	switch cfg.Type {
	case config.ClusterLocal:
		return NewLocalClient(cfg.NWorkers, runner), nil
	case config.ClusterDistributed:
		addr, err := schedulerAddress(cfg)
		if err != nil {
			return nil, err
		}
		return NewRemoteClient(addr), nil
	default:
		return nil, fmt.Errorf("unsupported cluster type %q", cfg.Type)
	}
}

func schedulerAddress(cfg *config.ClusterConfig) (string, error) {
	if cfg.SchedulerFile != "" {
		data, err := os.ReadFile(cfg.SchedulerFile)
		if err != nil {
			return "", fmt.Errorf("read scheduler file: %w", err)
		}
		var info struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(data, &info); err != nil {
			return "", fmt.Errorf("parse scheduler file %s: %w", cfg.SchedulerFile, err)
		}
		if info.Address == "" {
			return "", fmt.Errorf("scheduler file %s has no address", cfg.SchedulerFile)
		}
		return strings.TrimPrefix(info.Address, "tcp://"), nil
	}
	if cfg.SchedulerHost == "" {
		return "", errors.New("distributed cluster needs scheduler_file or scheduler_host")
	}
	return cfg.Address(), nil
}

// gatherAll waits on every future, collecting results and joining
// failures so one bad job does not hide the rest.
func gatherAll(ctx context.Context, futures []*Future) ([]*pipeline.Stats, error) {
	stats := make([]*pipeline.Stats, 0, len(futures))
	var errs []error
	for _, fut := range futures {
		s, err := fut.Wait(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", fut.ID, err))
			continue
		}
		stats = append(stats, s)
	}
	if len(errs) > 0 {
		return stats, errors.Join(errs...)
	}
	return stats, nil
}
