package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/corpusworks/docpipe/pkg/logging"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

const jobQueueDepth = 256

// Scheduler accepts jobs over HTTP and executes them with a bounded
// worker pool. It runs the same Runner the local client uses, so a
// distributed run produces the same outputs as a local one.
type Scheduler struct {
	runner  Runner
	workers int
	log     *logrus.Entry

	mu   sync.Mutex
	jobs map[string]*schedJob

	queue chan *schedJob
	wg    sync.WaitGroup
}

type schedJob struct {
	id     string
	spec   JobSpec
	status JobStatus
	errMsg string
	stats  *pipeline.Stats
}

func NewScheduler(workers int, runner Runner) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		runner:  runner,
		workers: workers,
		log:     logging.NewLogger("scheduler"),
		jobs:    make(map[string]*schedJob),
		queue:   make(chan *schedJob, jobQueueDepth),
	}
}

// Start launches the worker pool. Workers drain the queue until ctx
// ends.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-s.queue:
					if !ok {
						return
					}
					s.runJob(ctx, job)
				}
			}
		}()
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *schedJob) {
	s.setStatus(job, StatusRunning, nil, "")
	log := s.log.WithFields(logrus.Fields{
		"job":     job.id,
		"stage":   job.spec.Stage,
		"dataset": job.spec.Dataset,
	})
	log.Info("job started")
	stats, err := s.runner(ctx, job.spec)
	if err != nil {
		log.WithError(err).Error("job failed")
		s.setStatus(job, StatusFailed, nil, err.Error())
		return
	}
	log.Info("job completed")
	s.setStatus(job, StatusCompleted, stats, "")
}

func (s *Scheduler) setStatus(job *schedJob, status JobStatus, stats *pipeline.Stats, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.status = status
	job.stats = stats
	job.errMsg = errMsg
}

// Router builds the HTTP API.
func (s *Scheduler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api/v1")
	api.POST("/jobs", s.handleSubmit)
	api.GET("/jobs/:id", s.handleStatus)
	return router
}

func (s *Scheduler) handleSubmit(c *gin.Context) {
	var spec JobSpec
	if err := c.BindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job spec"})
		return
	}
	if spec.Stage == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job spec needs a stage"})
		return
	}

	job := &schedJob{
		id:     uuid.New().String(),
		spec:   spec,
		status: StatusPending,
	}
	s.mu.Lock()
	s.jobs[job.id] = job
	s.mu.Unlock()

	select {
	case s.queue <- job:
	default:
		s.mu.Lock()
		delete(s.jobs, job.id)
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue full"})
		return
	}

	s.log.WithFields(logrus.Fields{
		"job":     job.id,
		"stage":   spec.Stage,
		"dataset": spec.Dataset,
	}).Info("job accepted")
	c.JSON(http.StatusAccepted, gin.H{"id": job.id})
}

func (s *Scheduler) handleStatus(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	job, ok := s.jobs[id]
	var resp jobStatusResponse
	if ok {
		resp = jobStatusResponse{
			ID:     job.id,
			Status: job.status,
			Error:  job.errMsg,
			Stats:  job.stats,
		}
	}
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Serve starts the worker pool and the HTTP listener, shutting both
// down cleanly when ctx ends.
func (s *Scheduler) Serve(ctx context.Context, addr string) error {
	s.Start(ctx)
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.WithField("addr", addr).Info("scheduler listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.wg.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}

// WriteSchedulerFile records the scheduler address in the JSON layout
// cluster.scheduler_file points at.
func WriteSchedulerFile(path, addr string) error {
	data, err := json.MarshalIndent(map[string]string{"address": addr}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
