package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// RemoteClient submits jobs to a scheduler over HTTP and polls for
// their completion.
type RemoteClient struct {
	base     string
	http     *http.Client
	pollWait time.Duration
}

func NewRemoteClient(addr string) *RemoteClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &RemoteClient{
		base:     strings.TrimRight(base, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		pollWait: time.Second,
	}
}

type jobStatusResponse struct {
	ID     string          `json:"id"`
	Status JobStatus       `json:"status"`
	Error  string          `json:"error,omitempty"`
	Stats  *pipeline.Stats `json:"stats,omitempty"`
}

// Ping checks the scheduler is reachable.
func (c *RemoteClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach scheduler at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scheduler at %s unhealthy: %s", c.base, resp.Status)
	}
	return nil
}

func (c *RemoteClient) Submit(ctx context.Context, spec JobSpec) (*Future, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal job spec: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("submit job: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}

	id := out.ID
	return &Future{
		ID: id,
		fetch: func(ctx context.Context) (*pipeline.Stats, error) {
			return c.pollJob(ctx, id)
		},
	}, nil
}

func (c *RemoteClient) pollJob(ctx context.Context, id string) (*pipeline.Stats, error) {
	ticker := time.NewTicker(c.pollWait)
	defer ticker.Stop()
	for {
		status, err := c.jobStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case StatusCompleted:
			return status.Stats, nil
		case StatusFailed:
			return nil, fmt.Errorf("job failed: %s", status.Error)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *RemoteClient) jobStatus(ctx context.Context, id string) (*jobStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/jobs/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll job %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("scheduler does not know job %s", id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll job %s: %s", id, resp.Status)
	}
	var status jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	return &status, nil
}

func (c *RemoteClient) Gather(ctx context.Context, futures []*Future) ([]*pipeline.Stats, error) {
	return gatherAll(ctx, futures)
}

func (c *RemoteClient) Close() error { return nil }
