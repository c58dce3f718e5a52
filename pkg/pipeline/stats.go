package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// StepStats accumulates counters for one step. Within a run each StepStats
// is written by a single step goroutine; cross-task aggregation happens
// through Stats.Merge after the tasks finish.
type StepStats struct {
	Name      string           `json:"name"`
	Input     int64            `json:"input"`
	Forwarded int64            `json:"forwarded"`
	Dropped   int64            `json:"dropped"`
	Bytes     int64            `json:"bytes,omitempty"`
	Tokens    int64            `json:"tokens,omitempty"`
	Reasons   map[string]int64 `json:"drop_reasons,omitempty"`
	Elapsed   time.Duration    `json:"elapsed,omitempty"`
}

// Forward records a document passed downstream.
func (ss *StepStats) Forward() {
	ss.Forwarded++
}

// Drop records a document removed from the stream, tagged with a reason.
func (ss *StepStats) Drop(reason string) {
	ss.Dropped++
	if reason == "" {
		return
	}
	if ss.Reasons == nil {
		ss.Reasons = make(map[string]int64)
	}
	ss.Reasons[reason]++
}

func (ss *StepStats) merge(other *StepStats) {
	ss.Input += other.Input
	ss.Forwarded += other.Forwarded
	ss.Dropped += other.Dropped
	ss.Bytes += other.Bytes
	ss.Tokens += other.Tokens
	ss.Elapsed += other.Elapsed
	for reason, n := range other.Reasons {
		if ss.Reasons == nil {
			ss.Reasons = make(map[string]int64)
		}
		ss.Reasons[reason] += n
	}
}

// Stats collects per-step counters for a pipeline run.
type Stats struct {
	mu    sync.Mutex
	Steps []*StepStats `json:"steps"`
}

// NewStats returns an empty stats collector.
func NewStats() *Stats {
	return &Stats{}
}

// Step returns the counters for the named step, creating them on first use.
func (s *Stats) Step(name string) *StepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ss := range s.Steps {
		if ss.Name == name {
			return ss
		}
	}
	ss := &StepStats{Name: name}
	s.Steps = append(s.Steps, ss)
	return ss
}

// Merge folds other into s, matching steps by name.
func (s *Stats) Merge(other *Stats) {
	if other == nil {
		return
	}
	for _, ss := range other.Steps {
		s.Step(ss.Name).merge(ss)
	}
}

// TotalForwarded returns the number of documents the final step passed on.
func (s *Stats) TotalForwarded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Steps) == 0 {
		return 0
	}
	return s.Steps[len(s.Steps)-1].Forwarded
}

// Summary renders a multi-line human-readable report.
func (s *Stats) Summary(title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title)
	for _, ss := range s.Steps {
		fmt.Fprintf(&b, "  %s: %s in, %s forwarded, %s dropped",
			ss.Name,
			humanize.Comma(ss.Input),
			humanize.Comma(ss.Forwarded),
			humanize.Comma(ss.Dropped))
		if ss.Bytes > 0 {
			fmt.Fprintf(&b, ", %s", humanize.Bytes(uint64(ss.Bytes)))
		}
		if ss.Tokens > 0 {
			fmt.Fprintf(&b, ", %s tokens", humanize.Comma(ss.Tokens))
		}
		if ss.Elapsed > 0 {
			fmt.Fprintf(&b, " [%s]", ss.Elapsed.Round(time.Millisecond))
		}
		b.WriteString("\n")
		if len(ss.Reasons) > 0 {
			reasons := make([]string, 0, len(ss.Reasons))
			for reason := range ss.Reasons {
				reasons = append(reasons, reason)
			}
			sort.Strings(reasons)
			for _, reason := range reasons {
				fmt.Fprintf(&b, "    %s: %s\n", reason, humanize.Comma(ss.Reasons[reason]))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
