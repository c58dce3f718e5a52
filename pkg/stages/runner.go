package stages

import (
	"context"
	"fmt"

	"github.com/corpusworks/docpipe/pkg/cluster"
	"github.com/corpusworks/docpipe/pkg/config"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// Runner executes one cluster job by rebuilding its executor chain
// from the configuration carried in the job. The local client and the
// scheduler daemon both run jobs through it, so a stage behaves the
// same wherever it lands.
func Runner(ctx context.Context, spec cluster.JobSpec) (*pipeline.Stats, error) {
	cfg, err := config.Parse(spec.Config)
	if err != nil {
		return nil, fmt.Errorf("job config: %w", err)
	}
	ex, err := Build(cfg, spec.Stage, spec.Dataset)
	if err != nil {
		return nil, err
	}
	return ex.Run(ctx)
}
