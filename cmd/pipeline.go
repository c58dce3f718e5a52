package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/corpusworks/docpipe/pkg/cluster"
	"github.com/corpusworks/docpipe/pkg/config"
	"github.com/corpusworks/docpipe/pkg/executor"
	"github.com/corpusworks/docpipe/pkg/logging"
	"github.com/corpusworks/docpipe/pkg/pipeline"
	"github.com/corpusworks/docpipe/pkg/stages"
)

// NewPipelineCmd groups the commands that run pipeline stages from a
// YAML configuration.
func NewPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run filtering and deduplication stages from a YAML configuration",
	}
	cmd.AddCommand(newStageCmd(stages.StageFilter, "Run the quality filtering stage"))
	cmd.AddCommand(newStageCmd(stages.StageSent, "Run the sentence deduplication stages"))
	cmd.AddCommand(newStageCmd(stages.StageMinhash, "Run the MinHash deduplication stages"))
	cmd.AddCommand(newStageCmd(stages.StageRun, "Run filtering and sentence deduplication back to back"))
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newSchedulerCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

// newStageCmd builds one subcommand per pipeline stage. All stage
// commands share the same shape: load the config, pick datasets, and
// either print the executor plan or submit one job per dataset.
func newStageCmd(stage, short string) *cobra.Command {
	var (
		datasets []string
		plan     bool
	)

	cmd := &cobra.Command{
		Use:   stage + " <yaml_config>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			selected, err := selectDatasets(cfg, datasets)
			if err != nil {
				return err
			}
			if plan {
				return printPlan(cfg, stage, selected)
			}
			return runStage(cmd.Context(), cfg, stage, selected)
		},
	}
	cmd.Flags().StringSliceVar(&datasets, "dataset", nil, "Restrict the run to the named datasets (default: all)")
	cmd.Flags().BoolVar(&plan, "plan", false, "Print the executor chain instead of running it")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <yaml_config>",
		Short: "Check a configuration file and report every problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid: %d dataset(s), %d task(s), %d worker(s)\n",
				color.GreenString("✓"), args[0], len(cfg.Datasets), cfg.Executor.NTasks, cfg.Executor.NWorkers)
			return nil
		},
	}
}

// selectDatasets resolves the --dataset flags against the
// configuration, defaulting to every declared dataset.
func selectDatasets(cfg *config.Config, names []string) ([]string, error) {
	if len(names) == 0 {
		all := make([]string, 0, len(cfg.Datasets))
		for _, ds := range cfg.Datasets {
			all = append(all, ds.Name)
		}
		return all, nil
	}
	for _, name := range names {
		if _, ok := cfg.Dataset(name); !ok {
			return nil, fmt.Errorf("dataset %q is not declared in the configuration", name)
		}
	}
	return names, nil
}

// runStage submits one job per dataset to the configured cluster and
// prints the merged stats once every job has finished.
func runStage(ctx context.Context, cfg *config.Config, stage string, datasets []string) error {
	log := logging.NewLogger("pipeline")

	if cfg.Executor.Debug {
		if err := printPlan(cfg, stage, datasets); err != nil {
			return err
		}
	}
	raw, err := cfg.Marshal()
	if err != nil {
		return err
	}
	client, err := cluster.NewClient(cfg.Cluster, stages.Runner)
	if err != nil {
		return err
	}
	defer client.Close()

	futures := make([]*cluster.Future, 0, len(datasets))
	for _, dataset := range datasets {
		future, err := client.Submit(ctx, cluster.JobSpec{Stage: stage, Dataset: dataset, Config: raw})
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"stage": stage, "dataset": dataset, "job": future.ID}).Info("job submitted")
		futures = append(futures, future)
	}
	if len(futures) == 0 {
		log.Info("Nothing to do.")
		return nil
	}

	results, err := client.Gather(ctx, futures)
	if err != nil {
		return err
	}
	merged := pipeline.NewStats()
	for _, stats := range results {
		merged.Merge(stats)
	}
	fmt.Println(merged.Summary("All tasks"))
	return nil
}

func printPlan(cfg *config.Config, stage string, datasets []string) error {
	for _, dataset := range datasets {
		tail, err := stages.Build(cfg, stage, dataset)
		if err != nil {
			return err
		}
		if err := executor.PrintChain(os.Stdout, tail); err != nil {
			return err
		}
	}
	return nil
}
