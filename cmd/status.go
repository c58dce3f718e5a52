package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/corpusworks/docpipe/pkg/config"
	"github.com/corpusworks/docpipe/pkg/executor"
	"github.com/corpusworks/docpipe/pkg/stages"
)

// stageRow is one executor's completion state in the status views.
type stageRow struct {
	Dataset string `json:"dataset"`
	Stage   string `json:"stage"`
	Name    string `json:"name"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
}

// collectRows walks the stage chains of the selected datasets and
// counts completion markers. StageRun is left out: its executors are
// the filter and sentence dedup chains again.
func collectRows(cfg *config.Config, datasets []string) ([]stageRow, error) {
	var rows []stageRow
	for _, dataset := range datasets {
		for _, stage := range []string{stages.StageFilter, stages.StageSent, stages.StageMinhash} {
			tail, err := stages.Build(cfg, stage, dataset)
			if err != nil {
				return nil, err
			}
			for _, ex := range executor.Chain(tail) {
				rows = append(rows, stageRow{
					Dataset: dataset,
					Stage:   stage,
					Name:    ex.Name,
					Done:    ex.CompletedTasks(),
					Total:   ex.Tasks,
				})
			}
		}
	}
	return rows, nil
}

func newStatusCmd() *cobra.Command {
	var (
		datasets []string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "status <yaml_config>",
		Short: "Show task completion for the configured datasets",
		Long: `Count the completion markers each stage executor left under its logging
directory and show per-executor progress. On a terminal this opens a
live view that refreshes every second; otherwise it prints one
snapshot. --json prints the snapshot as JSON for scripting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			selected, err := selectDatasets(cfg, datasets)
			if err != nil {
				return err
			}
			rows, err := collectRows(cfg, selected)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(rows, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				fmt.Fprint(cmd.OutOrStdout(), renderStatusRows(rows, statusDefaultWidth))
				return nil
			}
			// Force color even under tmux or ssh.
			lipgloss.SetColorProfile(termenv.TrueColor)
			model := newStatusModel(args[0], selected, rows)
			_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringSliceVar(&datasets, "dataset", nil, "Restrict to the named datasets (default: all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON snapshot instead of opening the live view")
	return cmd
}
