package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corpusworks/docpipe/pkg/logging"
)

var (
	logLevel  string
	logFormat string
)

// NewRootCmd assembles the docpipe command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docpipe",
		Short: "Document processing and deduplication pipelines",
		Long: `docpipe turns delivered document collections into filtered, deduplicated
JSONL corpora.

The document commands normalize raw files (txt, markdown, html, json,
mail exports) into gzip-compressed JSONL shards. The pipeline commands
run the quality filtering and deduplication stages described by a YAML
configuration, locally or against a remote scheduler.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Setup(logLevel, logFormat)
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(NewDocumentCmd())
	rootCmd.AddCommand(NewPipelineCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
