package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpusworks/docpipe/pkg/document"
)

// NewDocumentCmd groups the commands that turn delivered files into
// JSONL shards.
func NewDocumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Convert delivered files into gzip-compressed JSONL shards",
	}
	cmd.AddCommand(newProcessDirectoryCmd())
	cmd.AddCommand(newProcessWebCrawlCmd())
	return cmd
}

// documentFlags holds the flags both document commands share.
type documentFlags struct {
	outputSuffix string
	workers      int
	keyPath      string
	textFormat   string
	resume       bool
}

func (f *documentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.outputSuffix, "output-suffix", document.OutputSuffix, "Suffix appended to the dataset name for the output file")
	cmd.Flags().IntVar(&f.workers, "n-workers", 4, "Number of concurrent extraction workers")
	cmd.Flags().StringVar(&f.keyPath, "key-paths", "text", "Comma-separated path to the text field in JSON files")
	cmd.Flags().StringVar(&f.textFormat, "text-format", "txt", "Format of the text in JSON files: txt or html")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "Skip files already recorded in the checkpoint next to the output")
}

func (f *documentFlags) processor(source string) *document.Processor {
	p := document.NewProcessor(source)
	p.Suffix = f.outputSuffix
	p.Workers = f.workers
	p.Opts = document.Options{KeyPath: f.keyPath, TextFormat: f.textFormat}
	p.Resume = f.resume
	return p
}

func newProcessDirectoryCmd() *cobra.Command {
	var flags documentFlags

	cmd := &cobra.Command{
		Use:   "process-directory <input_dir> <output_dir> <dataset_name>",
		Short: "Convert every file under a directory into one JSONL shard",
		Long: `Walk input_dir recursively, extract the text of every supported file, and
write the records to <output_dir>/<dataset_name>.jsonl.gz. Unsupported
and unreadable files are skipped with a warning.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputDir, outputDir, dataset := args[0], args[1], args[2]
			files, err := document.InputFiles(inputDir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files to process under %s", inputDir)
			}
			_, err = flags.processor(dataset).Run(cmd.Context(), files, outputDir)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newProcessWebCrawlCmd() *cobra.Command {
	var flags documentFlags

	cmd := &cobra.Command{
		Use:   "process-web-crawl <crawl_log> <output_dir> <crawled_data_dir> <dataset_name>",
		Short: "Convert the files named by a crawl log into one JSONL shard",
		Long: `Read the wget-style crawl log to find which subfolders of
crawled_data_dir the crawl filled, then process every file below those
subfolders into <output_dir>/<dataset_name>.jsonl.gz.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			crawlLog, outputDir, dataDir, dataset := args[0], args[1], args[2], args[3]
			files, err := document.CrawledFiles(crawlLog, dataDir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no crawled files found under %s", dataDir)
			}
			_, err = flags.processor(dataset).Run(cmd.Context(), files, outputDir)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
