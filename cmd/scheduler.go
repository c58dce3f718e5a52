package cmd

import (
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpusworks/docpipe/pkg/cluster"
	"github.com/corpusworks/docpipe/pkg/config"
	"github.com/corpusworks/docpipe/pkg/stages"
)

func newSchedulerCmd() *cobra.Command {
	var (
		host          string
		port          int
		schedulerFile string
		workers       int
	)

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the HTTP scheduler that distributed clusters submit jobs to",
		Long: `Start the job scheduler for cluster type "distributed". Pipeline
commands on other machines point at it through cluster.scheduler_host
and cluster.scheduler_port, or through the JSON file written by
--scheduler-file. The process runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := net.JoinHostPort(host, strconv.Itoa(port))
			if schedulerFile != "" {
				if err := cluster.WriteSchedulerFile(schedulerFile, addr); err != nil {
					return err
				}
			}
			sched := cluster.NewScheduler(workers, stages.Runner)
			return sched.Serve(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Address to bind on")
	cmd.Flags().IntVar(&port, "port", config.DefaultSchedulerPort, "Port to listen on")
	cmd.Flags().StringVar(&schedulerFile, "scheduler-file", "", "Write the scheduler address to this JSON file on startup")
	cmd.Flags().IntVar(&workers, "workers", 5, "Number of jobs to run concurrently")
	return cmd
}
