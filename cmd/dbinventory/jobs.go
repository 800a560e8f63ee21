package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control scheduled jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		jobs, err := a.scheduler.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTRIGGER\tACTION\tPAUSED\tBUILTIN\tLAST RUN\tSTATUS")
		for _, j := range jobs {
			last := "-"
			if j.LastRunAt != nil {
				last = j.LastRunAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\t%s\n", j.ID, j.Trigger, j.Action, j.Paused, j.IsBuiltin, last, j.LastStatus)
		}
		return w.Flush()
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run [job-id]",
	Short: "Run a job now in this process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.scheduler.RunNow(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s finished.\n", args[0])
		return nil
	},
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause [job-id]",
	Short: "Pause a job; a running server picks it up on restart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.scheduler.Pause(cmd.Context(), args[0])
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.scheduler.Resume(cmd.Context(), args[0])
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsRunCmd, jobsPauseCmd, jobsResumeCmd)
}
