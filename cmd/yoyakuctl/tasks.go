package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTasksCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the notification retry queue",
	}
	c.AddCommand(newTasksFailedCmd(opts))
	return c
}

func newTasksFailedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List notification tasks that ran out of retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			tasks, err := e.db.GetFailedNotificationTasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no failed tasks")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tRESERVATION\tRETRIES\tLAST ERROR")
			for _, t := range tasks {
				lastErr := ""
				if t.LastError != nil {
					lastErr = *t.LastError
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", t.ID, t.TaskType, t.ReservationID, t.RetryCount, lastErr)
			}
			return tw.Flush()
		},
	}
}
