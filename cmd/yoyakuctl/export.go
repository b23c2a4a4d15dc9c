package main

import (
	"fmt"

	"yoyaku/internal/export"
	"yoyaku/internal/models"

	"github.com/spf13/cobra"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var from, to, out string

	c := &cobra.Command{
		Use:   "export",
		Short: "Write reservations in a date range to an xlsx file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := models.ParseDate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := models.ParseDate(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			path, err := export.NewExporter(e.db, e.cfg.Exports.Path, e.cfg.Location(), e.logger).
				Export(cmd.Context(), start, end, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	c.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	c.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD")
	c.Flags().StringVar(&out, "out", "", "output file (default: <exports.path>/reservations_<from>_to_<to>.xlsx)")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")
	return c
}
