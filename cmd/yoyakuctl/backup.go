package main

import (
	"fmt"

	"yoyaku/internal/database"

	"github.com/spf13/cobra"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var cleanup bool

	c := &cobra.Command{
		Use:   "backup",
		Short: "Write a database backup now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			svc := database.NewBackupService(e.db.Path(), e.cfg.Backup, e.logger)
			path, err := svc.PerformBackup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)

			if cleanup {
				removed := svc.CleanupOldBackups()
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d old backups\n", removed)
			}
			return nil
		},
	}

	c.Flags().BoolVar(&cleanup, "cleanup", false, "also delete backups older than backup.retention_days")
	return c
}
