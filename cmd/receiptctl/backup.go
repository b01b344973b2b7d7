package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-classifier/internal/backup"
)

var backupKeep int

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a JSON snapshot of receipts, corrections and model versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := backup.NewService(a.Receipts, a.Corrections, a.Models, a.Blobs, backupKeep, a.Logger).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	backupCmd.Flags().IntVar(&backupKeep, "keep", backup.DefaultKeep, "Number of snapshots to keep")
}
