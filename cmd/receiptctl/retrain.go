package main

import (
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-classifier/constants"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Retrain on the base corpus plus pending corrections and wait for the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Retrain.Bootstrap(ctx, false); err != nil {
			return err
		}
		run, err := a.Retrain.RunNow(ctx, constants.RetrainManual)
		if err != nil {
			return err
		}
		return printJSON(cmd, run)
	},
}
