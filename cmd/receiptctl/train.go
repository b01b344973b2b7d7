package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
)

var trainForce bool

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train and activate the initial model from the built-in corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		active, err := a.Models.GetActive(ctx)
		switch {
		case err == nil && !trainForce:
			fmt.Fprintf(cmd.OutOrStdout(), "model %s is already active; use --force to train a new one\n", active.VersionID)
			return nil
		case err != nil && !errors.Is(err, common.ErrNotFound):
			return err
		}

		run, err := a.Retrain.RunNow(ctx, constants.RetrainBootstrap)
		if err != nil {
			return err
		}
		return printJSON(cmd, run)
	},
}

func init() {
	trainCmd.Flags().BoolVar(&trainForce, "force", false, "Train even when a model is already active")
}
