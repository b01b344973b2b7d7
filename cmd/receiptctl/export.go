package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-classifier/internal/export"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/receipts"
)

var (
	exportFrom     string
	exportTo       string
	exportCategory string
	exportOut      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export receipts to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := receipts.NewService(a.Receipts, a.Logger).Filter(receipts.ListReceiptsRequest{
			Category: exportCategory,
			FromDate: exportFrom,
			ToDate:   exportTo,
		})
		if err != nil {
			return err
		}
		data, err := export.NewService(a.Receipts, a.Logger).ExportReceiptsXLSX(ctx, f)
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = fmt.Sprintf("receipts_%s.xlsx", time.Now().Format("20060102_150405"))
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First receipt date, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last receipt date, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportCategory, "category", "", "Only this category")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file (default receipts_<timestamp>.xlsx)")
}
