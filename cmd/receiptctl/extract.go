package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/extract"
	"github.com/joseph-ayodele/receipts-classifier/internal/ocr"
	"github.com/joseph-ayodele/receipts-classifier/internal/pipeline"
)

// localFiles serves payload keys straight from the filesystem.
type localFiles struct{}

func (localFiles) Get(_ context.Context, key string) ([]byte, error) { return os.ReadFile(key) }

var extractCmd = &cobra.Command{
	Use:   "extract <image-or-text-file>",
	Short: "Recognize, extract and classify a receipt without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Retrain.Bootstrap(ctx, a.Config.Classifier.Bootstrap); err != nil {
			return err
		}

		path := args[0]
		var payload entity.JobPayload
		if strings.EqualFold(filepath.Ext(path), ".txt") {
			text, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			payload = entity.JobPayload{Kind: constants.PayloadText, Text: string(text)}
		} else {
			payload = entity.JobPayload{
				Kind:      constants.PayloadImage,
				ObjectKey: path,
				Filename:  filepath.Base(path),
			}
		}

		proc := pipeline.NewProcessor(a.Logger,
			pipeline.NewRecognizeStage(localFiles{}, ocr.NewTesseract(ocr.ConfigFrom(a.Config.OCR), a.Logger), a.Logger),
			pipeline.NewParseStage(extract.New(), a.Classifier, a.Logger),
		)
		rec, err := proc.Analyze(ctx, payload)
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	},
}
