// Package app wires the stores, the classifier and the processing stages
// shared by the daemon and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/receipts-classifier/internal/classifier"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/extract"
	"github.com/joseph-ayodele/receipts-classifier/internal/ocr"
	"github.com/joseph-ayodele/receipts-classifier/internal/pipeline"
	"github.com/joseph-ayodele/receipts-classifier/internal/repository"
	"github.com/joseph-ayodele/receipts-classifier/internal/retrain"
	"github.com/joseph-ayodele/receipts-classifier/internal/storage"
)

type App struct {
	Config *common.Config
	Logger *slog.Logger

	DB          *repository.DB
	Blobs       storage.BlobStore
	Jobs        repository.JobRepository
	Receipts    repository.ReceiptRepository
	Corrections repository.CorrectionRepository
	Models      repository.ModelVersionRepository
	Runs        repository.RetrainRunRepository

	Classifier *classifier.Classifier
	Retrain    *retrain.Pipeline
	Processor  *pipeline.Processor
}

// Open connects the database and blob store and builds the pipeline. The
// classifier has no active model until Retrain.Bootstrap runs.
func Open(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	logger.Info("blob store ready", "backend", blobs.Type())

	a := &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Blobs:       blobs,
		Jobs:        repository.NewJobRepository(db, logger),
		Receipts:    repository.NewReceiptRepository(db, logger),
		Corrections: repository.NewCorrectionRepository(db, logger),
		Models:      repository.NewModelVersionRepository(db, logger),
		Runs:        repository.NewRetrainRunRepository(db, logger),
	}

	a.Classifier = classifier.New(
		classifier.NewHashingEmbedder(cfg.Classifier.EmbeddingDim),
		classifier.WithThreshold(cfg.Classifier.ConfidenceThreshold),
		classifier.WithLogger(logger),
	)
	a.Retrain, err = retrain.NewPipeline(
		retrain.ConfigFrom(cfg.Retrain, cfg.Classifier),
		a.Classifier, db, a.Corrections, a.Models, a.Runs, blobs, logger,
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	recognizer := ocr.NewTesseract(ocr.ConfigFrom(cfg.OCR), logger)
	a.Processor = pipeline.NewProcessor(logger,
		pipeline.NewRecognizeStage(blobs, recognizer, logger),
		pipeline.NewParseStage(extract.New(), a.Classifier, logger),
	)
	return a, nil
}

func (a *App) Close() {
	a.Retrain.Close()
	a.DB.Close()
}
