package pipeline

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

// Processor coordinates recognition, then extraction and classification.
type Processor struct {
	logger    *slog.Logger
	recognize *RecognizeStage
	parse     *ParseStage
}

func NewProcessor(logger *slog.Logger, recognize *RecognizeStage, parse *ParseStage) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger, recognize: recognize, parse: parse}
}

// Process runs every stage for a claimed job. Nothing is written here: the
// receipt in the returned result is stored when the job completes, and only
// if the worker still holds the lease.
func (p *Processor) Process(ctx context.Context, job *entity.Job) (entity.JobResult, error) {
	logger := common.LoggerFromContext(ctx, p.logger)

	rec, err := p.recognize.Run(ctx, job.Payload)
	if err != nil {
		logger.Error("processor.recognize.failed", "kind", job.Payload.Kind, "error", err)
		return entity.JobResult{}, err
	}
	logger.Info("processor.recognize.ok",
		"engine", rec.Engine,
		"lines", len(rec.Lines),
		"confidence", rec.Confidence,
	)

	receipt, pred, err := p.parse.Run(ctx, job.ID, rec)
	if err != nil {
		logger.Error("processor.parse.failed", "error", err)
		return entity.JobResult{}, err
	}

	result := entity.JobResult{
		ReceiptID:    receipt.ID,
		Category:     receipt.Category,
		Confidence:   receipt.Confidence,
		Distribution: make(map[string]float64, len(pred.Distribution)),
		ModelVersion: pred.VersionID,
		Receipt:      receipt,
	}
	for c, v := range pred.Distribution {
		result.Distribution[string(c)] = v
	}
	if err := ValidateResult(result); err != nil {
		return entity.JobResult{}, err
	}
	logger.Info("processor.parse.ok",
		"receipt_id", receipt.ID,
		"category", receipt.Category,
		"argmax", pred.Argmax,
		"gated", pred.Gated,
		"model_version", pred.VersionID,
	)
	return result, nil
}

// Analyze runs the stages without persisting anything.
func (p *Processor) Analyze(ctx context.Context, payload entity.JobPayload) (*entity.Receipt, error) {
	rec, err := p.recognize.Run(ctx, payload)
	if err != nil {
		return nil, err
	}
	receipt, _, err := p.parse.Analyze(ctx, rec)
	return receipt, err
}
