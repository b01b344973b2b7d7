package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-classifier/internal/classifier"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/extract"
)

// Extra keys stored next to the extractor's fields in Receipt.FieldConfidence.
const (
	ConfidenceRecognition = "recognition"
	ConfidenceOverall     = "overall"
)

// Predictor is the classifier as seen by the pipeline.
type Predictor interface {
	Predict(ctx context.Context, rawText string, merchant *string, items []string) (classifier.Prediction, error)
}

type ParseStage struct {
	extractor  *extract.Extractor
	classifier Predictor
	now        func() time.Time
	logger     *slog.Logger
}

func NewParseStage(extractor *extract.Extractor, clf Predictor, logger *slog.Logger) *ParseStage {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = extract.New()
	}
	return &ParseStage{extractor: extractor, classifier: clf, now: time.Now, logger: logger}
}

// Analyze extracts entities and classifies the receipt. Extraction never
// fails; classifier errors are returned as is.
func (s *ParseStage) Analyze(ctx context.Context, rec Recognized) (*entity.Receipt, classifier.Prediction, error) {
	fields := s.extractor.ExtractLines(rec.Lines)

	pred, err := s.classifier.Predict(ctx, rec.Text, fields.MerchantName, fields.Items)
	if err != nil {
		return nil, classifier.Prediction{}, fmt.Errorf("classify: %w", err)
	}

	fieldConf := make(map[string]float64, len(fields.FieldConfidence)+2)
	for k, v := range fields.FieldConfidence {
		fieldConf[k] = v
	}
	fieldConf[ConfidenceRecognition] = rec.Confidence
	fieldConf[ConfidenceOverall] = extract.OverallConfidence(pred.Confidence, fields)

	now := s.now().UTC()
	receipt := &entity.Receipt{
		ID:              uuid.NewString(),
		MerchantName:    fields.MerchantName,
		ReceiptDate:     fields.ReceiptDate,
		TotalAmount:     fields.TotalAmount,
		Phone:           fields.Phone,
		Items:           fields.Items,
		RawText:         rec.Text,
		Category:        pred.Category,
		Confidence:      pred.Confidence,
		FieldConfidence: fieldConf,
		ModelVersion:    pred.VersionID,
		ProcessedAt:     now,
		UpdatedAt:       now,
	}
	if receipt.Items == nil {
		receipt.Items = []string{}
	}
	return receipt, pred, nil
}

// Run analyzes the receipt on behalf of jobID. The receipt is stored later,
// together with the job outcome.
func (s *ParseStage) Run(ctx context.Context, jobID string, rec Recognized) (*entity.Receipt, classifier.Prediction, error) {
	receipt, pred, err := s.Analyze(ctx, rec)
	if err != nil {
		return nil, pred, err
	}
	receipt.JobID = jobID
	return receipt, pred, nil
}
