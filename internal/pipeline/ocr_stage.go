package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/extract"
	"github.com/joseph-ayodele/receipts-classifier/internal/ocr"
)

// BlobReader fetches uploaded images.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Recognized is the text of a receipt, line by line.
type Recognized struct {
	Lines      []extract.Line
	Text       string
	Confidence float64 // 0 when the text was submitted pre-recognized
	Engine     string
}

type RecognizeStage struct {
	blobs      BlobReader
	recognizer ocr.Recognizer
	logger     *slog.Logger
}

// NewRecognizeStage builds the first stage. recognizer may be nil when only
// pre-recognized text is accepted.
func NewRecognizeStage(blobs BlobReader, recognizer ocr.Recognizer, logger *slog.Logger) *RecognizeStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecognizeStage{blobs: blobs, recognizer: recognizer, logger: logger}
}

func (s *RecognizeStage) Run(ctx context.Context, payload entity.JobPayload) (Recognized, error) {
	switch payload.Kind {
	case constants.PayloadText:
		text := ocr.Normalize(payload.Text)
		if text == "" {
			return Recognized{}, common.InvalidInputf("empty receipt text")
		}
		return Recognized{Lines: extract.LinesFromText(text), Text: text, Engine: "text"}, nil

	case constants.PayloadImage:
		if s.recognizer == nil {
			return Recognized{}, common.NewAppError("RECOGNITION_ERROR", "no recognizer configured", common.ErrRecognition)
		}
		data, err := s.blobs.Get(ctx, payload.ObjectKey)
		if err != nil {
			return Recognized{}, fmt.Errorf("load image %s: %w", payload.ObjectKey, err)
		}
		res, err := s.recognizer.Recognize(ctx, ocr.Image{
			Data:        data,
			Filename:    payload.Filename,
			ContentType: payload.ContentType,
		})
		if err != nil {
			return Recognized{}, err
		}
		for _, w := range res.Warnings {
			if w != "" {
				s.logger.Warn("recognizer warning", "warning", w)
			}
		}
		lines := make([]extract.Line, len(res.Lines))
		for i, l := range res.Lines {
			lines[i] = extract.Line{Text: l.Text, Confidence: l.Confidence}
		}
		return Recognized{Lines: lines, Text: res.Text, Confidence: res.Confidence, Engine: res.Engine}, nil

	default:
		return Recognized{}, common.InvalidInputf("unknown payload kind %q", payload.Kind)
	}
}
