package ocr

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
)

// MinTextLength is the shortest recognized text accepted as a receipt.
const MinTextLength = 10

// Image is an encoded receipt image as it was submitted.
type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Ext returns the normalized file extension, preferring the filename over the
// declared content type.
func (img Image) Ext() string {
	if ext := constants.NormalizeExt(filepath.Ext(img.Filename)); ext != "" {
		return ext
	}
	return constants.ExtForContentType(img.ContentType)
}

// Line is one recognized text line with its confidence in 0..1.
type Line struct {
	Text       string
	Confidence float64
}

// Recognition is the output of a recognizer.
type Recognition struct {
	Text       string
	Lines      []Line
	Confidence float64
	Engine     string
	Warnings   []string
	Duration   time.Duration
}

// Recognizer turns an image into text.
type Recognizer interface {
	Recognize(ctx context.Context, img Image) (Recognition, error)
}

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	Lang          string // default "vie+eng"
	TessdataDir   string
	HeicConverter string // heif-convert | magick | sips

	PSM int // 6 is good for a uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default
}

// ConfigFrom maps the service configuration onto the recognizer settings.
func ConfigFrom(c common.OCRConfig) Config {
	return Config{
		Tesseract:     c.Tesseract,
		Lang:          c.Lang,
		TessdataDir:   c.TessdataDir,
		HeicConverter: c.HeicConverter,
		PSM:           c.PSM,
		OEM:           c.OEM,
	}
}

// Tesseract recognizes images with the tesseract CLI.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Tesseract)

// WithRunner replaces the command runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(t *Tesseract) {
		if r != nil {
			t.runner = r
		}
	}
}

func NewTesseract(cfg Config, logger *slog.Logger, opts ...Option) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "vie+eng"
	}
	t := &Tesseract{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, o := range opts {
		o(t)
	}
	return t
}

func recognitionError(msg string, cause error) error {
	if cause == nil {
		return common.NewAppError("RECOGNITION_ERROR", msg, common.ErrRecognition)
	}
	return common.NewAppError("RECOGNITION_ERROR", msg+": "+cause.Error(), common.ErrRecognition)
}

func joinLines(lines []Line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}
