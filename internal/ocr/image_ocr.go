package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/metrics"
)

const engineTesseract = "tesseract"

// Recognize writes the image to a scratch directory, converts HEIC when
// needed and runs tesseract once in TSV mode to get both the text layout and
// word confidences.
func (t *Tesseract) Recognize(ctx context.Context, img Image) (Recognition, error) {
	start := time.Now()
	res := Recognition{Engine: engineTesseract}
	if len(img.Data) == 0 {
		return res, recognitionError("empty image", nil)
	}
	ext := img.Ext()
	if !constants.IsAllowedExt(ext) {
		return res, recognitionError(fmt.Sprintf("unsupported image type %q", ext), nil)
	}

	tmpDir, err := os.MkdirTemp("", "rc-ocr-*")
	if err != nil {
		return res, recognitionError("scratch dir", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.logger.Warn("failed to remove scratch dir", "dir", tmpDir, "error", err)
		}
	}()

	path := filepath.Join(tmpDir, "receipt."+ext)
	if err := os.WriteFile(path, img.Data, 0o600); err != nil {
		return res, recognitionError("write image", err)
	}
	if constants.IsHEICExt(ext) {
		out, warn, err := convertHEIC(ctx, t.runner, t.cfg.HeicConverter, path, tmpDir)
		res.Warnings = append(res.Warnings, warn...)
		if err != nil {
			t.logger.Error("heic conversion failed", "filename", img.Filename, "error", err)
			return res, recognitionError("heic conversion", err)
		}
		path = out
	}

	lines, wordConf, warn, err := t.tesseractTSV(ctx, path)
	res.Warnings = append(res.Warnings, warn...)
	if err != nil {
		return res, recognitionError("tesseract", err)
	}
	res.Lines = lines
	res.Text = Normalize(joinLines(lines))
	res.Duration = time.Since(start)

	if utf8.RuneCountInString(strings.TrimSpace(res.Text)) < MinTextLength {
		return res, recognitionError("text too short", nil)
	}

	// blend: weight the engine higher if it reported word confidences
	heur := heuristicConfidence(res.Text)
	if wordConf > 0 {
		res.Confidence = 0.7*wordConf + 0.3*heur
	} else {
		res.Confidence = heur
	}
	res.Confidence = min(res.Confidence, 1)
	metrics.ObserveRecognitionConfidence(res.Confidence)

	t.logger.Debug("ocr.recognized",
		"filename", img.Filename,
		"lines", len(lines),
		"chars", len(res.Text),
		"confidence", res.Confidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// tesseractTSV runs `tesseract <file> stdout -l <lang> [--psm N] [--oem N] tsv`.
func (t *Tesseract) tesseractTSV(ctx context.Context, path string) ([]Line, float64, []string, error) {
	args := []string{path, "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", fmt.Sprintf("%d", t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return nil, 0, []string{string(errb)}, err
	}
	lines, conf := parseTSV(string(out))
	return lines, conf, nil, nil
}
