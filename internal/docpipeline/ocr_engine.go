package docpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
)

// BinaryOCREngine shells out to an external OCR executable (Tesseract, a
// vendor CLI, ...) per the OCR.EnginePath config key. No pack library does
// OCR (DESIGN.md), so this boundary is deliberately stdlib os/exec rather
// than a wrapped third-party SDK.
type BinaryOCREngine struct {
	binaryPath string
}

// NewBinaryOCREngine builds a BinaryOCREngine invoking the executable at
// binaryPath, which must accept image bytes on stdin and write a JSON array
// of {"text":"...","confidence":0.0} page objects to stdout.
func NewBinaryOCREngine(binaryPath string) *BinaryOCREngine {
	return &BinaryOCREngine{binaryPath: binaryPath}
}

type binaryOCRPage struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognize invokes the configured OCR binary against blob and parses its
// page-structured JSON output.
func (e *BinaryOCREngine) Recognize(ctx context.Context, blob []byte) (OCRResult, error) {
	cmd := exec.CommandContext(ctx, e.binaryPath)
	cmd.Stdin = bytes.NewReader(blob)
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		return OCRResult{}, travelerrors.New("DOC.ocr", travelerrors.KindDownstreamUnavailable, err)
	}

	var pages []binaryOCRPage
	if err := json.Unmarshal(out, &pages); err != nil {
		return OCRResult{}, travelerrors.New("DOC.ocr", travelerrors.KindDownstreamUnavailable, fmt.Errorf("parsing OCR output: %w", err))
	}

	result := OCRResult{Pages: make([]OCRPage, 0, len(pages))}
	for _, p := range pages {
		result.Pages = append(result.Pages, OCRPage{Text: p.Text, Confidence: p.Confidence})
	}
	return result, nil
}
