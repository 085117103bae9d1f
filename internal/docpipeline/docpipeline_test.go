package docpipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/itsneelabh/gomind/core"
)

type fakeOCR struct {
	result OCRResult
	err    error
}

func (f *fakeOCR) Recognize(ctx context.Context, blob []byte) (OCRResult, error) {
	return f.result, f.err
}

type scriptedAI struct {
	responses []string
	calls     int
}

func (s *scriptedAI) GenerateResponse(ctx context.Context, prompt string, opts *core.AIOptions) (*core.AIResponse, error) {
	resp := s.responses[s.calls]
	s.calls++
	return &core.AIResponse{Content: resp}, nil
}

func TestProcessRejectsOversizedBlob(t *testing.T) {
	svc := NewService(&fakeOCR{}, &scriptedAI{}, &core.NoOpLogger{})
	blob := make([]byte, maxBlobSizeBytes+1)

	_, err := svc.Process(context.Background(), "scan.pdf", blob)
	require.Error(t, err)
}

func TestProcessReturnsUnknownWhenOCRUniformlyLowConfidence(t *testing.T) {
	ocr := &fakeOCR{result: OCRResult{Pages: []OCRPage{
		{Text: "garbled", Confidence: 0.2},
		{Text: "garbled2", Confidence: 0.3},
	}}}
	ai := &scriptedAI{responses: []string{`{"type":"flight_confirmation","confidence":0.95}`}}

	svc := NewService(ocr, ai, &core.NoOpLogger{})
	doc, err := svc.Process(context.Background(), "scan.pdf", []byte("blob"))
	require.NoError(t, err)
	assert.Equal(t, domain.DocUnknown, doc.DocumentType)
	assert.Equal(t, 0, ai.calls, "type detection must be skipped when OCR confidence is uniformly low")
}

func TestProcessReturnsUnknownWhenTypeDetectionConfidenceBelowFloor(t *testing.T) {
	ocr := &fakeOCR{result: OCRResult{Pages: []OCRPage{{Text: "readable text", Confidence: 0.9}}}}
	ai := &scriptedAI{responses: []string{`{"type":"itinerary","confidence":0.4}`}}

	svc := NewService(ocr, ai, &core.NoOpLogger{})
	doc, err := svc.Process(context.Background(), "scan.pdf", []byte("blob"))
	require.NoError(t, err)
	assert.Equal(t, domain.DocUnknown, doc.DocumentType)
	assert.Empty(t, doc.StructuredFields)
}

func TestProcessExtractsFlightConfirmationAndBucketsConfidence(t *testing.T) {
	ocr := &fakeOCR{result: OCRResult{Pages: []OCRPage{{Text: "flight text", Confidence: 0.95}}}}
	ai := &scriptedAI{responses: []string{
		`{"type":"flight_confirmation","confidence":0.97}`,
		`{"airline":"ANA","airline_confidence":0.97,"pnr":"ABC123","pnr_confidence":0.82,"trip_duration_days":7,"trip_duration_days_confidence":0.5,"travelers":[{"first_name":"Yuki","last_name":"Tanaka"},{"first_name":"Yuki","last_name":"Tanaka"}]}`,
	}}

	svc := NewService(ocr, ai, &core.NoOpLogger{})
	doc, err := svc.Process(context.Background(), "flight.pdf", []byte("blob"))
	require.NoError(t, err)

	assert.Equal(t, domain.DocFlightConfirmation, doc.DocumentType)
	assert.Contains(t, doc.HighConfidenceFields, "airline")
	assert.Contains(t, doc.LowConfidenceFields, "pnr")
	assert.Contains(t, doc.MissingFields, "trip_duration_days")

	travelers, ok := doc.StructuredFields["travelers"].([]interface{})
	require.True(t, ok)
	assert.Len(t, travelers, 1, "duplicate (first_name,last_name) pairs must be de-duplicated")
}
