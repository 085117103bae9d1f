// Package docpipeline implements DOC: OCR, document-type detection, and
// type-specific structured extraction with confidence scoring, per spec
// §4.3.
package docpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
	"github.com/itsneelabh/gomind/core"
)

// maxBlobSizeBytes is the OCR stage's hard cap on input size (spec §4.3 step 1).
const maxBlobSizeBytes = 10 * 1024 * 1024

// typeDetectionConfidenceFloor is the threshold below which the pipeline
// short-circuits to DocumentTypeUnknown (spec §4.3 step 2).
const typeDetectionConfidenceFloor = 0.6

// ocrUniformLowConfidence is the per-page text-confidence ceiling below
// which OCR output is treated as unreadable regardless of what the type
// detector thinks it saw (spec §4.3 Edge cases).
const ocrUniformLowConfidence = 0.5

// OCREngine turns a raster/PDF blob into plain text with per-page
// confidence. It is a narrow seam so the binary-backed implementation
// (Tesseract, a vendor CLI, ...) stays swappable; no pack library does
// OCR, so this boundary is intentionally stdlib-shaped (see DESIGN.md).
type OCREngine interface {
	Recognize(ctx context.Context, blob []byte) (OCRResult, error)
}

// OCRPage is one page of recognized text plus its engine confidence.
type OCRPage struct {
	Text       string
	Confidence float64
}

// OCRResult is the full multi-page OCR output for a blob.
type OCRResult struct {
	Pages []OCRPage
}

// Text concatenates all pages with page markers, the shape the typed
// extraction prompt consumes.
func (r OCRResult) Text() string {
	var sb strings.Builder
	for i, p := range r.Pages {
		fmt.Fprintf(&sb, "--- page %d ---\n%s\n", i+1, p.Text)
	}
	return sb.String()
}

// uniformlyLowConfidence reports whether every page fell below the
// unreadable-scan floor.
func (r OCRResult) uniformlyLowConfidence() bool {
	if len(r.Pages) == 0 {
		return true
	}
	for _, p := range r.Pages {
		if p.Confidence >= ocrUniformLowConfidence {
			return false
		}
	}
	return true
}

// Service implements DOC.process, backed by an OCREngine and an
// core.AIClient for classification and extraction.
type Service struct {
	ocr    OCREngine
	ai     core.AIClient
	logger core.Logger
}

// NewService builds a DOC Service.
func NewService(ocr OCREngine, ai core.AIClient, logger core.Logger) *Service {
	return &Service{ocr: ocr, ai: ai, logger: logger}
}

// Process implements DOC.process(blob_reference) -> ExtractedDocument.
func (s *Service) Process(ctx context.Context, sourceFilename string, blob []byte) (*domain.ExtractedDocument, error) {
	if len(blob) > maxBlobSizeBytes {
		return nil, travelerrors.Newf("DOC.process", travelerrors.KindInvalidInput,
			"document %q exceeds the %d byte limit", sourceFilename, maxBlobSizeBytes)
	}

	ocrResult, err := s.ocr.Recognize(ctx, blob)
	if err != nil {
		return nil, travelerrors.New("DOC.process.ocr", travelerrors.KindDownstreamUnavailable, err)
	}

	doc := &domain.ExtractedDocument{
		SourceFilename:   sourceFilename,
		StructuredFields: map[string]interface{}{},
		FieldConfidences: map[string]float64{},
	}

	if ocrResult.uniformlyLowConfidence() {
		doc.DocumentType = domain.DocUnknown
		return doc, nil
	}

	text := ocrResult.Text()

	docType, typeConfidence, err := s.detectType(ctx, text)
	if err != nil {
		return nil, err
	}
	if typeConfidence < typeDetectionConfidenceFloor {
		doc.DocumentType = domain.DocUnknown
		return doc, nil
	}
	doc.DocumentType = docType

	fields, confidences, err := s.extract(ctx, docType, text)
	if err != nil {
		return nil, err
	}

	if docType == domain.DocFlightConfirmation {
		dedupeFlightTravelers(fields)
	}

	doc.StructuredFields = fields
	doc.FieldConfidences = confidences
	for field, confidence := range confidences {
		_, present := fields[field]
		switch domain.BucketFor(confidence, present) {
		case domain.BucketHigh:
			doc.HighConfidenceFields = append(doc.HighConfidenceFields, field)
		case domain.BucketLow:
			doc.LowConfidenceFields = append(doc.LowConfidenceFields, field)
		default:
			doc.MissingFields = append(doc.MissingFields, field)
		}
	}

	return doc, nil
}

// detectType asks the classifier for one of the four document types.
func (s *Service) detectType(ctx context.Context, text string) (domain.DocumentType, float64, error) {
	prompt := fmt.Sprintf(
		"Classify the following travel document into exactly one of: "+
			"flight_confirmation, hotel_booking, visa_application, itinerary. "+
			"Respond as JSON: {\"type\": \"...\", \"confidence\": 0.0-1.0}.\n\n%s", text)

	resp, err := s.ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		SystemPrompt: "You classify travel documents. Respond with strict JSON only.",
		Temperature:  0,
	})
	if err != nil {
		return domain.DocUnknown, 0, travelerrors.New("DOC.process.type_detect", travelerrors.KindDownstreamUnavailable, err)
	}

	var out struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return domain.DocUnknown, 0, travelerrors.New("DOC.process.type_detect", travelerrors.KindIntegrityViolation, err)
	}

	return domain.DocumentType(out.Type), out.Confidence, nil
}

// typeSchemaPrompt holds the required top-level field description (spec
// §4.3 "Type schemas") per document type.
var typeSchemaPrompt = map[domain.DocumentType]string{
	domain.DocFlightConfirmation: `{"airline":"","flight_number_outbound":"","flight_number_inbound":"","departure":{"date":"","time":"","airport_code":""},"return":{"date":"","time":"","airport_code":""},"destination":{"country":"","city":"","airport_code":""},"pnr":"","travelers":[{"first_name":"","last_name":""}],"trip_duration_days":0,"trip_type":""}`,
	domain.DocHotelBooking:       `{"hotel_name":"","address":{"country":"","city":""},"check_in_date":"","check_out_date":"","nights_count":0,"guests":0,"room_type":""}`,
	domain.DocVisaApplication:    `{"visa_type":"","destination_country":"","applicant":{"full_name":"","date_of_birth":"","passport_number":"","nationality":""},"intended_arrival_date":"","intended_departure_date":"","duration_days":0}`,
	domain.DocItinerary:          `{"trip_title":"","destinations":[{"country":"","city":""}],"start_date":"","end_date":"","activities":[{"name":"","location":"","date":""}],"has_adventure_sports":false,"adventure_sports_activities":[""]}`,
}

// extract runs the typed structured-extraction prompt and returns a flat
// field map paired with a parallel per-field confidence map.
func (s *Service) extract(ctx context.Context, docType domain.DocumentType, text string) (map[string]interface{}, map[string]float64, error) {
	schema, ok := typeSchemaPrompt[docType]
	if !ok {
		return nil, nil, travelerrors.Newf("DOC.process.extract", travelerrors.KindInvalidInput, "unsupported document type %q", docType)
	}

	prompt := fmt.Sprintf(
		"Extract structured data from this %s matching the schema below. "+
			"For every scalar field also emit a parallel \"%s_confidence\" field "+
			"in [0,1] reflecting your certainty. Respond as flat JSON only.\n\n"+
			"Schema shape: %s\n\nDocument text:\n%s", docType, "<field>", schema, text)

	resp, err := s.ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		SystemPrompt: "You extract structured travel-document fields. Respond with strict JSON only, no prose.",
		Temperature:  0,
	})
	if err != nil {
		return nil, nil, travelerrors.New("DOC.process.extract", travelerrors.KindDownstreamUnavailable, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &raw); err != nil {
		return nil, nil, travelerrors.New("DOC.process.extract", travelerrors.KindIntegrityViolation, err)
	}

	fields := map[string]interface{}{}
	confidences := map[string]float64{}
	for key, value := range raw {
		if strings.HasSuffix(key, "_confidence") {
			field := strings.TrimSuffix(key, "_confidence")
			if f, ok := value.(float64); ok {
				confidences[field] = f
			}
			continue
		}
		fields[key] = value
	}
	return fields, confidences, nil
}

// dedupeFlightTravelers removes repeated (first_name, last_name) pairs
// from a flight_confirmation's travelers list (spec §4.3 Edge cases).
func dedupeFlightTravelers(fields map[string]interface{}) {
	raw, ok := fields["travelers"].([]interface{})
	if !ok {
		return
	}

	seen := map[string]bool{}
	deduped := make([]interface{}, 0, len(raw))
	for _, t := range raw {
		traveler, ok := t.(map[string]interface{})
		if !ok {
			deduped = append(deduped, t)
			continue
		}
		first, _ := traveler["first_name"].(string)
		last, _ := traveler["last_name"].(string)
		key := strings.ToLower(first) + "|" + strings.ToLower(last)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, t)
	}
	fields["travelers"] = deduped
}

// extractJSON strips a leading/trailing markdown code fence, the one
// deviation LLM JSON responses routinely need before unmarshaling.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
