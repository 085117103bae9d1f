package orchestrator

import (
	"strings"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/insurer"
	"github.com/globetrotter-labs/travel-assistant/internal/slotfill"
)

// adventureSportsConfidenceFloor is spec §4.1's "Adventure-sports rule"
// threshold: an itinerary reporting adventure activities at or above this
// confidence auto-sets preferences.adventure_sports, overriding any value
// already on file.
const adventureSportsConfidenceFloor = 0.80

// docFieldsToPatches maps an ExtractedDocument's structured fields onto the
// same slotfill.Patch shape SLOT produces, so both sources merge through
// one mergePatches function. Only flight_confirmation and itinerary carry
// enough trip-level structure to contribute slot patches; hotel_booking and
// visa_application documents are kept in DocumentData but contribute no
// slot patches.
func docFieldsToPatches(doc *domain.ExtractedDocument) []slotfill.Patch {
	switch doc.DocumentType {
	case domain.DocFlightConfirmation:
		return flightConfirmationPatches(doc)
	case domain.DocItinerary:
		return itineraryPatches(doc)
	default:
		return nil
	}
}

func flightConfirmationPatches(doc *domain.ExtractedDocument) []slotfill.Patch {
	var patches []slotfill.Patch
	fields := doc.StructuredFields

	if dest, ok := fields["destination"].(map[string]interface{}); ok {
		if country, _ := dest["country"].(string); country != "" {
			if canonical, ok := canonicalDestination(country); ok {
				patches = append(patches, slotfill.Patch{
					SlotPath:   "trip.destinations",
					Value:      []string{canonical},
					Confidence: doc.FieldConfidences["destination"],
				})
			}
		}
	}

	if departure, ok := fields["departure"].(map[string]interface{}); ok {
		if date, _ := departure["date"].(string); date != "" {
			patches = append(patches, slotfill.Patch{SlotPath: "trip.departure_date", Value: date, Confidence: doc.FieldConfidences["departure"]})
		}
	}
	if ret, ok := fields["return"].(map[string]interface{}); ok {
		if date, _ := ret["date"].(string); date != "" {
			patches = append(patches, slotfill.Patch{SlotPath: "trip.return_date", Value: date, Confidence: doc.FieldConfidences["return"]})
		}
	}

	if tripType, _ := fields["trip_type"].(string); tripType != "" {
		patches = append(patches, slotfill.Patch{SlotPath: "trip.trip_type", Value: normalizeTripType(tripType), Confidence: doc.FieldConfidences["trip_type"]})
	}

	return patches
}

func itineraryPatches(doc *domain.ExtractedDocument) []slotfill.Patch {
	var patches []slotfill.Patch
	fields := doc.StructuredFields

	if raw, ok := fields["destinations"].([]interface{}); ok {
		var canonical []string
		for _, d := range raw {
			m, ok := d.(map[string]interface{})
			if !ok {
				continue
			}
			country, _ := m["country"].(string)
			if c, ok := canonicalDestination(country); ok {
				canonical = append(canonical, c)
			}
		}
		if len(canonical) > 0 {
			patches = append(patches, slotfill.Patch{SlotPath: "trip.destinations", Value: canonical, Confidence: doc.FieldConfidences["destinations"]})
		}
	}

	if start, _ := fields["start_date"].(string); start != "" {
		patches = append(patches, slotfill.Patch{SlotPath: "trip.departure_date", Value: start, Confidence: doc.FieldConfidences["start_date"]})
	}
	if end, _ := fields["end_date"].(string); end != "" {
		patches = append(patches, slotfill.Patch{SlotPath: "trip.return_date", Value: end, Confidence: doc.FieldConfidences["end_date"]})
	}

	return patches
}

// adventureSportsAutoPatch implements the Adventure-sports rule directly
// (it is an unconditional set on a confidence floor, not a competing
// provenance comparison), returning ("", false) when the document doesn't
// qualify.
func adventureSportsAutoPatch(doc *domain.ExtractedDocument) (slotfill.Patch, bool) {
	if doc.DocumentType != domain.DocItinerary {
		return slotfill.Patch{}, false
	}
	has, _ := doc.StructuredFields["has_adventure_sports"].(bool)
	confidence := doc.FieldConfidences["has_adventure_sports"]
	if !has || confidence < adventureSportsConfidenceFloor {
		return slotfill.Patch{}, false
	}
	return slotfill.Patch{SlotPath: "preferences.adventure_sports", Value: true, Confidence: confidence}, true
}

func canonicalDestination(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if _, ok := insurer.CountryCode(raw); !ok {
		return "", false
	}
	return insurer.CanonicalName(raw), true
}

func normalizeTripType(raw string) domain.TripType {
	if strings.Contains(strings.ToLower(raw), "one") {
		return domain.TripOneWay
	}
	return domain.TripReturn
}

// mergePatches applies patches to state following spec §4.1's merge rule:
// a patch lands iff the slot has no recorded provenance confidence or the
// patch's confidence exceeds it (higher-confidence tie-break). Within one
// merge call, later patches for the same slot path win ties, approximating
// the "newer upload timestamp" / "most-recently-confirmed" tie-breaks for
// the common case of patches arriving in chronological order. The one
// exception is trip.destinations, which is unioned whatever its
// confidence; its provenance keeps the highest confidence seen.
func mergePatches(state *domain.SessionState, patches []slotfill.Patch) {
	if state.FieldProvenance == nil {
		state.FieldProvenance = map[string]float64{}
	}

	for _, p := range patches {
		existing, has := state.FieldProvenance[p.SlotPath]
		if has && p.Confidence < existing && p.SlotPath != "trip.destinations" {
			continue
		}
		applyPatch(state, p)
		if !has || p.Confidence >= existing {
			state.FieldProvenance[p.SlotPath] = p.Confidence
		}
	}
}

func applyPatch(state *domain.SessionState, p slotfill.Patch) {
	switch p.SlotPath {
	case "trip.destinations":
		if v, ok := p.Value.([]string); ok {
			state.Trip.Destinations = unionStrings(state.Trip.Destinations, v)
		}
	case "trip.departure_date":
		if v, ok := p.Value.(string); ok {
			state.Trip.DepartureDate = v
		}
	case "trip.return_date":
		if v, ok := p.Value.(string); ok {
			state.Trip.ReturnDate = v
		}
	case "trip.trip_type":
		if v, ok := p.Value.(domain.TripType); ok {
			state.Trip.TripType = v
		}
	case "travelers.count":
		if v, ok := p.Value.(int); ok {
			state.Travelers.Count = v
		}
	case "travelers.ages":
		if v, ok := p.Value.([]int); ok {
			state.Travelers.Ages = v
		}
	case "travelers.first_names":
		if v, ok := p.Value.([]string); ok {
			state.Travelers.FirstNames = v
		}
	case "travelers.last_names":
		if v, ok := p.Value.([]string); ok {
			state.Travelers.LastNames = v
		}
	case "travelers.emails":
		if v, ok := p.Value.([]string); ok {
			state.Travelers.Emails = v
		}
	case "preferences.adventure_sports":
		if v, ok := p.Value.(bool); ok {
			state.Preferences.AdventureSports = v
			state.Preferences.AdventureSportsSet = true
		}
	}
}

// unionStrings appends entries from next not already present in existing
// (case-insensitive), preserving first-seen order (spec §4.1 "Destinations
// from multiple documents are unioned preserving first-seen order").
func unionStrings(existing, next []string) []string {
	seen := map[string]bool{}
	for _, e := range existing {
		seen[strings.ToLower(e)] = true
	}
	out := append([]string(nil), existing...)
	for _, n := range next {
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// missingDocumentChecklist lists the human-readable document categories
// that are expected but not yet present in state.DocumentData, for
// CLAIM_QA's "surfacing required-document checklists" non-adjudication
// contract (spec §1 Out of scope).
func missingDocumentChecklist(docs []domain.ExtractedDocument) []string {
	have := map[domain.DocumentType]bool{}
	for _, d := range docs {
		have[d.DocumentType] = true
	}

	var missing []string
	for _, dt := range []domain.DocumentType{domain.DocFlightConfirmation, domain.DocItinerary} {
		if !have[dt] {
			missing = append(missing, string(dt))
		}
	}
	return missing
}
