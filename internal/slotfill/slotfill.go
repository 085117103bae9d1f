// Package slotfill implements SLOT: deterministic post-processing around
// an LLM call that extracts quote slots from the conversation, per spec
// §4.2.
package slotfill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/insurer"
	"github.com/itsneelabh/gomind/core"
)

// maxAge and minAge bound the "Ages are integers ≥ 0 and < 120" rule.
const (
	minAge = 0
	maxAge = 120
)

const dateLayout = "2006-01-02"

// ContextWindow is the recommended bounded message window (spec §4.1
// "last N (recommended N=6) messages").
const ContextWindow = 6

// Patch is a single slot-path -> value assignment with provenance
// confidence, the unit ORCH merges into SessionState.
type Patch struct {
	SlotPath   string
	Value      interface{}
	Confidence float64
}

// Result is SLOT.extract's return value.
type Result struct {
	Patches           []Patch
	LowConfidenceNotes []string
}

// Extractor implements SLOT.extract, backed by a core.AIClient.
type Extractor struct {
	ai     core.AIClient
	logger core.Logger
	now    func() time.Time
}

// NewExtractor builds a SLOT Extractor.
func NewExtractor(ai core.AIClient, logger core.Logger) *Extractor {
	return &Extractor{ai: ai, logger: logger, now: time.Now}
}

// rawSlotResponse is the strict-JSON shape the extraction prompt asks the
// model to emit.
type rawSlotResponse struct {
	Destinations       []string `json:"destinations"`
	DepartureDate      string   `json:"departure_date"`
	ReturnDate         string   `json:"return_date"`
	TravelersCount     *int     `json:"travelers_count"`
	TravelersAges      []int    `json:"travelers_ages"`
	TravelersFirstNames []string `json:"travelers_first_names"`
	TravelersLastNames  []string `json:"travelers_last_names"`
	TravelersEmails     []string `json:"travelers_emails"`
	AdventureSports    *bool    `json:"adventure_sports"`
	Confidences        map[string]float64 `json:"confidences"`
}

// Extract implements SLOT.extract(context_messages, current_state) ->
// {slot_patches, low_confidence_notes}. Per spec §4.2, a parse failure
// yields an empty patch set rather than an error.
func (e *Extractor) Extract(ctx context.Context, messages []domain.Message, state domain.SessionState) Result {
	prompt := e.buildPrompt(messages, state)

	resp, err := e.ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		SystemPrompt: "You extract travel-insurance quote slots from a conversation. Respond with strict JSON only, no prose.",
		Temperature:  0,
	})
	if err != nil {
		if e.logger != nil {
			e.logger.WarnWithContext(ctx, "slot extraction LLM call failed", map[string]interface{}{"error": err.Error()})
		}
		return Result{}
	}

	var raw rawSlotResponse
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &raw); err != nil {
		if e.logger != nil {
			e.logger.WarnWithContext(ctx, "slot extraction response was not valid JSON", map[string]interface{}{"error": err.Error()})
		}
		return Result{}
	}

	return e.normalize(raw)
}

// buildPrompt renders the bounded message window as "Role: content" lines
// under a "Previous conversation:" header, followed by the already-known
// state (so the model does not re-ask for filled slots) and the slot schema.
func (e *Extractor) buildPrompt(messages []domain.Message, state domain.SessionState) string {
	var sb strings.Builder

	sb.WriteString("Previous conversation:\n")
	window := messages
	if len(window) > ContextWindow {
		window = window[len(window)-ContextWindow:]
	}
	for _, m := range window {
		role := "User"
		if m.Role == domain.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
	}

	sb.WriteString("\nAlready known (do not re-ask for these unless correcting them):\n")
	fmt.Fprintf(&sb, "destinations=%v departure_date=%s return_date=%s travelers_count=%d travelers_ages=%v "+
		"travelers_first_names=%v travelers_last_names=%v travelers_emails=%v adventure_sports_set=%v\n",
		state.Trip.Destinations, state.Trip.DepartureDate, state.Trip.ReturnDate,
		state.Travelers.Count, state.Travelers.Ages,
		state.Travelers.FirstNames, state.Travelers.LastNames, state.Travelers.Emails,
		state.Preferences.AdventureSportsSet)

	sb.WriteString("\nRespond with JSON: {\"destinations\":[...],\"departure_date\":\"YYYY-MM-DD\",")
	sb.WriteString("\"return_date\":\"YYYY-MM-DD\",\"travelers_count\":0,\"travelers_ages\":[...],")
	sb.WriteString("\"travelers_first_names\":[...],\"travelers_last_names\":[...],\"travelers_emails\":[...],")
	sb.WriteString("\"adventure_sports\":true|false,\"confidences\":{\"<slot>\":0.0-1.0}}. ")
	sb.WriteString("travelers_first_names/travelers_last_names/travelers_emails are parallel arrays, " +
		"one entry per traveler in the same order as travelers_ages. ")
	sb.WriteString("Omit any field you did not find evidence for. Resolve relative dates " +
		fmt.Sprintf("against today=%s.", e.now().Format(dateLayout)))

	return sb.String()
}

// normalize applies spec §4.2's coercion rules: ISO-8601 dates,
// destination canonicalization via the insurer's country table, age
// bounds, and the count-vs-ages conflict rule.
func (e *Extractor) normalize(raw rawSlotResponse) Result {
	var result Result
	conf := func(slot string) float64 {
		if c, ok := raw.Confidences[slot]; ok {
			return c
		}
		return 1.0
	}

	if len(raw.Destinations) > 0 {
		canonical := make([]string, 0, len(raw.Destinations))
		for _, d := range raw.Destinations {
			if _, ok := insurer.CountryCode(d); ok {
				canonical = append(canonical, insurer.CanonicalName(d))
			} else {
				result.LowConfidenceNotes = append(result.LowConfidenceNotes,
					fmt.Sprintf("destination %q is not in the supported country list", d))
			}
		}
		if len(canonical) > 0 {
			result.Patches = append(result.Patches, Patch{SlotPath: "trip.destinations", Value: canonical, Confidence: conf("destinations")})
		}
	}

	if raw.DepartureDate != "" {
		if d, ok := normalizeDate(raw.DepartureDate); ok {
			result.Patches = append(result.Patches, Patch{SlotPath: "trip.departure_date", Value: d, Confidence: conf("departure_date")})
		} else {
			result.LowConfidenceNotes = append(result.LowConfidenceNotes, fmt.Sprintf("could not parse departure date %q", raw.DepartureDate))
		}
	}

	if raw.ReturnDate != "" {
		if d, ok := normalizeDate(raw.ReturnDate); ok {
			result.Patches = append(result.Patches, Patch{SlotPath: "trip.return_date", Value: d, Confidence: conf("return_date")})
		} else {
			result.LowConfidenceNotes = append(result.LowConfidenceNotes, fmt.Sprintf("could not parse return date %q", raw.ReturnDate))
		}
	}

	ages := filterValidAges(raw.TravelersAges, &result)

	count := raw.TravelersCount
	if count != nil && len(ages) > 0 && *count != len(ages) {
		result.LowConfidenceNotes = append(result.LowConfidenceNotes,
			fmt.Sprintf("traveler count (%d) did not match the number of ages given (%d); using the ages", *count, len(ages)))
		result.Patches = append(result.Patches, Patch{SlotPath: "travelers.count", Value: len(ages), Confidence: conf("travelers_ages")})
	} else if len(ages) > 0 {
		result.Patches = append(result.Patches, Patch{SlotPath: "travelers.count", Value: len(ages), Confidence: conf("travelers_ages")})
	} else if count != nil {
		result.Patches = append(result.Patches, Patch{SlotPath: "travelers.count", Value: *count, Confidence: conf("travelers_count")})
	}

	if len(ages) > 0 {
		result.Patches = append(result.Patches, Patch{SlotPath: "travelers.ages", Value: ages, Confidence: conf("travelers_ages")})
	}

	if len(raw.TravelersFirstNames) > 0 {
		if len(ages) > 0 && len(raw.TravelersFirstNames) != len(ages) {
			result.LowConfidenceNotes = append(result.LowConfidenceNotes,
				fmt.Sprintf("traveler first names count (%d) did not match traveler count (%d); dropping names", len(raw.TravelersFirstNames), len(ages)))
		} else {
			result.Patches = append(result.Patches, Patch{SlotPath: "travelers.first_names", Value: raw.TravelersFirstNames, Confidence: conf("travelers_first_names")})
		}
	}

	if len(raw.TravelersLastNames) > 0 {
		if len(ages) > 0 && len(raw.TravelersLastNames) != len(ages) {
			result.LowConfidenceNotes = append(result.LowConfidenceNotes,
				fmt.Sprintf("traveler last names count (%d) did not match traveler count (%d); dropping names", len(raw.TravelersLastNames), len(ages)))
		} else {
			result.Patches = append(result.Patches, Patch{SlotPath: "travelers.last_names", Value: raw.TravelersLastNames, Confidence: conf("travelers_last_names")})
		}
	}

	if len(raw.TravelersEmails) > 0 {
		if len(ages) > 0 && len(raw.TravelersEmails) != len(ages) {
			result.LowConfidenceNotes = append(result.LowConfidenceNotes,
				fmt.Sprintf("traveler emails count (%d) did not match traveler count (%d); dropping emails", len(raw.TravelersEmails), len(ages)))
		} else {
			result.Patches = append(result.Patches, Patch{SlotPath: "travelers.emails", Value: raw.TravelersEmails, Confidence: conf("travelers_emails")})
		}
	}

	if raw.AdventureSports != nil {
		result.Patches = append(result.Patches, Patch{SlotPath: "preferences.adventure_sports", Value: *raw.AdventureSports, Confidence: conf("adventure_sports")})
	}

	return result
}

// filterValidAges drops ages outside [0,120) and records a note per
// dropped value, per spec §4.2's age bounds.
func filterValidAges(ages []int, result *Result) []int {
	valid := make([]int, 0, len(ages))
	for _, a := range ages {
		if a >= minAge && a < maxAge {
			valid = append(valid, a)
		} else {
			result.LowConfidenceNotes = append(result.LowConfidenceNotes, fmt.Sprintf("traveler age %d is out of range", a))
		}
	}
	return valid
}

// normalizeDate coerces an already-LLM-resolved date string to the
// canonical ISO-8601 calendar-date layout, rejecting anything it cannot
// parse in that form (relative-date resolution is the LLM's job, per the
// prompt's "resolve relative dates against today" instruction).
func normalizeDate(s string) (string, bool) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format(dateLayout), true
}

// extractJSON strips a leading/trailing markdown code fence.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
