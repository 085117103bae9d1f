// Package domain defines the shared entities that flow between the
// orchestrator and its dependent components: sessions, the extracted slot
// state, insurer quotes and policies, document pipeline output, retrieval
// chunks and voice transcripts.
package domain

import "time"

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a Session's append-only history.
type Message struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	AttachmentRef  string    `json:"attachment_ref,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Intent is the classified purpose of the current turn.
type Intent string

const (
	IntentQuote        Intent = "quote"
	IntentPolicyQA     Intent = "policy_qa"
	IntentClaimQA      Intent = "claim_qa"
	IntentHumanHandoff Intent = "human_handoff"
	IntentSmalltalk    Intent = "smalltalk"
	IntentUnknown      Intent = "unknown"
)

// SessionStatus is the state-machine position of a Session, per spec
// §4.1. It is stored in SessionState.Status and set explicitly by ORCH
// and PUR at each transition.
type SessionStatus string

const (
	StatusGreeting       SessionStatus = "GREETING"
	StatusIntentRouting  SessionStatus = "INTENT_ROUTING"
	StatusSlotFill       SessionStatus = "SLOT_FILL"
	StatusDocReview      SessionStatus = "DOC_REVIEW"
	StatusQuoting        SessionStatus = "QUOTING"
	StatusTierOffered    SessionStatus = "TIER_OFFERED"
	StatusCheckoutInit   SessionStatus = "CHECKOUT_INIT"
	StatusAwaitingPay    SessionStatus = "AWAITING_PAYMENT"
	StatusBinding        SessionStatus = "BINDING"
	StatusBound          SessionStatus = "BOUND"
	StatusErrorRecovery  SessionStatus = "ERROR_RECOVERY"
)

// TripType mirrors the insurer's RT/OW distinction in traveler terms.
type TripType string

const (
	TripOneWay TripType = "one_way"
	TripReturn TripType = "return"
)

// Trip holds the slot-filled trip facts.
type Trip struct {
	Destinations  []string  `json:"destinations"`
	DepartureDate string    `json:"departure_date,omitempty"` // ISO-8601 calendar date
	ReturnDate    string    `json:"return_date,omitempty"`
	TripType      TripType  `json:"trip_type,omitempty"`
}

// Travelers holds party composition. Emails, FirstNames and LastNames are
// parallel to Ages — one per traveler — added beyond the distilled spec
// to resolve the "per-insured email" open question (see DESIGN.md) and to
// populate Policy.insureds' required firstName/lastName fields (spec §3).
type Travelers struct {
	Count      int      `json:"count"`
	Ages       []int    `json:"ages"`
	Emails     []string `json:"emails,omitempty"`
	FirstNames []string `json:"first_names,omitempty"`
	LastNames  []string `json:"last_names,omitempty"`
}

// Preferences holds slots that alter pricing/eligibility rules.
type Preferences struct {
	AdventureSports bool `json:"adventure_sports"`
	// AdventureSportsSet distinguishes "explicitly false" from "never asked",
	// since the spec requires an explicit boolean with default-false only
	// after the user declines to specify.
	AdventureSportsSet bool `json:"adventure_sports_set"`
}

// CheckoutStatus is the lifecycle of a purchase attempt.
type CheckoutStatus string

const (
	CheckoutNone         CheckoutStatus = "none"
	CheckoutInitiated    CheckoutStatus = "initiated"
	CheckoutConfirmed    CheckoutStatus = "confirmed"
	CheckoutCanceled     CheckoutStatus = "canceled"
	CheckoutFailed       CheckoutStatus = "failed"
	CheckoutNeedsReissue CheckoutStatus = "needs_reissue"
	CheckoutBindFailed   CheckoutStatus = "bind_failed"
)

// Checkout is the purchase-in-progress slot.
type Checkout struct {
	PaymentRef  string         `json:"payment_ref,omitempty"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Status      CheckoutStatus `json:"status"`
}

// Tier names a priced offering derived from the insurer's single offer.
type Tier string

const (
	TierStandard Tier = "standard"
	TierElite    Tier = "elite"
	TierPremier  Tier = "premier"
)

// InsurerReference is the 4-tuple that must survive byte-exact from
// pricing to binding (GLOSSARY: Insurer reference).
type InsurerReference struct {
	QuoteID     string  `json:"quote_id"`
	OfferID     string  `json:"offer_id"`
	ProductCode string  `json:"product_code"`
	UnitPrice   float64 `json:"unit_price"`
	Currency    string  `json:"currency"`
}

// TierOffer is one row of a Quote's tier table.
type TierOffer struct {
	Price           float64           `json:"price"`
	Currency        string            `json:"currency"`
	CoverageLimits  map[string]float64 `json:"coverage_limits"`
}

// Quote is the three-tier derivation from a single insurer-priced offer.
type Quote struct {
	Fingerprint      string               `json:"fingerprint"`
	InsurerReference InsurerReference     `json:"insurer_reference"`
	Tiers            map[Tier]TierOffer   `json:"tiers"`
	RecommendedTier  Tier                 `json:"recommended_tier"`
	IssuedAt         time.Time            `json:"issued_at"`
	ExpiresAt        time.Time            `json:"expires_at"`
}

// Expired reports whether the quote's 24h TTL has elapsed at t.
func (q *Quote) Expired(t time.Time) bool {
	return !t.Before(q.ExpiresAt)
}

// Insured is one covered traveler on a bound Policy.
type Insured struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Policy is the permanent record produced by a successful bind.
type Policy struct {
	PolicyID         string           `json:"policy_id"`
	BoundAt          time.Time        `json:"bound_at"`
	InsurerReference InsurerReference `json:"insurer_reference"`
	Insureds         []Insured        `json:"insureds"`
	MainContact      Insured          `json:"main_contact"`
	CoverageSnapshot map[Tier]TierOffer `json:"coverage_snapshot"`
	PaymentRef       string           `json:"payment_ref"`
}

// DocumentType enumerates the four understood upload categories.
type DocumentType string

const (
	DocFlightConfirmation DocumentType = "flight_confirmation"
	DocHotelBooking       DocumentType = "hotel_booking"
	DocVisaApplication    DocumentType = "visa_application"
	DocItinerary          DocumentType = "itinerary"
	DocUnknown            DocumentType = "unknown"
)

// ConfidenceBucket is the high/low/missing classification (GLOSSARY: Bucket).
type ConfidenceBucket string

const (
	BucketHigh    ConfidenceBucket = "high"
	BucketLow     ConfidenceBucket = "low"
	BucketMissing ConfidenceBucket = "missing"
)

// HighConfidenceThreshold and LowConfidenceThreshold are the spec §4.3
// bucketing cut points.
const (
	HighConfidenceThreshold = 0.90
	LowConfidenceThreshold  = 0.80
)

// BucketFor classifies a confidence score per spec §4.3 step 4.
func BucketFor(confidence float64, present bool) ConfidenceBucket {
	if !present {
		return BucketMissing
	}
	switch {
	case confidence >= HighConfidenceThreshold:
		return BucketHigh
	case confidence >= LowConfidenceThreshold:
		return BucketLow
	default:
		return BucketMissing
	}
}

// ExtractedDocument is DOC's output: a type-specific structured record
// with per-field confidence and bucket membership.
type ExtractedDocument struct {
	DocumentID          string                 `json:"document_id"`
	SourceFilename       string                 `json:"source_filename"`
	DocumentType         DocumentType           `json:"document_type"`
	ExtractedAt          time.Time              `json:"extracted_at"`
	StructuredFields      map[string]interface{} `json:"structured_fields"`
	FieldConfidences      map[string]float64     `json:"field_confidences"`
	HighConfidenceFields  []string               `json:"high_confidence_fields"`
	LowConfidenceFields   []string               `json:"low_confidence_fields"`
	MissingFields         []string               `json:"missing_fields"`
	RawTextHash           string                 `json:"raw_text_hash"`
}

// PolicyDocumentChunk is a unit of the indexed policy-wording corpus used
// by RAG.
type PolicyDocumentChunk struct {
	ChunkID         string    `json:"chunk_id"`
	ProductCode     string    `json:"product_code"`
	SectionID       string    `json:"section_id"`
	Heading         string    `json:"heading"`
	Text            string    `json:"text"`
	CitationLocator string    `json:"citation_locator"`
	EmbeddingVector []float32 `json:"-"`
	// ChunkOrder is the position within its document, used as the RAG
	// search tie-break after heading ordering (spec §4.7 Search).
	ChunkOrder int `json:"chunk_order"`
}

// VoiceTranscript is VOX's append-only record of a speech round trip.
type VoiceTranscript struct {
	SessionID          string    `json:"session_id"`
	UserAudioTranscript string    `json:"user_audio_transcript"`
	AIResponseText      string    `json:"ai_response_text"`
	DurationSeconds     float64   `json:"duration_seconds"`
	CreatedAt           time.Time `json:"created_at"`
}

// SessionState is the mapping of SessionState slots described in spec §3.
type SessionState struct {
	Intent               Intent        `json:"intent"`
	Trip                 Trip          `json:"trip"`
	Travelers            Travelers     `json:"travelers"`
	Preferences          Preferences   `json:"preferences"`
	Quote                *Quote        `json:"quote,omitempty"`
	SelectedTier         Tier          `json:"selected_tier,omitempty"`
	Checkout             *Checkout     `json:"checkout,omitempty"`
	DocumentData         []ExtractedDocument `json:"document_data,omitempty"`
	AwaitingConfirmation bool          `json:"awaiting_confirmation"`

	// FieldProvenance tracks, per slot path, the confidence of the value
	// currently occupying it, so later merges can apply the "exceeds the
	// stored provenance confidence" rule from spec §4.1.
	FieldProvenance map[string]float64 `json:"field_provenance,omitempty"`

	// PendingSlotPatches and PendingSlotConfidences hold a just-uploaded
	// document's low-confidence/missing field proposals while the session
	// sits in DOC_REVIEW, keyed by slot path, so a later "confirm"/"reject"/
	// "edit" turn knows what to act on (spec §4.1 DOC_REVIEW transition).
	PendingSlotPatches      map[string]interface{} `json:"pending_slot_patches,omitempty"`
	PendingSlotConfidences  map[string]float64     `json:"pending_slot_confidences,omitempty"`

	// Status is the derived state-machine position, persisted to avoid
	// recomputing it ambiguously across ERROR_RECOVERY transitions.
	Status SessionStatus `json:"status"`

	// HandoffReason is set when the session is routed to a human.
	HandoffReason string `json:"handoff_reason,omitempty"`

	// RetryCount tracks ERROR_RECOVERY attempts for the operation that
	// failed, bounded by the component's own retry budget (spec §4.1/§5).
	RetryCount int `json:"retry_count,omitempty"`
}

// RequiredSlotsComplete reports whether every slot spec §4.1 requires for
// quoting is present.
func (s *SessionState) RequiredSlotsComplete() bool {
	if len(s.Trip.Destinations) == 0 {
		return false
	}
	if s.Trip.DepartureDate == "" || s.Trip.ReturnDate == "" {
		return false
	}
	if s.Travelers.Count <= 0 || len(s.Travelers.Ages) != s.Travelers.Count {
		return false
	}
	if !s.Preferences.AdventureSportsSet {
		return false
	}
	return true
}

// Session is the stable, append-only conversation record owned
// exclusively by ORCH (spec §3 Ownership summary).
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []Message     `json:"messages"`
	State     SessionState  `json:"state"`
	Terminal  bool          `json:"terminal"`
}
