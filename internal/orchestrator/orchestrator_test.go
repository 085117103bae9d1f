package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/rag"
	"github.com/globetrotter-labs/travel-assistant/internal/session"
	"github.com/globetrotter-labs/travel-assistant/internal/slotfill"
	"github.com/itsneelabh/gomind/core"
)

// --- fakes for the narrowed dependency interfaces ---

type fakeSlots struct {
	patches []slotfill.Patch
}

func (f *fakeSlots) Extract(ctx context.Context, messages []domain.Message, state domain.SessionState) slotfill.Result {
	return slotfill.Result{Patches: f.patches}
}

type fakeDocs struct {
	doc *domain.ExtractedDocument
	err error
}

func (f *fakeDocs) Process(ctx context.Context, sourceFilename string, blob []byte) (*domain.ExtractedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	docCopy := *f.doc
	return &docCopy, nil
}

type fakePricer struct {
	quote *domain.Quote
	err   error
	calls int
}

func (f *fakePricer) Quote(ctx context.Context, trip domain.Trip, travelers domain.Travelers, prefs domain.Preferences) (*domain.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	q := *f.quote
	return &q, nil
}

type fakeCheckout struct {
	result domain.Checkout
	err    error
	calls  int
}

func (f *fakeCheckout) StartCheckout(ctx context.Context, sessionID string, tier domain.Tier) (domain.Checkout, error) {
	f.calls++
	if f.err != nil {
		return domain.Checkout{}, f.err
	}
	return f.result, nil
}

func (f *fakeCheckout) PollPayment(ctx context.Context, sessionID string) (domain.CheckoutStatus, error) {
	return f.result.Status, nil
}

type fakePolicies struct {
	results []rag.SearchResult
	err     error
}

func (f *fakePolicies) Search(ctx context.Context, query string, productCode string, k int) ([]rag.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeBlobs struct {
	data     []byte
	filename string
	err      error
}

func (f *fakeBlobs) Fetch(ctx context.Context, attachmentRef string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.filename, nil
}

type fakeAI struct {
	content string
	err     error
}

func (f *fakeAI) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &core.AIResponse{Content: f.content}, nil
}

// --- test harness ---

type harness struct {
	coord    *Coordinator
	sessions *session.Store
	slots    *fakeSlots
	docs     *fakeDocs
	pricer   *fakePricer
	checkout *fakeCheckout
	policies *fakePolicies
	blobs    *fakeBlobs
	ai       *fakeAI
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	sessions, err := session.NewStore("redis://"+mr.Addr(), time.Hour, 50, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	h := &harness{
		sessions: sessions,
		slots:    &fakeSlots{},
		docs:     &fakeDocs{},
		pricer:   &fakePricer{},
		checkout: &fakeCheckout{},
		policies: &fakePolicies{},
		blobs:    &fakeBlobs{},
		ai:       &fakeAI{},
	}
	h.coord = NewCoordinator(sessions, h.slots, h.docs, h.pricer, h.checkout, h.policies, h.blobs, h.ai, nil)
	return h
}

func completeTrip() domain.Trip {
	return domain.Trip{Destinations: []string{"Japan"}, DepartureDate: "2026-09-01", ReturnDate: "2026-09-10", TripType: domain.TripReturn}
}

func sampleQuote() *domain.Quote {
	return &domain.Quote{
		Fingerprint:      "fp-1",
		InsurerReference: domain.InsurerReference{QuoteID: "q-1", OfferID: "o-1", ProductCode: "TRV-STD", UnitPrice: 40, Currency: "SGD"},
		Tiers: map[domain.Tier]domain.TierOffer{
			domain.TierStandard: {Price: 40, Currency: "SGD"},
			domain.TierElite:    {Price: 60, Currency: "SGD"},
			domain.TierPremier:  {Price: 90, Currency: "SGD"},
		},
		RecommendedTier: domain.TierElite,
		IssuedAt:        time.Now(),
		ExpiresAt:       time.Now().Add(24 * time.Hour),
	}
}

// --- tests ---

func TestHandleTurnCreatesNewSessionInGreeting(t *testing.T) {
	h := newHarness(t)
	h.ai.content = `{"intent":"smalltalk","confidence":0.9}`

	result, err := h.coord.HandleTurn(context.Background(), "", "hi there", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.AssistantText)
	assert.Equal(t, domain.StatusGreeting, result.State.Status)
}

func TestHandleQuoteFlowAsksForMissingSlotsThenQuotes(t *testing.T) {
	h := newHarness(t)
	h.ai.content = `{"intent":"quote","confidence":0.95}`

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "I want a quote for my trip", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSlotFill, result.State.Status)
	assert.Contains(t, result.AssistantText, "To get you a quote")

	h.slots.patches = []slotfill.Patch{
		{SlotPath: "trip.destinations", Value: []string{"Japan"}, Confidence: 0.95},
		{SlotPath: "trip.departure_date", Value: "2026-09-01", Confidence: 0.95},
		{SlotPath: "trip.return_date", Value: "2026-09-10", Confidence: 0.95},
		{SlotPath: "travelers.count", Value: 1, Confidence: 0.95},
		{SlotPath: "travelers.ages", Value: []int{30}, Confidence: 0.95},
		{SlotPath: "preferences.adventure_sports", Value: false, Confidence: 0.95},
	}
	h.pricer.quote = sampleQuote()

	result, err = h.coord.HandleTurn(context.Background(), sess.ID, "Japan, Sep 1-10, 1 traveler age 30, no adventure sports", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTierOffered, result.State.Status)
	require.NotNil(t, result.Quote)
	assert.Equal(t, 1, h.pricer.calls)
	assert.Contains(t, result.AssistantText, "standard")
}

func TestTierSelectionStartsCheckout(t *testing.T) {
	h := newHarness(t)

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)
	sess.State.Status = domain.StatusTierOffered
	sess.State.Quote = sampleQuote()
	require.NoError(t, h.sessions.Save(context.Background(), sess))

	h.checkout.result = domain.Checkout{PaymentRef: "pay-1", RedirectURL: "https://pay.example/1", Status: domain.CheckoutInitiated}

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "I'll take the elite tier", "")
	require.NoError(t, err)
	assert.Equal(t, 1, h.checkout.calls)
	assert.Contains(t, result.AssistantText, "https://pay.example/1")
}

func TestTierSelectionCheckoutFailureSurfacesError(t *testing.T) {
	h := newHarness(t)

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)
	sess.State.Status = domain.StatusTierOffered
	sess.State.Quote = sampleQuote()
	require.NoError(t, h.sessions.Save(context.Background(), sess))

	h.checkout.err = fmt.Errorf("boom")

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "elite please", "")
	require.NoError(t, err)
	assert.Contains(t, result.AssistantText, "couldn't start checkout")
}

func TestPricingFailureDoesNotMutateQuote(t *testing.T) {
	h := newHarness(t)
	h.ai.content = `{"intent":"quote","confidence":0.95}`

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)
	sess.State.Trip = completeTrip()
	sess.State.Travelers = domain.Travelers{Count: 1, Ages: []int{30}}
	sess.State.Preferences = domain.Preferences{AdventureSportsSet: true}
	require.NoError(t, h.sessions.Save(context.Background(), sess))

	h.pricer.err = fmt.Errorf("insurer unavailable")

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "give me a quote", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSlotFill, result.State.Status)
	assert.Nil(t, result.State.Quote)
	assert.Contains(t, result.AssistantText, "couldn't get a quote")
}

func TestHandleUploadMergesHighConfidencePatchesImmediately(t *testing.T) {
	h := newHarness(t)

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	h.blobs.data = []byte("pdf-bytes")
	h.blobs.filename = "flight.pdf"
	h.docs.doc = &domain.ExtractedDocument{
		DocumentType: domain.DocFlightConfirmation,
		StructuredFields: map[string]interface{}{
			"destination": map[string]interface{}{"country": "Japan"},
			"departure":   map[string]interface{}{"date": "2026-09-01"},
			"return":      map[string]interface{}{"date": "2026-09-10"},
		},
		FieldConfidences: map[string]float64{
			"destination": 0.97,
			"departure":   0.96,
			"return":      0.95,
		},
	}

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "", "att-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSlotFill, result.State.Status)
	assert.Equal(t, []string{"Japan"}, result.State.Trip.Destinations)
	assert.Equal(t, "2026-09-01", result.State.Trip.DepartureDate)
	assert.Equal(t, "2026-09-10", result.State.Trip.ReturnDate)
	assert.Len(t, result.State.DocumentData, 1)
}

func TestHandleUploadHoldsLowConfidencePatchesForReview(t *testing.T) {
	h := newHarness(t)

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	h.blobs.data = []byte("pdf-bytes")
	h.blobs.filename = "flight.pdf"
	h.docs.doc = &domain.ExtractedDocument{
		DocumentType: domain.DocFlightConfirmation,
		StructuredFields: map[string]interface{}{
			"destination": map[string]interface{}{"country": "Japan"},
		},
		FieldConfidences: map[string]float64{
			"destination": 0.83,
		},
	}

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "", "att-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDocReview, result.State.Status)
	assert.True(t, result.State.AwaitingConfirmation)
	assert.Empty(t, result.State.Trip.Destinations, "low-confidence patch must not be merged yet")
	assert.Contains(t, result.State.PendingSlotPatches, "trip.destinations")

	result, err = h.coord.HandleTurn(context.Background(), sess.ID, "confirm", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSlotFill, result.State.Status)
	assert.Equal(t, []string{"Japan"}, result.State.Trip.Destinations)
	assert.False(t, result.State.AwaitingConfirmation)
}

func TestHandleUploadReviewRejectDiscardsPendingPatches(t *testing.T) {
	h := newHarness(t)

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	h.blobs.data = []byte("pdf-bytes")
	h.blobs.filename = "flight.pdf"
	h.docs.doc = &domain.ExtractedDocument{
		DocumentType: domain.DocFlightConfirmation,
		StructuredFields: map[string]interface{}{
			"destination": map[string]interface{}{"country": "Japan"},
		},
		FieldConfidences: map[string]float64{"destination": 0.81},
	}

	_, err = h.coord.HandleTurn(context.Background(), sess.ID, "", "att-1")
	require.NoError(t, err)

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "reject", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSlotFill, result.State.Status)
	assert.Empty(t, result.State.Trip.Destinations)
	assert.Nil(t, result.State.PendingSlotPatches)
}

func TestAdventureSportsAutoRuleFiresFromItinerary(t *testing.T) {
	h := newHarness(t)

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	h.blobs.data = []byte("pdf-bytes")
	h.blobs.filename = "itinerary.pdf"
	h.docs.doc = &domain.ExtractedDocument{
		DocumentType: domain.DocItinerary,
		StructuredFields: map[string]interface{}{
			"destinations":         []interface{}{map[string]interface{}{"country": "New Zealand"}},
			"has_adventure_sports": true,
		},
		FieldConfidences: map[string]float64{
			"destinations":         0.6,
			"has_adventure_sports": 0.85,
		},
	}

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "", "att-1")
	require.NoError(t, err)
	assert.True(t, result.State.Preferences.AdventureSports)
	assert.True(t, result.State.Preferences.AdventureSportsSet)
}

func TestIntentClassificationBelowFloorAsksClarifyingQuestion(t *testing.T) {
	h := newHarness(t)
	h.ai.content = `{"intent":"quote","confidence":0.2}`

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "ummmm", "")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentUnknown, result.State.Intent)
	assert.Contains(t, result.AssistantText, "Could you tell me")
}

func TestForcedIntentDuringSlotFillIgnoresOffTopicClassification(t *testing.T) {
	h := newHarness(t)
	h.ai.content = `{"intent":"smalltalk","confidence":0.9}`

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)
	sess.State.Status = domain.StatusSlotFill
	require.NoError(t, h.sessions.Save(context.Background(), sess))

	h.slots.patches = nil

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "just chatting", "")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentQuote, result.State.Intent)
	assert.Contains(t, result.AssistantText, "did you mean to ask about")
}

func TestPolicyQARoutesToRAGAndReturnsCitation(t *testing.T) {
	h := newHarness(t)
	h.ai.content = `{"intent":"policy_qa","confidence":0.9}`
	h.policies.results = []rag.SearchResult{{Text: "Baggage delay is covered after 6 hours.", CitationLocator: "TRV-STD §4.2"}}

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "does this cover baggage delay?", "")
	require.NoError(t, err)
	assert.Contains(t, result.AssistantText, "Baggage delay is covered")
	assert.Contains(t, result.AssistantText, "TRV-STD §4.2")
	assert.Equal(t, domain.StatusGreeting, result.State.Status, "non-quote intents must not leave status stuck at INTENT_ROUTING")
}

func TestClaimQAListsMissingDocumentChecklist(t *testing.T) {
	h := newHarness(t)
	h.ai.content = `{"intent":"claim_qa","confidence":0.9}`

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "I need to file a claim", "")
	require.NoError(t, err)
	assert.Contains(t, result.AssistantText, "flight_confirmation")
	assert.Contains(t, result.AssistantText, "itinerary")
}

func TestHumanHandoffSetsReason(t *testing.T) {
	h := newHarness(t)
	h.ai.content = `{"intent":"human_handoff","confidence":0.9}`

	sess, err := h.sessions.Create(context.Background(), "")
	require.NoError(t, err)

	result, err := h.coord.HandleTurn(context.Background(), sess.ID, "let me talk to a person", "")
	require.NoError(t, err)
	assert.Equal(t, "user requested human assistance", result.State.HandoffReason)
}
