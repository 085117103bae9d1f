// Package orchestrator implements ORCH: the per-session state machine that
// routes intent, fills slots, merges document-extracted facts, and drives
// the pricing -> checkout -> bind flow with partial-failure recovery, per
// spec §4.1.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/rag"
	"github.com/globetrotter-labs/travel-assistant/internal/session"
	"github.com/globetrotter-labs/travel-assistant/internal/slotfill"
	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
	"github.com/itsneelabh/gomind/core"
)

// TurnDeadline is the hard wall-clock budget for one handleTurn call (spec
// §4.1/§9's resolved 30s Open Question).
const TurnDeadline = 30 * time.Second

// ContextWindow mirrors slotfill.ContextWindow for the intent classifier's
// bounded message window (spec §4.1 "recommended N=6").
const ContextWindow = slotfill.ContextWindow

// intentConfidenceFloor is the "treat as unknown" cutoff (spec §4.1).
const intentConfidenceFloor = 0.5

// SlotExtractor is the subset of slotfill.Extractor ORCH depends on.
type SlotExtractor interface {
	Extract(ctx context.Context, messages []domain.Message, state domain.SessionState) slotfill.Result
}

// DocProcessor is the subset of docpipeline.Service ORCH depends on.
type DocProcessor interface {
	Process(ctx context.Context, sourceFilename string, blob []byte) (*domain.ExtractedDocument, error)
}

// Pricer is the subset of pricing.Service ORCH depends on.
type Pricer interface {
	Quote(ctx context.Context, trip domain.Trip, travelers domain.Travelers, prefs domain.Preferences) (*domain.Quote, error)
}

// Checkout is the subset of purchase.Coordinator ORCH depends on.
type Checkout interface {
	StartCheckout(ctx context.Context, sessionID string, tier domain.Tier) (domain.Checkout, error)
	PollPayment(ctx context.Context, sessionID string) (domain.CheckoutStatus, error)
}

// PolicySearcher is the subset of rag.Service ORCH depends on.
type PolicySearcher interface {
	Search(ctx context.Context, query string, productCode string, k int) ([]rag.SearchResult, error)
}

// BlobFetcher resolves an attachment_ref into its raw bytes. Blob storage
// itself is an external collaborator (spec §1 Out of scope); ORCH only
// needs to read one back to hand to DOC.
type BlobFetcher interface {
	Fetch(ctx context.Context, attachmentRef string) ([]byte, string, error)
}

// Coordinator implements ORCH.handleTurn.
type Coordinator struct {
	sessions *session.Store
	slots    SlotExtractor
	docs     DocProcessor
	pricer   Pricer
	checkout Checkout
	policies PolicySearcher
	blobs    BlobFetcher
	ai       core.AIClient
	logger   core.Logger
	now      func() time.Time
	retryMax int
}

// NewCoordinator builds an ORCH Coordinator.
func NewCoordinator(sessions *session.Store, slots SlotExtractor, docs DocProcessor, pricer Pricer, checkout Checkout, policies PolicySearcher, blobs BlobFetcher, ai core.AIClient, logger core.Logger) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		slots:    slots,
		docs:     docs,
		pricer:   pricer,
		checkout: checkout,
		policies: policies,
		blobs:    blobs,
		ai:       ai,
		logger:   logger,
		now:      time.Now,
		retryMax: 3,
	}
}

// Result is handleTurn's return value.
type Result struct {
	AssistantText string
	State         domain.SessionState
	Quote         *domain.Quote
}

// HandleTurn implements ORCH.handleTurn(session_id, user_input, attachment_ref)
// -> {assistant_text, updated_state_snapshot, optional quote_snapshot}.
func (c *Coordinator) HandleTurn(ctx context.Context, sessionID string, userInput string, attachmentRef string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, TurnDeadline)
	defer cancel()

	sess, err := c.getOrCreate(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	lock := c.sessions.Lock(sess.ID)
	lock.Lock()

	// Reload under lock: getOrCreate's own read may now be stale if another
	// turn raced it.
	sess, err = c.sessions.Get(ctx, sess.ID)
	if err != nil {
		lock.Unlock()
		return Result{}, err
	}

	if userInput != "" || attachmentRef != "" {
		if err := c.sessions.AppendMessage(ctx, sess, domain.Message{Role: domain.RoleUser, Content: userInput, AttachmentRef: attachmentRef}); err != nil {
			lock.Unlock()
			return Result{}, err
		}
	}

	if sess.State.Status == "" {
		sess.State.Status = domain.StatusGreeting
	}

	var (
		assistantText string
		selectedTier  domain.Tier
		wantsCheckout bool
	)

	switch {
	case attachmentRef != "":
		assistantText = c.handleUpload(ctx, sess, attachmentRef)
	case sess.State.Status == domain.StatusDocReview:
		assistantText = c.handleDocReview(ctx, sess, userInput)
	default:
		assistantText, selectedTier, wantsCheckout = c.route(ctx, sess, userInput)
	}

	// When this turn resolves to a tier selection, the checkout reply is
	// only known once PUR.StartCheckout returns below, so the assistant
	// message recorded for this turn is deferred until then instead of
	// recording "Great choice." and the checkout reply as two messages.
	if !wantsCheckout {
		if err := c.sessions.AppendMessage(ctx, sess, domain.Message{Role: domain.RoleAssistant, Content: assistantText}); err != nil {
			lock.Unlock()
			return Result{}, err
		}
	}

	snapshot := sess.State
	lock.Unlock()

	// Checkout is owned exclusively by PUR (spec §3 Ownership summary), so
	// it is called after releasing ORCH's own per-session lock — PUR
	// re-acquires the same lock internally and would deadlock otherwise.
	// The assistant reply is then appended to a session reloaded under the
	// lock, so the checkout state PUR saved is kept.
	if wantsCheckout {
		checkoutResult, err := c.checkout.StartCheckout(ctx, sess.ID, selectedTier)
		if err != nil {
			assistantText = "I couldn't start checkout for that tier: " + userFacingError(err)
		} else {
			assistantText = fmt.Sprintf("%s Here's your checkout link: %s", assistantText, checkoutResult.RedirectURL)
		}
		lock.Lock()
		latest, err := c.sessions.Get(ctx, sess.ID)
		if err != nil {
			lock.Unlock()
			return Result{}, err
		}
		err = c.sessions.AppendMessage(ctx, latest, domain.Message{Role: domain.RoleAssistant, Content: assistantText})
		lock.Unlock()
		if err != nil {
			return Result{}, err
		}
		snapshot = latest.State
	}

	return Result{AssistantText: assistantText, State: snapshot, Quote: snapshot.Quote}, nil
}

// OpenSession starts a fresh Session in GREETING without processing a
// turn, for the dedicated "open a chat" endpoint (spec §6).
func (c *Coordinator) OpenSession(ctx context.Context) (*domain.Session, error) {
	return c.sessions.Create(ctx, "")
}

// GetSession returns the current snapshot of an existing Session.
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return c.sessions.Get(ctx, sessionID)
}

func (c *Coordinator) getOrCreate(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID != "" {
		sess, err := c.sessions.Get(ctx, sessionID)
		if err == nil {
			return sess, nil
		}
		if !travelerrors.Is(err, travelerrors.KindInvalidInput) {
			return nil, err
		}
	}
	return c.sessions.Create(ctx, sessionID)
}

// handleUpload implements the DOC_REVIEW entry: a document uploaded this
// turn is processed, its high-confidence fields are merged immediately,
// and its low-confidence/missing fields are held for the user to
// confirm/reject/edit next turn.
func (c *Coordinator) handleUpload(ctx context.Context, sess *domain.Session, attachmentRef string) string {
	if c.blobs == nil {
		sess.State.Status = domain.StatusErrorRecovery
		return "I wasn't able to read that attachment right now. Could you try again?"
	}

	blob, filename, err := c.blobs.Fetch(ctx, attachmentRef)
	if err != nil {
		sess.State.Status = domain.StatusErrorRecovery
		return "I couldn't retrieve that file. Could you re-upload it?"
	}

	doc, err := c.docs.Process(ctx, filename, blob)
	if err != nil {
		sess.State.Status = domain.StatusErrorRecovery
		return "I had trouble reading that document. Could you upload a clearer copy?"
	}
	doc.DocumentID = fmt.Sprintf("doc-%d", len(sess.State.DocumentData)+1)
	doc.ExtractedAt = c.now()
	sess.State.DocumentData = append(sess.State.DocumentData, *doc)

	if doc.DocumentType == domain.DocUnknown {
		sess.State.Status = domain.StatusSlotFill
		return "I couldn't recognize that document type. Could you tell me about your trip instead?"
	}

	patches := docFieldsToPatches(doc)

	var toMergeNow, toHold []slotfill.Patch
	for _, p := range patches {
		// A patch's confidence is copied straight from the source document
		// field's confidence, so the spec §4.3 high/low bucket boundary
		// (>=0.90) applies to it directly without re-deriving which field
		// it came from.
		if p.Confidence >= domain.HighConfidenceThreshold {
			toMergeNow = append(toMergeNow, p)
		} else {
			toHold = append(toHold, p)
		}
	}
	mergePatches(&sess.State, toMergeNow)

	if autoPatch, ok := adventureSportsAutoPatch(doc); ok {
		// Applied directly rather than through mergePatches: the rule sets
		// the slot whatever confidence is already on file.
		applyPatch(&sess.State, autoPatch)
		sess.State.FieldProvenance[autoPatch.SlotPath] = autoPatch.Confidence
	}

	if len(toHold) == 0 {
		sess.State.Status = domain.StatusSlotFill
		return fmt.Sprintf("Got it, I've read your %s and filled in what I found. Anything else to add?", doc.DocumentType)
	}

	sess.State.PendingSlotPatches = map[string]interface{}{}
	sess.State.PendingSlotConfidences = map[string]float64{}
	for _, p := range toHold {
		sess.State.PendingSlotPatches[p.SlotPath] = p.Value
		sess.State.PendingSlotConfidences[p.SlotPath] = p.Confidence
	}
	sess.State.Status = domain.StatusDocReview
	sess.State.AwaitingConfirmation = true

	return fmt.Sprintf("I found some details in your %s I'm not fully sure about. Reply \"confirm\" to use them as-is, \"reject\" to ignore them, or correct me directly.", doc.DocumentType)
}

// handleDocReview implements DOC_REVIEW's confirm/reject/edit exits.
func (c *Coordinator) handleDocReview(ctx context.Context, sess *domain.Session, userInput string) string {
	lowered := strings.ToLower(strings.TrimSpace(userInput))

	switch {
	case strings.Contains(lowered, "confirm") || lowered == "yes":
		var patches []slotfill.Patch
		for path, value := range sess.State.PendingSlotPatches {
			patches = append(patches, slotfill.Patch{SlotPath: path, Value: value, Confidence: sess.State.PendingSlotConfidences[path]})
		}
		mergePatches(&sess.State, patches)
		c.clearPending(sess)
		sess.State.Status = domain.StatusSlotFill
		return "Thanks, I've added those details."
	case strings.Contains(lowered, "reject") || lowered == "no":
		c.clearPending(sess)
		sess.State.Status = domain.StatusSlotFill
		return "No problem, I've ignored those details. What else can you tell me?"
	default:
		result := c.slots.Extract(ctx, sess.Messages, sess.State)
		mergePatches(&sess.State, result.Patches)
		c.clearPending(sess)
		sess.State.Status = domain.StatusSlotFill
		return "Thanks, I've updated your details with your correction."
	}
}

func (c *Coordinator) clearPending(sess *domain.Session) {
	sess.State.PendingSlotPatches = nil
	sess.State.PendingSlotConfidences = nil
	sess.State.AwaitingConfirmation = false
}

// route handles every turn that isn't an upload or a pending DOC_REVIEW
// confirmation: it classifies intent and drives the corresponding branch
// of the state table.
func (c *Coordinator) route(ctx context.Context, sess *domain.Session, userInput string) (text string, tier domain.Tier, wantsCheckout bool) {
	priorStatus := sess.State.Status

	// A tier-offered session waiting on the user's choice is resolved
	// directly from the reply, without re-running slot-fill/quoting — spec
	// §4.1's "user selects tier -> CHECKOUT_INIT" transition, not a new
	// `quote` intent turn.
	if priorStatus == domain.StatusTierOffered && sess.State.Quote != nil {
		if tierName, ok := detectTierSelection(userInput); ok {
			if _, present := sess.State.Quote.Tiers[tierName]; present {
				return "Great choice.", tierName, true
			}
		}
	}

	sess.State.Status = domain.StatusIntentRouting

	intent, confidence, err := c.classifyIntent(ctx, sess.Messages)
	if err != nil || confidence < intentConfidenceFloor {
		sess.State.Intent = domain.IntentUnknown
		sess.State.Status = priorStatus
		return "Could you tell me a bit more about what you're looking for — a quote, a question about coverage, or something else?", "", false
	}

	var clarifier string
	if forced, ok := forcedIntentForStatus(priorStatus); ok && forced != intent {
		clarifier = fmt.Sprintf(" (did you mean to ask about %s instead?)", intent)
		intent = forced
	}
	sess.State.Intent = intent

	switch intent {
	case domain.IntentQuote:
		text = c.handleQuoteFlow(ctx, sess, userInput)
	case domain.IntentPolicyQA:
		text = c.handlePolicyQA(ctx, sess, userInput)
		sess.State.Status = priorStatus
	case domain.IntentClaimQA:
		text = c.handleClaimQA(sess)
		sess.State.Status = priorStatus
	case domain.IntentHumanHandoff:
		sess.State.HandoffReason = "user requested human assistance"
		text = "I'll connect you with a member of our team who can help further."
		sess.State.Status = priorStatus
	case domain.IntentSmalltalk:
		text = "Happy to chat! Let me know whenever you'd like a travel insurance quote."
		sess.State.Status = priorStatus
	default:
		sess.State.Intent = domain.IntentUnknown
		text = "I'm not sure I understood that. Could you rephrase?"
		sess.State.Status = priorStatus
	}

	return text + clarifier, "", false
}

// handleQuoteFlow drives SLOT_FILL -> QUOTING -> TIER_OFFERED.
func (c *Coordinator) handleQuoteFlow(ctx context.Context, sess *domain.Session, userInput string) string {
	sess.State.Status = domain.StatusSlotFill

	result := c.slots.Extract(ctx, sess.Messages, sess.State)
	mergePatches(&sess.State, result.Patches)

	if !sess.State.RequiredSlotsComplete() {
		return missingSlotsPrompt(sess.State)
	}

	sess.State.Status = domain.StatusQuoting
	quote, err := c.pricer.Quote(ctx, sess.State.Trip, sess.State.Travelers, sess.State.Preferences)
	if err != nil {
		// Insurer pricing failure after retries: apology + retry/handoff
		// offer, state is not mutated with a half-formed quote (spec §4.1
		// Failure semantics).
		sess.State.Status = domain.StatusSlotFill
		return "I couldn't get a quote right now. Would you like me to try again, or connect you with a person?"
	}

	sess.State.Quote = quote
	sess.State.Status = domain.StatusTierOffered
	return formatTierOffer(quote)
}

func (c *Coordinator) handlePolicyQA(ctx context.Context, sess *domain.Session, userInput string) string {
	if c.policies == nil {
		return "I don't have the policy wording available right now."
	}
	productCode := ""
	if sess.State.Quote != nil {
		productCode = sess.State.Quote.InsurerReference.ProductCode
	}
	results, err := c.policies.Search(ctx, userInput, productCode, 3)
	if err != nil || len(results) == 0 {
		return "I couldn't find anything on that in the policy wording. Want me to connect you with a person?"
	}

	var sb strings.Builder
	sb.WriteString(results[0].Text)
	fmt.Fprintf(&sb, " (source: %s)", results[0].CitationLocator)
	return sb.String()
}

func (c *Coordinator) handleClaimQA(sess *domain.Session) string {
	missing := missingDocumentChecklist(sess.State.DocumentData)
	if len(missing) == 0 {
		return "Based on what you've uploaded, you have the documents typically needed for a claim. I can't adjudicate the claim itself, but I can connect you with a person."
	}
	return "For a claim, you'll typically also need: " + strings.Join(missing, ", ") + ". I can't adjudicate claims myself, but once you have those I can pass you to a person."
}

// classifyIntent implements the LLM-assisted intent classifier (spec
// §4.1 "Intent classification").
func (c *Coordinator) classifyIntent(ctx context.Context, messages []domain.Message) (domain.Intent, float64, error) {
	if c.ai == nil {
		return domain.IntentUnknown, 0, travelerrors.Newf("ORCH.classifyIntent", travelerrors.KindInvalidInput, "no AI client configured")
	}

	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
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
	sb.WriteString("\nClassify the user's most recent intent as exactly one of: quote, policy_qa, claim_qa, human_handoff, smalltalk, unknown. ")
	sb.WriteString("Respond as JSON: {\"intent\":\"...\",\"confidence\":0.0-1.0}.")

	resp, err := c.ai.GenerateResponse(ctx, sb.String(), &core.AIOptions{
		SystemPrompt: "You classify travel-insurance chat intents. Respond with strict JSON only, no prose.",
		Temperature:  0,
	})
	if err != nil {
		return domain.IntentUnknown, 0, travelerrors.New("ORCH.classifyIntent", travelerrors.KindDownstreamUnavailable, err)
	}

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return domain.IntentUnknown, 0, travelerrors.New("ORCH.classifyIntent", travelerrors.KindIntegrityViolation, err)
	}

	return domain.Intent(out.Intent), out.Confidence, nil
}

// forcedIntentForStatus implements the "current state constrains the
// intent" half of spec §4.1's classification policy: while the session is
// in any quote-flow state from SLOT_FILL through BINDING, every turn is
// routed as `quote` regardless of what the classifier says.
func forcedIntentForStatus(status domain.SessionStatus) (domain.Intent, bool) {
	switch status {
	case domain.StatusSlotFill, domain.StatusQuoting, domain.StatusTierOffered,
		domain.StatusCheckoutInit, domain.StatusAwaitingPay, domain.StatusBinding:
		return domain.IntentQuote, true
	default:
		return "", false
	}
}

// detectTierSelection looks for an explicit tier name in free text.
func detectTierSelection(userInput string) (domain.Tier, bool) {
	lowered := strings.ToLower(userInput)
	for _, tier := range []domain.Tier{domain.TierStandard, domain.TierElite, domain.TierPremier} {
		if strings.Contains(lowered, string(tier)) {
			return tier, true
		}
	}
	return "", false
}

// missingSlotsPrompt batches every still-missing required slot into one
// natural-language ask, avoiding an interrogation (spec §4.1 "batched to
// avoid interrogation").
func missingSlotsPrompt(state domain.SessionState) string {
	var missing []string
	if len(state.Trip.Destinations) == 0 {
		missing = append(missing, "where you're traveling to")
	}
	if state.Trip.DepartureDate == "" || state.Trip.ReturnDate == "" {
		missing = append(missing, "your departure and return dates")
	}
	if state.Travelers.Count <= 0 || len(state.Travelers.Ages) != state.Travelers.Count {
		missing = append(missing, "the number of travelers and their ages")
	}
	if !state.Preferences.AdventureSportsSet {
		missing = append(missing, "whether your trip includes any adventure sports")
	}
	if len(missing) == 0 {
		return "Let me pull that quote together for you."
	}
	return "To get you a quote, could you tell me " + strings.Join(missing, ", and ") + "?"
}

func formatTierOffer(quote *domain.Quote) string {
	var sb strings.Builder
	sb.WriteString("Here's what I found:\n")
	for _, tier := range []domain.Tier{domain.TierStandard, domain.TierElite, domain.TierPremier} {
		offer, ok := quote.Tiers[tier]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %.2f %s\n", tier, offer.Price, offer.Currency)
	}
	fmt.Fprintf(&sb, "I'd recommend %s. Which would you like?", quote.RecommendedTier)
	return sb.String()
}

func userFacingError(err error) string {
	if kind, ok := travelerrors.KindOf(err); ok {
		return string(kind)
	}
	return "an unexpected error"
}

// extractJSON strips a leading/trailing markdown code fence, duplicated
// from slotfill/docpipeline's identical helper to keep each package
// independently testable without a shared internal utility package.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
