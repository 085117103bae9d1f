// Package purchase implements PUR: checkout initiation, asynchronous
// payment-event handling, and the bind step that produces a Policy, per
// spec §4.6.
package purchase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/insurer"
	"github.com/globetrotter-labs/travel-assistant/internal/session"
	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
	"github.com/itsneelabh/gomind/core"
)

// bindRetryBase, bindRetryFactor and bindMaxAttempts set retryBind's
// exponential backoff: up to 3 attempts, starting at 1s and doubling.
var bindRetryBase = 1 * time.Second
var bindRetryFactor = 2.0
var bindMaxAttempts = 3

// awaitingPaymentTimeout is the AWAITING_PAYMENT → TIER_OFFERED timeout
// edge from spec §4.1's state table.
const awaitingPaymentTimeout = 15 * time.Minute

// PaymentEvent is an asynchronous payment confirmation, cancellation, or
// failure notification (PUR.onPaymentEvent's input).
type PaymentEvent struct {
	PaymentRef string
	SessionID  string
	Outcome    PaymentOutcome
}

// PaymentOutcome enumerates the three kinds of payment event.
type PaymentOutcome string

const (
	PaymentConfirmed PaymentOutcome = "confirmed"
	PaymentCanceled  PaymentOutcome = "canceled"
	PaymentFailed    PaymentOutcome = "failed"
)

// BindInsurer is the subset of insurer.Client PUR needs for the bind step.
type BindInsurer interface {
	Bind(ctx context.Context, req insurer.BindRequest) (*insurer.BindResponse, error)
}

// processedPaymentRecord is what the idempotency store persists per
// payment_ref, letting a duplicate event be detected as a no-op.
type processedPaymentRecord struct {
	PolicyID string    `json:"policy_id"`
	BoundAt  time.Time `json:"bound_at"`
}

// Coordinator implements PUR's three operations.
type Coordinator struct {
	sessions *session.Store
	ins      BindInsurer
	policies *core.RedisClient
	logger   core.Logger
	now      func() time.Time
	cronJob  *cron.Cron
}

// NewCoordinator builds a PUR Coordinator. policies is a dedicated Redis
// client (DB core.RedisDBCache) used purely for the payment_ref
// idempotency record, which keeps only the policy id and bound time.
// The full Policy built by bind is not stored: SessionState has no
// policy field, and a bound session records only BOUND status and the
// confirmed checkout.
func NewCoordinator(sessions *session.Store, ins BindInsurer, policies *core.RedisClient, logger core.Logger) *Coordinator {
	return &Coordinator{sessions: sessions, ins: ins, policies: policies, logger: logger, now: time.Now}
}

// StartCheckout implements PUR.startCheckout(session_id, selected_tier) ->
// {payment_ref, redirect_url}.
func (c *Coordinator) StartCheckout(ctx context.Context, sessionID string, tier domain.Tier) (domain.Checkout, error) {
	lock := c.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Checkout{}, err
	}

	state := sess.State
	if state.Quote == nil {
		return domain.Checkout{}, travelerrors.New("PUR.startCheckout", travelerrors.KindInvalidInput, travelerrors.ErrQuoteNotSelected).WithID(sessionID)
	}
	if state.Quote.Expired(c.now()) {
		return domain.Checkout{}, travelerrors.New("PUR.startCheckout", travelerrors.KindQuoteExpired, travelerrors.ErrQuoteNotSelected).WithID(sessionID)
	}
	if _, ok := state.Quote.Tiers[tier]; !ok {
		return domain.Checkout{}, travelerrors.Newf("PUR.startCheckout", travelerrors.KindInvalidInput, "tier %q is not present in the current quote", tier)
	}

	checkout := domain.Checkout{
		PaymentRef:  uuid.NewString(),
		RedirectURL: "https://checkout.example/" + uuid.NewString(),
		Status:      domain.CheckoutInitiated,
	}

	sess.State.SelectedTier = tier
	sess.State.Checkout = &checkout
	sess.State.Status = domain.StatusAwaitingPay
	if err := c.sessions.Save(ctx, sess); err != nil {
		return domain.Checkout{}, err
	}

	return checkout, nil
}

// OnPaymentEvent implements PUR.onPaymentEvent(event) -> void. It is
// idempotent on payment_ref: a duplicate confirmed event for an already
// -bound payment_ref is a no-op.
func (c *Coordinator) OnPaymentEvent(ctx context.Context, event PaymentEvent) error {
	lock := c.sessions.Lock(event.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := c.sessions.Get(ctx, event.SessionID)
	if err != nil {
		return err
	}

	if sess.State.Checkout == nil || sess.State.Checkout.PaymentRef != event.PaymentRef {
		return travelerrors.New("PUR.onPaymentEvent", travelerrors.KindInvalidInput, travelerrors.ErrCheckoutNotFound).WithID(event.SessionID)
	}

	switch event.Outcome {
	case PaymentCanceled:
		sess.State.Checkout.Status = domain.CheckoutCanceled
		sess.State.Status = domain.StatusTierOffered
		return c.sessions.Save(ctx, sess)
	case PaymentFailed:
		sess.State.Checkout.Status = domain.CheckoutFailed
		sess.State.Status = domain.StatusTierOffered
		return c.sessions.Save(ctx, sess)
	case PaymentConfirmed:
		return c.bind(ctx, sess, event.PaymentRef)
	default:
		return travelerrors.Newf("PUR.onPaymentEvent", travelerrors.KindInvalidInput, "unknown payment outcome %q", event.Outcome)
	}
}

// bind implements spec §4.6's bind step, steps (1)-(6).
func (c *Coordinator) bind(ctx context.Context, sess *domain.Session, paymentRef string) error {
	if _, ok := c.alreadyProcessed(ctx, paymentRef); ok {
		sess.State.Checkout.Status = domain.CheckoutConfirmed
		sess.State.Status = domain.StatusBound
		return c.sessions.Save(ctx, sess)
	}

	state := &sess.State
	if state.Quote == nil {
		return travelerrors.New("PUR.bind", travelerrors.KindIntegrityViolation, travelerrors.ErrQuoteNotSelected).WithID(sess.ID)
	}

	if state.Quote.Expired(c.now()) {
		state.Checkout.Status = domain.CheckoutNeedsReissue
		return c.sessions.Save(ctx, sess)
	}

	insureds := buildInsureds(state.Travelers)
	mainContact := insureds[0]

	var bindResp *insurer.BindResponse
	err := c.retryBind(ctx, func() error {
		resp, err := c.ins.Bind(ctx, insurer.BindRequest{
			QuoteID:     state.Quote.InsurerReference.QuoteID,
			OfferID:     state.Quote.InsurerReference.OfferID,
			ProductCode: state.Quote.InsurerReference.ProductCode,
			UnitPrice:   state.Quote.InsurerReference.UnitPrice,
			Currency:    state.Quote.InsurerReference.Currency,
			Insureds:    insureds,
			MainContact: mainContact,
		})
		if err != nil {
			return err
		}
		bindResp = resp
		return nil
	})

	if err != nil {
		if travelerrors.Is(err, travelerrors.KindDownstreamRejected) {
			state.Checkout.Status = domain.CheckoutBindFailed
			state.Status = domain.StatusErrorRecovery
			state.HandoffReason = "bind rejected by insurer after payment was confirmed"
			return c.sessions.Save(ctx, sess)
		}
		state.Checkout.Status = domain.CheckoutBindFailed
		state.Status = domain.StatusErrorRecovery
		state.HandoffReason = "bind failed after retry budget exhausted; payment is safe"
		_ = c.sessions.Save(ctx, sess)
		return err
	}

	policy := domain.Policy{
		PolicyID: bindResp.PolicyID,
		BoundAt:  bindResp.BoundAt,
		InsurerReference: domain.InsurerReference{
			QuoteID:     state.Quote.InsurerReference.QuoteID,
			OfferID:     state.Quote.InsurerReference.OfferID,
			ProductCode: state.Quote.InsurerReference.ProductCode,
			UnitPrice:   state.Quote.InsurerReference.UnitPrice,
			Currency:    state.Quote.InsurerReference.Currency,
		},
		Insureds:         domainInsureds(insureds),
		MainContact:      domain.Insured{FirstName: mainContact.FirstName, LastName: mainContact.LastName, Email: mainContact.Email},
		CoverageSnapshot: state.Quote.Tiers,
		PaymentRef:       paymentRef,
	}

	state.Checkout.Status = domain.CheckoutConfirmed
	state.Status = domain.StatusBound

	c.markProcessed(ctx, paymentRef, policy)

	return c.sessions.Save(ctx, sess)
}

// retryBind retries fn up to bindMaxAttempts times with exponential
// backoff, stopping immediately on a non-retryable (4xx) rejection —
// the same early-exit generalization used by internal/insurer's adapter,
// since §4.6 step 6 treats 4xx as terminal, not retry fodder.
func (c *Coordinator) retryBind(ctx context.Context, fn func() error) error {
	delay := bindRetryBase
	var lastErr error

	for attempt := 1; attempt <= bindMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if travelerrors.Is(err, travelerrors.KindDownstreamRejected) {
			return err
		}
		if attempt == bindMaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * bindRetryFactor)
	}

	return lastErr
}

// PollPayment implements PUR.pollPayment(session_id) -> status, read-only.
func (c *Coordinator) PollPayment(ctx context.Context, sessionID string) (domain.CheckoutStatus, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.State.Checkout == nil {
		return domain.CheckoutNone, nil
	}
	return sess.State.Checkout.Status, nil
}

// alreadyProcessed checks the idempotency record for paymentRef.
func (c *Coordinator) alreadyProcessed(ctx context.Context, paymentRef string) (*processedPaymentRecord, bool) {
	raw, err := c.policies.Get(ctx, paymentRef)
	if err != nil || raw == "" {
		return nil, false
	}
	var rec processedPaymentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// markProcessed persists the idempotency record for paymentRef. Policies
// never expire, matching the permanence of Session (spec §3).
func (c *Coordinator) markProcessed(ctx context.Context, paymentRef string, policy domain.Policy) {
	rec := processedPaymentRecord{PolicyID: policy.PolicyID, BoundAt: policy.BoundAt}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = c.policies.Set(ctx, paymentRef, raw, 0)
}

// StartReaper runs a background cron.Cron job that calls sweep every
// minute with cutoff = now - awaitingPaymentTimeout. What is expired or
// moved back to TIER_OFFERED is entirely up to sweep; this package
// supplies no sweep function of its own. The caller owns the returned
// cron.Cron's lifecycle (Stop() on shutdown).
func (c *Coordinator) StartReaper(sweep func(ctx context.Context, cutoff time.Time) error) *cron.Cron {
	job := cron.New()
	_, _ = job.AddFunc("@every 1m", func() {
		_ = sweep(context.Background(), c.now().Add(-awaitingPaymentTimeout))
	})
	job.Start()
	c.cronJob = job
	return job
}

func buildInsureds(travelers domain.Travelers) []insurer.Insured {
	insureds := make([]insurer.Insured, 0, len(travelers.Ages))
	for i := range travelers.Ages {
		email := ""
		if i < len(travelers.Emails) {
			email = travelers.Emails[i]
		}
		firstName := ""
		if i < len(travelers.FirstNames) {
			firstName = travelers.FirstNames[i]
		}
		lastName := ""
		if i < len(travelers.LastNames) {
			lastName = travelers.LastNames[i]
		}
		insureds = append(insureds, insurer.Insured{
			ID:        uuid.NewString(),
			FirstName: firstName,
			LastName:  lastName,
			Email:     email,
		})
	}
	if len(insureds) == 0 {
		insureds = append(insureds, insurer.Insured{ID: uuid.NewString()})
	}
	return insureds
}

func domainInsureds(insureds []insurer.Insured) []domain.Insured {
	out := make([]domain.Insured, 0, len(insureds))
	for _, i := range insureds {
		out = append(out, domain.Insured{FirstName: i.FirstName, LastName: i.LastName, Email: i.Email})
	}
	return out
}
