// Package insurer implements the INS wire-level adapter: request shaping,
// response normalization and retry/circuit-breaker policy around the
// insurer's pricing and binding HTTP API, per spec §4.5. Grounded on
// resilience/retry.go and resilience/circuit_breaker.go.
package insurer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
	"github.com/itsneelabh/gomind/core"
	"github.com/itsneelabh/gomind/resilience"
)

// PriceFirmRequest is the shape spec §4.5 defines for priceFirm.
type PriceFirmRequest struct {
	Market           string `json:"market"`
	LanguageCode     string `json:"languageCode"`
	Channel          string `json:"channel"`
	DeviceType       string `json:"deviceType"`
	Context          PriceFirmContext `json:"context"`
}

// PriceFirmContext is the nested trip-shape of a priceFirm request.
type PriceFirmContext struct {
	TripType         string `json:"tripType"` // "RT" or "OW"
	DepartureDate    string `json:"departureDate"`
	ReturnDate       string `json:"returnDate,omitempty"`
	DepartureCountry string `json:"departureCountry"`
	ArrivalCountry   string `json:"arrivalCountry"`
	AdultsCount      int    `json:"adultsCount"`
	ChildrenCount    int    `json:"childrenCount"`
}

// upstreamOffer is the raw per-offer shape the insurer returns.
type upstreamOffer struct {
	ID              string                 `json:"id"`
	ProductCode     string                 `json:"productCode"`
	UnitPrice       float64                `json:"unitPrice"`
	Currency        string                 `json:"currency"`
	CoverageDetails map[string]interface{} `json:"coverageDetails"`
}

type upstreamCategory struct {
	ProductType string          `json:"productType"`
	Offers      []upstreamOffer `json:"offers"`
}

type upstreamPriceResponse struct {
	ID              string             `json:"id"`
	OfferCategories []upstreamCategory `json:"offerCategories"`
}

// Offer is the adapter's normalized shape, per spec §4.5 Response
// normalization. RawOffer/RawResponse are preserved for debugging but must
// never be forwarded upstream in bind.
type Offer struct {
	OfferID         string
	ProductCode     string
	ProductType     string
	UnitPrice       float64
	Currency        string
	CoverageDetails map[string]interface{}
	RawOffer        map[string]interface{}
}

// PricedResponse is the adapter's normalized priceFirm result.
type PricedResponse struct {
	QuoteID      string
	Offers       []Offer
	RawResponse  map[string]interface{}
}

// Insured is the minimal traveler identity bind requires.
type Insured struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// BindRequest carries the byte-exact priced-offer tuple plus travelers.
type BindRequest struct {
	QuoteID     string    `json:"quoteId"`
	OfferID     string    `json:"offerId"`
	ProductCode string    `json:"productCode"`
	UnitPrice   float64   `json:"unitPrice"`
	Currency    string    `json:"currency"`
	Insureds    []Insured `json:"insureds"`
	MainContact Insured   `json:"mainContact"`
}

// BindResponse is the insurer's confirmation of a bound policy.
type BindResponse struct {
	PolicyID string `json:"policyId"`
	BoundAt  time.Time `json:"boundAt"`
}

// Client is the INS adapter.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     core.Logger
	cb         *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
}

// Config configures a Client.
type Config struct {
	BaseURL            string
	APIKey             string
	PerAttemptDeadline time.Duration
	OverallDeadline    time.Duration
	Logger             core.Logger
}

// NewClient builds an INS adapter with the spec §4.5 retry schedule
// (base 500ms, factor 2, jitter ±20%, 3 attempts) for idempotent
// operations, wrapped by a circuit breaker per component instance.
func NewClient(cfg Config) (*Client, error) {
	if cfg.PerAttemptDeadline == 0 {
		cfg.PerAttemptDeadline = 10 * time.Second
	}
	if cfg.OverallDeadline == 0 {
		cfg.OverallDeadline = 30 * time.Second
	}

	cbConfig := resilience.DefaultConfig()
	cbConfig.Name = "insurer-adapter"
	cbConfig.Logger = cfg.Logger
	cb, err := resilience.NewCircuitBreaker(cbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build insurer circuit breaker: %w", err)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.PerAttemptDeadline,
		},
		logger: cfg.Logger,
		cb:     cb,
		retry: &resilience.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
	}, nil
}

// ListProducts is an idempotent operation retried per the standard schedule.
func (c *Client) ListProducts(ctx context.Context, market string) ([]map[string]interface{}, error) {
	var products []map[string]interface{}
	err := c.retryIdempotent(ctx, func() error {
		resp, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/products?market=%s", market), nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(resp, &products)
	})
	if err != nil {
		return nil, c.classify("INS.listProducts", err)
	}
	return products, nil
}

// ClaimRequirements is an idempotent operation retried per the standard
// schedule.
func (c *Client) ClaimRequirements(ctx context.Context, claimType string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.retryIdempotent(ctx, func() error {
		resp, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/claims/requirements?type=%s", claimType), nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(resp, &out)
	})
	if err != nil {
		return nil, c.classify("INS.claimRequirements", err)
	}
	return out, nil
}

// PriceFirm calls the insurer's firm-pricing endpoint and normalizes the
// response per spec §4.5. It is idempotent and retried up to 3 times.
func (c *Client) PriceFirm(ctx context.Context, req PriceFirmRequest) (*PricedResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, travelerrors.New("INS.priceFirm", travelerrors.KindInvalidInput, err)
	}

	overallCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var upstream upstreamPriceResponse
	var raw map[string]interface{}
	err = c.retryIdempotent(overallCtx, func() error {
		resp, err := c.doJSON(overallCtx, http.MethodPost, "/v1/price-firm", body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(resp, &upstream); err != nil {
			return err
		}
		return json.Unmarshal(resp, &raw)
	})
	if err != nil {
		return nil, c.classify("INS.priceFirm", err)
	}

	return normalize(&upstream, raw), nil
}

// Bind converts a priced offer into a permanent policy. Per spec §4.5,
// bind is non-idempotent from the adapter's perspective: zero retries on
// 5xx here — the caller (PUR) owns retry with the same payload.
func (c *Client) Bind(ctx context.Context, req BindRequest) (*BindResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, travelerrors.New("INS.bind", travelerrors.KindInvalidInput, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.doJSON(attemptCtx, http.MethodPost, "/v1/bind", body)
	if err != nil {
		return nil, c.classify("INS.bind", err)
	}

	var out BindResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, travelerrors.New("INS.bind", travelerrors.KindDownstreamRejected, err)
	}
	return &out, nil
}

// retryIdempotent applies the §4.5 idempotent-retry schedule (base 500ms,
// factor 2, jitter, 3 attempts) through the adapter's circuit breaker, but
// — unlike resilience.Retry — stops immediately on a non-retryable 4xx
// rejection instead of burning the remaining attempts on it.
func (c *Client) retryIdempotent(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retry.InitialDelay

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !c.cb.CanExecute() {
			return travelerrors.New("INS", travelerrors.KindDownstreamUnavailable, fmt.Errorf("circuit breaker open"))
		}

		err := fn()
		if err == nil {
			c.cb.RecordSuccess()
			return nil
		}

		if travelerrors.Is(err, travelerrors.KindDownstreamRejected) {
			// Non-retryable structured rejection: the circuit breaker still
			// needs to see it to track health, but we do not spend the
			// remaining attempt budget on it.
			c.cb.RecordFailure()
			return err
		}

		c.cb.RecordFailure()
		lastErr = err

		if attempt == c.retry.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * c.retry.BackoffFactor)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}
		sleepDelay := delay
		if c.retry.JitterEnabled {
			// ±20% jitter around the backoff delay, same sinusoidal
			// technique resilience.Retry uses for thundering-herd
			// mitigation.
			jitter := time.Duration(float64(delay) * 0.2 * math.Sin(float64(attempt)))
			sleepDelay += jitter
		}

		timer := time.NewTimer(sleepDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", c.retry.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

func normalize(upstream *upstreamPriceResponse, raw map[string]interface{}) *PricedResponse {
	offers := make([]Offer, 0)
	for _, cat := range upstream.OfferCategories {
		for _, o := range cat.Offers {
			offers = append(offers, Offer{
				OfferID:         o.ID,
				ProductCode:     o.ProductCode,
				ProductType:     cat.ProductType,
				UnitPrice:       o.UnitPrice,
				Currency:        o.Currency,
				CoverageDetails: o.CoverageDetails,
				RawOffer: map[string]interface{}{
					"id":              o.ID,
					"productCode":     o.ProductCode,
					"unitPrice":       o.UnitPrice,
					"currency":        o.Currency,
					"coverageDetails": o.CoverageDetails,
				},
			})
		}
	}
	return &PricedResponse{
		QuoteID:     upstream.ID,
		Offers:      offers,
		RawResponse: raw,
	}
}

// httpStatusError carries the response status for retry/error classification.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("insurer returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if resp.StatusCode >= 400 {
		// 4xx is a structured rejection, not retried.
		return nil, travelerrors.New("INS.request", travelerrors.KindDownstreamRejected,
			&httpStatusError{StatusCode: resp.StatusCode, Body: string(data)})
	}
	return data, nil
}

// classify maps a transport/circuit-breaker error into the §7 taxonomy.
// 4xx rejections already carry KindDownstreamRejected from doJSON and pass
// through unchanged; everything else exhausted through retry/circuit
// breaker is a DownstreamUnavailable.
func (c *Client) classify(op string, err error) error {
	if _, ok := travelerrors.KindOf(err); ok {
		return err
	}
	return travelerrors.New(op, travelerrors.KindDownstreamUnavailable, err)
}
