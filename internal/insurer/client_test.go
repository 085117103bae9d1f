package insurer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return c, srv
}

func TestPriceFirmNormalizesUpstreamOffers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "Q-1",
			"offerCategories": []map[string]interface{}{
				{
					"productType": "TRAVEL",
					"offers": []map[string]interface{}{
						{"id": "O-1", "productCode": "TRV-ELITE", "unitPrice": 51.21, "currency": "SGD"},
					},
				},
			},
		})
	})

	resp, err := c.PriceFirm(context.Background(), PriceFirmRequest{Market: "SG"})
	require.NoError(t, err)
	require.Len(t, resp.Offers, 1)
	assert.Equal(t, "Q-1", resp.QuoteID)
	assert.Equal(t, "O-1", resp.Offers[0].OfferID)
	assert.Equal(t, 51.21, resp.Offers[0].UnitPrice)
	assert.NotNil(t, resp.Offers[0].RawOffer)
}

func TestPriceFirmRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":              "Q-2",
			"offerCategories": []map[string]interface{}{},
		})
	})

	resp, err := c.PriceFirm(context.Background(), PriceFirmRequest{Market: "SG"})
	require.NoError(t, err)
	assert.Equal(t, "Q-2", resp.QuoteID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPriceFirmDoesNotRetry4xx(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid market"}`))
	})

	_, err := c.PriceFirm(context.Background(), PriceFirmRequest{Market: "ZZ"})
	require.Error(t, err)
	assert.True(t, travelerrors.Is(err, travelerrors.KindDownstreamRejected))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPriceFirmExhaustsRetriesOnPersistent5xx(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.PriceFirm(context.Background(), PriceFirmRequest{Market: "SG"})
	require.Error(t, err)
	assert.True(t, travelerrors.Is(err, travelerrors.KindDownstreamUnavailable))
}

func TestBindNeverRetries(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Bind(context.Background(), BindRequest{QuoteID: "Q-1", OfferID: "O-1", ProductCode: "TRV-ELITE", UnitPrice: 51.21})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBindSucceeds(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req BindRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Q-1", req.QuoteID)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"policyId": "POL-1"})
	})

	resp, err := c.Bind(context.Background(), BindRequest{QuoteID: "Q-1", OfferID: "O-1", ProductCode: "TRV-ELITE", UnitPrice: 51.21})
	require.NoError(t, err)
	assert.Equal(t, "POL-1", resp.PolicyID)
}
