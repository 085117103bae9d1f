package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/insurer"
	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
)

type fakeInsurer struct {
	resp *insurer.PricedResponse
	err  error
}

func (f *fakeInsurer) PriceFirm(ctx context.Context, req insurer.PriceFirmRequest) (*insurer.PricedResponse, error) {
	return f.resp, f.err
}

func offerResponse(unitPrice float64) *insurer.PricedResponse {
	return &insurer.PricedResponse{
		QuoteID: "Q-1",
		Offers: []insurer.Offer{
			{OfferID: "O-1", ProductCode: "TRV-ELITE", ProductType: "TRAVEL", UnitPrice: unitPrice, Currency: "SGD"},
		},
	}
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(ins InsurerPricer, maxDays int) *Service {
	s := NewService(ins, maxDays, 24*time.Hour)
	s.now = fixedNow(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
	return s
}

func baseTrip(departure, ret string) domain.Trip {
	return domain.Trip{
		Destinations: []string{"Japan"},
		DepartureDate: departure,
		ReturnDate:    ret,
		TripType:      domain.TripReturn,
	}
}

func TestQuoteDerivesThreeTiersFromUnitPrice(t *testing.T) {
	ins := &fakeInsurer{resp: offerResponse(51.21)}
	svc := newTestService(ins, 182)

	quote, err := svc.Quote(context.Background(), baseTrip("2026-08-01", "2026-08-10"),
		domain.Travelers{Count: 1, Ages: []int{30}}, domain.Preferences{AdventureSportsSet: true})
	require.NoError(t, err)

	assert.Equal(t, 51.21, quote.Tiers[domain.TierElite].Price)
	assert.Equal(t, 28.45, quote.Tiers[domain.TierStandard].Price)
	assert.Equal(t, 71.18, quote.Tiers[domain.TierPremier].Price)
	assert.Equal(t, domain.TierStandard, quote.RecommendedTier)
	assert.Equal(t, "Q-1", quote.InsurerReference.QuoteID)
	assert.NotEmpty(t, quote.Fingerprint)
}

func TestQuoteAdventureSportsOmitsStandardTier(t *testing.T) {
	ins := &fakeInsurer{resp: offerResponse(102.42)}
	svc := newTestService(ins, 182)

	quote, err := svc.Quote(context.Background(), baseTrip("2026-08-01", "2026-08-10"),
		domain.Travelers{Count: 1, Ages: []int{30}}, domain.Preferences{AdventureSports: true, AdventureSportsSet: true})
	require.NoError(t, err)

	_, hasStandard := quote.Tiers[domain.TierStandard]
	assert.False(t, hasStandard)
	assert.Equal(t, 102.42, quote.Tiers[domain.TierElite].Price)
	assert.Equal(t, 142.36, quote.Tiers[domain.TierPremier].Price)
	assert.Equal(t, domain.TierElite, quote.RecommendedTier)
}

func TestQuoteAcceptsTripDurationAtExactMaximum(t *testing.T) {
	ins := &fakeInsurer{resp: offerResponse(10)}
	svc := newTestService(ins, 182)

	_, err := svc.Quote(context.Background(), baseTrip("2026-08-01", "2027-01-30"),
		domain.Travelers{Count: 1, Ages: []int{30}}, domain.Preferences{AdventureSportsSet: true})
	require.NoError(t, err)
}

func TestQuoteRejectsTripDurationOverMaximum(t *testing.T) {
	ins := &fakeInsurer{resp: offerResponse(10)}
	svc := newTestService(ins, 182)

	_, err := svc.Quote(context.Background(), baseTrip("2026-08-01", "2027-01-31"),
		domain.Travelers{Count: 1, Ages: []int{30}}, domain.Preferences{AdventureSportsSet: true})
	require.Error(t, err)
	assert.True(t, travelerrors.Is(err, travelerrors.KindInvalidInput))
}

func TestQuoteRejectsReturnBeforeDeparture(t *testing.T) {
	ins := &fakeInsurer{resp: offerResponse(10)}
	svc := newTestService(ins, 182)

	_, err := svc.Quote(context.Background(), baseTrip("2026-08-10", "2026-08-01"),
		domain.Travelers{Count: 1, Ages: []int{30}}, domain.Preferences{AdventureSportsSet: true})
	require.Error(t, err)
	assert.True(t, travelerrors.Is(err, travelerrors.KindInvalidInput))
}

func TestQuoteRejectsUnknownDestination(t *testing.T) {
	ins := &fakeInsurer{resp: offerResponse(10)}
	svc := newTestService(ins, 182)

	trip := baseTrip("2026-08-01", "2026-08-10")
	trip.Destinations = []string{"Narnia"}

	_, err := svc.Quote(context.Background(), trip, domain.Travelers{Count: 1, Ages: []int{30}}, domain.Preferences{AdventureSportsSet: true})
	require.Error(t, err)
	assert.True(t, travelerrors.Is(err, travelerrors.KindInvalidInput))
}

func TestQuoteReturnsNoOffersError(t *testing.T) {
	ins := &fakeInsurer{resp: &insurer.PricedResponse{QuoteID: "Q-empty"}}
	svc := newTestService(ins, 182)

	_, err := svc.Quote(context.Background(), baseTrip("2026-08-01", "2026-08-10"),
		domain.Travelers{Count: 1, Ages: []int{30}}, domain.Preferences{AdventureSportsSet: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, travelerrors.ErrNoOffers)
}

func TestQuoteFingerprintIsStableAcrossDestinationOrder(t *testing.T) {
	ins := &fakeInsurer{resp: offerResponse(10)}
	svc := newTestService(ins, 182)

	trip1 := baseTrip("2026-08-01", "2026-08-10")
	trip1.Destinations = []string{"Japan", "Thailand"}
	trip2 := baseTrip("2026-08-01", "2026-08-10")
	trip2.Destinations = []string{"Thailand", "Japan"}

	travelers := domain.Travelers{Count: 1, Ages: []int{30}}
	prefs := domain.Preferences{AdventureSportsSet: true}

	q1, err := svc.Quote(context.Background(), trip1, travelers, prefs)
	require.NoError(t, err)
	q2, err := svc.Quote(context.Background(), trip2, travelers, prefs)
	require.NoError(t, err)

	assert.Equal(t, q1.Fingerprint, q2.Fingerprint)
}
