// Package pricing implements PRC: the thin protocol shim around the
// insurer that derives a three-tier Quote from a single priced offer, per
// spec §4.4.
package pricing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/insurer"
	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
)

// dateLayout is the ISO-8601 calendar-date layout SLOT normalizes into.
const dateLayout = "2006-01-02"

// CoverageTemplates supplies the fixed per-tier coverage-limit tables.
// Values are configuration (spec §4.4 step 6), not invariants — only the
// relative ordering medical(standard) ≤ medical(elite) ≤ medical(premier)
// is load-bearing. The default table keeps that ordering; Quote derivation
// does not check it.
type CoverageTemplates struct {
	Standard map[string]float64
	Elite    map[string]float64
	Premier  map[string]float64
}

// DefaultCoverageTemplates returns a representative fixed table.
func DefaultCoverageTemplates() CoverageTemplates {
	return CoverageTemplates{
		Standard: map[string]float64{"medical": 50000, "baggage": 1000, "trip_cancellation": 2000},
		Elite:    map[string]float64{"medical": 150000, "baggage": 2500, "trip_cancellation": 5000},
		Premier:  map[string]float64{"medical": 500000, "baggage": 5000, "trip_cancellation": 10000},
	}
}

// InsurerPricer is the subset of insurer.Client that PRC depends on,
// narrowed to ease testing with a fake.
type InsurerPricer interface {
	PriceFirm(ctx context.Context, req insurer.PriceFirmRequest) (*insurer.PricedResponse, error)
}

// Service implements PRC.quote.
type Service struct {
	ins                 InsurerPricer
	coverage            CoverageTemplates
	tripDurationMaxDays int
	quoteTTL            time.Duration
	now                 func() time.Time
}

// NewService builds a pricing Service backed by an InsurerPricer
// (ordinarily an *insurer.Client).
func NewService(ins InsurerPricer, tripDurationMaxDays int, quoteTTL time.Duration) *Service {
	return &Service{
		ins:                 ins,
		coverage:            DefaultCoverageTemplates(),
		tripDurationMaxDays: tripDurationMaxDays,
		quoteTTL:            quoteTTL,
		now:                 time.Now,
	}
}

// Quote derives a three-tier Quote for the given trip/travelers/preferences,
// following the spec §4.4 algorithm exactly.
func (s *Service) Quote(ctx context.Context, trip domain.Trip, travelers domain.Travelers, prefs domain.Preferences) (*domain.Quote, error) {
	departure, returnDate, err := s.validate(trip)
	if err != nil {
		return nil, err
	}

	if len(trip.Destinations) == 0 {
		return nil, travelerrors.Newf("PRC.quote", travelerrors.KindInvalidInput, "at least one destination is required")
	}
	arrivalCountry, ok := insurer.CountryCode(trip.Destinations[0])
	if !ok {
		return nil, travelerrors.Newf("PRC.quote", travelerrors.KindInvalidInput, "unknown destination: %s", trip.Destinations[0])
	}

	tripType := "RT"
	if trip.TripType == domain.TripOneWay {
		tripType = "OW"
	}

	adults, children := splitAges(travelers.Ages)

	priced, err := s.ins.PriceFirm(ctx, insurer.PriceFirmRequest{
		Market:       "SG",
		LanguageCode: "en",
		Channel:      "chat",
		DeviceType:   "web",
		Context: insurer.PriceFirmContext{
			TripType:         tripType,
			DepartureDate:    departure.Format(dateLayout),
			ReturnDate:       returnDate.Format(dateLayout),
			DepartureCountry: "SG",
			ArrivalCountry:   arrivalCountry,
			AdultsCount:      adults,
			ChildrenCount:    children,
		},
	})
	if err != nil {
		return nil, err
	}

	if len(priced.Offers) == 0 {
		return nil, travelerrors.New("PRC.quote", travelerrors.KindInvalidInput, travelerrors.ErrNoOffers)
	}
	offer := priced.Offers[0]

	now := s.now()
	quote := &domain.Quote{
		Fingerprint: fingerprint(trip, travelers, prefs),
		InsurerReference: domain.InsurerReference{
			QuoteID:     priced.QuoteID,
			OfferID:     offer.OfferID,
			ProductCode: offer.ProductCode,
			UnitPrice:   offer.UnitPrice,
			Currency:    offer.Currency,
		},
		Tiers:    s.deriveTiers(offer.UnitPrice, offer.Currency, prefs.AdventureSports),
		IssuedAt: now,
		ExpiresAt: now.Add(s.quoteTTL),
	}

	if prefs.AdventureSports {
		quote.RecommendedTier = domain.TierElite
	} else {
		quote.RecommendedTier = domain.TierStandard
	}

	return quote, nil
}

// deriveTiers implements spec §4.4 step 5/7 and the Quote invariants of
// spec §3/§8: elite == unit price; standard == elite/1.8 (absent if
// adventure sports); premier == elite×1.39.
func (s *Service) deriveTiers(elitePrice float64, currency string, adventureSports bool) map[domain.Tier]domain.TierOffer {
	tiers := map[domain.Tier]domain.TierOffer{
		domain.TierElite: {
			Price:          elitePrice,
			Currency:       currency,
			CoverageLimits: s.coverage.Elite,
		},
		domain.TierPremier: {
			Price:          round2(elitePrice * 1.39),
			Currency:       currency,
			CoverageLimits: s.coverage.Premier,
		},
	}
	if !adventureSports {
		tiers[domain.TierStandard] = domain.TierOffer{
			Price:          round2(elitePrice / 1.8),
			Currency:       currency,
			CoverageLimits: s.coverage.Standard,
		}
	}
	return tiers
}

// validate enforces spec §4.4's InvalidInput conditions: dates in the
// past, return before departure, duration over the configured cap.
func (s *Service) validate(trip domain.Trip) (time.Time, time.Time, error) {
	departure, err := time.Parse(dateLayout, trip.DepartureDate)
	if err != nil {
		return time.Time{}, time.Time{}, travelerrors.Newf("PRC.quote", travelerrors.KindInvalidInput, "invalid departure_date: %v", err)
	}
	returnDate, err := time.Parse(dateLayout, trip.ReturnDate)
	if err != nil {
		return time.Time{}, time.Time{}, travelerrors.Newf("PRC.quote", travelerrors.KindInvalidInput, "invalid return_date: %v", err)
	}

	today := s.now().Truncate(24 * time.Hour)
	if departure.Before(today) {
		return time.Time{}, time.Time{}, travelerrors.Newf("PRC.quote", travelerrors.KindInvalidInput, "departure_date is in the past")
	}
	if returnDate.Before(departure) {
		return time.Time{}, time.Time{}, travelerrors.Newf("PRC.quote", travelerrors.KindInvalidInput, "return_date before departure_date")
	}

	duration := int(returnDate.Sub(departure).Hours() / 24)
	if duration > s.tripDurationMaxDays {
		return time.Time{}, time.Time{}, travelerrors.Newf("PRC.quote", travelerrors.KindInvalidInput,
			"trip duration %d days exceeds the %d day maximum", duration, s.tripDurationMaxDays)
	}

	return departure, returnDate, nil
}

func splitAges(ages []int) (adults, children int) {
	for _, age := range ages {
		if age >= 18 {
			adults++
		} else {
			children++
		}
	}
	return adults, children
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// fingerprint stably hashes the trip/traveler/preference inputs so
// equivalent re-quotes can be detected (GLOSSARY: Quote fingerprint).
func fingerprint(trip domain.Trip, travelers domain.Travelers, prefs domain.Preferences) string {
	destinations := append([]string(nil), trip.Destinations...)
	sort.Strings(destinations)

	ages := append([]int(nil), travelers.Ages...)
	sort.Ints(ages)

	h := sha256.New()
	fmt.Fprintf(h, "%v|%s|%s|%v|%v", destinations, trip.DepartureDate, trip.ReturnDate, ages, prefs.AdventureSports)
	return hex.EncodeToString(h.Sum(nil))
}
