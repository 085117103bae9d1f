package insurer

import "strings"

// countryCodes is the fixed destination→ISO-3166 alpha-2 table the
// insurer's pricing API expects, exposed so SLOT can normalize free-text
// destinations to the same canonical names PRC uses to build a priceFirm
// request (spec §4.2 Normalization rules: "a fixed table exposed by INS").
var countryCodes = map[string]string{
	"thailand":     "TH",
	"japan":        "JP",
	"singapore":    "SG",
	"malaysia":     "MY",
	"indonesia":    "ID",
	"vietnam":      "VN",
	"philippines":  "PH",
	"south korea":  "KR",
	"korea":        "KR",
	"china":        "CN",
	"india":        "IN",
	"australia":    "AU",
	"new zealand":  "NZ",
	"united states": "US",
	"usa":          "US",
	"united kingdom": "GB",
	"uk":           "GB",
	"france":       "FR",
	"germany":      "DE",
	"italy":        "IT",
	"spain":        "ES",
	"switzerland":  "CH",
}

// CountryCode resolves a free-text destination name to its ISO code. The
// second return value is false when the destination is not in the
// insurer's supported country table.
func CountryCode(destination string) (string, bool) {
	code, ok := countryCodes[strings.ToLower(strings.TrimSpace(destination))]
	return code, ok
}

// CanonicalName returns the title-cased canonical name for a recognized
// destination, or the input unchanged if unrecognized.
func CanonicalName(destination string) string {
	key := strings.ToLower(strings.TrimSpace(destination))
	if _, ok := countryCodes[key]; !ok {
		return destination
	}
	words := strings.Fields(key)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
