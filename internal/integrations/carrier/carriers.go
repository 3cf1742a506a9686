package carrier

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// carrierIDs maps the courier names users (and notifications) use to the
// tracking API carrier identifiers.
var carrierIDs = map[string]string{
	"CJ대한통운":     "kr.cjlogistics",
	"우체국택배":      "kr.epost",
	"한진택배":       "kr.hanjin",
	"롯데택배":       "kr.lotte",
	"로젠택배":       "kr.logen",
	"쿠팡":         "kr.coupangls",
	"경동택배":       "kr.kdexp",
	"대신택배":       "kr.daesin",
	"일양로지스":      "kr.ilyanglogis",
	"합동택배":       "kr.hdexp",
	"CU 편의점택배":   "kr.cupost",
	"GS Postbox": "kr.cvsnet",
}

// maxFuzzyDistance bounds how far a typed courier name may be from a known one.
const maxFuzzyDistance = 2

// Short names ("CU", "EMS") are too close to everything to guess.
const minFuzzyLen = 4

// ResolveCarrierID returns the carrier id for a courier name. Exact and
// whitespace-insensitive matches win; otherwise the closest known name within
// maxFuzzyDistance edits is used. Unknown couriers pass through unchanged.
func ResolveCarrierID(courier string) string {
	name := strings.TrimSpace(courier)
	if id, ok := carrierIDs[name]; ok {
		return id
	}

	norm := normalize(name)
	if norm == "" {
		return courier
	}
	fuzzy := utf8.RuneCountInString(norm) >= minFuzzyLen

	best, bestDist := "", maxFuzzyDistance+1
	for known, id := range carrierIDs {
		kn := normalize(known)
		if kn == norm {
			return id
		}
		d := levenshtein.ComputeDistance(kn, norm)
		if d < bestDist || (d == bestDist && id < best) {
			best, bestDist = id, d
		}
	}
	if fuzzy && best != "" && bestDist <= maxFuzzyDistance {
		return best
	}
	return courier
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}
