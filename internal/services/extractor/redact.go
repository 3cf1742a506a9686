package extractor

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces every personal-data fragment.
const RedactedPlaceholder = "[REDACTED]"

var (
	nameRe    = regexp.MustCompile(`([가-힣]{2,4})\s?(?:고객님|님|씨)`)
	addressRe = regexp.MustCompile(`(?:[가-힣]+(?:특별시|광역시|시|도)\s)?[가-힣]+(?:구|군|시)\s[가-힣0-9]+(?:동|읍|면|로|길)(?:\s?\d+(?:-\d+)?(?:번지)?)?`)
)

// Domestic numbers, plus +82 numbers with or without the trunk 0.
// Without "+" the country code needs a separator so digit runs of
// tracking numbers never match.
var phoneRe = regexp.MustCompile(`(?:(?:\+82[-.\s]?|\b82[-\s])0?(?:1[016789]|2|[3-6][1-5])|\b(?:01[016789]|02|0[3-6][1-5]))[-.\s]?\d{3,4}[-.\s]?\d{4}\b`)

// Words that precede an honorific in courier templates but are not names.
var nameStoplist = map[string]struct{}{
	"고객":   {},
	"회원":   {},
	"기사":   {},
	"배송기사": {},
	"택배기사": {},
	"사장":   {},
	"점주":   {},
}

type span struct{ start, end int }

// piiSpans returns the byte ranges of all personal-data matches in s,
// sorted and merged.
func piiSpans(s string) []span {
	var spans []span
	for _, m := range nameRe.FindAllStringSubmatchIndex(s, -1) {
		if _, stop := nameStoplist[s[m[2]:m[3]]]; stop {
			continue
		}
		spans = append(spans, span{m[0], m[1]})
	}
	for _, m := range phoneRe.FindAllStringIndex(s, -1) {
		spans = append(spans, span{m[0], m[1]})
	}
	for _, m := range addressRe.FindAllStringIndex(s, -1) {
		spans = append(spans, span{m[0], m[1]})
	}
	if len(spans) < 2 {
		return spans
	}

	// insertion sort: there are only ever a handful of matches
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start < spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// Redact replaces every personal-data fragment in s with RedactedPlaceholder.
func Redact(s string) string {
	return redactSpans(s, piiSpans(s))
}

func redactSpans(s string, spans []span) string {
	if len(spans) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := 0
	for _, sp := range spans {
		b.WriteString(s[prev:sp.start])
		b.WriteString(RedactedPlaceholder)
		prev = sp.end
	}
	b.WriteString(s[prev:])
	return b.String()
}
