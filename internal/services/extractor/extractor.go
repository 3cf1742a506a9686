// Package extractor turns courier notifications into tracking-number
// candidates. It does no I/O; results must be confirmed by the user before
// anything is stored.
package extractor

import (
	"strings"

	"github.com/BearBump/LockerBox/internal/models"
)

const (
	baseConfidence    = 0.8
	courierNameBonus  = 0.1
	typicalLenBonus   = 0.1
	piiPenalty        = 0.2
	typicalLenMin     = 10
	typicalLenMax     = 13
	sourceTextDivider = "\n"
)

type Options struct {
	// AllowedApps overrides DefaultAllowedApps when non-empty.
	AllowedApps []string
	// Keywords overrides the built-in keyword set when non-empty.
	Keywords []string
}

type Extractor struct {
	allowed  map[string]struct{}
	keywords []string
}

func New(opts Options) *Extractor {
	apps := opts.AllowedApps
	if len(apps) == 0 {
		apps = DefaultAllowedApps
	}
	allowed := make(map[string]struct{}, len(apps))
	for _, a := range apps {
		allowed[strings.TrimSpace(a)] = struct{}{}
	}

	keywords := opts.Keywords
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		lower = append(lower, strings.ToLower(k))
	}
	return &Extractor{allowed: allowed, keywords: lower}
}

// Extract returns the detected package and true, or false when the event
// is not a delivery notification.
func (e *Extractor) Extract(ev models.NotificationEvent) (models.ExtractedPackageInfo, bool) {
	if _, ok := e.allowed[ev.SourceApp]; !ok {
		return models.ExtractedPackageInfo{}, false
	}

	text := joinText(ev)
	if !e.hasKeyword(text) {
		return models.ExtractedPackageInfo{}, false
	}

	for _, p := range courierPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		tracking := m[1]
		pii := piiSpans(text)
		return models.ExtractedPackageInfo{
			TrackingNumber:     tracking,
			CourierCompany:     p.Courier,
			Confidence:         confidence(text, p.Literal, tracking, len(pii) > 0),
			RedactedSourceText: redactSpans(text, pii),
			SourceApp:          ev.SourceApp,
		}, true
	}
	return models.ExtractedPackageInfo{}, false
}

func (e *Extractor) hasKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range e.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func confidence(text, literal, tracking string, hasPII bool) float64 {
	c := baseConfidence
	if literal != "" && strings.Contains(text, literal) {
		c += courierNameBonus
	}
	if n := len(tracking); n >= typicalLenMin && n <= typicalLenMax {
		c += typicalLenBonus
	}
	if hasPII {
		c -= piiPenalty
	}
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func joinText(ev models.NotificationEvent) string {
	var b strings.Builder
	b.Grow(len(ev.Title) + len(ev.Text) + len(ev.BigText) + 2*len(sourceTextDivider))
	for i, part := range [...]string{ev.Title, ev.Text, ev.BigText} {
		if part == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(sourceTextDivider)
		}
		b.WriteString(part)
	}
	return b.String()
}
