// internal/domain/trend/model.go

package trend

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Record represents one trending item detected within a region and category
// at fetch time. Records are immutable value objects: they are built once by
// the decoder and flow unchanged through dedup and out to the sinks.
type Record struct {
	Title       string
	EntityID    string
	Geo         string
	CategoryID  int
	Rank        int
	VolumeLabel string
	GrowthPct   *int
	StartedAt   time.Time
	IsActive    bool
	FetchedAt   time.Time
}

// Identity returns the stable identity used for deduplication: the entity ID
// when the endpoint provides one, otherwise the normalized title. Two
// distinct same-named items without entity IDs collapse into one identity;
// that matches the upstream data, which gives us nothing better to go on.
func (r Record) Identity() string {
	if r.EntityID != "" {
		return r.EntityID
	}
	return NormalizeTitle(r.Title)
}

// NormalizeTitle canonicalizes a trend title for identity comparison:
// invisible characters are stripped, the text is NFKC-normalized and
// lowercased, and runs of whitespace collapse to a single space.
func NormalizeTitle(title string) string {
	if title == "" {
		return ""
	}

	stripped := strings.Map(func(r rune) rune {
		if isInvisible(r) {
			return -1
		}
		return r
	}, title)

	normalized := strings.ToLower(norm.NFKC.String(stripped))

	return strings.Join(strings.Fields(normalized), " ")
}

// isInvisible reports whether a rune is a zero-width or otherwise invisible
// character that upstream titles occasionally carry. Format-category runes
// cover the zero-width family (ZWSP through RLM, BOM, soft hyphen); the line
// and paragraph separators are listed separately because Unicode classes
// them as separators, not format characters.
func isInvisible(r rune) bool {
	if r == '\u2028' || r == '\u2029' {
		return true
	}
	return unicode.Is(unicode.Cf, r)
}
