package query

import (
	"regexp"
	"strconv"
)

// Card count bounds for one search. A card is one billed result.
const (
	MinCards = 1
	MaxCards = 24
)

// Patterns like "3 cards", "5 results", "top 10". Two digits is enough;
// anything larger is clamped anyway.
var (
	cardsAfterNumber  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(cards?|results?|people|profiles?|candidates?|matches)\b`)
	cardsBeforeNumber = regexp.MustCompile(`(?i)\b(top|first|best|give me|show me)\s+(\d{1,2})\b`)
)

// InferCardCount resolves the number of result cards for a search.
// An explicit request value wins; otherwise the query text is scanned for a
// count hint; otherwise the configured default applies. The result is always
// clamped to [MinCards, MaxCards].
func InferCardCount(requested int, queryText string, defaultCards int) int {
	if requested > 0 {
		return ClampCards(requested)
	}

	if m := cardsAfterNumber.FindStringSubmatch(queryText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return ClampCards(n)
		}
	}
	if m := cardsBeforeNumber.FindStringSubmatch(queryText); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			return ClampCards(n)
		}
	}

	return ClampCards(defaultCards)
}

// ClampCards bounds a card count to [MinCards, MaxCards].
func ClampCards(n int) int {
	if n < MinCards {
		return MinCards
	}
	if n > MaxCards {
		return MaxCards
	}
	return n
}
