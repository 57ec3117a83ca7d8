package explain

import (
	"errors"
	"strings"
)

// MaxReasonLength is the hard cap on one explanation line.
const MaxReasonLength = 140

// maxWordRepeats is the most often a single word may appear in one reason
// before it counts as spam.
const maxWordRepeats = 3

var (
	// ErrEmptyReason rejects blank lines.
	ErrEmptyReason = errors.New("empty reason")
	// ErrReasonTooLong rejects lines over MaxReasonLength.
	ErrReasonTooLong = errors.New("reason exceeds maximum length")
	// ErrRepeatedWords rejects repeated-word spam.
	ErrRepeatedWords = errors.New("reason repeats the same word")
)

// ValidateReason checks one candidate explanation line.
func ValidateReason(reason string) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return ErrEmptyReason
	}
	if len([]rune(trimmed)) > MaxReasonLength {
		return ErrReasonTooLong
	}

	counts := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(trimmed)) {
		word = strings.Trim(word, ".,;:!?()\"'")
		if len(word) < 3 {
			continue
		}
		counts[word]++
		if counts[word] > maxWordRepeats {
			return ErrRepeatedWords
		}
	}
	return nil
}

// FilterReasons keeps the valid, deduplicated prefix of candidate reasons,
// bounded to MaxReasons. Server-provided reasons only replace the
// deterministic fallback when at least one survives.
func FilterReasons(candidates []string) []string {
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if err := ValidateReason(c); err != nil {
			continue
		}
		duplicate := false
		for _, existing := range out {
			if strings.EqualFold(existing, c) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		out = append(out, c)
		if len(out) >= MaxReasons {
			break
		}
	}
	return out
}
