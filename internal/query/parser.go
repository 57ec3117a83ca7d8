package query

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// KeywordParser is a deterministic stand-in for an LLM constraint-parsing
// provider. It extracts employment intents and salary figures from the query
// text and passes everything else through as keywords, behind the same
// interface the search pipeline uses for a remote parser.
type KeywordParser struct {
	confidence float64
}

// NewKeywordParser creates a keyword parser. The fixed confidence is attached
// to every payload; keep it above the normalizer's floor so extracted intents
// survive rebalancing.
func NewKeywordParser() *KeywordParser {
	return &KeywordParser{confidence: 0.5}
}

// intentPhrases maps surface forms in query text to canonical intents.
var intentPhrases = map[string]string{
	"full-time":  "full_time",
	"full time":  "full_time",
	"fulltime":   "full_time",
	"part-time":  "part_time",
	"part time":  "part_time",
	"contract":   "contract",
	"contractor": "contract",
	"freelance":  "freelance",
	"freelancer": "freelance",
	"intern":     "internship",
	"internship": "internship",
}

// stopwords are dropped from the keyword list. The list is intentionally
// small; over-filtering hurts lexical recall more than noise does.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"with": true, "for": true, "who": true, "has": true, "have": true,
	"in": true, "at": true, "of": true, "to": true, "is": true,
	"are": true, "looking": true, "find": true, "me": true, "someone": true,
}

// salaryPattern matches "$120k", "120k", "$120,000" and bare figures.
var salaryPattern = regexp.MustCompile(`\$?(\d{1,3}(?:,\d{3})+|\d+)(k|K)?`)

// tokenPattern splits on anything that is not a letter, digit, + or #, so
// "c++" and "c#" survive tokenization.
var tokenPattern = regexp.MustCompile(`[^\pL\pN+#]+`)

// Parse extracts a structured payload from free-form query text. It never
// returns an error; an unparseable query degrades to a keyword-only payload.
func (p *KeywordParser) Parse(_ context.Context, text string) (*ParsedPayload, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	payload := &ParsedPayload{Confidence: p.confidence}
	if lower == "" {
		return payload, nil
	}

	consumed := lower
	for phrase, intent := range intentPhrases {
		if strings.Contains(consumed, phrase) {
			if !containsString(payload.Must.Intents, intent) {
				payload.Must.Intents = append(payload.Must.Intents, intent)
			}
			consumed = strings.ReplaceAll(consumed, phrase, " ")
		}
	}

	consumed = p.extractSalary(consumed, payload)

	seen := make(map[string]bool)
	for _, tok := range tokenPattern.Split(consumed, -1) {
		if tok == "" || stopwords[tok] || seen[tok] {
			continue
		}
		if _, err := strconv.Atoi(tok); err == nil {
			continue
		}
		seen[tok] = true
		payload.Keywords = append(payload.Keywords, tok)
	}
	return payload, nil
}

// extractSalary pulls the first plausible salary figure out of the text and
// returns the text with the figure removed. "120k" means 120000; figures
// under 1000 without a k suffix are left alone as they are more likely a
// years-of-experience or team-size number.
func (p *KeywordParser) extractSalary(text string, payload *ParsedPayload) string {
	matches := salaryPattern.FindAllStringSubmatchIndex(text, -1)
	for _, m := range matches {
		raw := strings.ReplaceAll(text[m[2]:m[3]], ",", "")
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		hasK := m[4] != -1
		if hasK {
			n *= 1000
		}
		if n < 1000 {
			continue
		}
		payload.SalaryMin = &n
		return text[:m[0]] + " " + text[m[1]:]
	}
	return text
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
