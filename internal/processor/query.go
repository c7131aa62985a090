package processor

import (
	"regexp"
	"sort"
	"strings"
)

// Query is one incoming request after understanding. Immutable once built.
type Query struct {
	Raw        string
	Normalized string
	Entities   []string
	// Form is the boost profile selector: "interrogative" or "default".
	Form string
	// SubQueries is the ordered decomposition; empty when the query is atomic.
	SubQueries []string
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// questionWords marks interrogative queries, which favor FAQ chunks.
var questionWords = []string{
	"как", "что", "где", "когда", "почему", "зачем", "какой", "какая",
	"какие", "сколько", "куда", "можно ли", "нужно ли",
	"how", "what", "where", "when", "why", "which", "can", "does", "is",
}

// domainTerms is the support-domain lexicon used for entity extraction.
var domainTerms = []string{
	"маршрутизация", "канал", "оператор", "виджет", "бот", "интеграция",
	"очередь", "тред", "статус", "уведомление", "шаблон", "тариф",
	"api", "webhook", "telegram", "whatsapp", "sdk", "sso", "crm",
}

// NewQuery normalizes the raw message, extracts entities, classifies the
// query form, and decomposes compound questions into at most maxSubQueries
// sub-queries.
func NewQuery(raw string, maxSubQueries int) Query {
	normalized := Normalize(raw)
	return Query{
		Raw:        raw,
		Normalized: normalized,
		Entities:   ExtractEntities(normalized),
		Form:       classifyForm(normalized),
		SubQueries: Decompose(normalized, maxSubQueries),
	}
}

// Normalize lowercases, collapses whitespace, and strips trailing
// punctuation noise. The question mark is kept: it drives form detection.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimRight(s, ".!,;: ")
	return s
}

// ExtractEntities returns the domain terms present in the normalized text,
// sorted for determinism.
func ExtractEntities(normalized string) []string {
	seen := make(map[string]bool)
	for _, term := range domainTerms {
		if strings.Contains(normalized, term) {
			seen[term] = true
		}
	}
	out := make([]string, 0, len(seen))
	for term := range seen {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

func classifyForm(normalized string) string {
	if strings.Contains(normalized, "?") {
		return "interrogative"
	}
	for _, w := range questionWords {
		if strings.HasPrefix(normalized, w+" ") {
			return "interrogative"
		}
	}
	return "default"
}

// Decompose splits a compound message into individual questions. A message
// with a single question is atomic and yields no sub-queries.
func Decompose(normalized string, maxSubQueries int) []string {
	if maxSubQueries <= 1 {
		return nil
	}
	parts := strings.Split(normalized, "?")
	subs := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			subs = append(subs, s+"?")
		}
	}
	if len(subs) < 2 {
		return nil
	}
	if len(subs) > maxSubQueries {
		subs = subs[:maxSubQueries]
	}
	return subs
}
