package memory

import (
	"net/url"
	"regexp"
	"strings"
)

// Similarity weights. The four facets sum to 1; the ranking formula
// adds 0.3 times the entry's historical success rate on top.
const (
	weightDomain   = 0.3
	weightPageType = 0.2
	weightText     = 0.3
	weightSelector = 0.2
	weightHistory  = 0.3
)

// Query describes the failing step correction lookup is matching
// against.
type Query struct {
	PageURL  string
	PageType string
	Text     string
	Selector string
}

// similarity scores one stored entry against the query on the four
// facets.
func similarity(q Query, e *Entry) float64 {
	var score float64
	if d := domainOf(q.PageURL); d != "" && d == e.Domain {
		score += weightDomain
	}
	if q.PageType != "" && strings.EqualFold(q.PageType, e.PageType) {
		score += weightPageType
	}
	score += weightText * textSimilarity(q.Text, e.Signature.Text)
	score += weightSelector * selectorShapeSimilarity(q.Selector, e.OriginalSelector)
	return score
}

// rank is the retrieval ordering: facet similarity plus a history bonus
// for rules that actually keep working.
func rank(score float64, e *Entry) float64 {
	return score + weightHistory*e.successRate()
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
}

// textSimilarity is token overlap (Jaccard) over lowercased words.
func textSimilarity(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inA := make(map[string]bool, len(ta))
	for _, t := range ta {
		inA[t] = true
	}
	both := 0
	inB := make(map[string]bool, len(tb))
	for _, t := range tb {
		if inB[t] {
			continue
		}
		inB[t] = true
		if inA[t] {
			both++
		}
	}
	union := len(inA) + len(inB) - both
	return float64(both) / float64(union)
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(s)))
}

var (
	digitRun   = regexp.MustCompile(`\d+`)
	quotedPart = regexp.MustCompile(`(["'])[^"']*?(["'])`)
)

// selectorShape strips the volatile parts of a selector (digit runs,
// quoted values) so that "#item-123 > .row" and "#item-987 > .row"
// compare equal.
func selectorShape(sel string) string {
	s := strings.TrimSpace(sel)
	s = quotedPart.ReplaceAllString(s, `$1$2`)
	s = digitRun.ReplaceAllString(s, "N")
	return s
}

// selectorShapeSimilarity compares structural shapes: identical shape
// scores 1, a shared leading form (same id/class/attribute head) half,
// anything else zero.
func selectorShapeSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	sa, sb := selectorShape(a), selectorShape(b)
	if sa == sb {
		return 1
	}
	if headOf(sa) == headOf(sb) && headOf(sa) != "" {
		return 0.5
	}
	return 0
}

// headOf returns the first structural token of a shape: "#N" for ids,
// ".row" for classes, "[data-testid]" for attributes, the tag
// otherwise.
func headOf(shape string) string {
	fields := strings.Fields(shape)
	if len(fields) == 0 {
		return ""
	}
	head := fields[0]
	if i := strings.IndexAny(head[1:], "#.["); i >= 0 {
		head = head[:i+1]
	}
	return head
}
