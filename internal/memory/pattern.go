package memory

import (
	"regexp"
	"strings"
)

// PatternKind selects how a learned rule generalises a fix.
type PatternKind string

const (
	// PatternRegex rewrites the changed fragment of a selector, learned
	// from the common prefix/suffix of the old and new selectors.
	PatternRegex PatternKind = "regex_transform"
	// PatternAttributes lists attribute names the corrected selector
	// relied on; recovery re-queries the live tree by those attributes.
	PatternAttributes PatternKind = "preferred_attributes"
	// PatternNone means no generalisation was possible; only the
	// concrete corrected selector is reusable.
	PatternNone PatternKind = "none"
)

// Pattern is the generalised form of one confirmed correction.
type Pattern struct {
	Kind       PatternKind `json:"kind"`
	Find       string      `json:"find,omitempty"`
	Replace    string      `json:"replace,omitempty"`
	Attributes []string    `json:"attributes,omitempty"`
}

// attrSelector pulls attribute names out of selector fragments like
// [data-testid="x"] or [aria-label='y'].
var attrSelector = regexp.MustCompile(`\[([a-zA-Z0-9_-]+)\s*[*^$|~]?=`)

// InferPattern derives a reusable rule from an old/new selector pair.
// When the selectors share structure (a meaningful common prefix or
// suffix) the changed middle becomes a regex rewrite; otherwise the
// attributes the corrected selector leans on become a preferred list.
func InferPattern(oldSel, newSel string) Pattern {
	oldSel = strings.TrimSpace(oldSel)
	newSel = strings.TrimSpace(newSel)
	if oldSel == "" || newSel == "" || oldSel == newSel {
		return Pattern{Kind: PatternNone}
	}

	prefix := commonPrefix(oldSel, newSel)
	suffix := commonSuffix(oldSel[len(prefix):], newSel[len(prefix):])

	// Require the shared structure to dominate the old selector,
	// otherwise the "rewrite" would just be a wholesale replacement.
	if len(prefix)+len(suffix) >= len(oldSel)/2 && len(prefix)+len(suffix) >= 3 {
		oldMid := oldSel[len(prefix) : len(oldSel)-len(suffix)]
		newMid := newSel[len(prefix) : len(newSel)-len(suffix)]
		if oldMid != "" {
			return Pattern{
				Kind:    PatternRegex,
				Find:    regexp.QuoteMeta(oldMid),
				Replace: newMid,
			}
		}
	}

	if attrs := preferredAttributes(newSel); len(attrs) > 0 {
		return Pattern{Kind: PatternAttributes, Attributes: attrs}
	}
	return Pattern{Kind: PatternNone}
}

// Apply rewrites a broken selector with a regex-transform rule. The
// second return is false when the rule does not apply (wrong kind, bad
// regex, or no occurrence to rewrite).
func (p Pattern) Apply(selector string) (string, bool) {
	if p.Kind != PatternRegex || p.Find == "" {
		return "", false
	}
	re, err := regexp.Compile(p.Find)
	if err != nil {
		return "", false
	}
	if !re.MatchString(selector) {
		return "", false
	}
	return re.ReplaceAllLiteralString(selector, p.Replace), true
}

// preferredAttributes extracts the stable attribute names a selector
// leans on, id first.
func preferredAttributes(selector string) []string {
	var attrs []string
	seen := make(map[string]bool)
	add := func(a string) {
		if !seen[a] {
			seen[a] = true
			attrs = append(attrs, a)
		}
	}
	if strings.Contains(selector, "#") {
		add("id")
	}
	for _, m := range attrSelector.FindAllStringSubmatch(selector, -1) {
		add(m[1])
	}
	return attrs
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func commonSuffix(a, b string) string {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return a[len(a)-i:]
}
