package heal

import (
	"strings"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/locator"
)

// hasExpectations reports whether the signature carries anything to
// score a candidate against.
func hasExpectations(sig locator.Signature) bool {
	return sig.TagName != "" || sig.Role != "" || sig.Text != "" || sig.Name != ""
}

// signatureScore rates how well a live element matches the recorded
// signature, in [0,1], normalised over the facets the signature
// actually carries.
func signatureScore(n *domtree.Node, sig locator.Signature) float64 {
	var total, got float64

	if sig.TagName != "" {
		total += 0.2
		if strings.EqualFold(domtree.Tag(n), sig.TagName) {
			got += 0.2
		}
	}
	if sig.Role != "" {
		total += 0.3
		if domtree.Role(n) == sig.Role {
			got += 0.3
		}
	}

	want := sig.Text
	if want == "" {
		want = sig.Name
	}
	if want != "" {
		total += 0.5
		have := domtree.Text(n)
		if have == "" {
			have = domtree.AccessibleName(n)
		}
		got += 0.5 * textScore(have, want)
	}

	if total == 0 {
		return 0
	}
	return got / total
}

// textScore compares element text to the expected text: exact beats
// containment beats token overlap.
func textScore(have, want string) float64 {
	h := strings.ToLower(strings.TrimSpace(have))
	w := strings.ToLower(strings.TrimSpace(want))
	if h == "" || w == "" {
		return 0
	}
	if h == w {
		return 1
	}
	if strings.Contains(h, w) || strings.Contains(w, h) {
		return 0.7
	}
	return 0.5 * tokenOverlap(h, w)
}

func tokenOverlap(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	shared := 0
	for _, t := range tb {
		if set[t] {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	denom := len(ta)
	if len(tb) > denom {
		denom = len(tb)
	}
	return float64(shared) / float64(denom)
}

// bestBySignature returns the highest-scoring visible node, with its
// score.
func bestBySignature(nodes []*domtree.Node, sig locator.Signature) (*domtree.Node, float64) {
	var best *domtree.Node
	var bestScore float64
	for _, n := range nodes {
		if !domtree.Visible(n) {
			continue
		}
		if s := signatureScore(n, sig); best == nil || s > bestScore {
			best = n
			bestScore = s
		}
	}
	return best, bestScore
}
