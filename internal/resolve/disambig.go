package resolve

import (
	"strings"

	"github.com/hazyhaar/domheal/domtree"
)

// disambiguate filters tied candidates with the bundle's disambiguator
// strings. Two passes: exact text equality against the candidate's
// surroundings first (a disambiguator "Acme Corp" must prefer the row
// whose cell reads exactly "Acme Corp" over "Acme Corp Inc"), then
// substring containment over nearby text. Returns the surviving set
// and, when exactly one survives either pass, that unique winner.
func disambiguate(candidates []*domtree.Node, disambiguators []string) ([]*domtree.Node, *domtree.Node) {
	if len(disambiguators) == 0 {
		return candidates, nil
	}

	exact := filter(candidates, disambiguators, matchesExact)
	if len(exact) == 1 {
		return exact, exact[0]
	}

	contained := filter(candidates, disambiguators, matchesContains)
	if len(contained) == 1 {
		return contained, contained[0]
	}
	if len(contained) > 0 {
		return contained, nil
	}
	// No candidate survived: surface the original set rather than an
	// empty one, so a human or AI disambiguator still has choices.
	return candidates, nil
}

func filter(candidates []*domtree.Node, disambiguators []string, match func(*domtree.Node, string) bool) []*domtree.Node {
	var out []*domtree.Node
	for _, c := range candidates {
		ok := true
		for _, d := range disambiguators {
			if !match(c, d) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

// matchesExact walks the candidate's ancestor chain looking for a
// sibling-level element (table cell, label, heading) whose text equals
// the disambiguator. Direct text counts even when the element nests
// extra markup, so a cell reading "Acme Corp <span>PRO</span>" still
// matches "Acme Corp" exactly.
func matchesExact(cand *domtree.Node, d string) bool {
	want := strings.TrimSpace(d)
	if domtree.Text(cand) == want {
		return true
	}
	for cur := cand.Parent; cur != nil; cur = cur.Parent {
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if domtree.Tag(c) == "" {
				continue
			}
			if domtree.Text(c) == want || domtree.OwnText(c) == want {
				return true
			}
		}
	}
	return false
}

// matchesContains checks the candidate's nearby text and ancestor
// heading for the disambiguator as a case-insensitive substring.
func matchesContains(cand *domtree.Node, d string) bool {
	want := strings.ToLower(strings.TrimSpace(d))
	return strings.Contains(strings.ToLower(domtree.NearbyText(cand)), want)
}
