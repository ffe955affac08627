// Package resolve ranks and evaluates locator strategies against the
// live tree inside a resolved scope. Every strategy is evaluated
// independently, never short-circuited, so a lower-priority strategy
// that is currently unique can outscore a higher-priority strategy that
// now matches zero or many nodes. Record-time facts only nudge the
// score; the live match count decides.
package resolve

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/locator"
)

// Outcome classifies a resolution result.
type Outcome string

const (
	Resolved  Outcome = "resolved"
	Ambiguous Outcome = "ambiguous"
	NotFound  Outcome = "not_found"
)

// Weights are the tunable scoring heuristics. The exact balance between
// live-uniqueness and stable-attribute bonuses is configuration, not
// gospel; hosts should tune them against their own replay corpus.
type Weights struct {
	Priority       map[locator.Kind]float64 `yaml:"priority"`
	IDBoost        float64                  `yaml:"id_boost"`        // css selectors rooted on an explicit #id
	LiveUnique     float64                  `yaml:"live_unique"`     // strategy currently matches exactly one node
	Stability      float64                  `yaml:"stability"`       // stable attributes, no dynamic parts
	DynamicPenalty float64                  `yaml:"dynamic_penalty"` // text flagged likely_dynamic at record time
}

// DefaultWeights returns the stock scoring configuration: stable
// identifiers (test-id, explicit id, aria-label) outrank role/text,
// which outrank pure text, which outrank XPath and position.
func DefaultWeights() Weights {
	return Weights{
		Priority: map[locator.Kind]float64{
			locator.KindTestID:   1.0,
			locator.KindARIA:     0.9,
			locator.KindCSS:      0.65,
			locator.KindRole:     0.6,
			locator.KindText:     0.5,
			locator.KindXPath:    0.3,
			locator.KindPosition: 0.15,
			locator.KindVisual:   0.1,
		},
		IDBoost:        0.25,
		LiveUnique:     0.3,
		Stability:      0.15,
		DynamicPenalty: 0.2,
	}
}

// Attempt records one strategy's live evaluation, kept for
// instrumentation regardless of who wins.
type Attempt struct {
	Strategy locator.Strategy `json:"strategy"`
	Matches  int              `json:"matches"`
	Score    float64          `json:"score"`
}

// Resolution is the outcome of resolving a bundle inside a scope.
type Resolution struct {
	Outcome           Outcome
	Element           *domtree.Node
	Winner            *locator.Strategy
	Candidates        []*domtree.Node // populated when Ambiguous
	Attempts          []Attempt
	DisambiguatorUsed bool
	Reason            string
}

// Resolve evaluates every strategy of the bundle inside the given scope
// containers and returns the unique match, an ambiguous candidate set,
// or not-found. Containers are the output of scope resolution; matches
// never leave them.
func Resolve(bundle *locator.Bundle, containers []*domtree.Node, w Weights) *Resolution {
	res := &Resolution{Outcome: NotFound}
	if err := bundle.Validate(); err != nil {
		res.Reason = err.Error()
		return res
	}

	type evaluated struct {
		strategy *locator.Strategy
		matches  []*domtree.Node
		score    float64
	}
	var best *evaluated

	for i := range bundle.Strategies {
		s := &bundle.Strategies[i]
		matches := query(s, containers)
		score := score(s, len(matches), w)
		res.Attempts = append(res.Attempts, Attempt{Strategy: *s, Matches: len(matches), Score: score})

		if len(matches) == 0 {
			continue // StrategyNoMatch: excluded from scoring, not fatal
		}
		if best == nil || score > best.score {
			best = &evaluated{strategy: s, matches: matches, score: score}
		}
	}

	if best == nil {
		res.Reason = fmt.Sprintf("no strategy matched any live node in scope (%d tried)", len(bundle.Strategies))
		return res
	}

	res.Winner = best.strategy
	if len(best.matches) == 1 {
		res.Outcome = Resolved
		res.Element = best.matches[0]
		return res
	}

	// Multiple live matches: let disambiguators break the tie.
	filtered, unique := disambiguate(best.matches, bundle.Disambiguators)
	if unique != nil {
		res.Outcome = Resolved
		res.Element = unique
		res.DisambiguatorUsed = true
		return res
	}

	res.Outcome = Ambiguous
	res.Candidates = filtered
	res.Reason = fmt.Sprintf("strategy %s matched %d nodes; disambiguators left %d",
		best.strategy, len(best.matches), len(filtered))
	return res
}

// query runs one strategy's selection mechanism inside each container
// and merges the visible matches in document order.
func query(s *locator.Strategy, containers []*domtree.Node) []*domtree.Node {
	var out []*domtree.Node
	seen := make(map[*domtree.Node]bool)
	for _, c := range containers {
		for _, n := range queryOne(s, c) {
			if !seen[n] && domtree.Visible(n) {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func queryOne(s *locator.Strategy, container *domtree.Node) []*domtree.Node {
	switch s.Kind {
	case locator.KindCSS:
		return domtree.QuerySelectorAll(container, s.Value)
	case locator.KindXPath:
		return domtree.XPathAll(container, s.Value)
	case locator.KindText:
		if exact := domtree.ByText(container, s.Value, true); len(exact) > 0 {
			return exact
		}
		return domtree.ByText(container, s.Value, false)
	case locator.KindARIA:
		if exact := domtree.ByAccessibleName(container, s.Value, true); len(exact) > 0 {
			return exact
		}
		return domtree.ByAccessibleName(container, s.Value, false)
	case locator.KindRole:
		matches := domtree.ByRole(container, s.Value)
		// A bare role matches broadly; recorded text narrows it.
		if txt := s.Features.RecordedText; txt != "" {
			var narrowed []*domtree.Node
			for _, n := range matches {
				if strings.Contains(strings.ToLower(domtree.Text(n)), strings.ToLower(txt)) {
					narrowed = append(narrowed, n)
				}
			}
			if len(narrowed) > 0 {
				return narrowed
			}
		}
		return matches
	case locator.KindTestID:
		return domtree.ByTestID(container, s.Value)
	case locator.KindPosition:
		pt, ok := parsePoint(s.Value)
		if !ok {
			return nil
		}
		if n := domtree.ElementAt(container, pt); n != nil {
			return []*domtree.Node{n}
		}
		return nil
	case locator.KindVisual:
		// Visual strategies cannot be evaluated structurally; the
		// recovery cascade owns them.
		return nil
	default:
		return nil
	}
}

// score computes the runtime score of one strategy from its live match
// count and record-time hints.
func score(s *locator.Strategy, matches int, w Weights) float64 {
	base := w.Priority[s.Kind]
	if s.Kind == locator.KindCSS && strings.HasPrefix(strings.TrimSpace(s.Value), "#") {
		base += w.IDBoost
	}

	sc := base
	if matches == 1 {
		sc += w.LiveUnique
	}
	if s.Features.StableAttributes && !s.Features.DynamicParts {
		sc += w.Stability
	}
	if s.Features.TextStability == locator.TextLikelyDynamic {
		sc -= w.DynamicPenalty
	}
	return sc
}

func parsePoint(v string) (locator.Point, bool) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return locator.Point{}, false
	}
	var p locator.Point
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%f", &p.X); err != nil {
		return locator.Point{}, false
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%f", &p.Y); err != nil {
		return locator.Point{}, false
	}
	return p, true
}
