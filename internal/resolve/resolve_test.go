package resolve

import (
	"strings"
	"testing"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/locator"
)

func parse(t *testing.T, src string) *domtree.Tree {
	t.Helper()
	tree, err := domtree.ParseString(src, "https://example.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tree
}

func roots(tree *domtree.Tree) []*domtree.Node {
	return []*domtree.Node{tree.Root}
}

func TestResolveUniqueCSS(t *testing.T) {
	tree := parse(t, `<html><body><button id="submit-btn">Submit</button></body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindCSS, Value: "#submit-btn"},
		},
		TagName: "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Reason)
	}
	if domtree.Attr(res.Element, "id") != "submit-btn" {
		t.Errorf("wrong element: %s", domtree.Attr(res.Element, "id"))
	}
	if res.Winner.Kind != locator.KindCSS {
		t.Errorf("winner: %s", res.Winner.Kind)
	}
}

func TestResolveFallsBackToTextWhenIDRemoved(t *testing.T) {
	// Recorded against #submit-btn (unique at record time); the id was
	// removed between recording and replay, but a button with the same
	// text survives.
	tree := parse(t, `<html><body><button class="cta">Submit</button></body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindCSS, Value: "#submit-btn", Features: locator.Features{UniqueAtRecord: true, MatchCountAtRecord: 1}},
			{Kind: locator.KindText, Value: "Submit"},
		},
		TagName: "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Reason)
	}
	if res.Winner.Kind != locator.KindText {
		t.Errorf("winner: %s, want text", res.Winner.Kind)
	}
	if domtree.Tag(res.Element) != "button" {
		t.Errorf("element tag: %s", domtree.Tag(res.Element))
	}
}

func TestResolveTestIDOutranksText(t *testing.T) {
	tree := parse(t, `<html><body>
		<button data-testid="checkout">Submit</button>
		<button>Submit</button>
	</body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindText, Value: "Submit"},
			{Kind: locator.KindTestID, Value: "checkout"},
		},
		TagName: "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Reason)
	}
	if res.Winner.Kind != locator.KindTestID {
		t.Errorf("winner: %s, want testid", res.Winner.Kind)
	}
}

func TestResolveIdempotent(t *testing.T) {
	tree := parse(t, `<html><body>
		<button data-testid="a">One</button>
		<button data-testid="b">Two</button>
	</body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindTestID, Value: "b"},
			{Kind: locator.KindText, Value: "Two"},
		},
		TagName: "button",
	}

	first := Resolve(b, roots(tree), DefaultWeights())
	second := Resolve(b, roots(tree), DefaultWeights())
	if first.Element != second.Element {
		t.Error("same bundle on unchanged tree returned different elements")
	}
	if first.Winner.Kind != second.Winner.Kind {
		t.Errorf("winning strategy changed: %s vs %s", first.Winner.Kind, second.Winner.Kind)
	}
}

func TestResolveNotFound(t *testing.T) {
	tree := parse(t, `<html><body><p>nothing here</p></body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindCSS, Value: "#gone"},
			{Kind: locator.KindText, Value: "Vanished"},
		},
		TagName: "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != NotFound {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	if len(res.Attempts) != 2 {
		t.Errorf("attempts: %d, want 2", len(res.Attempts))
	}
}

func TestResolveAmbiguousWithoutDisambiguators(t *testing.T) {
	tree := parse(t, `<html><body>
		<button class="edit">Edit</button>
		<button class="edit">Edit</button>
	</body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindCSS, Value: ".edit"},
		},
		TagName: "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Ambiguous {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	if len(res.Candidates) != 2 {
		t.Errorf("candidates: %d, want 2 (never silently pick index 0)", len(res.Candidates))
	}
}

func TestResolveDisambiguatorByHeading(t *testing.T) {
	tree := parse(t, `<html><body>
		<section><h2>Shipping</h2><button class="edit">Edit</button></section>
		<section><h2>Billing</h2><button class="edit">Edit</button></section>
	</body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindCSS, Value: ".edit"},
		},
		Disambiguators: []string{"Billing"},
		TagName:        "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Reason)
	}
	if !res.DisambiguatorUsed {
		t.Error("disambiguator should be flagged as used")
	}
	if h := domtree.AncestorHeading(res.Element); h != "Billing" {
		t.Errorf("picked element under %q", h)
	}
}

func TestResolveDisambiguatorExactBeatsSubstring(t *testing.T) {
	// Both rows contain "Acme Corp"; the exact-text row must win when
	// the disambiguator equals a cell text exactly.
	tree := parse(t, `<html><body><table>
		<tr><td>Acme Corp Inc</td><td><button class="edit">Edit</button></td></tr>
		<tr><td>Acme Corp</td><td><button class="edit">Edit</button></td></tr>
	</table></body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindCSS, Value: ".edit"},
		},
		Disambiguators: []string{"Acme Corp"},
		TagName:        "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Reason)
	}
	row := res.Element
	for domtree.Tag(row) != "tr" {
		row = row.Parent
	}
	if got := domtree.Text(row); got != "Acme Corp Edit" {
		t.Errorf("picked row %q, want the exact-text row", got)
	}
}

func TestResolveDisambiguatorExactMatchesCellDirectText(t *testing.T) {
	// The target row's cell nests a badge, so its full text is
	// "Acme Corp PRO"; the cell's direct text still reads exactly
	// "Acme Corp" and must win over the substring-only row.
	tree := parse(t, `<html><body><table>
		<tr><td>Acme Corp Inc</td><td><button class="edit">Edit</button></td></tr>
		<tr><td>Acme Corp <span class="badge">PRO</span></td><td><button class="edit">Edit</button></td></tr>
	</table></body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindCSS, Value: ".edit"},
		},
		Disambiguators: []string{"Acme Corp"},
		TagName:        "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Reason)
	}
	row := res.Element
	for domtree.Tag(row) != "tr" {
		row = row.Parent
	}
	if got := domtree.Text(row); !strings.Contains(got, "PRO") {
		t.Errorf("picked row %q, want the badged row", got)
	}
}

func TestResolveScopedNeverLeavesContainer(t *testing.T) {
	tree := parse(t, `<html><body>
		<div id="inside"><button class="go">Go</button></div>
		<div id="outside"><button class="go">Go</button></div>
	</body></html>`)
	container := domtree.QuerySelector(tree.Root, "#inside")

	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindCSS, Value: ".go"},
		},
		TagName: "button",
	}
	res := Resolve(b, []*domtree.Node{container}, DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Reason)
	}
	if !domtree.Contains(container, res.Element) {
		t.Error("resolved element escaped the scope container")
	}
}

func TestResolveSkipsHiddenMatches(t *testing.T) {
	tree := parse(t, `<html><body>
		<button class="go" style="display:none">Go</button>
		<button class="go">Go</button>
	</body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{{Kind: locator.KindCSS, Value: ".go"}},
		TagName:    "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s, the hidden twin should not count", res.Outcome)
	}
	if !domtree.Visible(res.Element) {
		t.Error("resolved a hidden element")
	}
}

func TestResolveDynamicTextPenalty(t *testing.T) {
	// Both strategies match one node; the text one carries a
	// likely_dynamic flag so the css one must win.
	tree := parse(t, `<html><body><span id="price">$ 42.17</span></body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{
			{Kind: locator.KindText, Value: "$ 42.17", Features: locator.Features{TextStability: locator.TextLikelyDynamic}},
			{Kind: locator.KindCSS, Value: "#price", Features: locator.Features{StableAttributes: true}},
		},
		TagName: "span",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	if res.Winner.Kind != locator.KindCSS {
		t.Errorf("winner: %s, want css (dynamic text must be penalised)", res.Winner.Kind)
	}
}

func TestResolvePositionStrategy(t *testing.T) {
	tree := parse(t, `<html><body>
		<button id="b" data-heal-bounds="100,200,80,30">Go</button>
	</body></html>`)
	b := &locator.Bundle{
		Strategies: []locator.Strategy{{Kind: locator.KindPosition, Value: "120,210"}},
		TagName:    "button",
	}

	res := Resolve(b, roots(tree), DefaultWeights())
	if res.Outcome != Resolved {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	if domtree.Attr(res.Element, "id") != "b" {
		t.Errorf("got %s", domtree.Attr(res.Element, "id"))
	}
}

func TestResolveInvalidBundle(t *testing.T) {
	tree := parse(t, `<html><body></body></html>`)
	res := Resolve(&locator.Bundle{}, roots(tree), DefaultWeights())
	if res.Outcome != NotFound || res.Reason == "" {
		t.Errorf("invalid bundle: outcome %s, reason %q", res.Outcome, res.Reason)
	}
}
