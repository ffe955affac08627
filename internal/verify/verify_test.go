package verify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/locator"
)

func parse(t *testing.T, src, url string) *domtree.Tree {
	t.Helper()
	tree, err := domtree.ParseString(src, url)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tree
}

// seqProvider returns each tree in turn, repeating the last one.
func seqProvider(trees ...*domtree.Tree) Provider {
	i := 0
	return func(context.Context) (*domtree.Tree, error) {
		t := trees[i]
		if i < len(trees)-1 {
			i++
		}
		return t, nil
	}
}

func fastVerifier(p Provider) *Verifier {
	v := New(p)
	v.Interval = 2 * time.Millisecond
	return v
}

func TestEmptyAllPasses(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body></body></html>`, "")))
	res, err := v.Evaluate(context.Background(), locator.All())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Error("empty all() must pass vacuously")
	}
}

func TestEmptyAnyNeverPasses(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body></body></html>`, "")))
	res, err := v.Evaluate(context.Background(), locator.Any())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed {
		t.Error("empty any() must never pass")
	}
}

func TestElementVisible(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body><div id="result">done</div></body></html>`, "")))
	res, err := v.Evaluate(context.Background(), locator.VisibleWithin("#result", 50*time.Millisecond))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestElementVisibleTimesOut(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body></body></html>`, "")))
	res, err := v.Evaluate(context.Background(), locator.VisibleWithin("#result", 20*time.Millisecond))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed || !res.TimedOut {
		t.Fatalf("res = %+v, want timeout", res)
	}
	if !strings.Contains(res.Reason, "#result") {
		t.Errorf("reason should name the target: %q", res.Reason)
	}
}

func TestSpinnerThenResultFinishesEarly(t *testing.T) {
	loading := parse(t, `<html><body><div id="spinner">loading</div></body></html>`, "")
	blank := parse(t, `<html><body></body></html>`, "")
	done := parse(t, `<html><body><div id="result">ok</div></body></html>`, "")

	// Spinner disappears on the second poll, result appears two polls
	// later. Each leaf stops polling once satisfied, so the whole
	// conjunction completes long before the 300ms budgets add up.
	v := fastVerifier(seqProvider(loading, blank, blank, done))
	cond := locator.All(
		locator.GoneWithin("#spinner", 300*time.Millisecond),
		locator.VisibleWithin("#result", 300*time.Millisecond),
	)

	res, err := v.Evaluate(context.Background(), cond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("not passed: %s", res.Reason)
	}
	if res.Elapsed >= 300*time.Millisecond {
		t.Errorf("elapsed %s, leaves did not stop early", res.Elapsed)
	}
}

func TestAllShortCircuitsOnFailure(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body><div id="b">x</div></body></html>`, "")))
	cond := locator.All(
		locator.VisibleWithin("#a", 20*time.Millisecond),
		locator.VisibleWithin("#b", 20*time.Millisecond),
	)

	start := time.Now()
	res, err := v.Evaluate(context.Background(), cond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed {
		t.Fatal("must fail on first child")
	}
	if !strings.Contains(res.Reason, "#a") {
		t.Errorf("reason = %q, want the failing child's target", res.Reason)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("second child was evaluated after the first failed")
	}
}

func TestAnyPassesOnSecondBranch(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body><div id="b">x</div></body></html>`, "")))
	cond := locator.Any(
		locator.VisibleWithin("#a", 10*time.Millisecond),
		locator.VisibleWithin("#b", 10*time.Millisecond),
	)
	res, err := v.Evaluate(context.Background(), cond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestNotInverts(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body><div id="err">oops</div></body></html>`, "")))
	res, err := v.Evaluate(context.Background(),
		locator.Not(locator.VisibleWithin("#err", 10*time.Millisecond)))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed {
		t.Error("visible error banner should fail the negation")
	}

	res, err = v.Evaluate(context.Background(),
		locator.Not(locator.VisibleWithin("#absent", 10*time.Millisecond)))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Error("absent element should satisfy the negation")
	}
}

func TestURLChanged(t *testing.T) {
	before := parse(t, `<html><body></body></html>`, "https://example.com/cart")
	after := parse(t, `<html><body></body></html>`, "https://example.com/checkout")

	v := fastVerifier(seqProvider(before, after))
	v.BaselineURL = "https://example.com/cart"

	res, err := v.Evaluate(context.Background(), locator.State(locator.StateLeaf{
		Type: locator.StateURLChanged, Timeout: 100 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestURLContains(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body></body></html>`, "https://example.com/orders/42")))
	res, err := v.Evaluate(context.Background(), locator.URLContainsWithin("/orders/", 20*time.Millisecond))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestDOMStable(t *testing.T) {
	a := parse(t, `<html><body><p>one</p></body></html>`, "")
	b := parse(t, `<html><body><p>one</p><p>two</p></body></html>`, "")

	// Changes between the first polls, then settles on b.
	v := fastVerifier(seqProvider(a, b, b, b))
	res, err := v.Evaluate(context.Background(), locator.State(locator.StateLeaf{
		Type: locator.StateDOMStable, Timeout: 200 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestTextPresentAndGone(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body><p>Order confirmed</p></body></html>`, "")))

	res, err := v.Evaluate(context.Background(), locator.State(locator.StateLeaf{
		Type: locator.StateTextPresent, Value: "order confirmed", Timeout: 20 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("text_present: %s", res.Reason)
	}

	res, err = v.Evaluate(context.Background(), locator.State(locator.StateLeaf{
		Type: locator.StateTextGone, Value: "Processing", Timeout: 20 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("text_gone: %s", res.Reason)
	}
}

func TestNoLoadingIndicators(t *testing.T) {
	busy := parse(t, `<html><body><div class="spinner"></div></body></html>`, "")
	idle := parse(t, `<html><body><p>done</p></body></html>`, "")

	v := fastVerifier(seqProvider(busy, busy, idle))
	res, err := v.Evaluate(context.Background(), locator.State(locator.StateLeaf{
		Type: locator.StateNoLoading, Timeout: 200 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestElementConditionWithScope(t *testing.T) {
	tree := parse(t, `<html><body>
		<div role="dialog"><button id="ok">OK</button></div>
		<button id="other">OK</button>
	</body></html>`, "")

	v := fastVerifier(Static(tree))
	res, err := v.Evaluate(context.Background(), locator.Element(locator.ElementLeaf{
		Type:    locator.ElementVisible,
		Target:  "#ok",
		Scope:   locator.ModalScope(""),
		Timeout: 20 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestElementGoneWhenScopeGone(t *testing.T) {
	// The whole modal is gone: any element inside it is gone too.
	v := fastVerifier(Static(parse(t, `<html><body><p>page</p></body></html>`, "")))
	res, err := v.Evaluate(context.Background(), locator.Element(locator.ElementLeaf{
		Type:    locator.ElementGone,
		Target:  "#ok",
		Scope:   locator.ModalScope(""),
		Timeout: 20 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Errorf("not passed: %s", res.Reason)
	}
}

func TestCancelledContext(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body></body></html>`, "")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Evaluate(ctx, locator.VisibleWithin("#never", time.Second))
	if err == nil {
		t.Fatal("cancelled context must surface as an error")
	}
}

func TestInvalidCondition(t *testing.T) {
	v := fastVerifier(Static(parse(t, `<html><body></body></html>`, "")))
	_, err := v.Evaluate(context.Background(), &locator.Condition{Op: locator.OpElement})
	if err == nil {
		t.Fatal("missing element leaf must be rejected")
	}
}
