// Package verify evaluates compound success conditions against the
// live tree to confirm an action's effect before the next step runs.
// Leaves poll at a fixed interval, each within its own timeout budget;
// All short-circuits on the first failing child, Any on the first
// passing one. A compound condition therefore finishes at its slowest
// satisfied leaf, never at the sum of all budgets.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/internal/scope"
	"github.com/hazyhaar/domheal/locator"
)

// DefaultInterval is the leaf polling interval.
const DefaultInterval = 200 * time.Millisecond

// Provider supplies a fresh snapshot of the live tree for each poll.
type Provider func(ctx context.Context) (*domtree.Tree, error)

// Static wraps an immutable tree as a Provider, for hosts that verify
// against a single snapshot.
func Static(tree *domtree.Tree) Provider {
	return func(context.Context) (*domtree.Tree, error) { return tree, nil }
}

// Result is the outcome of one condition evaluation.
type Result struct {
	Passed   bool          `json:"passed"`
	TimedOut bool          `json:"timed_out"`
	Reason   string        `json:"reason,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Verifier evaluates condition trees.
type Verifier struct {
	Interval time.Duration
	// BaselineURL anchors url_changed conditions: the page URL when the
	// step's action fired.
	BaselineURL string

	provider Provider
}

// New creates a Verifier polling the given provider.
func New(p Provider) *Verifier {
	return &Verifier{Interval: DefaultInterval, provider: p}
}

// Evaluate walks the condition tree. The returned error covers only
// structural problems and context cancellation; an unsatisfied
// condition is a Result with Passed false and a readable reason.
func (v *Verifier) Evaluate(ctx context.Context, cond *locator.Condition) (*Result, error) {
	if err := cond.Validate(); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	start := time.Now()
	res, err := v.eval(ctx, cond)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (v *Verifier) eval(ctx context.Context, cond *locator.Condition) (*Result, error) {
	switch cond.Op {
	case locator.OpAll:
		// Empty conjunction is vacuously satisfied.
		for _, ch := range cond.Children {
			res, err := v.eval(ctx, ch)
			if err != nil {
				return nil, err
			}
			if !res.Passed {
				return res, nil
			}
		}
		return &Result{Passed: true}, nil

	case locator.OpAny:
		if len(cond.Children) == 0 {
			return &Result{Passed: false, Reason: "empty any() is never satisfied"}, nil
		}
		var reasons []string
		timedOut := false
		for _, ch := range cond.Children {
			res, err := v.eval(ctx, ch)
			if err != nil {
				return nil, err
			}
			if res.Passed {
				return res, nil
			}
			timedOut = timedOut || res.TimedOut
			if res.Reason != "" {
				reasons = append(reasons, res.Reason)
			}
		}
		return &Result{TimedOut: timedOut, Reason: "no branch satisfied: " + strings.Join(reasons, "; ")}, nil

	case locator.OpNot:
		res, err := v.eval(ctx, cond.Child)
		if err != nil {
			return nil, err
		}
		if res.Passed {
			return &Result{Reason: "negated condition was satisfied"}, nil
		}
		return &Result{Passed: true}, nil

	case locator.OpElement:
		leaf := cond.Element
		return v.waitLeaf(ctx, leaf.Timeout, describeElement(leaf), func(tree *domtree.Tree) bool {
			return checkElement(tree, leaf)
		})

	case locator.OpState:
		leaf := cond.State
		return v.waitLeaf(ctx, leaf.Timeout, describeState(leaf), v.stateCheck(leaf))

	default:
		return nil, fmt.Errorf("verify: unknown condition op %q", cond.Op)
	}
}

// waitLeaf polls one predicate until it is satisfied or its own budget
// elapses. Transient provider errors count as unsatisfied polls.
func (v *Verifier) waitLeaf(ctx context.Context, timeout time.Duration, what string, check func(*domtree.Tree) bool) (*Result, error) {
	interval := v.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		tree, err := v.provider(ctx)
		if err != nil {
			lastErr = err
		} else if check(tree) {
			return &Result{Passed: true}, nil
		}

		if !time.Now().Before(deadline) {
			reason := fmt.Sprintf("%s: not satisfied within %s", what, timeout)
			if lastErr != nil {
				reason += fmt.Sprintf(" (last snapshot error: %v)", lastErr)
			}
			return &Result{TimedOut: true, Reason: reason}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("verify: %s: %w", what, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// checkElement evaluates one element predicate against a snapshot.
func checkElement(tree *domtree.Tree, leaf *locator.ElementLeaf) bool {
	roots := []*domtree.Node{tree.Root}
	if leaf.Scope != nil {
		containers, err := scope.ResolveAll(leaf.Scope, tree)
		if err != nil {
			// Scope gone: element_gone is trivially true, everything
			// else keeps waiting.
			return leaf.Type == locator.ElementGone
		}
		roots = containers
	}

	var visible []*domtree.Node
	for _, root := range roots {
		for _, n := range domtree.QuerySelectorAll(root, leaf.Target) {
			if domtree.Visible(n) {
				visible = append(visible, n)
			}
		}
	}

	switch leaf.Type {
	case locator.ElementVisible:
		return len(visible) > 0
	case locator.ElementGone:
		return len(visible) == 0
	case locator.ElementEnabled:
		for _, n := range visible {
			if domtree.Enabled(n) {
				return true
			}
		}
		return false
	case locator.ElementChecked:
		for _, n := range visible {
			if domtree.Checked(n) {
				return true
			}
		}
		return false
	case locator.ElementHasText:
		want := strings.ToLower(strings.TrimSpace(leaf.ExpectedValue))
		for _, n := range visible {
			if strings.Contains(strings.ToLower(domtree.Text(n)), want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// stateCheck builds the poll predicate for one page-state leaf. The
// dom_stable check compares consecutive snapshot hashes, so it closes
// over the previous poll's hash.
func (v *Verifier) stateCheck(leaf *locator.StateLeaf) func(*domtree.Tree) bool {
	var prevHash string
	return func(tree *domtree.Tree) bool {
		switch leaf.Type {
		case locator.StateURLChanged:
			return tree.URL != v.BaselineURL
		case locator.StateURLContains:
			return strings.Contains(tree.URL, leaf.Value)
		case locator.StateTextPresent:
			return containsFold(tree.Text(), leaf.Value)
		case locator.StateTextGone:
			return !containsFold(tree.Text(), leaf.Value)
		case locator.StateDOMStable:
			h := tree.Hash()
			stable := prevHash != "" && h == prevHash
			prevHash = h
			return stable
		case locator.StateNoLoading:
			return !domtree.HasLoadingIndicators(tree.Root)
		default:
			return false
		}
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func describeElement(leaf *locator.ElementLeaf) string {
	return fmt.Sprintf("%s(%s)", leaf.Type, leaf.Target)
}

func describeState(leaf *locator.StateLeaf) string {
	if leaf.Value == "" {
		return string(leaf.Type)
	}
	return fmt.Sprintf("%s(%s)", leaf.Type, leaf.Value)
}
