package heal

import (
	"context"
	"fmt"

	"github.com/hazyhaar/domheal/domtree"
)

// tierTextSearch is the last resort: scan for the recorded text, exact
// first, substring second, preferring interactive elements for
// interactive targets.
func (c *Cascade) tierTextSearch(_ context.Context, rc *Context) *Result {
	want := rc.Signature.Text
	if want == "" {
		want = rc.Signature.Name
	}
	if want == "" {
		return nil
	}

	if n := c.pickTextMatch(rc, want, true); n != nil {
		return &Result{
			Success:    true,
			Element:    n,
			Confidence: 0.6,
			Reasoning:  fmt.Sprintf("exact text match for %q", want),
		}
	}
	if n := c.pickTextMatch(rc, want, false); n != nil {
		return &Result{
			Success:    true,
			Element:    n,
			Confidence: 0.45,
			Reasoning:  fmt.Sprintf("substring text match for %q", want),
		}
	}
	return nil
}

func (c *Cascade) pickTextMatch(rc *Context, want string, exact bool) *domtree.Node {
	matches := domtree.ByText(rc.Tree.Root, want, exact)
	var fallback *domtree.Node
	for _, n := range matches {
		if !domtree.Visible(n) {
			continue
		}
		if rc.Signature.Interactive {
			if in := interactiveSelfOrAncestor(n); in != nil {
				return in
			}
			continue
		}
		if fallback == nil {
			fallback = n
		}
	}
	return fallback
}

func interactiveSelfOrAncestor(n *domtree.Node) *domtree.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if domtree.Interactive(cur) {
			return cur
		}
	}
	return nil
}
