package heal

import (
	"context"
	"fmt"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/internal/memory"
)

// tierLearned retrieves similar confirmed corrections and tries each
// one's concrete selector, then its generalised rule. The first that
// yields a visible live element wins at fixed high confidence, and the
// outcome is written back to memory either way.
func (c *Cascade) tierLearned(ctx context.Context, rc *Context) *Result {
	if c.memory == nil {
		return nil
	}
	matches, err := c.memory.FindSimilar(ctx, memory.Query{
		PageURL:  rc.Signature.PageURL,
		PageType: rc.Signature.PageType,
		Text:     rc.Signature.Text,
		Selector: rc.FailedSelector,
	}, c.cfg.LearnedLimit)
	if err != nil {
		c.logger.Warn("heal: correction lookup failed", "error", err)
		return nil
	}

	for _, m := range matches {
		entry := m.Entry
		if n, sel := c.applyCorrection(rc, entry); n != nil {
			if err := c.memory.RecordSuccess(ctx, entry.ID); err != nil {
				c.logger.Warn("heal: record correction success", "id", entry.ID, "error", err)
			}
			return &Result{
				Success:     true,
				Element:     n,
				Selector:    sel,
				Confidence:  c.cfg.LearnedConfidence,
				Reasoning:   fmt.Sprintf("learned correction %s (similarity %.2f) located the element", entry.ID, m.Score),
				LearnedFrom: entry,
			}
		}
		if err := c.memory.RecordFailure(ctx, entry.ID); err != nil {
			c.logger.Warn("heal: record correction failure", "id", entry.ID, "error", err)
		}
	}
	return nil
}

// applyCorrection tries an entry's concrete selector first, then its
// generalised pattern. Returns the element and the selector that found
// it.
func (c *Cascade) applyCorrection(rc *Context, entry *memory.Entry) (*domtree.Node, string) {
	if n := c.trySelector(rc, entry.CorrectedSelector); n != nil {
		return n, entry.CorrectedSelector
	}

	switch entry.Pattern.Kind {
	case memory.PatternRegex:
		if sel, ok := entry.Pattern.Apply(rc.FailedSelector); ok {
			if n := c.trySelector(rc, sel); n != nil {
				return n, sel
			}
		}
	case memory.PatternAttributes:
		if n := c.tryAttributes(rc, entry.Pattern.Attributes); n != nil {
			return n, domtree.SelectorFor(n)
		}
	}
	return nil, ""
}

// trySelector returns the best visible match for a selector, checked
// against the signature when one is available.
func (c *Cascade) trySelector(rc *Context, selector string) *domtree.Node {
	if selector == "" {
		return nil
	}
	nodes := domtree.QuerySelectorAll(rc.Tree.Root, selector)
	best, score := bestBySignature(nodes, rc.Signature)
	if best == nil {
		return nil
	}
	// A correction must not land on a clearly different element.
	if hasExpectations(rc.Signature) && score < 0.3 {
		return nil
	}
	return best
}

// tryAttributes re-queries the tree by the pattern's preferred
// attribute names, scored against the signature.
func (c *Cascade) tryAttributes(rc *Context, attrs []string) *domtree.Node {
	if !hasExpectations(rc.Signature) {
		return nil
	}
	for _, attr := range attrs {
		nodes := domtree.FindAll(rc.Tree.Root, func(n *domtree.Node) bool {
			return domtree.HasAttr(n, attr)
		})
		if best, score := bestBySignature(nodes, rc.Signature); best != nil && score > 0.5 {
			return best
		}
	}
	return nil
}
