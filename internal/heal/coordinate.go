package heal

import (
	"context"
	"fmt"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/locator"
)

// tierCoordinate hit-tests the recorded click point against the live
// tree, then samples a grid around it. Elements must match the recorded
// role/text/tag expectations; with no expectations at all, an
// interactive element at the exact point is accepted as-is.
func (c *Cascade) tierCoordinate(_ context.Context, rc *Context) *Result {
	pt := rc.Signature.ClickPoint
	if pt == nil && rc.Signature.BoundingBox != nil {
		center := rc.Signature.BoundingBox.Center()
		pt = &center
	}
	if pt == nil {
		return nil
	}

	sig := rc.Signature
	expect := hasExpectations(sig)

	if n := domtree.ElementAt(rc.Tree.Root, *pt); n != nil && domtree.Visible(n) {
		if expect {
			if score := signatureScore(n, sig); score > c.cfg.CoordinateThreshold {
				return &Result{
					Success:    true,
					Element:    n,
					Confidence: score,
					Reasoning:  fmt.Sprintf("element at recorded point (%.0f,%.0f) matches the signature", pt.X, pt.Y),
				}
			}
		} else if domtree.Interactive(n) {
			return &Result{
				Success:    true,
				Element:    n,
				Confidence: 0.5,
				Reasoning:  fmt.Sprintf("interactive element at recorded point (%.0f,%.0f); no recorded expectations to check", pt.X, pt.Y),
			}
		}
	}

	// Grid sampling needs expectations: without them every nearby
	// element would qualify.
	if !expect {
		return nil
	}

	seen := make(map[*domtree.Node]bool)
	var best *domtree.Node
	var bestScore float64
	for dx := -c.cfg.GridRadius; dx <= c.cfg.GridRadius; dx += c.cfg.GridStep {
		for dy := -c.cfg.GridRadius; dy <= c.cfg.GridRadius; dy += c.cfg.GridStep {
			p := locator.Point{X: pt.X + dx, Y: pt.Y + dy}
			n := domtree.ElementAt(rc.Tree.Root, p)
			if n == nil || seen[n] || !domtree.Visible(n) {
				continue
			}
			seen[n] = true
			if score := signatureScore(n, sig); score > bestScore {
				best = n
				bestScore = score
			}
		}
	}
	if best != nil && bestScore > c.cfg.GridThreshold {
		return &Result{
			Success:    true,
			Element:    best,
			Confidence: bestScore,
			Reasoning:  fmt.Sprintf("best signature match within %.0fpx of the recorded point", c.cfg.GridRadius),
		}
	}
	return nil
}
