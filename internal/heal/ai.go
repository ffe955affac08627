package heal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/internal/aiclient"
	"github.com/hazyhaar/domheal/locator"
)

// candidateTolerance expands the recorded bounding box when filtering
// semantic candidates geometrically.
const candidateTolerance = 150

// maxCandidateText caps the text sent per candidate.
const maxCandidateText = 80

// tierSemantic builds a compact candidate set from the live tree and
// asks the matching service to pick the one fitting the recorded
// description. Service trouble skips the tier; a confident answer below
// the threshold is rejected, not rounded up.
func (c *Cascade) tierSemantic(ctx context.Context, rc *Context) *Result {
	if c.ai == nil || !c.ai.Configured() {
		return nil
	}
	nodes := c.semanticCandidates(rc)
	if len(nodes) == 0 {
		return nil
	}

	req := &aiclient.SemanticRequest{
		TargetDescription: rc.Signature.Describe(),
		Candidates:        describeCandidates(nodes),
		PageContext:       rc.PageContext,
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()
	m, err := c.ai.MatchSemantic(tctx, req)
	if err != nil {
		if !errors.Is(err, aiclient.ErrUnavailable) {
			c.logger.Warn("heal: semantic match failed", "error", err)
		}
		return nil
	}
	if m.CandidateIndex == nil || *m.CandidateIndex < 0 || *m.CandidateIndex >= len(nodes) {
		return nil
	}
	if m.Confidence <= c.cfg.SemanticThreshold {
		c.logger.Debug("heal: semantic confidence below threshold",
			"confidence", m.Confidence, "threshold", c.cfg.SemanticThreshold)
		return nil
	}
	return &Result{
		Success:    true,
		Element:    nodes[*m.CandidateIndex],
		Confidence: m.Confidence,
		Reasoning:  fmt.Sprintf("semantic match: %s", m.Reasoning),
	}
}

// tierVisual sends the current screenshot (and the recorded reference
// when present) for visual matching, then hit-tests the returned
// coordinates.
func (c *Cascade) tierVisual(ctx context.Context, rc *Context) *Result {
	if c.ai == nil || !c.ai.Configured() || len(rc.Screenshot) == 0 {
		return nil
	}

	var hints []string
	if rc.Signature.Text != "" {
		hints = append(hints, "text: "+rc.Signature.Text)
	}
	if rc.FailedSelector != "" {
		hints = append(hints, "previous selector: "+rc.FailedSelector)
	}

	req := &aiclient.VisualRequest{
		Screenshot:         rc.Screenshot,
		RecordedScreenshot: rc.RecordedScreenshot,
		Target:             rc.Signature.Describe(),
		Hints:              hints,
		PageContext:        rc.PageContext,
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
	defer cancel()
	m, err := c.ai.MatchVisual(tctx, req)
	if err != nil {
		if !errors.Is(err, aiclient.ErrUnavailable) {
			c.logger.Warn("heal: visual match failed", "error", err)
		}
		return nil
	}
	if m.Coordinates == nil || m.Confidence <= c.cfg.VisualThreshold {
		return nil
	}
	n := domtree.ElementAt(rc.Tree.Root, *m.Coordinates)
	if n == nil || !domtree.Visible(n) {
		return nil
	}
	return &Result{
		Success:    true,
		Element:    n,
		Confidence: m.Confidence,
		Reasoning:  fmt.Sprintf("visual match at (%.0f,%.0f): %s", m.Coordinates.X, m.Coordinates.Y, m.Reasoning),
	}
}

// semanticCandidates picks the elements worth sending: geometrically
// near the recorded box when one exists, interactive elements
// otherwise, ranked by signature similarity and capped by the client.
func (c *Cascade) semanticCandidates(rc *Context) []*domtree.Node {
	var pool []*domtree.Node
	if bb := rc.Signature.BoundingBox; bb != nil {
		expanded := locator.Rect{
			X: bb.X - candidateTolerance,
			Y: bb.Y - candidateTolerance,
			W: bb.W + 2*candidateTolerance,
			H: bb.H + 2*candidateTolerance,
		}
		pool = domtree.FindAll(rc.Tree.Root, func(n *domtree.Node) bool {
			b := domtree.Bounds(n)
			return b != nil && expanded.Contains(b.Center()) && domtree.Visible(n)
		})
	}
	if len(pool) == 0 {
		for _, n := range domtree.InteractiveElements(rc.Tree.Root) {
			if domtree.Visible(n) {
				pool = append(pool, n)
			}
		}
	}

	sig := rc.Signature
	sort.SliceStable(pool, func(i, j int) bool {
		return signatureScore(pool[i], sig) > signatureScore(pool[j], sig)
	})
	if len(pool) > aiclient.MaxCandidates {
		pool = pool[:aiclient.MaxCandidates]
	}
	return pool
}

// truncateText caps text at limit bytes, backing off to a rune boundary
// so multi-byte characters are never split.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// describeCandidates converts nodes to the wire form: attributes only,
// never markup.
func describeCandidates(nodes []*domtree.Node) []aiclient.Candidate {
	out := make([]aiclient.Candidate, len(nodes))
	for i, n := range nodes {
		attrs := make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			if strings.HasPrefix(a.Key, "data-heal-") {
				continue
			}
			attrs[a.Key] = a.Val
		}
		text := truncateText(domtree.Text(n), maxCandidateText)
		out[i] = aiclient.Candidate{
			Tag:        domtree.Tag(n),
			Text:       text,
			Role:       domtree.Role(n),
			Attributes: attrs,
			Selector:   domtree.SelectorFor(n),
		}
	}
	return out
}
