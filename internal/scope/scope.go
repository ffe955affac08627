// Package scope narrows strategy search to a container element before
// any locator strategy runs. Resolution failure is always terminal for
// the step's primary search: when a recorded scope cannot be found on
// the live page, strategies are never run against the whole document,
// because a page-wide match inside the wrong container is worse than no
// match at all.
package scope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/locator"
)

// ErrNotFound is returned when the scope container is absent from the
// live tree. Callers must treat it as "strategy search not attempted".
var ErrNotFound = errors.New("scope container not found")

// modalPatterns is the ranked fallback list tried when a MODAL scope
// carries no explicit selector.
var modalPatterns = []string{
	"[role=dialog]",
	"[aria-modal=true]",
	"dialog",
	".modal-dialog",
	".modal",
	".popup",
	".drawer",
}

// Resolve finds the container element for a scope. A nil scope means
// PAGE. The returned node is never nil on success.
func Resolve(sc *locator.Scope, tree *domtree.Tree) (*domtree.Node, error) {
	all, err := ResolveAll(sc, tree)
	if err != nil {
		return nil, err
	}
	return all[0], nil
}

// ResolveAll returns every container qualifying for the scope, in
// document order. Most scope kinds yield exactly one container; a
// TABLE_ROW anchor is substring-matched and may qualify several rows,
// which the resolver then separates with disambiguators.
func ResolveAll(sc *locator.Scope, tree *domtree.Tree) ([]*domtree.Node, error) {
	if sc == nil || sc.Kind == locator.ScopePage {
		return []*domtree.Node{tree.Root}, nil
	}

	one := func(n *domtree.Node, err error) ([]*domtree.Node, error) {
		if err != nil {
			return nil, err
		}
		return []*domtree.Node{n}, nil
	}

	switch sc.Kind {
	case locator.ScopeModal:
		return one(resolveModal(sc, tree))
	case locator.ScopeIframe:
		return one(resolveIframe(sc, tree))
	case locator.ScopeNearestSection:
		return one(resolveSection(sc, tree))
	case locator.ScopeTableRow:
		return resolveTableRows(sc, tree)
	case locator.ScopeContainer:
		return one(resolveContainer(sc, tree))
	case locator.ScopeWidget:
		return one(resolveWidget(sc, tree))
	case locator.ScopeShadowRoot:
		return one(resolveShadowRoot(sc, tree))
	default:
		return nil, fmt.Errorf("scope: unknown kind %q: %w", sc.Kind, ErrNotFound)
	}
}

// resolveModal tries the explicit selector, then generic modal patterns.
// The result must be visually visible: a dismissed modal that is still
// in the DOM must not be matched.
func resolveModal(sc *locator.Scope, tree *domtree.Tree) (*domtree.Node, error) {
	selectors := modalPatterns
	if sc.Selector != "" {
		selectors = append([]string{sc.Selector}, modalPatterns...)
	}

	for _, sel := range selectors {
		for _, n := range domtree.QuerySelectorAll(tree.Root, sel) {
			if domtree.Visible(n) {
				return n, nil
			}
		}
	}
	return nil, fmt.Errorf("scope: no visible modal: %w", ErrNotFound)
}

// resolveIframe requires same-origin access to the embedded document.
// The browser adapter rewrites same-origin iframes to <heal-frame>
// elements with the frame document inlined (the HTML parser treats
// <iframe> children as raw text, so content cannot stay in place).
// Cross-origin frames keep their <iframe> tag, stay empty, and resolve
// to not-found rather than an error escaping to the caller.
func resolveIframe(sc *locator.Scope, tree *domtree.Tree) (*domtree.Node, error) {
	frame := domtree.QuerySelector(tree.Root, sc.Selector)
	if frame == nil && strings.Contains(sc.Selector, "iframe") {
		// Tag-based recorded selectors still refer to "iframe".
		frame = domtree.QuerySelector(tree.Root, strings.ReplaceAll(sc.Selector, "iframe", "heal-frame"))
	}
	if frame == nil {
		return nil, fmt.Errorf("scope: iframe %q absent: %w", sc.Selector, ErrNotFound)
	}
	if domtree.HasAttr(frame, domtree.AttrIframe) {
		if doc := domtree.FirstElement(frame); doc != nil {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("scope: iframe %q has no accessible document (cross-origin?): %w", sc.Selector, ErrNotFound)
}

// resolveSection finds the heading whose text contains the recorded
// heading text (case-insensitive) and climbs to the nearest sectioning
// ancestor, falling back to the heading's parent.
func resolveSection(sc *locator.Scope, tree *domtree.Tree) (*domtree.Node, error) {
	want := strings.ToLower(sc.HeadingText)
	for _, h := range domtree.Headings(tree.Root) {
		if !strings.Contains(strings.ToLower(domtree.Text(h)), want) {
			continue
		}
		for cur := h.Parent; cur != nil; cur = cur.Parent {
			if domtree.IsSectioning(cur) {
				return cur, nil
			}
		}
		if h.Parent != nil {
			return h.Parent, nil
		}
		return h, nil
	}
	return nil, fmt.Errorf("scope: no heading containing %q: %w", sc.HeadingText, ErrNotFound)
}

// resolveTableRows scans row-like nodes for cells whose text contains
// the anchor text, optionally restricted to one cell index. All
// qualifying rows are returned: "Acme Corp" anchors both "Acme Corp"
// and "Acme Corp Inc" rows, and only a disambiguator can tell them
// apart.
func resolveTableRows(sc *locator.Scope, tree *domtree.Tree) ([]*domtree.Node, error) {
	want := strings.ToLower(sc.AnchorText)
	rows := domtree.FindAll(tree.Root, func(n *domtree.Node) bool {
		return domtree.Tag(n) == "tr" || domtree.Attr(n, "role") == "row"
	})

	var out []*domtree.Node
	for _, row := range rows {
		for i, cell := range rowCells(row) {
			if sc.AnchorColumn >= 0 && i != sc.AnchorColumn {
				continue
			}
			if strings.Contains(strings.ToLower(domtree.Text(cell)), want) {
				out = append(out, row)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("scope: no row with cell containing %q: %w", sc.AnchorText, ErrNotFound)
	}
	return out, nil
}

func rowCells(row *domtree.Node) []*domtree.Node {
	var cells []*domtree.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case domtree.Tag(c) == "td", domtree.Tag(c) == "th":
			cells = append(cells, c)
		case domtree.Attr(c, "role") == "cell", domtree.Attr(c, "role") == "gridcell":
			cells = append(cells, c)
		}
	}
	return cells
}

// blockContainerTags are the generic containers CONTAINER's text
// fallback searches over.
var blockContainerTags = map[string]bool{
	"div": true, "section": true, "article": true, "aside": true,
	"form": true, "fieldset": true, "main": true, "li": true,
}

// resolveContainer tries the recorded selector, then substring-matches
// the fallback text over generic block containers, preferring the
// innermost match so the scope stays as tight as it was at record time.
func resolveContainer(sc *locator.Scope, tree *domtree.Tree) (*domtree.Node, error) {
	if sc.Selector != "" {
		if n := domtree.QuerySelector(tree.Root, sc.Selector); n != nil {
			return n, nil
		}
	}
	if sc.FallbackText == "" {
		return nil, fmt.Errorf("scope: container %q absent: %w", sc.Selector, ErrNotFound)
	}

	want := strings.ToLower(sc.FallbackText)
	matches := domtree.FindAll(tree.Root, func(n *domtree.Node) bool {
		return blockContainerTags[domtree.Tag(n)] &&
			strings.Contains(strings.ToLower(domtree.Text(n)), want)
	})
	if len(matches) == 0 {
		return nil, fmt.Errorf("scope: no container with text %q: %w", sc.FallbackText, ErrNotFound)
	}

	// Innermost: the last match in document order that no other match
	// is contained in.
	best := matches[0]
	for _, m := range matches[1:] {
		if domtree.Contains(best, m) {
			best = m
		}
	}
	return best, nil
}

// widgetHints are class substrings identifying card/widget/panel
// containers.
var widgetHints = []string{"card", "widget", "panel", "tile", "module"}

// resolveWidget scans widget-like containers for a title match.
func resolveWidget(sc *locator.Scope, tree *domtree.Tree) (*domtree.Node, error) {
	want := strings.ToLower(sc.Title)
	candidates := domtree.FindAll(tree.Root, func(n *domtree.Node) bool {
		if domtree.Attr(n, "role") == "region" {
			return true
		}
		class := strings.ToLower(domtree.Attr(n, "class"))
		for _, hint := range widgetHints {
			if strings.Contains(class, hint) {
				return true
			}
		}
		return false
	})

	for _, c := range candidates {
		title := widgetTitle(c)
		if title != "" && strings.Contains(strings.ToLower(title), want) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("scope: no widget titled %q: %w", sc.Title, ErrNotFound)
}

func widgetTitle(widget *domtree.Node) string {
	if v := domtree.Attr(widget, "aria-label"); v != "" {
		return v
	}
	if hs := domtree.Headings(widget); len(hs) > 0 {
		return domtree.Text(hs[0])
	}
	titled := domtree.FindAll(widget, func(n *domtree.Node) bool {
		class := strings.ToLower(domtree.Attr(n, "class"))
		return strings.Contains(class, "title") || strings.Contains(class, "header")
	})
	if len(titled) > 0 {
		return domtree.Text(titled[0])
	}
	return ""
}

// resolveShadowRoot requires the host's attached shadow tree, which the
// browser adapter inlines under the host element.
func resolveShadowRoot(sc *locator.Scope, tree *domtree.Tree) (*domtree.Node, error) {
	host := domtree.QuerySelector(tree.Root, sc.Selector)
	if host == nil {
		return nil, fmt.Errorf("scope: shadow host %q absent: %w", sc.Selector, ErrNotFound)
	}
	if !domtree.IsShadowHost(host) {
		return nil, fmt.Errorf("scope: %q has no attached shadow tree: %w", sc.Selector, ErrNotFound)
	}
	if first := domtree.FirstElement(host); first != nil {
		return first, nil
	}
	return host, nil
}
