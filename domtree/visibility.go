package domtree

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domheal/locator"
)

// Visible reports whether an element is rendered: not hidden by
// attributes or inline style, and, when the snapshot carries computed
// facts, not flagged invisible or zero-sized by the browser adapter.
// The check walks up the ancestor chain, since a visible child of a
// display:none parent is still invisible.
func Visible(n *Node) bool {
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if !selfVisible(cur) {
			return false
		}
	}
	return true
}

func selfVisible(n *Node) bool {
	if v := Attr(n, AttrVisible); v != "" {
		return v != "false"
	}
	if HasAttr(n, "hidden") {
		return false
	}
	if Attr(n, "aria-hidden") == "true" {
		return false
	}
	if Tag(n) == "input" && strings.ToLower(Attr(n, "type")) == "hidden" {
		return false
	}
	style := strings.ToLower(strings.ReplaceAll(Attr(n, "style"), " ", ""))
	if strings.Contains(style, "display:none") ||
		strings.Contains(style, "visibility:hidden") ||
		strings.Contains(style, "opacity:0;") ||
		strings.HasSuffix(style, "opacity:0") {
		return false
	}
	if b := Bounds(n); b != nil && (b.W <= 0 || b.H <= 0) {
		return false
	}
	return true
}

// Enabled reports whether a form control accepts input.
func Enabled(n *Node) bool {
	if HasAttr(n, "disabled") {
		return false
	}
	return Attr(n, "aria-disabled") != "true"
}

// Checked reports the checked state of a checkbox/radio or aria-checked
// widget.
func Checked(n *Node) bool {
	if HasAttr(n, "checked") {
		return true
	}
	return Attr(n, "aria-checked") == "true"
}

// ElementAt hit-tests a viewport point: it returns the innermost visible
// element whose annotated bounds contain the point, preferring the
// smallest box when several overlap. Returns nil when the snapshot has
// no geometry at that point.
func ElementAt(root *Node, p locator.Point) *Node {
	var best *Node
	var bestArea float64
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Type == html.ElementNode {
			if b := Bounds(n); b != nil && b.Contains(p) && Visible(n) {
				if best == nil || b.Area() < bestArea {
					best = n
					bestArea = b.Area()
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return best
}

// loadingMarkers are class/id substrings that identify progress UI.
var loadingMarkers = []string{"spinner", "loading", "loader", "progress", "skeleton"}

// IsLoadingIndicator reports whether a node looks like progress UI.
func IsLoadingIndicator(n *Node) bool {
	if Attr(n, "aria-busy") == "true" {
		return true
	}
	if Role(n) == "progressbar" {
		return true
	}
	hint := strings.ToLower(Attr(n, "class") + " " + Attr(n, "id"))
	for _, marker := range loadingMarkers {
		if strings.Contains(hint, marker) {
			return true
		}
	}
	return false
}

// HasLoadingIndicators reports whether any visible progress UI remains
// in the subtree.
func HasLoadingIndicators(root *Node) bool {
	found := FindAll(root, func(n *Node) bool {
		return IsLoadingIndicator(n) && Visible(n)
	})
	return len(found) > 0
}
