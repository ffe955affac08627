package domtree

import (
	"strings"

	"golang.org/x/net/html"
)

// testIDAttrs are the attribute names checked, in order, for test ids.
var testIDAttrs = []string{"data-testid", "data-test-id", "data-test", "data-cy", "data-qa"}

// TestID returns the node's test id, checking the common attribute
// conventions, or "".
func TestID(n *Node) string {
	for _, key := range testIDAttrs {
		if v := Attr(n, key); v != "" {
			return v
		}
	}
	return ""
}

// ByTestID returns all elements whose test id equals value.
func ByTestID(root *Node, value string) []*Node {
	return FindAll(root, func(n *Node) bool {
		return TestID(n) == value
	})
}

// ByText returns elements whose collected text equals (exact) or
// contains (substring) the given text, case-insensitive. Only the
// innermost matching elements are returned, so a match on a <span>
// does not also report every ancestor wrapping it.
func ByText(root *Node, text string, exact bool) []*Node {
	want := strings.ToLower(strings.TrimSpace(text))
	if want == "" {
		return nil
	}
	matches := FindAll(root, func(n *Node) bool {
		have := strings.ToLower(Text(n))
		if exact {
			return have == want
		}
		return strings.Contains(have, want)
	})
	return innermost(matches)
}

// innermost filters out nodes that contain another node from the set.
func innermost(nodes []*Node) []*Node {
	var out []*Node
	for _, n := range nodes {
		hasInner := false
		for _, other := range nodes {
			if other != n && Contains(n, other) {
				hasInner = true
				break
			}
		}
		if !hasInner {
			out = append(out, n)
		}
	}
	return out
}

// implicitRoles maps tags to their default ARIA role.
var implicitRoles = map[string]string{
	"button":   "button",
	"textarea": "textbox",
	"select":   "combobox",
	"img":      "img",
	"nav":      "navigation",
	"main":     "main",
	"header":   "banner",
	"footer":   "contentinfo",
	"form":     "form",
	"table":    "table",
	"tr":       "row",
	"td":       "cell",
	"th":       "columnheader",
	"ul":       "list",
	"ol":       "list",
	"li":       "listitem",
	"dialog":   "dialog",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
}

// Role returns the effective ARIA role of an element: the explicit role
// attribute when present, otherwise the implicit role of its tag.
func Role(n *Node) string {
	if r := Attr(n, "role"); r != "" {
		return strings.ToLower(strings.Fields(r)[0])
	}
	tag := Tag(n)
	if tag == "a" {
		if HasAttr(n, "href") {
			return "link"
		}
		return ""
	}
	if tag == "input" {
		switch strings.ToLower(Attr(n, "type")) {
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "button", "submit", "reset":
			return "button"
		case "range":
			return "slider"
		case "hidden":
			return ""
		default:
			return "textbox"
		}
	}
	return implicitRoles[tag]
}

// ByRole returns all elements with the given effective role.
func ByRole(root *Node, role string) []*Node {
	want := strings.ToLower(role)
	return FindAll(root, func(n *Node) bool {
		return Role(n) == want
	})
}

// AccessibleName computes a simplified accessible name: aria-label,
// aria-labelledby target text, alt, title, input value/placeholder, then
// the element's own text.
func AccessibleName(n *Node) string {
	if v := strings.TrimSpace(Attr(n, "aria-label")); v != "" {
		return v
	}
	if idref := Attr(n, "aria-labelledby"); idref != "" {
		if label := resolveLabelledBy(n, idref); label != "" {
			return label
		}
	}
	if v := strings.TrimSpace(Attr(n, "alt")); v != "" {
		return v
	}
	if v := strings.TrimSpace(Attr(n, "title")); v != "" {
		return v
	}
	if Tag(n) == "input" {
		if v := strings.TrimSpace(Attr(n, "value")); v != "" {
			return v
		}
		if v := strings.TrimSpace(Attr(n, "placeholder")); v != "" {
			return v
		}
	}
	return Text(n)
}

func resolveLabelledBy(n *Node, idref string) string {
	root := n
	for root.Parent != nil {
		root = root.Parent
	}
	var parts []string
	for _, id := range strings.Fields(idref) {
		if target := QuerySelector(root, "#"+id); target != nil {
			if t := Text(target); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

// ByAccessibleName returns elements whose accessible name equals (exact)
// or contains the given name, case-insensitive.
func ByAccessibleName(root *Node, name string, exact bool) []*Node {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return nil
	}
	return FindAll(root, func(n *Node) bool {
		have := strings.ToLower(AccessibleName(n))
		if exact {
			return have == want
		}
		return strings.Contains(have, want)
	})
}

// interactiveRoles are roles that accept user input.
var interactiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "checkbox": true,
	"radio": true, "combobox": true, "menuitem": true, "tab": true,
	"switch": true, "slider": true, "option": true, "searchbox": true,
}

// Interactive reports whether an element accepts user interaction.
func Interactive(n *Node) bool {
	switch Tag(n) {
	case "button", "select", "textarea", "summary", "option", "label":
		return true
	case "a":
		return HasAttr(n, "href")
	case "input":
		return strings.ToLower(Attr(n, "type")) != "hidden"
	}
	if interactiveRoles[Role(n)] {
		return true
	}
	return HasAttr(n, "onclick") || HasAttr(n, "tabindex")
}

// InteractiveElements returns all interactive elements in the subtree.
func InteractiveElements(root *Node) []*Node {
	return FindAll(root, Interactive)
}

// IsHeading reports whether the node is heading-like: h1–h6, an explicit
// heading role, or a legend/caption.
func IsHeading(n *Node) bool {
	switch Tag(n) {
	case "h1", "h2", "h3", "h4", "h5", "h6", "legend", "caption", "summary":
		return true
	}
	return Attr(n, "role") == "heading"
}

// Headings returns all heading-like nodes in the subtree.
func Headings(root *Node) []*Node {
	return FindAll(root, IsHeading)
}

// sectioningTags are ancestors NEAREST_SECTION climbs to.
var sectioningTags = map[string]bool{
	"section": true, "article": true, "aside": true, "nav": true,
	"form": true, "fieldset": true, "main": true, "dialog": true,
}

// IsSectioning reports whether a node is a sectioning container.
func IsSectioning(n *Node) bool {
	if sectioningTags[Tag(n)] {
		return true
	}
	switch Attr(n, "role") {
	case "region", "group", "form":
		return true
	}
	return false
}

// AncestorHeading returns the text of the closest heading preceding the
// node: the first heading found inside each ancestor, walking upward.
func AncestorHeading(n *Node) string {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		for _, h := range Headings(cur) {
			if !Contains(n, h) {
				return Text(h)
			}
		}
	}
	return ""
}

// NearbyText gathers the text context used for disambiguation: the
// node's own subtree text, its parent's text, and the closest ancestor
// heading.
func NearbyText(n *Node) string {
	var parts []string
	if t := Text(n); t != "" {
		parts = append(parts, t)
	}
	if n.Parent != nil && n.Parent.Type == html.ElementNode {
		if t := Text(n.Parent); t != "" {
			parts = append(parts, t)
		}
	}
	if h := AncestorHeading(n); h != "" {
		parts = append(parts, h)
	}
	return strings.Join(parts, " ")
}
