// Package domtree is the generic DOM abstraction the resolution engine
// runs on: a parsed HTML tree with attribute lookup, text content,
// visibility and geometry facts, and structural queries (CSS subset,
// XPath subset, text, role, accessible name, test-id).
//
// Geometry and computed visibility cannot be derived from markup alone,
// so live snapshots carry them as data-heal-* attributes injected by the
// browser adapter before serialisation. Trees built from plain HTML (unit
// tests, recorded snapshots without annotation) degrade gracefully:
// elements default to visible and have no bounds.
//
// Any host able to produce an annotated HTML snapshot (headless browser,
// accessibility tree export, virtual DOM) can drive the engine unchanged.
package domtree

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domheal/locator"
)

// Snapshot annotation attributes injected by the browser adapter.
const (
	AttrBounds     = "data-heal-bounds"  // "x,y,w,h" in CSS pixels
	AttrVisible    = "data-heal-visible" // "true" / "false" (computed style)
	AttrShadowHost = "data-heal-shadow"  // present on shadow hosts; children inlined
	AttrIframe     = "data-heal-iframe"  // same-origin frame rewritten to <heal-frame>
)

// Node is one element of the tree. It is a direct alias for the x/net
// html node so query code stays allocation-free; use the package helpers
// for attribute, text and geometry access.
type Node = html.Node

// Tree is a parsed page snapshot.
type Tree struct {
	Root  *Node
	URL   string
	Title string
}

// Parse builds a Tree from an HTML snapshot.
func Parse(r io.Reader, pageURL string) (*Tree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("domtree: parse: %w", err)
	}
	return &Tree{Root: doc, URL: pageURL, Title: findTitle(doc)}, nil
}

// ParseString builds a Tree from an HTML string.
func ParseString(s, pageURL string) (*Tree, error) {
	return Parse(strings.NewReader(s), pageURL)
}

// Hash returns a structural digest of the tree: tags, attributes and
// text. Two consecutive equal hashes mean the DOM has stabilised.
func (t *Tree) Hash() string {
	h := sha256.New()
	var walk func(*Node)
	walk = func(n *Node) {
		switch n.Type {
		case html.ElementNode:
			io.WriteString(h, "<"+n.Data)
			for _, a := range n.Attr {
				io.WriteString(h, " "+a.Key+"="+a.Val)
			}
			io.WriteString(h, ">")
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				io.WriteString(h, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(t.Root)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Text returns the whole-page visible text, whitespace-collapsed.
func (t *Tree) Text() string {
	if b := findBody(t.Root); b != nil {
		return Text(b)
	}
	return Text(t.Root)
}

// Attr returns the value of an attribute on a node, or "".
func Attr(n *Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the node carries the attribute at all.
func HasAttr(n *Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// Tag returns the lower-case tag name of an element node, or "".
func Tag(n *Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// Text collects the visible text of a subtree, whitespace-collapsed and
// space-joined. Script and style content is skipped.
func Text(n *Node) string {
	var sb strings.Builder
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return sb.String()
}

// OwnText returns only the direct text children of a node, collapsed.
func OwnText(n *Node) string {
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if s := strings.Join(strings.Fields(c.Data), " "); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// Render serialises a node subtree back to HTML.
func Render(n *Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}

// Contains reports whether container is an ancestor of (or the same node
// as) n.
func Contains(container, n *Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == container {
			return true
		}
	}
	return false
}

// Bounds returns the annotated bounding box of a node, or nil when the
// snapshot carries no geometry for it.
func Bounds(n *Node) *locator.Rect {
	raw := Attr(n, AttrBounds)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		vals[i] = v
	}
	return &locator.Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
}

// IsShadowHost reports whether the node hosts an inlined shadow subtree.
func IsShadowHost(n *Node) bool {
	return HasAttr(n, AttrShadowHost)
}

// FindAll returns every element in the subtree satisfying pred, in
// document order.
func FindAll(root *Node, pred func(*Node) bool) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Type == html.ElementNode && pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// FirstElement returns the first element child of a node.
func FirstElement(n *Node) *Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func findTitle(doc *Node) string {
	var title string
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

func findBody(doc *Node) *Node {
	var body *Node
	var walk func(*Node)
	walk = func(n *Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return body
}
