package domtree

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// QuerySelectorAll returns all elements in the subtree matching a CSS
// selector. The supported subset covers what the recorder emits:
//
//   - tag: "button", "div"
//   - .class (chains allowed): ".btn.primary"
//   - #id: "#main-content"
//   - [attr] and [attr=val]: "input[name=email]"
//   - :nth-of-type(n): "tr:nth-of-type(3)"
//   - descendant combinator (space) and selector groups (comma)
func QuerySelectorAll(root *Node, selector string) []*Node {
	var out []*Node
	seen := make(map[*Node]bool)
	for _, group := range strings.Split(selector, ",") {
		for _, n := range queryGroup(root, strings.TrimSpace(group)) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// QuerySelector returns the first match of QuerySelectorAll, or nil.
func QuerySelector(root *Node, selector string) *Node {
	matches := QuerySelectorAll(root, selector)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func queryGroup(root *Node, selector string) []*Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}

	matches := matchSimple(root, parts[0])
	for i := 1; i < len(parts); i++ {
		var next []*Node
		for _, parent := range matches {
			next = append(next, matchSimple(parent, parts[i])...)
		}
		matches = next
	}
	return matches
}

// matchSimple finds all descendants matching a single compound selector.
func matchSimple(root *Node, sel string) []*Node {
	m, ok := parseSimpleSelector(sel)
	if !ok {
		return nil
	}
	var results []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n != root && matchesSelector(n, m) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return results
}

type simpleSelector struct {
	tag       string
	id        string
	classes   []string
	attrKey   string
	attrVal   string
	nthOfType int // 0 = unset
}

// parseSimpleSelector parses "tag.class1.class2#id[attr=val]:nth-of-type(2)".
func parseSimpleSelector(sel string) (simpleSelector, bool) {
	var s simpleSelector

	// :nth-of-type(n)
	if idx := strings.Index(sel, ":nth-of-type("); idx >= 0 {
		rest := sel[idx+len(":nth-of-type("):]
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return s, false
		}
		n, err := strconv.Atoi(rest[:end])
		if err != nil || n < 1 {
			return s, false
		}
		s.nthOfType = n
		sel = sel[:idx] + rest[end+1:]
	}

	// [attr] or [attr=val]
	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		end := strings.IndexByte(sel[idx:], ']')
		if end < 0 {
			return s, false
		}
		attrPart := sel[idx+1 : idx+end]
		sel = sel[:idx] + sel[idx+end+1:]
		if eqIdx := strings.IndexByte(attrPart, '='); eqIdx >= 0 {
			s.attrKey = attrPart[:eqIdx]
			s.attrVal = strings.Trim(attrPart[eqIdx+1:], `"'`)
		} else {
			s.attrKey = attrPart
		}
	}

	// #id
	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		rest := sel[idx+1:]
		if dot := strings.IndexByte(rest, '.'); dot >= 0 {
			s.id = rest[:dot]
			sel = sel[:idx] + rest[dot:]
		} else {
			s.id = rest
			sel = sel[:idx]
		}
	}

	// .class chains
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		for _, c := range strings.Split(sel[idx+1:], ".") {
			if c != "" {
				s.classes = append(s.classes, c)
			}
		}
		sel = sel[:idx]
	}

	s.tag = strings.ToLower(sel)
	if s.tag == "*" {
		s.tag = ""
	}
	return s, true
}

func matchesSelector(n *Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}

	if s.tag != "" && Tag(n) != s.tag {
		return false
	}
	if s.id != "" && Attr(n, "id") != s.id {
		return false
	}

	if len(s.classes) > 0 {
		have := strings.Fields(Attr(n, "class"))
		for _, want := range s.classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}

	if s.attrKey != "" {
		if s.attrVal != "" {
			if Attr(n, s.attrKey) != s.attrVal {
				return false
			}
		} else if !HasAttr(n, s.attrKey) {
			return false
		}
	}

	if s.nthOfType > 0 {
		if n.Parent == nil {
			return false
		}
		pos := 0
		for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == n.Data {
				pos++
				if c == n {
					break
				}
			}
		}
		if pos != s.nthOfType {
			return false
		}
	}

	return true
}

// SelectorFor computes a CSS path that uniquely identifies the node in
// its document: an #id or test-id shortcut when one exists, otherwise a
// tag:nth-of-type chain from the nearest uniquely-identifiable ancestor.
func SelectorFor(n *Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}

	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if id := Attr(cur, "id"); id != "" && isSimpleToken(id) {
			parts = append(parts, "#"+id)
			break
		}
		if tid := TestID(cur); tid != "" {
			parts = append(parts, Tag(cur)+"[data-testid="+tid+"]")
			break
		}
		tag := Tag(cur)
		if tag == "html" || tag == "body" {
			parts = append(parts, tag)
			break
		}
		parts = append(parts, tag+":nth-of-type("+strconv.Itoa(nthOfType(cur))+")")
	}

	// Reverse into document order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " ")
}

func nthOfType(n *Node) int {
	pos := 1
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c == n {
			break
		}
		if c.Type == html.ElementNode && c.Data == n.Data {
			pos++
		}
	}
	return pos
}

// isSimpleToken reports whether s is safe to embed in a selector without
// escaping.
func isSimpleToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return s != ""
}
