package domtree

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// XPathAll evaluates a simple XPath expression against the subtree.
// Supported forms cover what recorders emit:
//
//	//tag, //tag[@attr='v'], //tag[n], //*[@attr]
//	/html/body/div[2]/button (absolute step paths)
//	//div/p (descendant search followed by child steps)
func XPathAll(root *Node, expr string) []*Node {
	expr = strings.TrimSpace(expr)

	if strings.HasPrefix(expr, "//") {
		return xpathDescendants(root, expr[2:])
	}
	if strings.HasPrefix(expr, "/") {
		return xpathAbsolute(root, expr[1:])
	}
	// Bare expression: treat as descendant search.
	return xpathDescendants(root, expr)
}

// xpathDescendants finds all elements matching the first step anywhere in
// the subtree, then follows any remaining steps as child axes.
func xpathDescendants(root *Node, expr string) []*Node {
	steps := strings.SplitN(expr, "/", 2)
	tag, pred, ok := parseXPathStep(steps[0])
	if !ok {
		return nil
	}

	var matches []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if matchesXPathStep(n, tag, pred) {
			matches = append(matches, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}

	if len(steps) > 1 && steps[1] != "" {
		var filtered []*Node
		for _, m := range matches {
			filtered = append(filtered, xpathChildren(m, steps[1])...)
		}
		return filtered
	}
	return matches
}

// xpathAbsolute follows a /step/step/... path from the document root.
func xpathAbsolute(root *Node, path string) []*Node {
	return xpathChildren(root, path)
}

// xpathChildren follows child-axis steps from each node in turn.
func xpathChildren(node *Node, path string) []*Node {
	current := []*Node{node}
	for _, step := range strings.Split(path, "/") {
		if step == "" {
			continue
		}
		tag, pred, ok := parseXPathStep(step)
		if !ok {
			return nil
		}
		var next []*Node
		for _, parent := range current {
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				if matchesXPathStep(c, tag, pred) {
					next = append(next, c)
				}
			}
		}
		current = next
	}
	return current
}

type xpathPredicate struct {
	attrName  string
	attrValue string
	position  int // 1-based
}

// parseXPathStep parses "div", "div[@class='x']", "div[2]", "*[@data-x]".
func parseXPathStep(step string) (string, *xpathPredicate, bool) {
	idx := strings.IndexByte(step, '[')
	if idx < 0 {
		return step, nil, step != ""
	}

	tag := step[:idx]
	predStr := strings.TrimRight(step[idx+1:], "]")
	pred := &xpathPredicate{}

	// Positional: [2]
	if n, err := strconv.Atoi(predStr); err == nil {
		if n < 1 {
			return "", nil, false
		}
		pred.position = n
		return tag, pred, true
	}

	// Attribute: [@class='value'] or [@data-x]
	if strings.HasPrefix(predStr, "@") {
		attrExpr := predStr[1:]
		if eqIdx := strings.IndexByte(attrExpr, '='); eqIdx >= 0 {
			pred.attrName = attrExpr[:eqIdx]
			pred.attrValue = strings.Trim(attrExpr[eqIdx+1:], `'"`)
		} else {
			pred.attrName = attrExpr
		}
		return tag, pred, true
	}

	// text()='...' predicate
	if strings.HasPrefix(predStr, "text()=") {
		pred.attrName = "text()"
		pred.attrValue = strings.Trim(predStr[len("text()="):], `'"`)
		return tag, pred, true
	}

	return tag, nil, true
}

func matchesXPathStep(n *Node, tag string, pred *xpathPredicate) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if tag != "*" && Tag(n) != strings.ToLower(tag) {
		return false
	}
	if pred == nil {
		return true
	}

	if pred.attrName == "text()" {
		return Text(n) == pred.attrValue
	}

	if pred.attrName != "" {
		if pred.attrValue != "" {
			return Attr(n, pred.attrName) == pred.attrValue
		}
		return HasAttr(n, pred.attrName)
	}

	if pred.position > 0 {
		if n.Parent == nil {
			return false
		}
		pos := 0
		for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
			if s.Type == html.ElementNode && s.Data == n.Data {
				pos++
				if s == n {
					return pos == pred.position
				}
			}
		}
		return false
	}

	return true
}
