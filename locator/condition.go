package locator

import (
	"fmt"
	"time"
)

// ConditionOp is the node type of a success-condition expression tree.
type ConditionOp string

const (
	OpAll     ConditionOp = "all"
	OpAny     ConditionOp = "any"
	OpNot     ConditionOp = "not"
	OpElement ConditionOp = "element"
	OpState   ConditionOp = "state"
)

// ElementConditionType is a per-element predicate.
type ElementConditionType string

const (
	ElementVisible ElementConditionType = "element_visible"
	ElementGone    ElementConditionType = "element_gone"
	ElementEnabled ElementConditionType = "element_enabled"
	ElementChecked ElementConditionType = "element_checked"
	ElementHasText ElementConditionType = "element_has_text"
)

// StateConditionType is a page-level predicate.
type StateConditionType string

const (
	StateURLChanged  StateConditionType = "url_changed"
	StateURLContains StateConditionType = "url_contains"
	StateTextPresent StateConditionType = "text_present"
	StateTextGone    StateConditionType = "text_gone"
	StateDOMStable   StateConditionType = "dom_stable"
	StateNoLoading   StateConditionType = "no_loading_indicators"
)

// ElementLeaf waits for an element-state predicate within its own timeout.
type ElementLeaf struct {
	Type          ElementConditionType `json:"type"`
	Target        string               `json:"target"` // CSS selector
	Scope         *Scope               `json:"scope,omitempty"`
	Timeout       time.Duration        `json:"timeout"`
	ExpectedValue string               `json:"expected_value,omitempty"`
}

// StateLeaf waits for a page-state predicate within its own timeout.
type StateLeaf struct {
	Type    StateConditionType `json:"type"`
	Value   string             `json:"value,omitempty"`
	Timeout time.Duration      `json:"timeout"`
}

// Condition is a compound boolean expression over element- and page-state
// predicates. Every condition in the tree is mandatory by construction:
// there is no optional flag, so verification can never be silently skipped.
type Condition struct {
	Op       ConditionOp  `json:"op"`
	Children []*Condition `json:"children,omitempty"` // all, any
	Child    *Condition   `json:"child,omitempty"`    // not
	Element  *ElementLeaf `json:"element,omitempty"`
	State    *StateLeaf   `json:"state,omitempty"`
}

// Validate checks structural invariants of the condition tree.
func (c *Condition) Validate() error {
	if c == nil {
		return fmt.Errorf("locator: nil condition")
	}
	switch c.Op {
	case OpAll, OpAny:
		for _, ch := range c.Children {
			if err := ch.Validate(); err != nil {
				return err
			}
		}
	case OpNot:
		if c.Child == nil {
			return fmt.Errorf("locator: not-condition has no child")
		}
		return c.Child.Validate()
	case OpElement:
		if c.Element == nil {
			return fmt.Errorf("locator: element condition has no leaf")
		}
		if c.Element.Target == "" {
			return fmt.Errorf("locator: element condition has no target")
		}
		if c.Element.Timeout <= 0 {
			return fmt.Errorf("locator: element condition has no timeout")
		}
	case OpState:
		if c.State == nil {
			return fmt.Errorf("locator: state condition has no leaf")
		}
		if c.State.Timeout <= 0 {
			return fmt.Errorf("locator: state condition has no timeout")
		}
	default:
		return fmt.Errorf("locator: unknown condition op %q", c.Op)
	}
	return nil
}

// All is satisfied when every child passes. All(nil) is vacuously true.
func All(children ...*Condition) *Condition {
	return &Condition{Op: OpAll, Children: children}
}

// Any is satisfied when at least one child passes. Any(nil) never passes.
func Any(children ...*Condition) *Condition {
	return &Condition{Op: OpAny, Children: children}
}

// Not inverts its child.
func Not(child *Condition) *Condition {
	return &Condition{Op: OpNot, Child: child}
}

// Element wraps an element-state leaf.
func Element(leaf ElementLeaf) *Condition {
	return &Condition{Op: OpElement, Element: &leaf}
}

// State wraps a page-state leaf.
func State(leaf StateLeaf) *Condition {
	return &Condition{Op: OpState, State: &leaf}
}

// VisibleWithin is shorthand for an element_visible leaf.
func VisibleWithin(target string, timeout time.Duration) *Condition {
	return Element(ElementLeaf{Type: ElementVisible, Target: target, Timeout: timeout})
}

// GoneWithin is shorthand for an element_gone leaf.
func GoneWithin(target string, timeout time.Duration) *Condition {
	return Element(ElementLeaf{Type: ElementGone, Target: target, Timeout: timeout})
}

// URLContainsWithin is shorthand for a url_contains leaf.
func URLContainsWithin(fragment string, timeout time.Duration) *Condition {
	return State(StateLeaf{Type: StateURLContains, Value: fragment, Timeout: timeout})
}
