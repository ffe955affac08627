// Package locator defines the data model for resilient element location:
// multi-strategy locator bundles, search scopes, step signatures and
// compound success conditions. Everything here is immutable record-time
// data; runtime scoring always happens against the live tree.
package locator

import "fmt"

// Kind identifies one way of finding an element.
type Kind string

const (
	KindCSS      Kind = "css"
	KindXPath    Kind = "xpath"
	KindText     Kind = "text"
	KindARIA     Kind = "aria"
	KindRole     Kind = "role"
	KindTestID   Kind = "testid"
	KindPosition Kind = "position"
	KindVisual   Kind = "visual"
)

// TextStability is a record-time hint about how likely an element's text
// is to change between recording and replay.
type TextStability string

const (
	TextStable        TextStability = "stable"
	TextLikelyDynamic TextStability = "likely_dynamic"
	TextUnknown       TextStability = "unknown"
)

// Features are facts captured at record time. They are never trusted as
// scores: the resolver recomputes every score from the live tree and uses
// these only as hints, since the DOM may have changed since recording.
type Features struct {
	UniqueAtRecord     bool          `json:"unique_at_record"`
	MatchCountAtRecord int           `json:"match_count_at_record"`
	StableAttributes   bool          `json:"stable_attributes"`
	TextStability      TextStability `json:"text_stability,omitempty"`
	DynamicParts       bool          `json:"dynamic_parts"`
	InShadowSubtree    bool          `json:"in_shadow_subtree"`
	RecordedTag        string        `json:"recorded_tag,omitempty"`
	RecordedRole       string        `json:"recorded_role,omitempty"`
	RecordedText       string        `json:"recorded_text,omitempty"`
}

// Strategy is one candidate way to find an element.
type Strategy struct {
	Kind     Kind     `json:"kind"`
	Value    string   `json:"value"`
	Features Features `json:"features"`
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s=%q", s.Kind, s.Value)
}

// Bundle is the full record-time description of a target element: a
// non-empty set of independent strategies, tie-breaking disambiguators,
// and an optional container scope to search within first.
type Bundle struct {
	Strategies     []Strategy `json:"strategies"`
	Disambiguators []string   `json:"disambiguators,omitempty"`
	Scope          *Scope     `json:"scope,omitempty"`
	TagName        string     `json:"tag_name"`
	Role           string     `json:"role,omitempty"`
}

// Validate checks the bundle invariants.
func (b *Bundle) Validate() error {
	if b == nil {
		return fmt.Errorf("locator: nil bundle")
	}
	if len(b.Strategies) == 0 {
		return fmt.Errorf("locator: bundle has no strategies")
	}
	for i, s := range b.Strategies {
		switch s.Kind {
		case KindCSS, KindXPath, KindText, KindARIA, KindRole, KindTestID, KindPosition, KindVisual:
		default:
			return fmt.Errorf("locator: strategy %d has unknown kind %q", i, s.Kind)
		}
		if s.Value == "" {
			return fmt.Errorf("locator: strategy %d (%s) has empty value", i, s.Kind)
		}
	}
	if b.Scope != nil {
		if err := b.Scope.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the midpoint of the rect.
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Contains reports whether the point lies inside the rect.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Area returns the rect surface in px².
func (r Rect) Area() float64 {
	return r.W * r.H
}

// Signature carries role/text/name hints about the recorded target that
// are independent of the locator bundle. The recovery cascade works from
// the signature when every recorded strategy has gone stale.
type Signature struct {
	TagName     string `json:"tag_name,omitempty"`
	Role        string `json:"role,omitempty"`
	Text        string `json:"text,omitempty"`
	Name        string `json:"name,omitempty"` // accessible name
	Selector    string `json:"selector,omitempty"`
	ClickPoint  *Point `json:"click_point,omitempty"`
	BoundingBox *Rect  `json:"bounding_box,omitempty"`
	PageURL     string `json:"page_url,omitempty"`
	PageType    string `json:"page_type,omitempty"`
	Interactive bool   `json:"interactive"`
}

// Describe renders the signature as a short natural-language target
// description for the semantic matching service.
func (s Signature) Describe() string {
	desc := "element"
	if s.Role != "" {
		desc = s.Role
	} else if s.TagName != "" {
		desc = s.TagName
	}
	if s.Text != "" {
		return fmt.Sprintf("a %s with text %q", desc, s.Text)
	}
	if s.Name != "" {
		return fmt.Sprintf("a %s labelled %q", desc, s.Name)
	}
	if s.Selector != "" {
		return fmt.Sprintf("a %s previously matching %q", desc, s.Selector)
	}
	return "an unlabelled " + desc
}
