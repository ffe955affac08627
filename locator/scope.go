package locator

import "fmt"

// ScopeKind identifies the container type a scope narrows the search to.
type ScopeKind string

const (
	ScopePage           ScopeKind = "page"
	ScopeModal          ScopeKind = "modal"
	ScopeIframe         ScopeKind = "iframe"
	ScopeNearestSection ScopeKind = "nearest_section"
	ScopeTableRow       ScopeKind = "table_row"
	ScopeContainer      ScopeKind = "container"
	ScopeWidget         ScopeKind = "widget"
	ScopeShadowRoot     ScopeKind = "shadow_root"
)

// Scope narrows strategy search to a container element. When a scope was
// recorded and cannot be resolved on the live page, strategy search is
// never run against the whole document; resolution fails fast instead.
type Scope struct {
	Kind ScopeKind `json:"kind"`

	// Selector locates the container for MODAL (optional), IFRAME,
	// CONTAINER and SHADOW_ROOT (host element) scopes.
	Selector string `json:"selector,omitempty"`

	// HeadingText is the case-insensitive substring matched against
	// heading-like nodes for NEAREST_SECTION.
	HeadingText string `json:"heading_text,omitempty"`

	// AnchorText selects the TABLE_ROW whose cell text contains it.
	AnchorText string `json:"anchor_text,omitempty"`

	// AnchorColumn restricts the anchor match to one cell index.
	// Negative means any column.
	AnchorColumn int `json:"anchor_column,omitempty"`

	// FallbackText is substring-matched over generic block containers
	// when a CONTAINER selector no longer matches.
	FallbackText string `json:"fallback_text,omitempty"`

	// Title matches card/widget/panel containers for WIDGET.
	Title string `json:"title,omitempty"`
}

// Validate checks that the scope carries the fields its kind requires.
func (s *Scope) Validate() error {
	switch s.Kind {
	case ScopePage:
		return nil
	case ScopeModal:
		return nil // selector optional, generic modal patterns otherwise
	case ScopeIframe:
		if s.Selector == "" {
			return fmt.Errorf("locator: iframe scope requires a selector")
		}
	case ScopeNearestSection:
		if s.HeadingText == "" {
			return fmt.Errorf("locator: nearest_section scope requires heading text")
		}
	case ScopeTableRow:
		if s.AnchorText == "" {
			return fmt.Errorf("locator: table_row scope requires anchor text")
		}
	case ScopeContainer:
		if s.Selector == "" && s.FallbackText == "" {
			return fmt.Errorf("locator: container scope requires a selector or fallback text")
		}
	case ScopeWidget:
		if s.Title == "" {
			return fmt.Errorf("locator: widget scope requires a title")
		}
	case ScopeShadowRoot:
		if s.Selector == "" {
			return fmt.Errorf("locator: shadow_root scope requires a host selector")
		}
	default:
		return fmt.Errorf("locator: unknown scope kind %q", s.Kind)
	}
	return nil
}

func (s *Scope) String() string {
	switch s.Kind {
	case ScopePage:
		return "page"
	case ScopeNearestSection:
		return fmt.Sprintf("nearest_section(%q)", s.HeadingText)
	case ScopeTableRow:
		return fmt.Sprintf("table_row(%q)", s.AnchorText)
	case ScopeWidget:
		return fmt.Sprintf("widget(%q)", s.Title)
	default:
		return fmt.Sprintf("%s(%q)", s.Kind, s.Selector)
	}
}

// PageScope returns the whole-document scope.
func PageScope() *Scope { return &Scope{Kind: ScopePage} }

// ModalScope returns a modal scope. Pass an empty selector to fall back
// to generic modal patterns.
func ModalScope(selector string) *Scope {
	return &Scope{Kind: ScopeModal, Selector: selector}
}

// IframeScope returns a same-origin iframe scope.
func IframeScope(selector string) *Scope {
	return &Scope{Kind: ScopeIframe, Selector: selector}
}

// SectionScope returns a nearest-sectioning-ancestor scope anchored on a
// heading substring.
func SectionScope(headingText string) *Scope {
	return &Scope{Kind: ScopeNearestSection, HeadingText: headingText}
}

// RowScope returns a table-row scope anchored on cell text. Column -1
// matches any cell.
func RowScope(anchorText string, anchorColumn int) *Scope {
	return &Scope{Kind: ScopeTableRow, AnchorText: anchorText, AnchorColumn: anchorColumn}
}

// ContainerScope returns a generic container scope with a text fallback.
func ContainerScope(selector, fallbackText string) *Scope {
	return &Scope{Kind: ScopeContainer, Selector: selector, FallbackText: fallbackText}
}

// WidgetScope returns a card/widget/panel scope matched by title.
func WidgetScope(title string) *Scope {
	return &Scope{Kind: ScopeWidget, Title: title}
}

// ShadowScope returns a shadow-root scope for the given host selector.
func ShadowScope(hostSelector string) *Scope {
	return &Scope{Kind: ScopeShadowRoot, Selector: hostSelector}
}
