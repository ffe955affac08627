package aiclient

import (
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/domheal/domtree"
)

// DefaultContextLimit bounds the markdown page context sent with
// matching requests.
const DefaultContextLimit = 4000

// ContextBuilder turns a live tree into compact markdown page context:
// sanitised HTML converted to markdown, truncated to a byte budget.
type ContextBuilder struct {
	policy    *bluemonday.Policy
	converter *converter.Converter
	limit     int
}

// NewContextBuilder creates a builder with the given byte limit
// (DefaultContextLimit when <= 0).
func NewContextBuilder(limit int) *ContextBuilder {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	return &ContextBuilder{
		policy: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		limit: limit,
	}
}

// Build renders the tree body to sanitised markdown. Conversion
// failures fall back to the tree's plain text.
func (b *ContextBuilder) Build(tree *domtree.Tree) string {
	if tree == nil {
		return ""
	}
	html := domtree.Render(tree.Root)
	clean := b.policy.Sanitize(html)

	md, err := b.converter.ConvertString(clean, converter.WithDomain(tree.URL))
	if err != nil || strings.TrimSpace(md) == "" {
		md = tree.Text()
	}
	return truncate(strings.TrimSpace(md), b.limit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Back off to a rune boundary so the cut never emits invalid UTF-8.
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	cut := s[:limit]
	// Do not cut mid-line; the service reads this as prose.
	if i := strings.LastIndexByte(cut, '\n'); i > limit/2 {
		cut = cut[:i]
	}
	return cut
}
