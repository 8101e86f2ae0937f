package content

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer cleans rendered text before it is persisted.
type Sanitizer interface {
	// Title returns plain text safe for use as a page title.
	Title(s string) string
	// Body returns s restricted to an allow-listed HTML subset.
	Body(s string) string
}

// HTMLSanitizer is the default Sanitizer. Titles lose all markup; bodies
// keep the user-generated-content subset (links, lists, tables, headings,
// basic formatting, images).
type HTMLSanitizer struct {
	strict *bluemonday.Policy
	body   *bluemonday.Policy
}

// NewHTMLSanitizer builds the default policies.
func NewHTMLSanitizer() *HTMLSanitizer {
	body := bluemonday.UGCPolicy()
	body.AllowAttrs("class").Globally()
	body.AllowAttrs("target").Matching(bluemonday.SpaceSeparatedTokens).OnElements("a")

	return &HTMLSanitizer{
		strict: bluemonday.StrictPolicy(),
		body:   body,
	}
}

// Title strips tags, decodes entities and collapses whitespace.
func (h *HTMLSanitizer) Title(s string) string {
	s = h.strict.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// Body applies the allow-list policy.
func (h *HTMLSanitizer) Body(s string) string {
	return h.body.Sanitize(s)
}

// PassthroughSanitizer returns its input unchanged. Used when the store
// applies its own filtering.
type PassthroughSanitizer struct{}

// Title returns s.
func (PassthroughSanitizer) Title(s string) string { return s }

// Body returns s.
func (PassthroughSanitizer) Body(s string) string { return s }
