package web

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/pagegen/internal/web/templates"
	"github.com/a-h/templ"
)

// seoDescriptionLength is where snippet descriptions are cut.
const seoDescriptionLength = 155

// SEOSnippet is a search-result style preview of a generated page.
type SEOSnippet struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// component returns the templ component that renders snippet.
func (s SEOSnippet) component() templ.Component {
	return templates.SEOPreview(s.Title, s.URL, s.Description)
}

// renderString renders c into a string.
func renderString(ctx context.Context, c templ.Component) (string, error) {
	var b strings.Builder
	if err := c.Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// truncateText cuts s to at most n runes on a word boundary, adding an
// ellipsis when anything was dropped.
func truncateText(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}
