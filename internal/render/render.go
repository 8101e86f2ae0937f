// Package render substitutes placeholder tokens in a template with values
// from one CSV row.
package render

import (
	"sort"
	"strings"

	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/JonMunkholm/pagegen/internal/placeholder"
)

// Template is the title and body a batch renders against. It is read once
// and never modified while rows are processed.
type Template struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Placeholders returns the sorted union of placeholders in t.
func (t Template) Placeholders() []string {
	return placeholder.ScanTemplate(t.Title, t.Body)
}

// Mapping maps a placeholder name to the CSV column supplying its value.
type Mapping map[string]string

// Columns returns the distinct mapped columns, sorted.
func (m Mapping) Columns() []string {
	seen := make(map[string]struct{}, len(m))
	cols := make([]string, 0, len(m))
	for _, col := range m {
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Missing returns mapped columns that are not in headers.
func (m Mapping) Missing(headers []string) []string {
	have := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		have[h] = struct{}{}
	}
	var missing []string
	for _, col := range m.Columns() {
		if _, ok := have[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// Result is a rendered title and body.
type Result struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Render replaces every literal {{p}} in t with row[m[p]]. Placeholders that
// are unmapped, or whose column is absent from row, stay in the output
// untouched. Substituted values are never rescanned, so a cell containing
// "{{x}}" is inserted verbatim.
func Render(t Template, m Mapping, row csvtable.Row) Result {
	r := replacer(m, row)
	if r == nil {
		return Result{Title: t.Title, Body: t.Body}
	}
	return Result{
		Title: r.Replace(t.Title),
		Body:  r.Replace(t.Body),
	}
}

// replacer builds a single-pass replacer for one row. Tokens all start with
// "{{" and end at the first "}}", so no token is a prefix of another and
// replacement order does not matter.
func replacer(m Mapping, row csvtable.Row) *strings.Replacer {
	if len(m) == 0 {
		return nil
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, 2*len(names))
	for _, name := range names {
		value, ok := row[m[name]]
		if !ok {
			continue
		}
		pairs = append(pairs, placeholder.Token(name), value)
	}
	if len(pairs) == 0 {
		return nil
	}
	return strings.NewReplacer(pairs...)
}
