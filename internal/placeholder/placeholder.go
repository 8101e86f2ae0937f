// Package placeholder finds {{name}} substitution tokens in template text.
package placeholder

import (
	"regexp"
	"sort"
)

// pattern matches "{{", one or more characters other than "}", then "}}".
var pattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Set is a collection of distinct placeholder names.
type Set map[string]struct{}

// Scan returns every distinct placeholder name in text. Names are captured
// verbatim: no trimming and no case folding.
func Scan(text string) Set {
	set := make(Set)
	if text == "" {
		return set
	}
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		set[m[1]] = struct{}{}
	}
	return set
}

// ScanTemplate returns the sorted union of placeholders in title and body.
func ScanTemplate(title, body string) []string {
	return Scan(title).Union(Scan(body)).Sorted()
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Union returns a new set holding the names of s and other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Difference returns the names in s that are not in other.
func (s Set) Difference(other Set) Set {
	out := make(Set)
	for k := range s {
		if !other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// Sorted returns the names in ascending order.
func (s Set) Sorted() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Token returns the literal marker for name, e.g. "{{city}}".
func Token(name string) string {
	return "{{" + name + "}}"
}
