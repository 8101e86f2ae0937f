// Package csvtable turns delimited text into a header list plus rows keyed
// by header.
//
// The parser is permissive on purpose of what browsers and spreadsheet tools
// actually export: it never returns an error. Unterminated quotes run to the
// end of input, stray quotes inside unquoted fields are kept literally, short
// rows are padded with empty strings and long rows are truncated to the
// header width.
package csvtable

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultDelimiter separates fields when no other delimiter is configured.
const DefaultDelimiter = ','

// Row maps a header name to the cell value for one data line.
// Every row produced by Parse has a key for every header.
type Row map[string]string

// Table is a parsed CSV document.
type Table struct {
	Headers []string
	Rows    []Row
}

// Len returns the number of data rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// HasHeader reports whether name is one of the table's headers.
func (t Table) HasHeader(name string) bool {
	for _, h := range t.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// Chunk returns rows [start, start+size) clamped to the table bounds.
func (t Table) Chunk(start, size int) []Row {
	if start < 0 {
		start = 0
	}
	if start >= len(t.Rows) || size <= 0 {
		return nil
	}
	end := start + size
	if end > len(t.Rows) {
		end = len(t.Rows)
	}
	return t.Rows[start:end]
}

// Option configures Parse.
type Option func(*options)

type options struct {
	delimiter rune
}

// WithDelimiter sets a single-character field delimiter.
// Quote, CR, LF and invalid runes are ignored and the default is kept.
func WithDelimiter(r rune) Option {
	return func(o *options) {
		if validDelimiter(r) {
			o.delimiter = r
		}
	}
}

func validDelimiter(r rune) bool {
	return r != '"' && r != '\r' && r != '\n' && r != utf8.RuneError && r != 0
}

// ParseDelimiter converts user input such as ";", "\t" or "tab" into a rune.
// Empty input yields DefaultDelimiter.
func ParseDelimiter(s string) (rune, bool) {
	switch strings.ToLower(s) {
	case "":
		return DefaultDelimiter, true
	case `\t`, "tab":
		return '\t', true
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || !validDelimiter(r) {
		return 0, false
	}
	return r, true
}

// Parse reads text into a Table. The first record is the header list.
func Parse(text string, opts ...Option) Table {
	o := options{delimiter: DefaultDelimiter}
	for _, opt := range opts {
		opt(&o)
	}

	records := scan(text, o.delimiter)
	if len(records) == 0 {
		return Table{}
	}

	headers := uniqueHeaders(records[0])
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	return Table{Headers: headers, Rows: rows}
}

// uniqueHeaders suffixes repeated header names so that keys stay distinct.
func uniqueHeaders(raw []string) []string {
	seen := make(map[string]int, len(raw))
	headers := make([]string, len(raw))
	for i, h := range raw {
		seen[h]++
		name := h
		for n := seen[h]; n > 1; n++ {
			name = h + "_" + strconv.Itoa(n)
			if seen[name] == 0 {
				seen[name] = 1
				break
			}
		}
		headers[i] = name
	}
	return headers
}

// scan splits text into records. A separator is either the delimiter or a
// line break (CRLF, LF or bare CR); a line break closes the current record.
// Lines with no characters at all are dropped.
func scan(text string, delim rune) [][]string {
	var records [][]string
	var record []string

	n := len(text)
	if n == 0 {
		return nil
	}

	i := 0
	lineStart := 0
	for {
		value, next := readField(text, i, delim)
		record = append(record, value)
		i = next

		if i >= n {
			if !(len(record) == 1 && i == lineStart) {
				records = append(records, record)
			}
			return records
		}

		r, size := utf8.DecodeRuneInString(text[i:])
		switch r {
		case delim:
			i += size
			continue
		case '\r':
			blank := len(record) == 1 && i == lineStart
			i++
			if i < n && text[i] == '\n' {
				i++
			}
			if !blank {
				records = append(records, record)
			}
		case '\n':
			blank := len(record) == 1 && i == lineStart
			i++
			if !blank {
				records = append(records, record)
			}
		}
		record = nil
		lineStart = i
		if i >= n {
			return records
		}
	}
}

// readField reads one field starting at i and returns its value and the
// index of the separator that ended it (or len(text)).
func readField(text string, i int, delim rune) (string, int) {
	n := len(text)
	if i < n && text[i] == '"' {
		return readQuoted(text, i+1, delim)
	}

	j := i
	for j < n {
		r, size := utf8.DecodeRuneInString(text[j:])
		if r == delim || r == '\r' || r == '\n' {
			break
		}
		j += size
	}
	return text[i:j], j
}

// readQuoted reads a quoted field whose opening quote precedes i.
// A doubled quote is an escaped literal quote.
func readQuoted(text string, i int, delim rune) (string, int) {
	var b strings.Builder
	n := len(text)

	for {
		k := strings.IndexByte(text[i:], '"')
		if k < 0 {
			// Unterminated: take the rest of input.
			b.WriteString(text[i:])
			return b.String(), n
		}
		b.WriteString(text[i : i+k])
		i += k + 1
		if i < n && text[i] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		break
	}

	// Anything between the closing quote and the next separator is kept.
	j := i
	for j < n {
		r, size := utf8.DecodeRuneInString(text[j:])
		if r == delim || r == '\r' || r == '\n' {
			break
		}
		j += size
	}
	b.WriteString(text[i:j])
	return b.String(), j
}
