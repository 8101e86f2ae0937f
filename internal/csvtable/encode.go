package csvtable

import (
	"strings"
)

// Encode writes headers and rows back to delimited text that Parse reads
// back to the same values. Fields are quoted only when they contain the
// delimiter, a quote or a line break, or when a single-column row would
// otherwise produce a blank line.
func Encode(headers []string, rows []Row, delim rune) string {
	if !validDelimiter(delim) {
		delim = DefaultDelimiter
	}

	var b strings.Builder
	writeRecord(&b, headers, delim)
	for _, row := range rows {
		b.WriteByte('\n')
		values := make([]string, len(headers))
		for i, h := range headers {
			values[i] = row[h]
		}
		writeRecord(&b, values, delim)
	}
	return b.String()
}

// EncodeRecord returns a single line of delimited text.
func EncodeRecord(values []string, delim rune) string {
	if !validDelimiter(delim) {
		delim = DefaultDelimiter
	}
	var b strings.Builder
	writeRecord(&b, values, delim)
	return b.String()
}

func writeRecord(b *strings.Builder, values []string, delim rune) {
	for i, v := range values {
		if i > 0 {
			b.WriteRune(delim)
		}
		if needsQuote(v, delim) || (len(values) == 1 && v == "") {
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(v, `"`, `""`))
			b.WriteByte('"')
			continue
		}
		b.WriteString(v)
	}
}

func needsQuote(v string, delim rune) bool {
	if v == "" {
		return false
	}
	return strings.ContainsRune(v, delim) ||
		strings.ContainsAny(v, "\"\r\n")
}
