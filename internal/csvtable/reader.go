package csvtable

// reader.go prepares uploaded bytes for Parse:
//
//   - BOMSkippingReader removes a UTF-8 byte order mark written by Excel
//   - ReadAll enforces a size limit and rejects input that is not UTF-8

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	// ErrFileTooLarge is returned by ReadAll when the input exceeds the limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidEncoding is returned by ReadAll for input that is not UTF-8,
	// such as a spreadsheet saved as Windows-1252.
	ErrInvalidEncoding = errors.New("encoding error")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader strips a leading UTF-8 BOM from the wrapped reader.
type BOMSkippingReader struct {
	r       *bufio.Reader
	checked bool
}

// NewBOMSkippingReader wraps r.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{r: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.r.Peek(len(utf8BOM))
		if err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = b.r.Discard(len(utf8BOM))
		}
	}
	return b.r.Read(p)
}

// ReadAll reads at most maxBytes from r (no limit when maxBytes <= 0),
// strips a BOM and returns the text ready for Parse. Input that is not valid
// UTF-8 fails with ErrInvalidEncoding naming the first bad byte offset.
func ReadAll(r io.Reader, maxBytes int64) (string, error) {
	src := io.Reader(NewBOMSkippingReader(r))
	if maxBytes > 0 {
		src = io.LimitReader(src, maxBytes+1)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("read csv: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, maxBytes)
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: invalid UTF-8 at byte %d", ErrInvalidEncoding, invalidOffset(data))
	}
	return string(data), nil
}

func invalidOffset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return len(data)
}
