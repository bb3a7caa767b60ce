// Package extract turns document files into plain text for chunking. It
// supports PDF, DOCX, XLSX and plain text/markdown. Scanned PDFs without a
// text layer yield little or no text; OCR is not attempted.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/ragctx-go/internal/errkind"
)

// ErrUnsupported is returned for file extensions no extractor handles.
var ErrUnsupported = fmt.Errorf("extract: unsupported format: %w", errkind.ErrInput)

// ErrMalformed is returned when a supported document cannot be parsed.
var ErrMalformed = fmt.Errorf("extract: malformed document: %w", errkind.ErrInput)

// Format is the extractor family selected by a file extension.
type Format string

// Supported formats.
const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatXLSX Format = "xlsx"
	FormatText Format = "text"
)

var formats = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".xlsx":     FormatXLSX,
	".txt":      FormatText,
	".md":       FormatText,
	".markdown": FormatText,
}

// FormatOf returns the format for path's extension (case-insensitive).
func FormatOf(path string) (Format, bool) {
	f, ok := formats[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// Supported reports whether path has an extension an extractor handles.
func Supported(path string) bool {
	_, ok := FormatOf(path)
	return ok
}

// Extensions returns the supported extensions in sorted order.
func Extensions() []string {
	out := make([]string, 0, len(formats))
	for ext := range formats {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// File reads path and returns its text.
func File(path string) (string, error) {
	if !Supported(path) {
		return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnsupported, filepath.Ext(path), strings.Join(Extensions(), ", "))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("extract: %s: %w", path, errkind.ErrNotFound)
		}
		return "", fmt.Errorf("extract: read %s: %w", path, err)
	}
	text, err := Bytes(content, filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("extract: %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

// Bytes extracts text from content of the given extension (with leading dot).
func Bytes(content []byte, ext string) (string, error) {
	f, ok := formats[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	var (
		text string
		err  error
	)
	switch f {
	case FormatPDF:
		text, err = pdfText(content)
	case FormatDOCX:
		text, err = docxText(content)
	case FormatXLSX:
		text, err = xlsxText(content)
	default:
		return plainText(content), nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return text, nil
}

// plainText returns content as a string with invalid UTF-8 replaced.
func plainText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "�")
}
