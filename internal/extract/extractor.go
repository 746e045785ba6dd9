// Package extract pulls plain text out of uploaded study material.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for binary files of an unknown format.
var ErrUnsupported = errors.New("unsupported file format")

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on its extension (with leading dot).
// Files with an unknown extension are accepted as plain text only when they are valid UTF-8.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".odt", ".rtf":
		return extractRich(content)
	case ".txt", ".md", ".rst", ".csv", "":
		return extractPlain(content)
	default:
		if !utf8.Valid(content) {
			return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
		}
		return string(content), nil
	}
}
