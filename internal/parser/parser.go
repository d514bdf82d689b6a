// Package parser extracts plain text from uploaded files. The ingestion core
// only ever sees the extracted text; everything here is a collaborator in
// front of it.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ParseError reports a failed text extraction. It is fatal to an ingestion
// run: the document is marked FAILED with this message.
type ParseError struct {
	FileType string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s file: %v", e.FileType, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser extracts plain text from raw file bytes.
type Parser interface {
	Parse(fileName string, data []byte) (string, error)
}

// Registry dispatches to a per-format extractor based on the file extension.
type Registry struct{}

// New creates the default parser registry.
func New() *Registry {
	return &Registry{}
}

// FileType returns the normalized type label for a file name ("pdf", "html",
// "txt", ...), used both for dispatch and as echoed chunk metadata.
func FileType(fileName string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		return "txt"
	}
	return ext
}

// Parse extracts plain text from data. Unknown extensions are treated as
// plain text when the bytes are valid UTF-8.
func (r *Registry) Parse(fileName string, data []byte) (string, error) {
	fileType := FileType(fileName)
	switch fileType {
	case "pdf":
		return parsePDF(data)
	case "html", "htm":
		return parseHTML(data)
	case "txt", "md", "csv", "log":
		return string(data), nil
	default:
		if !utf8.Valid(data) {
			return "", &ParseError{FileType: fileType, Err: fmt.Errorf("unsupported binary format %q", fileType)}
		}
		return string(data), nil
	}
}
