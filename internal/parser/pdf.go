package parser

import (
	"bytes"
	"io"

	"github.com/ledongthuc/pdf"
)

// parsePDF extracts the plain text of every page.
func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ParseError{FileType: "pdf", Err: err}
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", &ParseError{FileType: "pdf", Err: err}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return "", &ParseError{FileType: "pdf", Err: err}
	}
	return buf.String(), nil
}
