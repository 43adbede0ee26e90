// Package parser extracts the plain text of process descriptions from
// files so it can be tokenized and annotated.
package parser

import (
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned for file formats without a parser.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

// ParseResult is what a parser produces from a file.
type ParseResult struct {
	// Paragraphs in reading order. Headings are paragraphs of their own.
	Paragraphs []string
	Pages      int
	Method     string // "native"
}

// Text joins the paragraphs with blank lines.
func (r *ParseResult) Text() string {
	if r == nil {
		return ""
	}
	return joinParagraphs(r.Paragraphs)
}

// Parser can parse a specific file format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
