package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts the text layer of PDF files. Scanned pages without
// text are skipped.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	result := &ParseResult{Pages: totalPages, Method: "native"}

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("pdf: skipping page", "path", path, "page", i, "error", err)
			continue
		}

		result.Paragraphs = append(result.Paragraphs, pageParagraphs(text)...)
	}

	if len(result.Paragraphs) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", path)
	}
	return result, nil
}

// pageParagraphs splits page text at blank lines and headings. A heading
// becomes a paragraph of its own so it does not run into the next
// sentence.
func pageParagraphs(text string) []string {
	var paragraphs []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			paragraphs = append(paragraphs, foldLines(current))
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case isLikelyHeading(trimmed):
			flush()
			paragraphs = append(paragraphs, trimmed)
		default:
			current = append(current, trimmed)
		}
	}
	flush()
	return paragraphs
}

func isLikelyHeading(line string) bool {
	// All caps and short
	if len(line) < 100 && line == strings.ToUpper(line) && strings.ToUpper(line) != strings.ToLower(line) && len(line) > 2 {
		return true
	}
	if len(line) >= 120 {
		return false
	}
	// Numbered section like "1.", "1.1", "3.9.1" followed by a title
	if line[0] >= '0' && line[0] <= '9' {
		number, _, _ := strings.Cut(line, " ")
		if strings.Trim(number, "0123456789.") == "" && strings.Contains(number, ".") {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{"section ", "chapter ", "part "} {
		if strings.HasPrefix(lower, prefix) && !strings.HasSuffix(line, ".") {
			return true
		}
	}
	return false
}
