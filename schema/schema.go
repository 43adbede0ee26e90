// Package schema reads and writes the two document interchange formats:
//
//   - PET: one JSON document per line with flat tokens and mention-addressed
//     relations (headMentionIndex/tailMentionIndex), the format of the PET
//     dataset.
//   - Revised: a JSON array of documents whose tokens are nested in
//     sentences, whose mentions carry sentence-relative token indices and
//     whose relations address entities (head/tail/evidence).
//
// Readers accept both a JSON array and JSON lines.
package schema

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/brunobiangulo/petnlp/document"
)

// ErrMalformed is returned for input that is not a valid document.
var ErrMalformed = errors.New("schema: malformed document")

// Format names a supported interchange format.
type Format string

const (
	FormatPET     Format = "pet"
	FormatRevised Format = "revised"
)

// ParseFormat returns the format with the given name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatPET, FormatRevised:
		return f, nil
	default:
		return "", fmt.Errorf("schema: unknown format %q (want %q or %q)", name, FormatPET, FormatRevised)
	}
}

// Read decodes all documents of r in format f.
func Read(r io.Reader, f Format) ([]*document.Document, error) {
	switch f {
	case FormatPET:
		return ReadPET(r)
	case FormatRevised:
		return ReadRevised(r)
	default:
		return nil, fmt.Errorf("schema: unknown format %q", f)
	}
}

// Write encodes docs to w in format f.
func Write(w io.Writer, f Format, docs []*document.Document) error {
	switch f {
	case FormatPET:
		return WritePET(w, docs)
	case FormatRevised:
		return WriteRevised(w, docs)
	default:
		return fmt.Errorf("schema: unknown format %q", f)
	}
}

// ReadFile reads all documents of the file at path.
func ReadFile(path string, f Format) ([]*document.Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	docs, err := Read(file, f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return docs, nil
}

// WriteFile writes docs to the file at path, replacing it.
func WriteFile(path string, f Format, docs []*document.Document) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Write(file, f, docs); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}

// records splits r into raw JSON documents: the elements of a top-level
// array, a single (possibly indented) object, or the non-blank lines of a
// JSON lines stream.
func records(r io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var out []json.RawMessage
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return out, nil
	}
	if trimmed[0] == '{' && json.Valid(trimmed) {
		return []json.RawMessage{json.RawMessage(bytes.Clone(trimmed))}, nil
	}

	var out []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: line %d is not valid JSON", ErrMalformed, line)
		}
		out = append(out, json.RawMessage(bytes.Clone(raw)))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
