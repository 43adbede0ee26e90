// Package tokenize turns raw text into an unannotated document: sentences,
// tokens and Penn Treebank part-of-speech tags.
package tokenize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"

	"github.com/brunobiangulo/petnlp/document"
)

// ErrNoTokens is returned for text that yields no tokens.
var ErrNoTokens = errors.New("tokenize: text contains no tokens")

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithIDs sets the generator of document ids. The default generates random
// UUIDs.
func WithIDs(next func() string) Option {
	return func(t *Tokenizer) { t.newID = next }
}

// WithCategory sets the category stamped on every document.
func WithCategory(category string) Option {
	return func(t *Tokenizer) { t.category = category }
}

// Tokenizer segments and tags text. It is safe for concurrent use.
type Tokenizer struct {
	newID    func() string
	category string
}

// New creates a Tokenizer.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{newID: func() string { return uuid.NewString() }}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Document tokenizes text. Sentences are numbered from zero in order, and
// tokens are numbered by their position in the document.
func (t *Tokenizer) Document(name, text string) (*document.Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoTokens
	}

	seg, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false))
	if err != nil {
		return nil, fmt.Errorf("segmenting text: %w", err)
	}

	doc := &document.Document{
		ID:       t.newID(),
		Category: t.category,
		Text:     text,
		Name:     name,
	}
	sentence := 0
	for _, s := range seg.Sentences() {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		tagged, err := prose.NewDocument(s.Text,
			prose.WithSegmentation(false),
			prose.WithExtraction(false))
		if err != nil {
			return nil, fmt.Errorf("tagging sentence %d: %w", sentence, err)
		}
		tokens := tagged.Tokens()
		if len(tokens) == 0 {
			continue
		}
		for _, tok := range tokens {
			doc.Tokens = append(doc.Tokens, document.Token{
				Text:            tok.Text,
				IndexInDocument: len(doc.Tokens),
				PosTag:          tok.Tag,
				SentenceIndex:   sentence,
			})
		}
		sentence++
	}

	if len(doc.Tokens) == 0 {
		return nil, ErrNoTokens
	}
	return doc, nil
}
