// Package bio converts between per-token BIO tag sequences and document
// mentions.
package bio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brunobiangulo/petnlp/document"
)

// Outside is the tag of tokens that belong to no mention.
const Outside = "O"

const (
	beginPrefix  = "B-"
	insidePrefix = "I-"
)

// ErrShapeMismatch is returned when predictions do not line up with the
// document's sentences and tokens.
var ErrShapeMismatch = errors.New("bio: predictions do not match document shape")

// Split separates a tag into its prefix ("B", "I" or "") and its label.
// Outside yields ("", "O").
func Split(tag string) (prefix, label string) {
	tag = strings.TrimSpace(tag)
	before, after, found := strings.Cut(tag, "-")
	if !found {
		return "", tag
	}
	return before, after
}

// Decode builds a new document holding d's metadata, freshly stamped tokens
// and the mentions encoded by predictions, one tag sequence per sentence.
//
// A B- tag closes any open mention and opens a new one, O closes the open
// mention, and every other tag extends the open mention whatever its label.
// Open mentions are closed at the end of each sentence.
func Decode(d *document.Document, predictions [][]string) (*document.Document, error) {
	sentences := d.Sentences()
	if len(sentences) != len(predictions) {
		return nil, fmt.Errorf("%w: %d sentences, %d predicted sequences", ErrShapeMismatch, len(sentences), len(predictions))
	}
	for i, sentence := range sentences {
		if len(sentence) != len(predictions[i]) {
			return nil, fmt.Errorf("%w: sentence %d has %d tokens, %d predicted tags", ErrShapeMismatch, i, len(sentence), len(predictions[i]))
		}
	}

	decoded := &document.Document{
		ID:       d.ID,
		Category: d.Category,
		Text:     d.Text,
		Name:     d.Name,
		Tokens:   make([]document.Token, 0, len(d.Tokens)),
	}

	for sentenceID, sentence := range sentences {
		var current *document.Mention
		for i, token := range sentence {
			token.SentenceIndex = sentenceID
			decoded.Tokens = append(decoded.Tokens, token)

			tag := strings.TrimSpace(predictions[sentenceID][i])
			_, label := Split(tag)
			isStart := strings.HasPrefix(tag, beginPrefix)

			if (isStart || label == Outside) && current != nil {
				decoded.Mentions = append(decoded.Mentions, *current)
				current = nil
			}
			if isStart {
				current = &document.Mention{Tag: label}
			}
			if current != nil {
				current.TokenIndices = append(current.TokenIndices, token.IndexInDocument)
			}
		}
		if current != nil {
			decoded.Mentions = append(decoded.Mentions, *current)
		}
	}
	return decoded, nil
}

// Encode returns one BIO tag sequence per sentence of d. Tokens claimed by
// an earlier mention keep their first tag when mentions overlap.
func Encode(d *document.Document) ([][]string, error) {
	tags := make([]string, len(d.Tokens))
	for i := range tags {
		tags[i] = Outside
	}
	for mi, m := range d.Mentions {
		for n, ti := range m.TokenIndices {
			if ti < 0 || ti >= len(d.Tokens) {
				return nil, fmt.Errorf("mention %d: %w: token %d", mi, document.ErrOutOfRange, ti)
			}
			if tags[ti] != Outside {
				continue
			}
			if n == 0 {
				tags[ti] = beginPrefix + m.Tag
			} else {
				tags[ti] = insidePrefix + m.Tag
			}
		}
	}

	out := make([][]string, 0, len(tags))
	offset := 0
	for _, sentence := range d.Sentences() {
		out = append(out, tags[offset:offset+len(sentence):offset+len(sentence)])
		offset += len(sentence)
	}
	return out, nil
}
