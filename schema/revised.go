package schema

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/brunobiangulo/petnlp/bio"
	"github.com/brunobiangulo/petnlp/document"
)

type revisedToken struct {
	Text            string `json:"text"`
	IndexInDocument int    `json:"index_in_document"`
	PosTag          string `json:"pos_tag"`
	BioTag          string `json:"bio_tag"`
	SentenceIndex   int    `json:"sentence_index"`
}

type revisedSentence struct {
	Tokens []revisedToken `json:"tokens"`
}

type revisedMention struct {
	Tag           string `json:"tag"`
	SentenceIndex int    `json:"sentence_index"`
	TokenIndices  []int  `json:"token_indices"`
}

type revisedEntity struct {
	MentionIndices []int `json:"mention_indices"`
}

type revisedRelation struct {
	Head     int    `json:"head"`
	Tail     int    `json:"tail"`
	Tag      string `json:"tag"`
	Evidence []int  `json:"evidence"`
}

type revisedDocument struct {
	Text      string            `json:"text"`
	Name      string            `json:"name"`
	Sentences []revisedSentence `json:"sentences"`
	Mentions  []revisedMention  `json:"mentions"`
	Entities  []revisedEntity   `json:"entities"`
	Relations []revisedRelation `json:"relations"`
}

// ReadRevised decodes revised documents. Sentence and document indices are
// taken from the nesting; stored index and bio_tag fields are ignored.
func ReadRevised(r io.Reader) ([]*document.Document, error) {
	raws, err := records(r)
	if err != nil {
		return nil, err
	}
	docs := make([]*document.Document, 0, len(raws))
	for i, raw := range raws {
		var rd revisedDocument
		if err := json.Unmarshal(raw, &rd); err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrMalformed, i, err)
		}
		d, err := fromRevised(rd)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func fromRevised(rd revisedDocument) (*document.Document, error) {
	d := &document.Document{Text: rd.Text, Name: rd.Name, Addressing: document.ByEntity}

	offsets := make([]int, len(rd.Sentences))
	for si, s := range rd.Sentences {
		offsets[si] = len(d.Tokens)
		for _, t := range s.Tokens {
			d.Tokens = append(d.Tokens, document.Token{
				Text:            t.Text,
				IndexInDocument: len(d.Tokens),
				PosTag:          t.PosTag,
				SentenceIndex:   si,
			})
		}
	}

	for mi, m := range rd.Mentions {
		if m.SentenceIndex < 0 || m.SentenceIndex >= len(rd.Sentences) {
			return nil, fmt.Errorf("%w: mention %d: sentence %d of %d", ErrMalformed, mi, m.SentenceIndex, len(rd.Sentences))
		}
		size := len(rd.Sentences[m.SentenceIndex].Tokens)
		mention := document.Mention{Tag: m.Tag, TokenIndices: make([]int, 0, len(m.TokenIndices))}
		for _, ti := range m.TokenIndices {
			if ti < 0 || ti >= size {
				return nil, fmt.Errorf("%w: mention %d: token %d of sentence %d (len %d)", ErrMalformed, mi, ti, m.SentenceIndex, size)
			}
			mention.TokenIndices = append(mention.TokenIndices, offsets[m.SentenceIndex]+ti)
		}
		d.Mentions = append(d.Mentions, mention)
	}

	for _, e := range rd.Entities {
		d.Entities = append(d.Entities, document.Entity{MentionIndices: e.MentionIndices})
	}
	for _, r := range rd.Relations {
		d.Relations = append(d.Relations, document.Relation{Head: r.Head, Tail: r.Tail, Tag: r.Tag, Evidence: r.Evidence})
	}
	return d, nil
}

// WriteRevised encodes docs as an indented JSON array. Relations are
// converted to entity addressing, which requires resolved coreference, and
// bio_tag is derived from the mentions.
func WriteRevised(w io.Writer, docs []*document.Document) error {
	out := make([]revisedDocument, 0, len(docs))
	for i, d := range docs {
		rd, err := toRevised(d)
		if err != nil {
			return fmt.Errorf("document %d (%s): %w", i, d.ID, err)
		}
		out = append(out, rd)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(out)
}

// MarshalRevised encodes a single document in the revised format.
func MarshalRevised(d *document.Document) ([]byte, error) {
	rd, err := toRevised(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rd)
}

func toRevised(d *document.Document) (revisedDocument, error) {
	d, err := d.WithAddressing(document.ByEntity)
	if err != nil {
		return revisedDocument{}, err
	}
	tags, err := bio.Encode(d)
	if err != nil {
		return revisedDocument{}, err
	}

	rd := revisedDocument{
		Text:      d.Text,
		Name:      d.Name,
		Sentences: []revisedSentence{},
		Mentions:  []revisedMention{},
		Entities:  []revisedEntity{},
		Relations: []revisedRelation{},
	}

	// position -> (sentence, index in sentence)
	type place struct{ sentence, index int }
	places := make([]place, len(d.Tokens))
	pos := 0
	for si, sentence := range d.Sentences() {
		rs := revisedSentence{Tokens: make([]revisedToken, 0, len(sentence))}
		for ti, t := range sentence {
			rs.Tokens = append(rs.Tokens, revisedToken{
				Text:            t.Text,
				IndexInDocument: pos,
				PosTag:          t.PosTag,
				BioTag:          tags[si][ti],
				SentenceIndex:   si,
			})
			places[pos] = place{sentence: si, index: ti}
			pos++
		}
		rd.Sentences = append(rd.Sentences, rs)
	}

	for mi, m := range d.Mentions {
		if len(m.TokenIndices) == 0 {
			return revisedDocument{}, fmt.Errorf("mention %d: %w: no tokens", mi, document.ErrInconsistent)
		}
		rm := revisedMention{Tag: m.Tag, TokenIndices: make([]int, 0, len(m.TokenIndices))}
		for n, ti := range m.TokenIndices {
			if ti < 0 || ti >= len(places) {
				return revisedDocument{}, fmt.Errorf("mention %d: %w: token %d", mi, document.ErrOutOfRange, ti)
			}
			p := places[ti]
			if n == 0 {
				rm.SentenceIndex = p.sentence
			} else if p.sentence != rm.SentenceIndex {
				return revisedDocument{}, fmt.Errorf("mention %d: %w: spans sentences", mi, document.ErrInconsistent)
			}
			rm.TokenIndices = append(rm.TokenIndices, p.index)
		}
		rd.Mentions = append(rd.Mentions, rm)
	}

	for _, e := range d.Entities {
		rd.Entities = append(rd.Entities, revisedEntity{MentionIndices: e.MentionIndices})
	}
	for _, r := range d.Relations {
		evidence := r.Evidence
		if evidence == nil {
			evidence = []int{}
		}
		rd.Relations = append(rd.Relations, revisedRelation{Head: r.Head, Tail: r.Tail, Tag: r.Tag, Evidence: evidence})
	}
	return rd, nil
}
