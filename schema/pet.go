package schema

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/brunobiangulo/petnlp/document"
)

// ReadPET decodes PET documents. Relations are mention-addressed unless a
// document says otherwise, and token document indices are restamped to the
// token's position.
func ReadPET(r io.Reader) ([]*document.Document, error) {
	raws, err := records(r)
	if err != nil {
		return nil, err
	}
	docs := make([]*document.Document, 0, len(raws))
	for i, raw := range raws {
		var marker struct {
			RelationAddressing *string `json:"relationAddressing"`
		}
		if err := json.Unmarshal(raw, &marker); err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrMalformed, i, err)
		}
		d := &document.Document{}
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrMalformed, i, err)
		}
		if marker.RelationAddressing == nil {
			d.Addressing = document.ByMention
		}
		for ti := range d.Tokens {
			d.Tokens[ti].IndexInDocument = ti
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// WritePET encodes docs as JSON lines with mention-addressed relations.
func WritePET(w io.Writer, docs []*document.Document) error {
	enc := json.NewEncoder(w)
	for i, d := range docs {
		pet, err := d.WithAddressing(document.ByMention)
		if err != nil {
			return fmt.Errorf("document %d (%s): %w", i, d.ID, err)
		}
		if err := enc.Encode(pet); err != nil {
			return fmt.Errorf("encoding document %d (%s): %w", i, d.ID, err)
		}
	}
	return nil
}
