package document

import (
	"encoding/json"
	"fmt"
)

// Wire shapes of the in-memory document, field names as written by the
// original annotation tooling.

type jsonToken struct {
	Text            string `json:"text"`
	IndexInDocument int    `json:"indexInDocument"`
	PosTag          string `json:"posTag"`
	SentenceIndex   int    `json:"sentenceIndex"`
}

type jsonMention struct {
	Type                 string `json:"type"`
	TokenDocumentIndices []int  `json:"tokenDocumentIndices"`
}

type jsonEntity struct {
	MentionIndices []int `json:"mentionIndices"`
}

type jsonRelation struct {
	HeadMentionIndex int    `json:"headMentionIndex"`
	TailMentionIndex int    `json:"tailMentionIndex"`
	Type             string `json:"type"`
	Evidence         []int  `json:"evidence,omitempty"`
}

type jsonDocument struct {
	Text      string         `json:"text"`
	Name      string         `json:"name"`
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Tokens    []jsonToken    `json:"tokens"`
	Mentions  []jsonMention  `json:"mentions"`
	Entities  []jsonEntity   `json:"entities"`
	Relations []jsonRelation `json:"relations"`

	// Absent in legacy PET files, whose relations are mention-addressed.
	RelationAddressing string `json:"relationAddressing,omitempty"`
}

// MarshalJSON writes d with the original field names. Relation endpoints
// keep the headMentionIndex/tailMentionIndex names in both schemes.
func (d *Document) MarshalJSON() ([]byte, error) {
	jd := jsonDocument{
		Text:               d.Text,
		Name:               d.Name,
		ID:                 d.ID,
		Category:           d.Category,
		Tokens:             make([]jsonToken, len(d.Tokens)),
		Mentions:           make([]jsonMention, len(d.Mentions)),
		Entities:           make([]jsonEntity, len(d.Entities)),
		Relations:          make([]jsonRelation, len(d.Relations)),
		RelationAddressing: d.Addressing.String(),
	}
	for i, t := range d.Tokens {
		jd.Tokens[i] = jsonToken(t)
	}
	for i, m := range d.Mentions {
		jd.Mentions[i] = jsonMention{Type: m.Tag, TokenDocumentIndices: nonNil(m.TokenIndices)}
	}
	for i, e := range d.Entities {
		jd.Entities[i] = jsonEntity{MentionIndices: nonNil(e.MentionIndices)}
	}
	for i, r := range d.Relations {
		jd.Relations[i] = jsonRelation{HeadMentionIndex: r.Head, TailMentionIndex: r.Tail, Type: r.Tag, Evidence: r.Evidence}
	}
	return json.Marshal(jd)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *Document) UnmarshalJSON(data []byte) error {
	var jd jsonDocument
	if err := json.Unmarshal(data, &jd); err != nil {
		return err
	}
	addressing := ByEntity
	switch jd.RelationAddressing {
	case "", ByEntity.String():
	case ByMention.String():
		addressing = ByMention
	default:
		return fmt.Errorf("document: unknown relation addressing %q", jd.RelationAddressing)
	}

	*d = Document{
		ID:         jd.ID,
		Category:   jd.Category,
		Text:       jd.Text,
		Name:       jd.Name,
		Addressing: addressing,
		Tokens:     make([]Token, len(jd.Tokens)),
		Mentions:   make([]Mention, len(jd.Mentions)),
		Entities:   make([]Entity, len(jd.Entities)),
		Relations:  make([]Relation, len(jd.Relations)),
	}
	for i, t := range jd.Tokens {
		d.Tokens[i] = Token(t)
	}
	for i, m := range jd.Mentions {
		d.Mentions[i] = Mention{Tag: m.Type, TokenIndices: m.TokenDocumentIndices}
	}
	for i, e := range jd.Entities {
		d.Entities[i] = Entity{MentionIndices: e.MentionIndices}
	}
	for i, r := range jd.Relations {
		d.Relations[i] = Relation{Head: r.HeadMentionIndex, Tail: r.TailMentionIndex, Tag: r.Type, Evidence: r.Evidence}
	}
	return nil
}

func nonNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
