// Package document holds the annotation data model shared by every pipeline
// stage: tokens, mentions, coreference entities and relations of one
// process description.
//
// All cross references are plain indices into the owning Document's slices.
// Equality for evaluation never compares those indices directly; it goes
// through the canonical keys in key.go.
package document

import (
	"fmt"
	"slices"
	"strings"
)

// Addressing selects what Relation.Head and Relation.Tail index into.
type Addressing int

const (
	// ByEntity addresses relation endpoints by entity index.
	ByEntity Addressing = iota
	// ByMention addresses relation endpoints by mention index (legacy PET).
	ByMention
)

func (a Addressing) String() string {
	switch a {
	case ByEntity:
		return "entity"
	case ByMention:
		return "mention"
	default:
		return fmt.Sprintf("Addressing(%d)", int(a))
	}
}

// Token is a single word of a document.
type Token struct {
	Text            string
	IndexInDocument int
	PosTag          string
	SentenceIndex   int
}

// IndexInSentence returns the position of t within its sentence.
func (t Token) IndexInSentence(doc *Document) (int, error) {
	idx := 0
	for _, other := range doc.Tokens {
		if other == t {
			return idx, nil
		}
		if other.SentenceIndex == t.SentenceIndex {
			idx++
		}
	}
	return 0, fmt.Errorf("%w: token %q not found in sentence %d", ErrOutOfRange, t.Text, t.SentenceIndex)
}

// Mention is a tagged span of tokens inside a single sentence.
type Mention struct {
	Tag          string
	TokenIndices []int
}

// Tokens resolves the mention's token indices against doc.
func (m Mention) Tokens(doc *Document) ([]Token, error) {
	tokens := make([]Token, 0, len(m.TokenIndices))
	for _, i := range m.TokenIndices {
		if i < 0 || i >= len(doc.Tokens) {
			return nil, outOfRange("token", i, len(doc.Tokens))
		}
		tokens = append(tokens, doc.Tokens[i])
	}
	return tokens, nil
}

// Text joins the mention's token texts with single spaces.
func (m Mention) Text(doc *Document) string {
	parts := make([]string, 0, len(m.TokenIndices))
	for _, i := range m.TokenIndices {
		if i >= 0 && i < len(doc.Tokens) {
			parts = append(parts, doc.Tokens[i].Text)
		}
	}
	return strings.Join(parts, " ")
}

// SentenceIndex returns the sentence the mention lives in.
func (m Mention) SentenceIndex(doc *Document) (int, error) {
	if len(m.TokenIndices) == 0 {
		return 0, fmt.Errorf("%w: empty mention %q", ErrInconsistent, m.Tag)
	}
	tokens, err := m.Tokens(doc)
	if err != nil {
		return 0, err
	}
	sentence := tokens[0].SentenceIndex
	for _, t := range tokens[1:] {
		if t.SentenceIndex != sentence {
			return 0, fmt.Errorf("%w: mention %q spans sentences %d and %d", ErrInconsistent, m.Tag, sentence, t.SentenceIndex)
		}
	}
	return sentence, nil
}

// ContainsToken reports whether the mention covers the token at tokenIndex.
func (m Mention) ContainsToken(tokenIndex int) bool {
	return slices.Contains(m.TokenIndices, tokenIndex)
}

// PrettyPrint renders the mention as `text (tag, first-last)`.
func (m Mention) PrettyPrint(doc *Document) string {
	if len(m.TokenIndices) == 0 {
		return fmt.Sprintf("<empty> (%s)", m.Tag)
	}
	return fmt.Sprintf("%s (%s, %d-%d)", m.Text(doc), m.Tag, slices.Min(m.TokenIndices), slices.Max(m.TokenIndices))
}

// Entity is a coreference cluster of mentions.
type Entity struct {
	MentionIndices []int
}

// Tag returns the single tag shared by all mentions of the entity.
func (e Entity) Tag(doc *Document) (string, error) {
	if len(e.MentionIndices) == 0 {
		return "", fmt.Errorf("%w: entity without mentions", ErrInconsistent)
	}
	var tag string
	for n, i := range e.MentionIndices {
		if i < 0 || i >= len(doc.Mentions) {
			return "", outOfRange("mention", i, len(doc.Mentions))
		}
		if n == 0 {
			tag = doc.Mentions[i].Tag
			continue
		}
		if doc.Mentions[i].Tag != tag {
			return "", fmt.Errorf("%w: entity mixes tags %q and %q", ErrInconsistent, tag, doc.Mentions[i].Tag)
		}
	}
	return tag, nil
}

// PrettyPrint renders the entity as the list of its mentions.
func (e Entity) PrettyPrint(doc *Document) string {
	parts := make([]string, 0, len(e.MentionIndices))
	for _, i := range e.MentionIndices {
		if i >= 0 && i < len(doc.Mentions) {
			parts = append(parts, doc.Mentions[i].PrettyPrint(doc))
		}
	}
	return "Entity [" + strings.Join(parts, ", ") + "]"
}

// Relation is a directed, tagged edge. Head and Tail are entity or mention
// indices depending on the owning document's Addressing.
type Relation struct {
	Head     int
	Tail     int
	Tag      string
	Evidence []int // sentence indices, revised schema only
}

// PrettyPrint renders the relation as `[head]--[tag]-->[tail]`.
func (r Relation) PrettyPrint(doc *Document) string {
	return fmt.Sprintf("[%s]--[%s]-->[%s]", doc.endpointString(r.Head), r.Tag, doc.endpointString(r.Tail))
}

// Document is the aggregate root of one annotated process description.
type Document struct {
	ID       string
	Category string
	Text     string
	Name     string

	Addressing Addressing

	Tokens    []Token
	Mentions  []Mention
	Entities  []Entity
	Relations []Relation
}

// Sentences groups the tokens into runs of equal SentenceIndex. The result
// is recomputed on every call; the inner slices alias d.Tokens.
func (d *Document) Sentences() [][]Token {
	var sentences [][]Token
	start := 0
	for i := 1; i <= len(d.Tokens); i++ {
		if i == len(d.Tokens) || d.Tokens[i].SentenceIndex != d.Tokens[i-1].SentenceIndex {
			sentences = append(sentences, d.Tokens[start:i:i])
			start = i
		}
	}
	return sentences
}

// RelationExistsBetween reports whether a relation with exactly these
// endpoints exists. No canonicalization is applied.
func (d *Document) RelationExistsBetween(head, tail int) bool {
	for _, r := range d.Relations {
		if r.Head == head && r.Tail == tail {
			return true
		}
	}
	return false
}

// RelationsByMention returns the relations touching the mention at index
// mention. With neither flag set a relation matches when the mention is its
// head or its tail. Entity-addressed endpoints match when the entity contains
// the mention.
func (d *Document) RelationsByMention(mention int, onlyHead, onlyTail bool) ([]Relation, error) {
	if onlyHead && onlyTail {
		return nil, ErrConflictingRoles
	}
	var ret []Relation
	for _, r := range d.Relations {
		isHead := d.endpointHasMention(r.Head, mention)
		isTail := d.endpointHasMention(r.Tail, mention)
		switch {
		case onlyHead:
			if isHead {
				ret = append(ret, r)
			}
		case onlyTail:
			if isTail {
				ret = append(ret, r)
			}
		case isHead || isTail:
			ret = append(ret, r)
		}
	}
	return ret, nil
}

func (d *Document) endpointHasMention(endpoint, mention int) bool {
	if d.Addressing == ByMention {
		return endpoint == mention
	}
	if endpoint < 0 || endpoint >= len(d.Entities) {
		return false
	}
	return slices.Contains(d.Entities[endpoint].MentionIndices, mention)
}

func (d *Document) endpointString(endpoint int) string {
	if d.Addressing == ByMention {
		if endpoint < 0 || endpoint >= len(d.Mentions) {
			return "?"
		}
		return d.Mentions[endpoint].PrettyPrint(d)
	}
	if endpoint < 0 || endpoint >= len(d.Entities) {
		return "?"
	}
	return d.Entities[endpoint].PrettyPrint(d)
}

// ContainsEntity reports whether d holds an entity canonically equal to e.
// e's mention indices are interpreted against d.
func (d *Document) ContainsEntity(e Entity) bool {
	key, err := EntityKeyOf(d, e)
	if err != nil {
		return false
	}
	return d.HasEntityKey(key)
}

// ContainsRelation reports whether d holds a relation canonically equal to r.
// r's endpoints are interpreted against d.
func (d *Document) ContainsRelation(r Relation) bool {
	key, err := RelationKeyOf(d, r)
	if err != nil {
		return false
	}
	return d.HasRelationKey(key)
}

// HasEntityKey reports whether any entity of d has the canonical key k.
func (d *Document) HasEntityKey(k Key) bool {
	for _, e := range d.Entities {
		if other, err := EntityKeyOf(d, e); err == nil && other == k {
			return true
		}
	}
	return false
}

// HasRelationKey reports whether any relation of d has the canonical key k.
func (d *Document) HasRelationKey(k Key) bool {
	for _, r := range d.Relations {
		if other, err := RelationKeyOf(d, r); err == nil && other == k {
			return true
		}
	}
	return false
}

// EntityIndexForMention returns the index of the entity that references the
// mention. It fails with *UnresolvedMentionError when no entity does.
func (d *Document) EntityIndexForMention(mention int) (int, error) {
	for i, e := range d.Entities {
		if slices.Contains(e.MentionIndices, mention) {
			return i, nil
		}
	}
	if mention < 0 || mention >= len(d.Mentions) {
		return 0, outOfRange("mention", mention, len(d.Mentions))
	}
	return 0, &UnresolvedMentionError{Index: mention, Mention: d.Mentions[mention]}
}

// MentionIndex returns the index of the first mention canonically equal to m.
func (d *Document) MentionIndex(m Mention) (int, bool) {
	key := MentionKeyOf(m)
	for i, other := range d.Mentions {
		if MentionKeyOf(other) == key {
			return i, true
		}
	}
	return 0, false
}

// EntityIndexForMentionValue looks m up by canonical key and returns the
// entity containing it.
func (d *Document) EntityIndexForMentionValue(m Mention) (int, error) {
	i, ok := d.MentionIndex(m)
	if !ok {
		return 0, fmt.Errorf("%w: mention %q %v not in document", ErrOutOfRange, m.Tag, m.TokenIndices)
	}
	return d.EntityIndexForMention(i)
}

// MentionsForToken returns every mention covering the token at tokenIndex.
func (d *Document) MentionsForToken(tokenIndex int) []Mention {
	var matched []Mention
	for _, m := range d.Mentions {
		if m.ContainsToken(tokenIndex) {
			matched = append(matched, m)
		}
	}
	return matched
}

// SentenceIndexForToken returns the sentence index of the token at tokenIndex.
func (d *Document) SentenceIndexForToken(tokenIndex int) (int, error) {
	if tokenIndex < 0 || tokenIndex >= len(d.Tokens) {
		return 0, outOfRange("token", tokenIndex, len(d.Tokens))
	}
	return d.Tokens[tokenIndex].SentenceIndex, nil
}

// Clear selects which annotation layers Copy resets to empty.
type Clear uint8

const (
	ClearMentions Clear = 1 << iota
	ClearEntities
	ClearRelations

	ClearAll = ClearMentions | ClearEntities | ClearRelations
)

// Copy returns a deep copy of d. Tokens are always copied; the layers named
// in clear are left empty instead.
func (d *Document) Copy(clear Clear) *Document {
	c := &Document{
		ID:         d.ID,
		Category:   d.Category,
		Text:       d.Text,
		Name:       d.Name,
		Addressing: d.Addressing,
		Tokens:     slices.Clone(d.Tokens),
	}
	if clear&ClearMentions == 0 {
		c.Mentions = make([]Mention, len(d.Mentions))
		for i, m := range d.Mentions {
			c.Mentions[i] = Mention{Tag: m.Tag, TokenIndices: slices.Clone(m.TokenIndices)}
		}
	}
	if clear&ClearEntities == 0 {
		c.Entities = make([]Entity, len(d.Entities))
		for i, e := range d.Entities {
			c.Entities[i] = Entity{MentionIndices: slices.Clone(e.MentionIndices)}
		}
	}
	if clear&ClearRelations == 0 {
		c.Relations = make([]Relation, len(d.Relations))
		for i, r := range d.Relations {
			r.Evidence = slices.Clone(r.Evidence)
			c.Relations[i] = r
		}
	}
	return c
}

// CopyAll deep copies every document of docs.
func CopyAll(docs []*Document) []*Document {
	if docs == nil {
		return nil
	}
	out := make([]*Document, len(docs))
	for i, d := range docs {
		out[i] = d.Copy(0)
	}
	return out
}

// WithAddressing returns a copy of d whose relations use the given scheme.
// Entity endpoints become the entity's first mention; mention endpoints
// become the entity that contains them, which requires resolved coreference.
func (d *Document) WithAddressing(a Addressing) (*Document, error) {
	c := d.Copy(0)
	if a == d.Addressing {
		return c, nil
	}
	c.Addressing = a
	for i, r := range c.Relations {
		head, err := d.convertEndpoint(r.Head, a)
		if err != nil {
			return nil, fmt.Errorf("relation %d head: %w", i, err)
		}
		tail, err := d.convertEndpoint(r.Tail, a)
		if err != nil {
			return nil, fmt.Errorf("relation %d tail: %w", i, err)
		}
		c.Relations[i].Head, c.Relations[i].Tail = head, tail
	}
	return c, nil
}

func (d *Document) convertEndpoint(endpoint int, to Addressing) (int, error) {
	if to == ByEntity {
		return d.EntityIndexForMention(endpoint)
	}
	if endpoint < 0 || endpoint >= len(d.Entities) {
		return 0, outOfRange("entity", endpoint, len(d.Entities))
	}
	e := d.Entities[endpoint]
	if len(e.MentionIndices) == 0 {
		return 0, fmt.Errorf("%w: entity %d has no mentions", ErrInconsistent, endpoint)
	}
	return e.MentionIndices[0], nil
}
