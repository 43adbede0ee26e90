package document

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Key is the canonical, storage-order independent identity of a mention,
// entity or relation. Two values with equal keys are the same annotation for
// evaluation and deduplication purposes.
type Key string

// MentionKeyOf returns (lowercased tag, token indices...). Index order is
// significant, tag case is not.
func MentionKeyOf(m Mention) Key {
	var b strings.Builder
	b.WriteString(strings.ToLower(m.Tag))
	b.WriteByte('[')
	for i, idx := range m.TokenIndices {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(idx))
	}
	b.WriteByte(']')
	return Key(b.String())
}

// EntityKeyOf returns the set of the entity's mention keys, resolved
// against doc. Mention order and duplicates do not affect the key.
func EntityKeyOf(doc *Document, e Entity) (Key, error) {
	keys := make([]string, 0, len(e.MentionIndices))
	for _, i := range e.MentionIndices {
		if i < 0 || i >= len(doc.Mentions) {
			return "", outOfRange("mention", i, len(doc.Mentions))
		}
		keys = append(keys, string(MentionKeyOf(doc.Mentions[i])))
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	return Key("{" + strings.Join(keys, ";") + "}"), nil
}

// RelationKeyOf returns (lowercased tag, head entity key, tail entity key).
// Mention-addressed endpoints resolve to the entity containing the mention,
// or to a single-mention entity when coreference is unresolved.
func RelationKeyOf(doc *Document, r Relation) (Key, error) {
	head, err := endpointKey(doc, r.Head)
	if err != nil {
		return "", fmt.Errorf("relation head: %w", err)
	}
	tail, err := endpointKey(doc, r.Tail)
	if err != nil {
		return "", fmt.Errorf("relation tail: %w", err)
	}
	return Key(strings.ToLower(r.Tag) + "(" + string(head) + "->" + string(tail) + ")"), nil
}

func endpointKey(doc *Document, endpoint int) (Key, error) {
	if doc.Addressing == ByEntity {
		if endpoint < 0 || endpoint >= len(doc.Entities) {
			return "", outOfRange("entity", endpoint, len(doc.Entities))
		}
		return EntityKeyOf(doc, doc.Entities[endpoint])
	}
	if endpoint < 0 || endpoint >= len(doc.Mentions) {
		return "", outOfRange("mention", endpoint, len(doc.Mentions))
	}
	if ei, err := doc.EntityIndexForMention(endpoint); err == nil {
		return EntityKeyOf(doc, doc.Entities[ei])
	}
	return EntityKeyOf(doc, Entity{MentionIndices: []int{endpoint}})
}
