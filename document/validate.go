package document

import "fmt"

// Validate checks the structural invariants of d and returns the first
// violation found.
func (d *Document) Validate() error {
	seen := make(map[int]bool, len(d.Tokens))
	for i, t := range d.Tokens {
		if seen[t.IndexInDocument] {
			return fmt.Errorf("%w: token %d repeats index_in_document %d", ErrInconsistent, i, t.IndexInDocument)
		}
		seen[t.IndexInDocument] = true
		if i > 0 && t.SentenceIndex < d.Tokens[i-1].SentenceIndex {
			return fmt.Errorf("%w: token %d sentence index decreases (%d after %d)",
				ErrInconsistent, i, t.SentenceIndex, d.Tokens[i-1].SentenceIndex)
		}
	}

	for i, m := range d.Mentions {
		if _, err := m.SentenceIndex(d); err != nil {
			return fmt.Errorf("mention %d: %w", i, err)
		}
	}

	for i, e := range d.Entities {
		if _, err := e.Tag(d); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}

	limit, target := len(d.Entities), "entity"
	if d.Addressing == ByMention {
		limit, target = len(d.Mentions), "mention"
	}
	for i, r := range d.Relations {
		if r.Head < 0 || r.Head >= limit {
			return fmt.Errorf("relation %d head: %w", i, outOfRange(target, r.Head, limit))
		}
		if r.Tail < 0 || r.Tail >= limit {
			return fmt.Errorf("relation %d tail: %w", i, outOfRange(target, r.Tail, limit))
		}
	}
	return nil
}
