package document

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when an index reference points outside of
	// its target sequence.
	ErrOutOfRange = errors.New("document: index out of range")

	// ErrConflictingRoles is returned when a relation query asks for a mention
	// that is only head and only tail at the same time.
	ErrConflictingRoles = errors.New("document: mention can not be only head and only tail at the same time")

	// ErrInconsistent is returned by Validate for annotations that break a
	// structural invariant (cross-sentence mentions, mixed entity tags, ...).
	ErrInconsistent = errors.New("document: inconsistent annotation")

	// ErrNoEntity is the target of *UnresolvedMentionError.
	ErrNoEntity = errors.New("document: no entity contains mention")
)

// UnresolvedMentionError reports a mention that no entity references. It is
// expected before coreference resolution has run and fatal afterwards.
type UnresolvedMentionError struct {
	Index   int
	Mention Mention
}

func (e *UnresolvedMentionError) Error() string {
	return fmt.Sprintf("document: no entity uses mention %d (%s %v), entities are not properly resolved",
		e.Index, e.Mention.Tag, e.Mention.TokenIndices)
}

func (e *UnresolvedMentionError) Unwrap() error { return ErrNoEntity }

func outOfRange(what string, index, length int) error {
	return fmt.Errorf("%w: %s %d (len %d)", ErrOutOfRange, what, index, length)
}
