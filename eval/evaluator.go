// Package eval scores predicted documents against ground truth using the
// canonical keys of the document package, so that the order and the
// numbering of annotations never influence a score.
package eval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brunobiangulo/petnlp/document"
)

// Stage names the annotation layer a report scores.
type Stage string

const (
	StageMentions  Stage = "mentions"
	StageEntities  Stage = "entities"
	StageRelations Stage = "relations"
)

// ErrLengthMismatch is returned when predictions and ground truth are not
// parallel sequences.
var ErrLengthMismatch = errors.New("eval: predicted and ground truth document counts differ")

type item struct {
	key document.Key
	tag string
}

// Mentions scores predicted mentions.
func Mentions(preds, golds []*document.Document) (*Report, error) {
	return score(StageMentions, preds, golds, mentionItems)
}

// Entities scores predicted coreference clusters.
func Entities(preds, golds []*document.Document) (*Report, error) {
	return score(StageEntities, preds, golds, entityItems)
}

// Relations scores predicted relations.
func Relations(preds, golds []*document.Document) (*Report, error) {
	return score(StageRelations, preds, golds, relationItems)
}

// ForStage dispatches to Mentions, Entities or Relations.
func ForStage(stage Stage, preds, golds []*document.Document) (*Report, error) {
	switch stage {
	case StageMentions:
		return Mentions(preds, golds)
	case StageEntities:
		return Entities(preds, golds)
	case StageRelations:
		return Relations(preds, golds)
	default:
		return nil, fmt.Errorf("eval: unknown stage %q", stage)
	}
}

func score(stage Stage, preds, golds []*document.Document, extract func(*document.Document) ([]item, error)) (*Report, error) {
	if len(preds) != len(golds) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(preds), len(golds))
	}
	report := newReport(stage)
	for i := range preds {
		predItems, err := extract(preds[i])
		if err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i, err)
		}
		goldItems, err := extract(golds[i])
		if err != nil {
			return nil, fmt.Errorf("ground truth %d: %w", i, err)
		}

		pred := index(predItems)
		gold := index(goldItems)
		for key, tag := range pred {
			if _, ok := gold[key]; ok {
				report.add(tag, Score{TP: 1})
			} else {
				report.add(tag, Score{FP: 1})
			}
		}
		for key, tag := range gold {
			if _, ok := pred[key]; !ok {
				report.add(tag, Score{FN: 1})
			}
		}
	}
	return report, nil
}

// index deduplicates items by key.
func index(items []item) map[document.Key]string {
	m := make(map[document.Key]string, len(items))
	for _, it := range items {
		m[it.key] = it.tag
	}
	return m
}

func mentionItems(d *document.Document) ([]item, error) {
	items := make([]item, 0, len(d.Mentions))
	for _, m := range d.Mentions {
		items = append(items, item{key: document.MentionKeyOf(m), tag: strings.ToLower(m.Tag)})
	}
	return items, nil
}

func entityItems(d *document.Document) ([]item, error) {
	items := make([]item, 0, len(d.Entities))
	for i, e := range d.Entities {
		key, err := document.EntityKeyOf(d, e)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		tag, err := e.Tag(d)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		items = append(items, item{key: key, tag: strings.ToLower(tag)})
	}
	return items, nil
}

func relationItems(d *document.Document) ([]item, error) {
	items := make([]item, 0, len(d.Relations))
	for i, r := range d.Relations {
		key, err := document.RelationKeyOf(d, r)
		if err != nil {
			return nil, fmt.Errorf("relation %d: %w", i, err)
		}
		items = append(items, item{key: key, tag: strings.ToLower(r.Tag)})
	}
	return items, nil
}

// FormatReport produces a human-readable report string.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", r.Stage)
	fmt.Fprintf(&b, "  %-26s P=%5.1f%% R=%5.1f%% F1=%5.1f%%  (tp=%d fp=%d fn=%d)\n", "overall",
		r.Overall.Precision()*100, r.Overall.Recall()*100, r.Overall.F1()*100, r.Overall.TP, r.Overall.FP, r.Overall.FN)
	for _, tag := range r.Tags() {
		s := r.ByTag[tag]
		fmt.Fprintf(&b, "  %-26s P=%5.1f%% R=%5.1f%% F1=%5.1f%%  (tp=%d fp=%d fn=%d)\n", tag,
			s.Precision()*100, s.Recall()*100, s.F1()*100, s.TP, s.FP, s.FN)
	}
	return b.String()
}
