// Package coref implements the coreference resolution step. Mentions of the
// resolved tags are clustered by the overlap of their content words, and
// every other mention becomes an entity of its own.
package coref

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/eval"
	"github.com/brunobiangulo/petnlp/pipeline"
)

// DefaultResolvedTags are the tags whose mentions are clustered by default.
var DefaultResolvedTags = []string{document.TagActor, document.TagActivityData}

// DefaultMentionOverlap is the default minimum Jaccard similarity of two
// mentions in the same entity.
const DefaultMentionOverlap = 0.5

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "this": true, "that": true, "these": true, "those": true,
	"of": true, "to": true, "for": true, "in": true, "on": true, "by": true, "with": true, "from": true,
	"and": true, "or": true, "his": true, "her": true, "its": true, "their": true, "our": true, "your": true,
	"he": true, "she": true, "it": true, "they": true, "him": true, "them": true, "we": true, "you": true,
	"who": true, "which": true, "one": true, "all": true, "any": true, "some": true, "each": true,
}

// Step clusters mentions into entities. It has no model; training runs are
// accepted and ignored.
type Step struct {
	name     string
	resolved map[string]bool
	overlap  float64
}

// New creates a resolution step. Tags are matched case-insensitively.
func New(name string, resolvedTags []string, mentionOverlap float64) *Step {
	s := &Step{name: name, resolved: make(map[string]bool, len(resolvedTags)), overlap: mentionOverlap}
	for _, t := range resolvedTags {
		s.resolved[strings.ToLower(t)] = true
	}
	return s
}

func (s *Step) Name() string { return s.name }

// Run implements pipeline.Step.
func (s *Step) Run(in pipeline.Input, trainingOnly bool) (*pipeline.Outcome, error) {
	if trainingOnly {
		return nil, nil
	}

	preds := make([]*document.Document, 0, len(in.Test))
	for _, d := range in.Test {
		preds = append(preds, s.Resolve(d))
	}
	out := &pipeline.Outcome{Predictions: preds}
	if in.GroundTruth != nil {
		var err error
		if out.Scores, err = eval.Entities(preds, in.GroundTruth); err != nil {
			return nil, fmt.Errorf("scoring entities: %w", err)
		}
	}
	return out, nil
}

type cluster struct {
	tag      string
	mentions []int
	words    []map[string]bool
}

// Resolve returns a copy of d with entities predicted from its mentions.
// Existing entities and relations are discarded.
func (s *Step) Resolve(d *document.Document) *document.Document {
	out := d.Copy(document.ClearEntities | document.ClearRelations)
	out.Addressing = document.ByEntity

	var clusters []*cluster
	for mi, m := range d.Mentions {
		tag := strings.ToLower(m.Tag)
		words := contentWords(d, m)
		if !s.resolved[tag] {
			clusters = append(clusters, &cluster{tag: tag, mentions: []int{mi}, words: []map[string]bool{words}})
			continue
		}

		target := -1
		if len(words) == 0 {
			// Pronouns and the like refer to the closest preceding cluster.
			for ci := len(clusters) - 1; ci >= 0; ci-- {
				if clusters[ci].tag == tag {
					target = ci
					break
				}
			}
		} else {
			best := 0.0
			for ci, c := range clusters {
				if c.tag != tag {
					continue
				}
				for _, w := range c.words {
					if j := jaccard(words, w); j >= s.overlap && j > best {
						best, target = j, ci
					}
				}
			}
		}

		if target < 0 {
			clusters = append(clusters, &cluster{tag: tag, mentions: []int{mi}, words: []map[string]bool{words}})
			continue
		}
		clusters[target].mentions = append(clusters[target].mentions, mi)
		clusters[target].words = append(clusters[target].words, words)
	}

	out.Entities = make([]document.Entity, 0, len(clusters))
	for _, c := range clusters {
		out.Entities = append(out.Entities, document.Entity{MentionIndices: c.mentions})
	}
	return out
}

func contentWords(d *document.Document, m document.Mention) map[string]bool {
	words := make(map[string]bool)
	for _, ti := range m.TokenIndices {
		if ti < 0 || ti >= len(d.Tokens) {
			continue
		}
		w := strings.ToLower(strings.TrimFunc(d.Tokens[ti].Text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if w == "" || stopwords[w] {
			continue
		}
		words[w] = true
	}
	return words
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
