// Package relations implements the relation extraction step: a frequency
// classifier over entity pairs, trained from annotated documents.
//
// Each ordered pair of distinct entities whose closest mentions are at most
// ContextSize sentences apart is a candidate. Its features are the two entity
// tags, the order of the closest mentions and their token distance. The
// classifier counts how often each feature combination carried each relation
// tag (or none) in training and predicts the most frequent relation tag when
// its relative frequency reaches MinConfidence.
package relations

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/eval"
	"github.com/brunobiangulo/petnlp/pipeline"
)

// Kind prefixes the store key of persisted relation models.
const Kind = "relations"

const (
	DefaultContextSize   = 2
	DefaultMinConfidence = 0.5
)

// ErrNotTrained is returned when predicting with a classifier that has never
// been trained or loaded.
var ErrNotTrained = errors.New("relations: classifier is not trained")

const stateVersion = 1

// noRelation labels candidate pairs without a relation.
const noRelation = ""

// Config tunes candidate generation and prediction.
type Config struct {
	ContextSize   int     `json:"context_size" yaml:"context_size"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

type model struct {
	Version     int                       `json:"version"`
	ContextSize int                       `json:"context_size"`
	Documents   int                       `json:"documents"`
	Counts      map[string]map[string]int `json:"counts"`
}

func (m *model) add(f features, label string) {
	for _, k := range f.keys() {
		c, ok := m.Counts[k]
		if !ok {
			c = make(map[string]int)
			m.Counts[k] = c
		}
		c[label]++
	}
}

// classify returns the most likely relation tag for f at the most specific
// feature level seen in training.
func (m *model) classify(f features) (string, float64, bool) {
	for _, k := range f.keys() {
		c, ok := m.Counts[k]
		if !ok {
			continue
		}
		total := 0
		var best string
		n := 0
		for label, cnt := range c {
			total += cnt
			if label == noRelation {
				continue
			}
			if cnt > n || (cnt == n && label < best) {
				best, n = label, cnt
			}
		}
		if n == 0 {
			return "", 0, false
		}
		return best, float64(n) / float64(total), true
	}
	return "", 0, false
}

type features struct {
	headTag  string
	tailTag  string
	order    string
	distance string
}

// keys lists the feature combinations from the most to the least specific.
func (f features) keys() []string {
	base := strings.ToLower(f.headTag) + "|" + strings.ToLower(f.tailTag)
	return []string{
		base + "|" + f.order + "|" + f.distance,
		base + "|" + f.order,
		base,
	}
}

func distanceBucket(tokens int) string {
	switch {
	case tokens <= 1:
		return "adjacent"
	case tokens <= 4:
		return "near"
	case tokens <= 9:
		return "mid"
	default:
		return "far"
	}
}

// Step extracts relations between resolved entities.
type Step struct {
	name string
	cfg  Config

	mu    sync.RWMutex
	model *model
}

// New creates an untrained relation extraction step.
func New(name string, cfg Config) *Step {
	if cfg.ContextSize < 0 {
		cfg.ContextSize = DefaultContextSize
	}
	return &Step{name: name, cfg: cfg}
}

func (s *Step) Name() string { return s.name }

// Trained reports whether the step holds a model.
func (s *Step) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil
}

// Run implements pipeline.Step. Training replaces any previous model.
func (s *Step) Run(in pipeline.Input, trainingOnly bool) (*pipeline.Outcome, error) {
	if trainingOnly {
		return nil, s.Train(in.Train)
	}

	preds, err := s.Predict(in.Test)
	if err != nil {
		return nil, err
	}
	out := &pipeline.Outcome{Predictions: preds}
	if in.GroundTruth != nil {
		if out.Scores, err = eval.Relations(preds, in.GroundTruth); err != nil {
			return nil, fmt.Errorf("scoring relations: %w", err)
		}
	}
	return out, nil
}

// Train fits a new model on the relations of docs. Every mention of every
// document must belong to an entity.
func (s *Step) Train(docs []*document.Document) error {
	m := &model{Version: stateVersion, ContextSize: s.cfg.ContextSize, Counts: make(map[string]map[string]int)}
	for i, doc := range docs {
		d, err := doc.WithAddressing(document.ByEntity)
		if err != nil {
			return fmt.Errorf("document %d (%s): %w", i, doc.ID, err)
		}
		if err := checkResolved(d); err != nil {
			return fmt.Errorf("document %d (%s): %w", i, doc.ID, err)
		}

		labels := make(map[[2]int][]string)
		for _, r := range d.Relations {
			k := [2]int{r.Head, r.Tail}
			if !slices.Contains(labels[k], r.Tag) {
				labels[k] = append(labels[k], r.Tag)
			}
		}
		for _, c := range candidates(d, m.ContextSize) {
			tags := labels[[2]int{c.head, c.tail}]
			if len(tags) == 0 {
				m.add(c.features, noRelation)
				continue
			}
			for _, tag := range tags {
				m.add(c.features, tag)
			}
		}
		m.Documents++
	}

	s.mu.Lock()
	s.model = m
	s.mu.Unlock()

	slog.Info("relations: trained classifier", "step", s.name, "documents", m.Documents, "feature_keys", len(m.Counts))
	return nil
}

// Predict returns copies of docs whose relations are the classifier's
// entity-addressed predictions. Existing relations are discarded.
func (s *Step) Predict(docs []*document.Document) ([]*document.Document, error) {
	s.mu.RLock()
	m := s.model
	s.mu.RUnlock()
	if m == nil {
		return nil, ErrNotTrained
	}

	preds := make([]*document.Document, 0, len(docs))
	for i, d := range docs {
		if err := checkResolved(d); err != nil {
			return nil, fmt.Errorf("document %d (%s): %w", i, d.ID, err)
		}
		pred := d.Copy(document.ClearRelations)
		pred.Addressing = document.ByEntity
		for _, c := range candidates(pred, m.ContextSize) {
			tag, p, ok := m.classify(c.features)
			if !ok || p < s.cfg.MinConfidence {
				continue
			}
			pred.Relations = append(pred.Relations, document.Relation{Head: c.head, Tail: c.tail, Tag: tag, Evidence: c.evidence})
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

// checkResolved fails with *document.UnresolvedMentionError for the first
// mention that no entity contains.
func checkResolved(d *document.Document) error {
	for mi := range d.Mentions {
		if _, err := d.EntityIndexForMention(mi); err != nil {
			return err
		}
	}
	return nil
}

type candidate struct {
	head, tail int
	features   features
	evidence   []int
}

type anchor struct {
	token    int
	sentence int
}

// candidates returns every ordered pair of distinct entities whose closest
// mentions lie within contextSize sentences of each other.
func candidates(d *document.Document, contextSize int) []candidate {
	anchors := make([][]anchor, len(d.Entities))
	tags := make([]string, len(d.Entities))
	for ei, e := range d.Entities {
		tag, err := e.Tag(d)
		if err != nil {
			continue
		}
		tags[ei] = tag
		for _, mi := range e.MentionIndices {
			if mi < 0 || mi >= len(d.Mentions) || len(d.Mentions[mi].TokenIndices) == 0 {
				continue
			}
			first := d.Mentions[mi].TokenIndices[0]
			sent, err := d.SentenceIndexForToken(first)
			if err != nil {
				continue
			}
			anchors[ei] = append(anchors[ei], anchor{token: first, sentence: sent})
		}
	}

	var out []candidate
	for h := range d.Entities {
		for t := range d.Entities {
			if h == t || tags[h] == "" || tags[t] == "" {
				continue
			}
			var (
				best     *[2]anchor
				bestDist int
			)
			for _, ha := range anchors[h] {
				for _, ta := range anchors[t] {
					if abs(ha.sentence-ta.sentence) > contextSize {
						continue
					}
					dist := abs(ha.token - ta.token)
					if best == nil || dist < bestDist {
						best, bestDist = &[2]anchor{ha, ta}, dist
					}
				}
			}
			if best == nil {
				continue
			}
			order := "forward"
			if best[0].token > best[1].token {
				order = "backward"
			}
			evidence := []int{best[0].sentence}
			if best[1].sentence != best[0].sentence {
				evidence = append(evidence, best[1].sentence)
				slices.Sort(evidence)
			}
			out = append(out, candidate{
				head:     h,
				tail:     t,
				features: features{headTag: tags[h], tailTag: tags[t], order: order, distance: distanceBucket(bestDist)},
				evidence: evidence,
			})
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// MarshalState implements pipeline.Stateful.
func (s *Step) MarshalState() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return nil, ErrNotTrained
	}
	return json.Marshal(s.model)
}

// UnmarshalState implements pipeline.Stateful. The stored context size
// replaces the configured one so that candidates match training.
func (s *Step) UnmarshalState(data []byte) error {
	m := &model{}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("relations: decoding state: %w", err)
	}
	if m.Version != stateVersion {
		return fmt.Errorf("relations: unsupported state version %d", m.Version)
	}
	if m.Counts == nil {
		m.Counts = make(map[string]map[string]int)
	}
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
	return nil
}
