// Package mentions implements the mention extraction step: a lexical BIO
// tagger trained from annotated documents and decoded with package bio.
package mentions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/brunobiangulo/petnlp/bio"
	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/eval"
	"github.com/brunobiangulo/petnlp/pipeline"
)

// Kind prefixes the store key of persisted tagger models.
const Kind = "mentions"

// ErrNotTrained is returned when predicting with a tagger that has never
// been trained or loaded.
var ErrNotTrained = errors.New("mentions: tagger is not trained")

const stateVersion = 1

const suffixLen = 3

// counts maps a feature value to BIO tag frequencies.
type counts map[string]map[string]int

func (c counts) add(key, tag string) {
	m, ok := c[key]
	if !ok {
		m = make(map[string]int)
		c[key] = m
	}
	m[tag]++
}

// best returns the most frequent tag for key. Ties go to the smallest tag
// so that predictions are deterministic.
func (c counts) best(key string) (string, bool) {
	m, ok := c[key]
	if !ok {
		return "", false
	}
	var tag string
	n := -1
	for t, cnt := range m {
		if cnt > n || (cnt == n && t < tag) {
			tag, n = t, cnt
		}
	}
	return tag, true
}

type model struct {
	Version   int    `json:"version"`
	Documents int    `json:"documents"`
	Words     counts `json:"words"`
	POS       counts `json:"pos"`
	Suffixes  counts `json:"suffixes"`
}

func newModel() *model {
	return &model{Version: stateVersion, Words: counts{}, POS: counts{}, Suffixes: counts{}}
}

// Step tags tokens with the tag most often seen for the lowercased word in
// training, falling back to the POS tag and then to the word suffix.
type Step struct {
	name string

	mu    sync.RWMutex
	model *model
}

// New creates an untrained mention extraction step.
func New(name string) *Step {
	return &Step{name: name}
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
		if out.Scores, err = eval.Mentions(preds, in.GroundTruth); err != nil {
			return nil, fmt.Errorf("scoring mentions: %w", err)
		}
	}
	return out, nil
}

// Train fits a new model on the mentions of docs.
func (s *Step) Train(docs []*document.Document) error {
	m := newModel()
	for i, d := range docs {
		tags, err := bio.Encode(d)
		if err != nil {
			return fmt.Errorf("encoding document %d (%s): %w", i, d.ID, err)
		}
		for si, sentence := range d.Sentences() {
			for ti, tok := range sentence {
				tag := tags[si][ti]
				m.Words.add(wordKey(tok), tag)
				if tok.PosTag != "" {
					m.POS.add(tok.PosTag, tag)
				}
				m.Suffixes.add(suffixKey(tok), tag)
			}
		}
		m.Documents++
	}

	s.mu.Lock()
	s.model = m
	s.mu.Unlock()

	slog.Info("mentions: trained tagger", "step", s.name, "documents", m.Documents, "vocabulary", len(m.Words))
	return nil
}

// Predict returns copies of docs whose mentions are the tagger's
// predictions. Existing annotations are discarded.
func (s *Step) Predict(docs []*document.Document) ([]*document.Document, error) {
	s.mu.RLock()
	m := s.model
	s.mu.RUnlock()
	if m == nil {
		return nil, ErrNotTrained
	}

	preds := make([]*document.Document, 0, len(docs))
	for i, d := range docs {
		tags := m.tag(d)
		pred, err := bio.Decode(d.Copy(document.ClearAll), tags)
		if err != nil {
			return nil, fmt.Errorf("decoding document %d (%s): %w", i, d.ID, err)
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

func (m *model) tag(d *document.Document) [][]string {
	sentences := d.Sentences()
	out := make([][]string, len(sentences))
	for si, sentence := range sentences {
		tags := make([]string, len(sentence))
		prevLabel := bio.Outside
		for ti, tok := range sentence {
			tag := m.tagToken(tok)
			prefix, label := bio.Split(tag)
			// A continuation must follow a mention of the same label.
			if prefix == "I" && label != prevLabel {
				tag = "B-" + label
			}
			tags[ti] = tag
			prevLabel = label
		}
		out[si] = tags
	}
	return out
}

func (m *model) tagToken(tok document.Token) string {
	if tag, ok := m.Words.best(wordKey(tok)); ok {
		return tag
	}
	if tok.PosTag != "" {
		if tag, ok := m.POS.best(tok.PosTag); ok {
			return tag
		}
	}
	if tag, ok := m.Suffixes.best(suffixKey(tok)); ok {
		return tag
	}
	return bio.Outside
}

func wordKey(tok document.Token) string {
	return strings.ToLower(tok.Text)
}

func suffixKey(tok document.Token) string {
	w := wordKey(tok)
	n := utf8.RuneCountInString(w)
	if n <= suffixLen {
		return w
	}
	r := []rune(w)
	return string(r[n-suffixLen:])
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

// UnmarshalState implements pipeline.Stateful.
func (s *Step) UnmarshalState(data []byte) error {
	m := newModel()
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("mentions: decoding state: %w", err)
	}
	if m.Version != stateVersion {
		return fmt.Errorf("mentions: unsupported state version %d", m.Version)
	}
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
	return nil
}
