// Package petnlp extracts business process models from natural language
// text. An Engine tokenizes raw text and runs a pipeline of mention
// extraction, coreference resolution and relation extraction over it, using
// models trained on a stored corpus of annotated documents.
package petnlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/petnlp/coref"
	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/eval"
	"github.com/brunobiangulo/petnlp/mentions"
	"github.com/brunobiangulo/petnlp/pipeline"
	"github.com/brunobiangulo/petnlp/relations"
	"github.com/brunobiangulo/petnlp/results"
	"github.com/brunobiangulo/petnlp/store"
	"github.com/brunobiangulo/petnlp/tokenize"
)

// Step names, also the first half of the stored model keys.
const (
	StepMentions  = mentions.Kind
	StepCoref     = "coref"
	StepRelations = relations.Kind
)

// Engine is the main entry point for annotating and training.
type Engine interface {
	// Annotate tokenizes text and, unless the model is NoModel, predicts its
	// mentions, entities and relations.
	Annotate(ctx context.Context, text string, opts ...AnnotateOption) (*document.Document, error)

	// Retrain appends docs to the stored corpus and retrains every
	// configured model on its corpus prefix. Returns the corpus size.
	Retrain(ctx context.Context, docs []*document.Document) (int, error)

	// Train fits a single model on docs and persists it.
	Train(ctx context.Context, model string, docs []*document.Document) error

	// Evaluate predicts on copies of test and scores every step against
	// test.
	Evaluate(ctx context.Context, model string, test []*document.Document) (*Evaluation, error)

	// Models describes the configured models.
	Models() []ModelInfo

	// ListDocuments returns up to limit documents of the training corpus,
	// or all of them when limit <= 0.
	ListDocuments(ctx context.Context, limit int) ([]*document.Document, error)

	// Document returns the training document with the given id.
	Document(ctx context.Context, id string) (*document.Document, error)

	// Status summarizes the stored corpora, models and run log.
	Status(ctx context.Context) (*Status, error)

	// Runs returns up to limit run log entries, newest first.
	Runs(ctx context.Context, limit int) ([]store.RunLog, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Results returns the per-user result storage.
	Results() *results.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// ModelInfo describes a configured model.
type ModelInfo struct {
	Name      string `json:"name"`
	TrainDocs int    `json:"train_docs"`
	Trained   bool   `json:"trained"`
}

// StepReport is the score of one pipeline step.
type StepReport struct {
	Step   string       `json:"step"`
	Report *eval.Report `json:"report"`
}

// Evaluation is the result of Engine.Evaluate.
type Evaluation struct {
	Model       string               `json:"model"`
	Documents   int                  `json:"documents"`
	Steps       []StepReport         `json:"steps"`
	Predictions []*document.Document `json:"-"`
}

// F1 returns the overall F1 of the last step.
func (ev *Evaluation) F1() float64 {
	if ev == nil || len(ev.Steps) == 0 {
		return 0
	}
	return ev.Steps[len(ev.Steps)-1].Report.Overall.F1()
}

// Status is the result of Engine.Status.
type Status struct {
	SchemaVersion int            `json:"schema_version"`
	Corpus        string         `json:"corpus"`
	Counts        store.DBStats  `json:"counts"`
	Corpora       []store.Corpus `json:"corpora"`
	StoredModels  []store.Model  `json:"stored_models"`
}

// AnnotateOption configures annotation behavior.
type AnnotateOption func(*annotateOptions)

type annotateOptions struct {
	model string
	name  string
}

// WithModel selects the model by name, or NoModel for tokens only.
func WithModel(name string) AnnotateOption {
	return func(o *annotateOptions) { o.model = name }
}

// WithDocumentName names the annotated document.
func WithDocumentName(name string) AnnotateOption {
	return func(o *annotateOptions) { o.name = name }
}

// annotationOptions maps the option names used by annotation clients to
// model names.
var annotationOptions = map[string]string{
	"NoAI":      NoModel,
	"BadAI":     "bad",
	"AverageAI": "average",
	"GoodAI":    "good",
}

// ModelForOption resolves an annotation option such as "AverageAI" to a
// model name. Plain model names are accepted as they are.
func ModelForOption(option string) string {
	if name, ok := annotationOptions[option]; ok {
		return name
	}
	return option
}

// NewPipeline returns an untrained pipeline of the three annotation steps
// configured by cfg.
func NewPipeline(cfg Config, name string, opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(name, []pipeline.Step{
		mentions.New(StepMentions),
		coref.New(StepCoref, cfg.Coref.ResolvedTags, cfg.Coref.MentionOverlap),
		relations.New(StepRelations, cfg.Relations),
	}, opts...)
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg     Config
	store   *store.Store
	results *results.Store
	tok     *tokenize.Tokenizer

	trainMu sync.Mutex // serializes Retrain and Train

	mu     sync.RWMutex
	closed bool
	models map[string]*pipeline.Pipeline
}

// New creates a new engine and loads every persisted model state.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Corpus == "" {
		cfg.Corpus = "pet"
	}

	s, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{
		cfg:     cfg,
		store:   s,
		results: results.New(cfg.ResultsDir),
		tok:     tokenize.New(),
		models:  make(map[string]*pipeline.Pipeline, len(cfg.Models)),
	}

	ctx := context.Background()
	for _, name := range cfg.ModelNames() {
		p := NewPipeline(cfg, name)
		if err := e.loadState(ctx, name, p); err != nil {
			s.Close()
			return nil, fmt.Errorf("loading model %s: %w", name, err)
		}
		e.models[name] = p
	}

	return e, nil
}

// Annotate runs the selected model over the tokenized text.
func (e *engine) Annotate(ctx context.Context, text string, opts ...AnnotateOption) (*document.Document, error) {
	options := &annotateOptions{model: e.cfg.DefaultModel}
	for _, o := range opts {
		o(options)
	}
	if options.model == "" {
		options.model = NoModel
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}

	start := time.Now()
	doc, err := e.tok.Document(options.name, text)
	if errors.Is(err, tokenize.ErrNoTokens) {
		return nil, ErrEmptyText
	}
	if err != nil {
		return nil, fmt.Errorf("tokenizing: %w", err)
	}
	if options.model == NoModel {
		return doc, nil
	}

	p, ok := e.models[options.model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, options.model)
	}
	if !trained(p) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotTrained, options.model)
	}

	res, err := p.Evaluate([]*document.Document{doc}, nil)
	if err != nil {
		return nil, fmt.Errorf("running model %s: %w", options.model, err)
	}
	final, ok := res.Final()
	if !ok || len(final.Predictions) != 1 {
		return nil, fmt.Errorf("running model %s: %w", options.model, pipeline.ErrNoPredictions)
	}
	pred := final.Predictions[0]

	elapsed := time.Since(start)
	slog.Info("annotate: complete",
		"model", options.model, "tokens", len(pred.Tokens), "mentions", len(pred.Mentions),
		"relations", len(pred.Relations), "elapsed", elapsed.Round(time.Millisecond))
	e.logRun(ctx, store.RunLog{Kind: "annotate", Model: options.model, NumDocs: 1, DurationMS: elapsed.Milliseconds()})

	return pred, nil
}

// Retrain stores docs and retrains all models.
func (e *engine) Retrain(ctx context.Context, docs []*document.Document) (int, error) {
	if len(docs) == 0 {
		return 0, ErrNoDocuments
	}
	prepared, err := PrepareDocuments(docs)
	if err != nil {
		return 0, err
	}

	e.trainMu.Lock()
	defer e.trainMu.Unlock()
	if e.isClosed() {
		return 0, ErrStoreClosed
	}

	start := time.Now()
	added, err := e.store.AddDocuments(ctx, e.cfg.Corpus, prepared)
	if err != nil {
		return 0, fmt.Errorf("storing documents: %w", err)
	}
	corpus, err := e.store.ListDocuments(ctx, e.cfg.Corpus, 0)
	if err != nil {
		return 0, fmt.Errorf("loading corpus: %w", err)
	}
	slog.Info("retrain: corpus updated", "corpus", e.cfg.Corpus, "added", added, "documents", len(corpus))

	fresh := make(map[string]*pipeline.Pipeline, len(e.cfg.Models))
	for _, name := range e.cfg.ModelNames() {
		train := corpus
		if n := e.cfg.Models[name].TrainDocs; n > 0 && n < len(train) {
			train = train[:n]
		}
		p := NewPipeline(e.cfg, name)
		if err := e.trainAndSave(ctx, name, p, train); err != nil {
			return 0, err
		}
		fresh[name] = p
	}

	e.mu.Lock()
	for name, p := range fresh {
		e.models[name] = p
	}
	e.mu.Unlock()

	elapsed := time.Since(start)
	slog.Info("retrain: complete", "models", len(fresh), "documents", len(corpus), "elapsed", elapsed.Round(time.Millisecond))
	e.logRun(ctx, store.RunLog{Kind: "retrain", NumDocs: len(corpus), DurationMS: elapsed.Milliseconds()})

	return len(corpus), nil
}

// Train fits one model on docs.
func (e *engine) Train(ctx context.Context, model string, docs []*document.Document) error {
	if _, ok := e.cfg.Models[model]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	if len(docs) == 0 {
		return ErrNoDocuments
	}
	prepared, err := PrepareDocuments(docs)
	if err != nil {
		return err
	}

	e.trainMu.Lock()
	defer e.trainMu.Unlock()
	if e.isClosed() {
		return ErrStoreClosed
	}

	start := time.Now()
	p := NewPipeline(e.cfg, model)
	if err := e.trainAndSave(ctx, model, p, prepared); err != nil {
		return err
	}

	e.mu.Lock()
	e.models[model] = p
	e.mu.Unlock()

	e.logRun(ctx, store.RunLog{Kind: "train", Model: model, NumDocs: len(prepared), DurationMS: time.Since(start).Milliseconds()})
	return nil
}

// Evaluate scores a model on annotated documents.
func (e *engine) Evaluate(ctx context.Context, model string, test []*document.Document) (*Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}
	p, ok := e.models[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	if !trained(p) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotTrained, model)
	}

	start := time.Now()
	res, err := p.Evaluate(test, document.CopyAll(test))
	if err != nil {
		return nil, fmt.Errorf("evaluating model %s: %w", model, err)
	}

	ev := &Evaluation{Model: model, Documents: len(test)}
	details := make(map[string]float64, len(res.Steps))
	for _, sr := range res.Steps {
		ev.Steps = append(ev.Steps, StepReport{Step: sr.Step.Name(), Report: sr.Outcome.Scores})
		if sr.Outcome.Scores != nil {
			details[sr.Step.Name()] = sr.Outcome.Scores.Overall.F1()
		}
	}
	if final, ok := res.Final(); ok {
		ev.Predictions = final.Predictions
	}

	elapsed := time.Since(start)
	slog.Info("evaluate: complete", "model", model, "documents", len(test), "f1", ev.F1(), "elapsed", elapsed.Round(time.Millisecond))
	e.logRun(ctx, store.RunLog{
		Kind: "evaluate", Model: model, NumDocs: len(test), F1: ev.F1(),
		Details: details, DurationMS: elapsed.Milliseconds(),
	})

	return ev, nil
}

// Models describes the configured models in name order.
func (e *engine) Models() []ModelInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]ModelInfo, 0, len(e.cfg.Models))
	for _, name := range e.cfg.ModelNames() {
		infos = append(infos, ModelInfo{
			Name:      name,
			TrainDocs: e.cfg.Models[name].TrainDocs,
			Trained:   trained(e.models[name]),
		})
	}
	return infos
}

// ListDocuments returns documents of the training corpus.
func (e *engine) ListDocuments(ctx context.Context, limit int) ([]*document.Document, error) {
	if e.isClosed() {
		return nil, ErrStoreClosed
	}
	return e.store.ListDocuments(ctx, e.cfg.Corpus, limit)
}

func (e *engine) Document(ctx context.Context, id string) (*document.Document, error) {
	if e.isClosed() {
		return nil, ErrStoreClosed
	}
	return e.store.GetDocument(ctx, e.cfg.Corpus, id)
}

// Status collects the store's schema version and table counts.
func (e *engine) Status(ctx context.Context) (*Status, error) {
	if e.isClosed() {
		return nil, ErrStoreClosed
	}
	version, err := e.store.SchemaVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	corpora, err := e.store.Corpora(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing corpora: %w", err)
	}
	models, err := e.store.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stored models: %w", err)
	}
	return &Status{
		SchemaVersion: version,
		Corpus:        e.cfg.Corpus,
		Counts:        *stats,
		Corpora:       corpora,
		StoredModels:  models,
	}, nil
}

func (e *engine) Runs(ctx context.Context, limit int) ([]store.RunLog, error) {
	if e.isClosed() {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 20
	}
	return e.store.RecentRuns(ctx, limit)
}

// Store returns the underlying store.
func (e *engine) Store() *store.Store {
	return e.store
}

// Results returns the result storage.
func (e *engine) Results() *results.Store {
	return e.results
}

// Close shuts down the engine.
func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.store.Close()
}

func (e *engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// trainAndSave trains p on docs and persists the state of its stateful
// steps.
func (e *engine) trainAndSave(ctx context.Context, model string, p *pipeline.Pipeline, docs []*document.Document) error {
	if len(docs) == 0 {
		slog.Warn("train: no documents, model left untrained", "model", model)
		return nil
	}
	if err := p.Train(docs); err != nil {
		return fmt.Errorf("training model %s: %w", model, err)
	}
	for _, s := range p.Steps() {
		st, ok := s.(pipeline.Stateful)
		if !ok {
			continue
		}
		state, err := st.MarshalState()
		if err != nil {
			return fmt.Errorf("encoding %s: %w", stateKey(s.Name(), model), err)
		}
		if err := e.store.SaveModel(ctx, stateKey(s.Name(), model), state, len(docs)); err != nil {
			return fmt.Errorf("saving %s: %w", stateKey(s.Name(), model), err)
		}
	}
	slog.Info("train: model saved", "model", model, "documents", len(docs))
	return nil
}

// loadState restores the persisted state of p's stateful steps. Missing
// state leaves a step untrained.
func (e *engine) loadState(ctx context.Context, model string, p *pipeline.Pipeline) error {
	for _, s := range p.Steps() {
		st, ok := s.(pipeline.Stateful)
		if !ok {
			continue
		}
		key := stateKey(s.Name(), model)
		m, err := e.store.LoadModel(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			slog.Debug("no stored model state", "key", key)
			continue
		}
		if err != nil {
			return err
		}
		if err := st.UnmarshalState(m.State); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		slog.Info("loaded model state", "key", key, "documents", m.NumDocs, "updated_at", m.UpdatedAt)
	}
	return nil
}

func (e *engine) logRun(ctx context.Context, r store.RunLog) {
	if err := e.store.LogRun(ctx, r); err != nil {
		slog.Warn("failed to log run", "kind", r.Kind, "error", err)
	}
}

func stateKey(step, model string) string {
	return step + "/" + model
}

// trained reports whether every step of p that holds a model has one.
func trained(p *pipeline.Pipeline) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Steps() {
		if t, ok := s.(interface{ Trained() bool }); ok && !t.Trained() {
			return false
		}
	}
	return true
}

// PrepareDocuments validates docs and gives every mention outside an entity
// a singleton entity, which relation training requires.
func PrepareDocuments(docs []*document.Document) ([]*document.Document, error) {
	out := make([]*document.Document, len(docs))
	for i, d := range docs {
		if d == nil {
			return nil, fmt.Errorf("document %d: %w", i, ErrNoDocuments)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("document %d (%s): %w", i, d.ID, err)
		}
		out[i] = withSingletons(d)
	}
	return out, nil
}

func withSingletons(d *document.Document) *document.Document {
	covered := make([]bool, len(d.Mentions))
	for _, ent := range d.Entities {
		for _, mi := range ent.MentionIndices {
			covered[mi] = true
		}
	}
	out := d.Copy(0)
	for i, ok := range covered {
		if !ok {
			out.Entities = append(out.Entities, document.Entity{MentionIndices: []int{i}})
		}
	}
	return out
}
