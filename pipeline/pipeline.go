// Package pipeline chains annotation steps (mention extraction, coreference
// resolution, relation extraction) over isolated copies of documents.
//
// A step runs in one of two modes. In training mode it fits its model on
// Input.Train and returns nothing. In evaluation mode it predicts on
// Input.Test, scores against Input.GroundTruth and leaves its model alone.
// The Pipeline feeds each step's predictions to the next step in
// evaluation mode and gives every step the same training documents in
// training mode.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/eval"
)

// ErrNoPredictions is returned when a step finishes an evaluation run
// without an outcome to hand to the next step.
var ErrNoPredictions = errors.New("pipeline: step returned no outcome")

// Input is the set of document sequences handed to a step. Unused
// sequences are nil.
type Input struct {
	Train       []*document.Document
	Test        []*document.Document
	GroundTruth []*document.Document
}

// Outcome is what a step produces in evaluation mode.
type Outcome struct {
	Predictions []*document.Document
	Scores      *eval.Report
}

// Step is one stage of a pipeline.
type Step interface {
	// Name identifies the step within a pipeline and in the model store.
	Name() string

	// Run trains on in.Train and returns a nil outcome when trainingOnly is
	// set, otherwise predicts on in.Test and scores against in.GroundTruth.
	Run(in Input, trainingOnly bool) (*Outcome, error)
}

// Stateful is implemented by steps whose fitted model can be persisted
// between processes.
type Stateful interface {
	Step
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// StepError reports the step that aborted a pipeline run.
type StepError struct {
	Step     string
	Position int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline: step %d (%s): %v", e.Position, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepResult pairs a step with its evaluation outcome.
type StepResult struct {
	Step    Step
	Outcome *Outcome
}

// Result holds the outcome of every step that completed, in execution order.
type Result struct {
	Steps []StepResult
}

// Outcome returns the outcome of the step with the given name.
func (r *Result) Outcome(name string) (*Outcome, bool) {
	if r == nil {
		return nil, false
	}
	for _, sr := range r.Steps {
		if sr.Step.Name() == name {
			return sr.Outcome, true
		}
	}
	return nil, false
}

// Final returns the outcome of the last step that completed.
func (r *Result) Final() (*Outcome, bool) {
	if r == nil || len(r.Steps) == 0 {
		return nil, false
	}
	return r.Steps[len(r.Steps)-1].Outcome, true
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for step progress.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline runs its steps strictly in order.
type Pipeline struct {
	name   string
	steps  []Step
	logger *slog.Logger
}

// New creates a pipeline over steps.
func New(name string, steps []Step, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:   name,
		steps:  slices.Clone(steps),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Steps returns the pipeline's steps in execution order.
func (p *Pipeline) Steps() []Step { return slices.Clone(p.steps) }

// Run deep copies in.Train and in.Test and dispatches every step. Training
// runs return a nil result. Evaluation runs chain predictions from step to
// step; when a step fails the outcomes of the steps before it are returned
// together with a *StepError.
func (p *Pipeline) Run(in Input, trainingOnly bool) (*Result, error) {
	start := time.Now()
	p.logger.Info("running pipeline", "pipeline", p.name, "training_only", trainingOnly, "steps", len(p.steps))

	train := document.CopyAll(in.Train)
	test := document.CopyAll(in.Test)

	if trainingOnly {
		for i, s := range p.steps {
			if _, err := p.runStep(i, s, Input{Train: train}, true); err != nil {
				return nil, err
			}
		}
		p.logger.Info("finished pipeline", "pipeline", p.name, "elapsed", time.Since(start).Round(time.Millisecond))
		return nil, nil
	}

	result := &Result{}
	for i, s := range p.steps {
		out, err := p.runStep(i, s, Input{Test: test, GroundTruth: in.GroundTruth}, false)
		if err != nil {
			return result, err
		}
		if out == nil {
			return result, &StepError{Step: s.Name(), Position: i, Err: ErrNoPredictions}
		}
		result.Steps = append(result.Steps, StepResult{Step: s, Outcome: out})
		test = document.CopyAll(out.Predictions)
	}

	p.logger.Info("finished pipeline", "pipeline", p.name, "elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (p *Pipeline) runStep(i int, s Step, in Input, trainingOnly bool) (*Outcome, error) {
	start := time.Now()
	docs := len(in.Test)
	if trainingOnly {
		docs = len(in.Train)
	}
	p.logger.Debug("running step", "pipeline", p.name, "step", s.Name(), "position", i, "documents", docs)

	out, err := s.Run(in, trainingOnly)
	if err != nil {
		p.logger.Error("step failed", "pipeline", p.name, "step", s.Name(), "error", err)
		return nil, &StepError{Step: s.Name(), Position: i, Err: err}
	}

	p.logger.Debug("finished step", "pipeline", p.name, "step", s.Name(), "elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

// Train runs the pipeline in training mode over docs.
func (p *Pipeline) Train(docs []*document.Document) error {
	_, err := p.Run(Input{Train: docs}, true)
	return err
}

// Evaluate runs the pipeline in evaluation mode.
func (p *Pipeline) Evaluate(test, groundTruth []*document.Document) (*Result, error) {
	return p.Run(Input{Test: test, GroundTruth: groundTruth}, false)
}
