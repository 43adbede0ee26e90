package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/petnlp"
	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/eval"
	"github.com/brunobiangulo/petnlp/mentions"
	"github.com/brunobiangulo/petnlp/pipeline"
	"github.com/brunobiangulo/petnlp/relations"
	"github.com/brunobiangulo/petnlp/results"
)

// Sweep stages. A mentions or relations sweep isolates one step: the
// relations step then predicts on gold mentions and entities.
const (
	stageMentions  = "mentions"
	stageRelations = "relations"
	stageFull      = "full"
)

// sweepSizes returns the training corpus sizes step, 2*step, ... up to maxDocs
// documents, or up to available when maxDocs is not positive. The largest
// usable size is always included.
func sweepSizes(step, maxDocs, available int) ([]int, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %d", step)
	}
	if available <= 0 {
		return nil, petnlp.ErrNoDocuments
	}
	limit := available
	if maxDocs > 0 && maxDocs < limit {
		limit = maxDocs
	}

	var sizes []int
	for n := step; n <= limit; n += step {
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 || sizes[len(sizes)-1] != limit {
		sizes = append(sizes, limit)
	}
	return sizes, nil
}

// sweepPipeline returns an untrained pipeline for stage.
func sweepPipeline(cfg petnlp.Config, stage, name string) (*pipeline.Pipeline, error) {
	switch stage {
	case stageMentions:
		return pipeline.New(name, []pipeline.Step{mentions.New(petnlp.StepMentions)}), nil
	case stageRelations:
		return pipeline.New(name, []pipeline.Step{relations.New(petnlp.StepRelations, cfg.Relations)}), nil
	case stageFull:
		return petnlp.NewPipeline(cfg, name), nil
	default:
		return nil, fmt.Errorf("unknown stage %q (want %s, %s or %s)", stage, stageMentions, stageRelations, stageFull)
	}
}

// sweepInput strips from gold what stage has to predict.
func sweepInput(stage string, gold []*document.Document) []*document.Document {
	layers := document.ClearAll
	if stage == stageRelations {
		layers = document.ClearRelations
	}
	in := make([]*document.Document, len(gold))
	for i, d := range gold {
		in[i] = d.Copy(layers)
	}
	return in
}

// runSweep trains a fresh pipeline for stage on each prefix of train given
// by sizes and scores every step on test.
func runSweep(ctx context.Context, cfg petnlp.Config, stage string, train, test []*document.Document, sizes []int) ([]eval.SweepPoint, error) {
	train, err := petnlp.PrepareDocuments(train)
	if err != nil {
		return nil, fmt.Errorf("training documents: %w", err)
	}
	gold, err := petnlp.PrepareDocuments(test)
	if err != nil {
		return nil, fmt.Errorf("test documents: %w", err)
	}
	if len(gold) == 0 {
		return nil, fmt.Errorf("test documents: %w", petnlp.ErrNoDocuments)
	}

	var points []eval.SweepPoint
	for _, n := range sizes {
		if err := ctx.Err(); err != nil {
			return points, err
		}
		if n > len(train) {
			return points, fmt.Errorf("size %d exceeds %d training documents", n, len(train))
		}

		start := time.Now()
		p, err := sweepPipeline(cfg, stage, fmt.Sprintf("%s-%d", stage, n))
		if err != nil {
			return nil, err
		}
		if err := p.Train(train[:n]); err != nil {
			return points, fmt.Errorf("training on %d documents: %w", n, err)
		}
		res, err := p.Evaluate(sweepInput(stage, gold), gold)
		if err != nil {
			return points, fmt.Errorf("evaluating model trained on %d documents: %w", n, err)
		}

		for _, sr := range res.Steps {
			if sr.Outcome.Scores == nil {
				continue
			}
			points = append(points, eval.SweepPoint{TrainDocs: n, Step: sr.Step.Name(), Report: sr.Outcome.Scores})
		}
		f1 := 0.0
		if final, ok := res.Final(); ok && final.Scores != nil {
			f1 = final.Scores.Overall.F1()
		}
		slog.Info("sweep: size complete", "stage", stage, "train_docs", n, "f1", fmt.Sprintf("%.3f", f1),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	return points, nil
}

// runSeries reduces points to the final step's F1, in percent, per
// training size.
func runSeries(points []eval.SweepPoint) results.Run {
	var run results.Run
	for i, p := range points {
		if i+1 < len(points) && points[i+1].TrainDocs == p.TrainDocs {
			continue
		}
		run.NumDocs = append(run.NumDocs, p.TrainDocs)
		run.F1Scores = append(run.F1Scores, p.Report.Overall.F1()*100)
	}
	return run
}
