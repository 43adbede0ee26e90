package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/xuri/excelize/v2"
)

// SweepPoint is the report of one step trained on a prefix of the
// training corpus.
type SweepPoint struct {
	TrainDocs int     `json:"train_docs"`
	Step      string  `json:"step"`
	Report    *Report `json:"report"`
}

// WriteSweepJSON writes points as an indented JSON array.
func WriteSweepJSON(w io.Writer, points []SweepPoint) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(points); err != nil {
		return fmt.Errorf("encoding sweep: %w", err)
	}
	return nil
}

var sweepHeader = []any{"train_docs", "tag", "precision", "recall", "f1", "tp", "fp", "fn"}

// WriteSweepXLSX writes a workbook with one sheet per step. Each sheet has
// an "overall" row and one row per tag for every training size.
func WriteSweepXLSX(w io.Writer, points []SweepPoint) error {
	f := excelize.NewFile()
	defer f.Close()

	var steps []string
	byStep := make(map[string][]SweepPoint)
	for _, p := range points {
		if _, ok := byStep[p.Step]; !ok {
			steps = append(steps, p.Step)
		}
		byStep[p.Step] = append(byStep[p.Step], p)
	}
	if len(steps) == 0 {
		steps = []string{"sweep"}
	}

	for i, step := range steps {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", step); err != nil {
				return fmt.Errorf("naming sheet %q: %w", step, err)
			}
		} else if _, err := f.NewSheet(step); err != nil {
			return fmt.Errorf("creating sheet %q: %w", step, err)
		}

		if err := f.SetSheetRow(step, "A1", &sweepHeader); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		pts := slices.Clone(byStep[step])
		slices.SortStableFunc(pts, func(a, b SweepPoint) int { return a.TrainDocs - b.TrainDocs })

		row := 2
		for _, p := range pts {
			if p.Report == nil {
				continue
			}
			if err := writeScoreRow(f, step, row, p.TrainDocs, "overall", p.Report.Overall); err != nil {
				return err
			}
			row++
			for _, tag := range p.Report.Tags() {
				if err := writeScoreRow(f, step, row, p.TrainDocs, tag, p.Report.ByTag[tag]); err != nil {
					return err
				}
				row++
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeScoreRow(f *excelize.File, sheet string, row, trainDocs int, tag string, s Score) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	values := []any{trainDocs, tag, s.Precision(), s.Recall(), s.F1(), s.TP, s.FP, s.FN}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing row %d of %s: %w", row, sheet, err)
	}
	return nil
}
