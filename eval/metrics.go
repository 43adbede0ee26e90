package eval

import (
	"encoding/json"
	"maps"
	"slices"
)

// Score counts matches of predicted against ground-truth annotations.
type Score struct {
	TP int
	FP int
	FN int
}

// Precision returns TP / (TP + FP), 0 when nothing was predicted.
func (s Score) Precision() float64 {
	if s.TP+s.FP == 0 {
		return 0
	}
	return float64(s.TP) / float64(s.TP+s.FP)
}

// Recall returns TP / (TP + FN), 0 when there was nothing to find.
func (s Score) Recall() float64 {
	if s.TP+s.FN == 0 {
		return 0
	}
	return float64(s.TP) / float64(s.TP+s.FN)
}

// F1 returns the harmonic mean of precision and recall.
func (s Score) F1() float64 {
	p, r := s.Precision(), s.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Add returns the element-wise sum of s and o.
func (s Score) Add(o Score) Score {
	return Score{TP: s.TP + o.TP, FP: s.FP + o.FP, FN: s.FN + o.FN}
}

type scoreJSON struct {
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// MarshalJSON includes the derived precision, recall and F1.
func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(scoreJSON{TP: s.TP, FP: s.FP, FN: s.FN, Precision: s.Precision(), Recall: s.Recall(), F1: s.F1()})
}

// UnmarshalJSON reads the counts and ignores the derived values.
func (s *Score) UnmarshalJSON(data []byte) error {
	var sj scoreJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}
	*s = Score{TP: sj.TP, FP: sj.FP, FN: sj.FN}
	return nil
}

// Report holds micro-averaged counts for one pipeline stage, overall and
// per lowercased tag.
type Report struct {
	Stage   Stage            `json:"stage"`
	Overall Score            `json:"overall"`
	ByTag   map[string]Score `json:"by_tag"`
}

func newReport(stage Stage) *Report {
	return &Report{Stage: stage, ByTag: make(map[string]Score)}
}

func (r *Report) add(tag string, s Score) {
	r.Overall = r.Overall.Add(s)
	r.ByTag[tag] = r.ByTag[tag].Add(s)
}

// Tags returns the report's tags in sorted order.
func (r *Report) Tags() []string {
	return slices.Sorted(maps.Keys(r.ByTag))
}

// Merge sums reports, e.g. the folds of a cross validation. The stage of
// the first non-nil report is kept.
func Merge(reports ...*Report) *Report {
	var merged *Report
	for _, r := range reports {
		if r == nil {
			continue
		}
		if merged == nil {
			merged = newReport(r.Stage)
		}
		for tag, s := range r.ByTag {
			merged.add(tag, s)
		}
	}
	return merged
}
