package eval

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/petnlp/document"
)

// goldDoc: 0:clerk 1:checks 2:invoice 3:he 4:pays | two sentences.
func goldDoc() *document.Document {
	doc := &document.Document{ID: "g"}
	for i, w := range []string{"clerk", "checks", "invoice", "he", "pays"} {
		s := 0
		if i >= 3 {
			s = 1
		}
		doc.Tokens = append(doc.Tokens, document.Token{Text: w, IndexInDocument: i, SentenceIndex: s})
	}
	doc.Mentions = []document.Mention{
		{Tag: document.TagActor, TokenIndices: []int{0}},
		{Tag: document.TagActivity, TokenIndices: []int{1}},
		{Tag: document.TagActivityData, TokenIndices: []int{2}},
		{Tag: document.TagActor, TokenIndices: []int{3}},
		{Tag: document.TagActivity, TokenIndices: []int{4}},
	}
	doc.Entities = []document.Entity{
		{MentionIndices: []int{0, 3}},
		{MentionIndices: []int{1}},
		{MentionIndices: []int{2}},
		{MentionIndices: []int{4}},
	}
	doc.Relations = []document.Relation{
		{Head: 1, Tail: 0, Tag: document.RelActorPerformer},
		{Head: 1, Tail: 3, Tag: document.RelFlow},
	}
	return doc
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		s       Score
		p, r, f float64
	}{
		{name: "empty", s: Score{}},
		{name: "perfect", s: Score{TP: 4}, p: 1, r: 1, f: 1},
		{name: "half", s: Score{TP: 1, FP: 1, FN: 1}, p: 0.5, r: 0.5, f: 0.5},
		{name: "nothing predicted", s: Score{FN: 3}},
		{name: "uneven", s: Score{TP: 2, FP: 2, FN: 0}, p: 0.5, r: 1, f: 2.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !approx(tt.s.Precision(), tt.p) || !approx(tt.s.Recall(), tt.r) || !approx(tt.s.F1(), tt.f) {
				t.Errorf("got P=%v R=%v F1=%v, want %v %v %v", tt.s.Precision(), tt.s.Recall(), tt.s.F1(), tt.p, tt.r, tt.f)
			}
		})
	}
}

func TestScoreJSON(t *testing.T) {
	data, err := json.Marshal(Score{TP: 1, FP: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"precision":0.5`) {
		t.Errorf("derived precision missing: %s", data)
	}
	var s Score
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	if s != (Score{TP: 1, FP: 1}) {
		t.Errorf("round trip: got %+v", s)
	}
}

func TestMentionsPerfect(t *testing.T) {
	gold := goldDoc()
	pred := gold.Copy(document.ClearEntities | document.ClearRelations)
	// Storage order must not matter.
	pred.Mentions[0], pred.Mentions[4] = pred.Mentions[4], pred.Mentions[0]

	r, err := Mentions([]*document.Document{pred}, []*document.Document{gold})
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != (Score{TP: 5}) {
		t.Errorf("overall: got %+v", r.Overall)
	}
	if r.ByTag["actor"] != (Score{TP: 2}) {
		t.Errorf("actor: got %+v", r.ByTag["actor"])
	}
	if r.Stage != StageMentions {
		t.Errorf("stage: got %q", r.Stage)
	}
}

func TestMentionsErrors(t *testing.T) {
	gold := goldDoc()
	pred := gold.Copy(document.ClearAll)
	// A case-insensitive hit, then a wrong span predicted twice.
	pred.Mentions = []document.Mention{
		{Tag: "ACTOR", TokenIndices: []int{0}},
		{Tag: document.TagActivity, TokenIndices: []int{1, 2}},
		{Tag: document.TagActivity, TokenIndices: []int{1, 2}},
	}

	r, err := Mentions([]*document.Document{pred}, []*document.Document{gold})
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != (Score{TP: 1, FP: 1, FN: 4}) {
		t.Errorf("overall: got %+v", r.Overall)
	}
	if r.ByTag["activity"] != (Score{FP: 1, FN: 2}) {
		t.Errorf("activity: got %+v", r.ByTag["activity"])
	}
}

func TestEntities(t *testing.T) {
	gold := goldDoc()
	pred := gold.Copy(document.ClearRelations)
	pred.Entities = []document.Entity{
		{MentionIndices: []int{4}},
		{MentionIndices: []int{3, 0, 3}},
		{MentionIndices: []int{1}},
		{MentionIndices: []int{2}},
	}

	r, err := Entities([]*document.Document{pred}, []*document.Document{gold})
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != (Score{TP: 4}) {
		t.Errorf("overall: got %+v", r.Overall)
	}

	// Unresolved coreference: the actor cluster is split in two.
	pred.Entities[1] = document.Entity{MentionIndices: []int{0}}
	pred.Entities = append(pred.Entities, document.Entity{MentionIndices: []int{3}})
	r, err = Entities([]*document.Document{pred}, []*document.Document{gold})
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != (Score{TP: 3, FP: 2, FN: 1}) {
		t.Errorf("split cluster: got %+v", r.Overall)
	}
}

func TestEntitiesMixedTags(t *testing.T) {
	gold := goldDoc()
	pred := gold.Copy(document.ClearRelations)
	pred.Entities = []document.Entity{{MentionIndices: []int{1, 2}}}

	_, err := Entities([]*document.Document{pred}, []*document.Document{gold})
	if !errors.Is(err, document.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestRelationsAcrossAddressing(t *testing.T) {
	gold := goldDoc()
	pred, err := gold.WithAddressing(document.ByMention)
	if err != nil {
		t.Fatal(err)
	}

	r, err := Relations([]*document.Document{pred}, []*document.Document{gold})
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != (Score{TP: 2}) {
		t.Errorf("overall: got %+v", r.Overall)
	}
}

func TestRelationsPartial(t *testing.T) {
	gold := goldDoc()
	pred := gold.Copy(0)
	pred.Relations = []document.Relation{
		{Head: 1, Tail: 0, Tag: "actor performer"},
		{Head: 0, Tail: 2, Tag: document.RelUses},
	}

	r, err := Relations([]*document.Document{pred}, []*document.Document{gold})
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != (Score{TP: 1, FP: 1, FN: 1}) {
		t.Errorf("overall: got %+v", r.Overall)
	}
	if got := r.Tags(); strings.Join(got, ",") != "actor performer,flow,uses" {
		t.Errorf("tags: got %v", got)
	}
}

func TestLengthMismatch(t *testing.T) {
	_, err := Mentions([]*document.Document{goldDoc()}, nil)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestForStage(t *testing.T) {
	gold := []*document.Document{goldDoc()}
	for _, stage := range []Stage{StageMentions, StageEntities, StageRelations} {
		r, err := ForStage(stage, gold, gold)
		if err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
		if r.Overall.F1() != 1 {
			t.Errorf("%s: self score %+v", stage, r.Overall)
		}
	}
	if _, err := ForStage("tokens", gold, gold); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestMerge(t *testing.T) {
	a := newReport(StageMentions)
	a.add("actor", Score{TP: 1})
	b := newReport(StageMentions)
	b.add("actor", Score{FP: 1})
	b.add("activity", Score{FN: 2})

	m := Merge(nil, a, b)
	if m.Overall != (Score{TP: 1, FP: 1, FN: 2}) {
		t.Errorf("overall: got %+v", m.Overall)
	}
	if m.ByTag["actor"] != (Score{TP: 1, FP: 1}) {
		t.Errorf("actor: got %+v", m.ByTag["actor"])
	}
	if Merge() != nil {
		t.Error("merging nothing should yield nil")
	}
}

func TestFormatReport(t *testing.T) {
	r := newReport(StageRelations)
	r.add("flow", Score{TP: 1, FN: 1})
	out := FormatReport(r)
	for _, want := range []string{"=== relations ===", "overall", "flow", "tp=1 fp=0 fn=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSweep(t *testing.T) {
	small := newReport(StageMentions)
	small.add("actor", Score{TP: 1, FN: 1})
	large := newReport(StageMentions)
	large.add("actor", Score{TP: 2})
	rel := newReport(StageRelations)
	rel.add("flow", Score{FP: 1})

	points := []SweepPoint{
		{TrainDocs: 8, Step: "mentions", Report: large},
		{TrainDocs: 4, Step: "mentions", Report: small},
		{TrainDocs: 4, Step: "relations", Report: rel},
	}

	var js bytes.Buffer
	if err := WriteSweepJSON(&js, points); err != nil {
		t.Fatal(err)
	}
	var decoded []SweepPoint
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 3 || decoded[1].Report.Overall != (Score{TP: 1, FN: 1}) {
		t.Errorf("json sweep: got %+v", decoded)
	}

	var xl bytes.Buffer
	if err := WriteSweepXLSX(&xl, points); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(&xl)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if got := f.GetSheetList(); strings.Join(got, ",") != "mentions,relations" {
		t.Fatalf("sheets: got %v", got)
	}
	rows, err := f.GetRows("mentions")
	if err != nil {
		t.Fatal(err)
	}
	// header, then overall+actor for 4 docs, then overall+actor for 8 docs
	if len(rows) != 5 {
		t.Fatalf("rows: got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "train_docs" || rows[1][0] != "4" || rows[1][1] != "overall" || rows[4][0] != "8" {
		t.Errorf("unexpected layout: %v", rows)
	}
}
