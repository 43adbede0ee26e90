package mentions

import (
	"errors"
	"reflect"
	"testing"

	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/pipeline"
)

type span struct {
	tag   string
	start int
	end   int // exclusive
}

func buildDoc(t *testing.T, id string, words []string, pos []string, spans ...span) *document.Document {
	t.Helper()
	doc := &document.Document{ID: id}
	for i, w := range words {
		tok := document.Token{Text: w, IndexInDocument: i}
		if pos != nil {
			tok.PosTag = pos[i]
		}
		doc.Tokens = append(doc.Tokens, tok)
	}
	for _, s := range spans {
		m := document.Mention{Tag: s.tag}
		for i := s.start; i < s.end; i++ {
			m.TokenIndices = append(m.TokenIndices, i)
		}
		doc.Mentions = append(doc.Mentions, m)
	}
	return doc
}

func trainingDocs(t *testing.T) []*document.Document {
	return []*document.Document{
		buildDoc(t, "a",
			[]string{"A", "clerk", "checks", "the", "invoice"},
			[]string{"DT", "NN", "VBZ", "DT", "NN"},
			span{document.TagActor, 0, 2}, span{document.TagActivity, 2, 3}, span{document.TagActivityData, 3, 5}),
		buildDoc(t, "b",
			[]string{"A", "clerk", "sends", "the", "invoice"},
			[]string{"DT", "NN", "VBZ", "DT", "NN"},
			span{document.TagActor, 0, 2}, span{document.TagActivity, 2, 3}, span{document.TagActivityData, 3, 5}),
	}
}

func TestPredictBeforeTraining(t *testing.T) {
	s := New("tagger")
	if s.Trained() {
		t.Fatal("new step should not be trained")
	}
	if _, err := s.Predict(trainingDocs(t)); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
	if _, err := s.MarshalState(); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained from MarshalState, got %v", err)
	}
}

func TestRunTrainThenEvaluate(t *testing.T) {
	s := New("tagger")
	train := trainingDocs(t)

	out, err := s.Run(pipeline.Input{Train: train}, true)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if out != nil {
		t.Fatalf("training should not return an outcome, got %+v", out)
	}

	out, err = s.Run(pipeline.Input{Test: train, GroundTruth: train}, false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Scores == nil || out.Scores.Overall.F1() != 1 {
		t.Fatalf("expected a perfect score on the training data, got %+v", out.Scores)
	}
	if len(out.Predictions) != 2 || out.Predictions[0] == train[0] {
		t.Fatal("predictions must be new documents")
	}
	if !reflect.DeepEqual(out.Predictions[0].Mentions, train[0].Mentions) {
		t.Errorf("mentions: got %+v, want %+v", out.Predictions[0].Mentions, train[0].Mentions)
	}
}

func TestPredictFallbacks(t *testing.T) {
	s := New("tagger")
	if err := s.Train(trainingDocs(t)); err != nil {
		t.Fatal(err)
	}

	// Unknown words fall back to their POS tag; "zzz" has none and an unseen
	// suffix, so it stays outside.
	doc := buildDoc(t, "c",
		[]string{"manager", "approves", "zzz"},
		[]string{"NN", "VBZ", ""})
	preds, err := s.Predict([]*document.Document{doc})
	if err != nil {
		t.Fatal(err)
	}
	got := preds[0].Mentions
	if len(got) != 2 {
		t.Fatalf("expected 2 mentions, got %+v", got)
	}
	// NN is tagged I-Actor twice and I-Activity Data twice; the smaller tag
	// wins, and a leading continuation is repaired to a beginning.
	if got[0].Tag != document.TagActivityData || !reflect.DeepEqual(got[0].TokenIndices, []int{0}) {
		t.Errorf("first mention: got %+v", got[0])
	}
	if got[1].Tag != document.TagActivity || !reflect.DeepEqual(got[1].TokenIndices, []int{1}) {
		t.Errorf("second mention: got %+v", got[1])
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := New("tagger")
	if err := s.Train(trainingDocs(t)); err != nil {
		t.Fatal(err)
	}
	state, err := s.MarshalState()
	if err != nil {
		t.Fatal(err)
	}

	loaded := New("tagger")
	if err := loaded.UnmarshalState(state); err != nil {
		t.Fatal(err)
	}
	if !loaded.Trained() {
		t.Fatal("loaded step should be trained")
	}

	docs := trainingDocs(t)
	want, _ := s.Predict(docs)
	got, err := loaded.Predict(docs)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got[1].Mentions, want[1].Mentions) {
		t.Errorf("loaded model predicts %+v, original %+v", got[1].Mentions, want[1].Mentions)
	}

	if err := loaded.UnmarshalState([]byte(`{"version":99}`)); err == nil {
		t.Error("expected error for unknown state version")
	}
	if err := loaded.UnmarshalState([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed state")
	}
}

func TestCountsBestIsDeterministic(t *testing.T) {
	c := counts{}
	c.add("x", "O")
	c.add("x", "B-Actor")
	for range 10 {
		if tag, _ := c.best("x"); tag != "B-Actor" {
			t.Fatalf("tie should go to the smaller tag, got %q", tag)
		}
	}
	if _, ok := c.best("missing"); ok {
		t.Error("unknown key should not have a best tag")
	}
}
