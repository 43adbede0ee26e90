//go:build cgo

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/petnlp/document"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDoc(id, word string) *document.Document {
	return &document.Document{
		ID:       id,
		Name:     "doc-" + id,
		Category: "test",
		Text:     "The " + word + " sends it.",
		Tokens: []document.Token{
			{Text: "The", IndexInDocument: 0, PosTag: "DT"},
			{Text: word, IndexInDocument: 1, PosTag: "NN"},
			{Text: "sends", IndexInDocument: 2, PosTag: "VBZ"},
			{Text: "it", IndexInDocument: 3, PosTag: "PRP"},
			{Text: ".", IndexInDocument: 4, PosTag: "."},
		},
		Mentions: []document.Mention{
			{Tag: document.TagActor, TokenIndices: []int{0, 1}},
			{Tag: document.TagActivity, TokenIndices: []int{2}},
		},
		Entities: []document.Entity{
			{MentionIndices: []int{0}},
			{MentionIndices: []int{1}},
		},
		Relations: []document.Relation{
			{Head: 1, Tail: 0, Tag: document.RelActorPerformer},
		},
	}
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != len(migrations) {
		t.Errorf("schema version: got %d, want %d", v, len(migrations))
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddDocuments(ctx, "pet", []*document.Document{sampleDoc("a", "clerk")}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	n, err := s.CountDocuments(ctx, "pet")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 document after reopen, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Corpus
// ---------------------------------------------------------------------------

func TestAddAndListDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docs := []*document.Document{sampleDoc("a", "clerk"), sampleDoc("b", "manager"), sampleDoc("c", "customer")}
	added, err := s.AddDocuments(ctx, "pet", docs)
	if err != nil {
		t.Fatal(err)
	}
	if added != 3 {
		t.Fatalf("expected 3 added, got %d", added)
	}

	got, err := s.ListDocuments(ctx, "pet", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(got))
	}
	for i, d := range got {
		if d.ID != docs[i].ID {
			t.Errorf("document %d: got id %q, want %q (insertion order)", i, d.ID, docs[i].ID)
		}
	}
	if got[1].Tokens[1].Text != "manager" || len(got[1].Relations) != 1 || got[1].Addressing != document.ByEntity {
		t.Errorf("document did not round-trip: %+v", got[1])
	}

	prefix, err := s.ListDocuments(ctx, "pet", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(prefix) != 2 || prefix[1].ID != "b" {
		t.Errorf("prefix of 2: got %d docs", len(prefix))
	}
}

func TestAddDocumentsSkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddDocuments(ctx, "pet", []*document.Document{sampleDoc("a", "clerk")}); err != nil {
		t.Fatal(err)
	}
	added, err := s.AddDocuments(ctx, "pet", []*document.Document{sampleDoc("a", "clerk"), sampleDoc("b", "clerk")})
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 {
		t.Errorf("expected only the new document to be added, got %d", added)
	}

	// The same content may live in another corpus.
	added, err = s.AddDocuments(ctx, "other", []*document.Document{sampleDoc("a", "clerk")})
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 {
		t.Errorf("expected duplicate across corpora to be added, got %d", added)
	}

	corpora, err := s.Corpora(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []Corpus{{Name: "other", Documents: 1}, {Name: "pet", Documents: 2}}
	if fmt.Sprint(corpora) != fmt.Sprint(want) {
		t.Errorf("corpora: got %v, want %v", corpora, want)
	}
}

func TestGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddDocuments(ctx, "pet", []*document.Document{sampleDoc("a", "clerk")}); err != nil {
		t.Fatal(err)
	}
	d, err := s.GetDocument(ctx, "pet", "a")
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "doc-a" {
		t.Errorf("name: got %q", d.Name)
	}
	if _, err := s.GetDocument(ctx, "pet", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCorpus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docs := []*document.Document{sampleDoc("a", "clerk"), sampleDoc("b", "manager")}
	if _, err := s.AddDocuments(ctx, "pet", docs); err != nil {
		t.Fatal(err)
	}
	n, err := s.DeleteCorpus(ctx, "pet")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	count, _ := s.CountDocuments(ctx, "pet")
	if count != 0 {
		t.Errorf("expected empty corpus, got %d", count)
	}
}

// ---------------------------------------------------------------------------
// Models
// ---------------------------------------------------------------------------

func TestSaveAndLoadModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadModel(ctx, "mentions/average"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.SaveModel(ctx, "mentions/average", []byte(`{"version":1}`), 16); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveModel(ctx, "mentions/average", []byte(`{"version":2}`), 20); err != nil {
		t.Fatal(err)
	}
	m, err := s.LoadModel(ctx, "mentions/average")
	if err != nil {
		t.Fatal(err)
	}
	if string(m.State) != `{"version":2}` || m.NumDocs != 20 {
		t.Errorf("expected replaced state, got %s (%d docs)", m.State, m.NumDocs)
	}

	if err := s.SaveModel(ctx, "relations/average", []byte(`{}`), 16); err != nil {
		t.Fatal(err)
	}
	models, err := s.ListModels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].Name != "mentions/average" || models[0].State != nil {
		t.Errorf("list models: got %+v", models)
	}
}

// ---------------------------------------------------------------------------
// Run log
// ---------------------------------------------------------------------------

func TestRunLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runs := []RunLog{
		{Kind: "retrain", Model: "average", NumDocs: 16, DurationMS: 12},
		{Kind: "evaluate", Model: "average", NumDocs: 9, F1: 0.75, Details: map[string]float64{"mentions": 0.8}},
	}
	for _, r := range runs {
		if err := s.LogRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if got[0].Kind != "evaluate" || got[0].F1 != 0.75 {
		t.Errorf("newest run first: got %+v", got[0])
	}
	raw, ok := got[0].Details.(json.RawMessage)
	if !ok {
		t.Fatalf("details: expected raw JSON, got %T", got[0].Details)
	}
	var details map[string]float64
	if err := json.Unmarshal(raw, &details); err != nil || details["mentions"] != 0.8 {
		t.Errorf("details: got %s (%v)", raw, err)
	}
	if got[1].Details != nil || got[1].DurationMS != 12 {
		t.Errorf("retrain run: got %+v", got[1])
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Runs != 2 || stats.Documents != 0 || stats.Models != 0 {
		t.Errorf("stats: got %+v", stats)
	}
}
