package document

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

// sampleDoc builds a two-sentence, fully resolved document:
//
//	0:The 1:customer 2:sends 3:an 4:order 5:.  |  6:The 7:clerk 8:checks 9:it 10:.
func sampleDoc(t *testing.T) *Document {
	t.Helper()
	words := [][]string{
		{"The", "customer", "sends", "an", "order", "."},
		{"The", "clerk", "checks", "it", "."},
	}
	doc := &Document{ID: "doc-1", Name: "order handling", Category: "sample", Text: "The customer sends an order. The clerk checks it."}
	for s, sentence := range words {
		for _, w := range sentence {
			doc.Tokens = append(doc.Tokens, Token{Text: w, IndexInDocument: len(doc.Tokens), PosTag: "X", SentenceIndex: s})
		}
	}
	doc.Mentions = []Mention{
		{Tag: TagActor, TokenIndices: []int{0, 1}},
		{Tag: TagActivity, TokenIndices: []int{2}},
		{Tag: TagActivityData, TokenIndices: []int{3, 4}},
		{Tag: TagActor, TokenIndices: []int{6, 7}},
		{Tag: TagActivity, TokenIndices: []int{8}},
		{Tag: TagActivityData, TokenIndices: []int{9}},
	}
	doc.Entities = []Entity{
		{MentionIndices: []int{0}},
		{MentionIndices: []int{1}},
		{MentionIndices: []int{2, 5}},
		{MentionIndices: []int{3}},
		{MentionIndices: []int{4}},
	}
	doc.Relations = []Relation{
		{Head: 1, Tail: 0, Tag: RelActorPerformer},
		{Head: 1, Tail: 2, Tag: RelUses},
		{Head: 1, Tail: 4, Tag: RelFlow},
		{Head: 4, Tail: 3, Tag: RelActorPerformer},
		{Head: 4, Tail: 2, Tag: RelUses},
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("sample document invalid: %v", err)
	}
	return doc
}

func TestSentences(t *testing.T) {
	doc := sampleDoc(t)

	first := doc.Sentences()
	if len(first) != 2 {
		t.Fatalf("expected 2 sentences, got %d", len(first))
	}
	if len(first[0]) != 6 || len(first[1]) != 5 {
		t.Errorf("sentence lengths: got %d and %d, want 6 and 5", len(first[0]), len(first[1]))
	}
	if first[1][0].IndexInDocument != 6 {
		t.Errorf("second sentence starts at token %d, want 6", first[1][0].IndexInDocument)
	}

	second := doc.Sentences()
	if !reflect.DeepEqual(first, second) {
		t.Error("Sentences is not idempotent")
	}
}

func TestSentencesEmpty(t *testing.T) {
	doc := &Document{}
	if got := doc.Sentences(); len(got) != 0 {
		t.Fatalf("expected no sentences, got %d", len(got))
	}
}

func TestRelationExistsBetween(t *testing.T) {
	doc := sampleDoc(t)
	if !doc.RelationExistsBetween(1, 4) {
		t.Error("expected relation 1->4")
	}
	if doc.RelationExistsBetween(4, 1) {
		t.Error("relation endpoints must match exactly, 4->1 does not exist")
	}
}

func TestRelationsByMention(t *testing.T) {
	doc := sampleDoc(t)

	tests := []struct {
		name     string
		mention  int
		onlyHead bool
		onlyTail bool
		want     []string
	}{
		{name: "head or tail", mention: 4, want: []string{RelFlow, RelActorPerformer, RelUses}},
		{name: "only head", mention: 4, onlyHead: true, want: []string{RelActorPerformer, RelUses}},
		{name: "only tail", mention: 4, onlyTail: true, want: []string{RelFlow}},
		{name: "coreferent mention", mention: 5, want: []string{RelUses, RelUses}},
		{name: "untouched mention", mention: 3, onlyHead: true, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := doc.RelationsByMention(tt.mention, tt.onlyHead, tt.onlyTail)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var tags []string
			for _, r := range got {
				tags = append(tags, r.Tag)
			}
			if !reflect.DeepEqual(tags, tt.want) {
				t.Errorf("got %v, want %v", tags, tt.want)
			}
		})
	}
}

func TestRelationsByMentionConflictingRoles(t *testing.T) {
	doc := sampleDoc(t)
	got, err := doc.RelationsByMention(1, true, true)
	if !errors.Is(err, ErrConflictingRoles) {
		t.Fatalf("expected ErrConflictingRoles, got %v", err)
	}
	if got != nil {
		t.Errorf("expected no relations on error, got %v", got)
	}
}

func TestRelationsByMentionLegacyAddressing(t *testing.T) {
	doc := &Document{
		Addressing: ByMention,
		Relations: []Relation{
			{Head: 0, Tail: 1, Tag: RelFlow},
			{Head: 1, Tail: 2, Tag: RelFlow},
		},
	}
	got, err := doc.RelationsByMention(1, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Head != 0 {
		t.Fatalf("expected the 0->1 relation, got %v", got)
	}
}

func TestContainsEntityIgnoresOrder(t *testing.T) {
	doc := sampleDoc(t)
	if !doc.ContainsEntity(Entity{MentionIndices: []int{5, 2}}) {
		t.Error("entity {5,2} should equal stored entity {2,5}")
	}
	if !doc.ContainsEntity(Entity{MentionIndices: []int{2, 5, 2}}) {
		t.Error("duplicate mention indices should not change entity identity")
	}
	if doc.ContainsEntity(Entity{MentionIndices: []int{2}}) {
		t.Error("entity {2} is a different cluster than {2,5}")
	}
	if doc.ContainsEntity(Entity{MentionIndices: []int{42}}) {
		t.Error("out of range entity must not be contained")
	}
}

func TestContainsRelation(t *testing.T) {
	doc := sampleDoc(t)
	if !doc.ContainsRelation(Relation{Head: 1, Tail: 2, Tag: "uses"}) {
		t.Error("relation tags compare case-insensitively")
	}
	if doc.ContainsRelation(Relation{Head: 2, Tail: 1, Tag: RelUses}) {
		t.Error("relation direction is significant")
	}
}

func TestEntityKeyOrderIndependent(t *testing.T) {
	doc := sampleDoc(t)
	k1, err := EntityKeyOf(doc, Entity{MentionIndices: []int{2, 5}})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := EntityKeyOf(doc, Entity{MentionIndices: []int{5, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Errorf("keys differ: %q vs %q", k1, k2)
	}
}

func TestMentionKey(t *testing.T) {
	a := MentionKeyOf(Mention{Tag: "Actor", TokenIndices: []int{0, 1}})
	b := MentionKeyOf(Mention{Tag: "actor", TokenIndices: []int{0, 1}})
	c := MentionKeyOf(Mention{Tag: "Actor", TokenIndices: []int{1, 0}})
	if a != b {
		t.Errorf("tag case must not matter: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("token order must matter: %q == %q", a, c)
	}
}

func TestRelationKeyAcrossAddressing(t *testing.T) {
	doc := sampleDoc(t)
	legacy, err := doc.WithAddressing(ByMention)
	if err != nil {
		t.Fatal(err)
	}
	for i := range doc.Relations {
		want, err := RelationKeyOf(doc, doc.Relations[i])
		if err != nil {
			t.Fatal(err)
		}
		got, err := RelationKeyOf(legacy, legacy.Relations[i])
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("relation %d: %q != %q", i, got, want)
		}
	}
}

func TestEntityIndexForMention(t *testing.T) {
	doc := sampleDoc(t)
	got, err := doc.EntityIndexForMention(5)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("got entity %d, want 2", got)
	}

	doc.Entities = doc.Entities[:1]
	_, err = doc.EntityIndexForMention(3)
	var unresolved *UnresolvedMentionError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected *UnresolvedMentionError, got %v", err)
	}
	if unresolved.Index != 3 || unresolved.Mention.Tag != TagActor {
		t.Errorf("unexpected offending mention: %+v", unresolved)
	}
	if !errors.Is(err, ErrNoEntity) {
		t.Error("unresolved mention error should match ErrNoEntity")
	}
}

func TestMentionHelpers(t *testing.T) {
	doc := sampleDoc(t)
	m := doc.Mentions[3]
	if got := m.Text(doc); got != "The clerk" {
		t.Errorf("Text: got %q", got)
	}
	if got, err := m.SentenceIndex(doc); err != nil || got != 1 {
		t.Errorf("SentenceIndex: got %d, %v", got, err)
	}
	if got := m.PrettyPrint(doc); got != "The clerk (Actor, 6-7)" {
		t.Errorf("PrettyPrint: got %q", got)
	}
	if got := doc.MentionsForToken(9); len(got) != 1 || got[0].Tag != TagActivityData {
		t.Errorf("MentionsForToken(9): got %v", got)
	}
	if got, err := doc.Tokens[8].IndexInSentence(doc); err != nil || got != 2 {
		t.Errorf("IndexInSentence: got %d, %v", got, err)
	}
	if got, err := doc.EntityIndexForMentionValue(Mention{Tag: "activity data", TokenIndices: []int{9}}); err != nil || got != 2 {
		t.Errorf("EntityIndexForMentionValue: got %d, %v", got, err)
	}
	if got, err := doc.Entities[2].Tag(doc); err != nil || got != TagActivityData {
		t.Errorf("Entity.Tag: got %q, %v", got, err)
	}
}

func TestCopyIsolation(t *testing.T) {
	doc := sampleDoc(t)
	c := doc.Copy(0)
	if !reflect.DeepEqual(doc, c) {
		t.Fatal("copy differs from original")
	}

	c.Tokens[0].Text = "A"
	c.Mentions[0].TokenIndices[0] = 99
	c.Entities[2].MentionIndices = append(c.Entities[2].MentionIndices, 0)
	c.Relations[0].Tag = "changed"

	if doc.Tokens[0].Text != "The" {
		t.Error("token mutation leaked into original")
	}
	if doc.Mentions[0].TokenIndices[0] != 0 {
		t.Error("mention mutation leaked into original")
	}
	if len(doc.Entities[2].MentionIndices) != 2 {
		t.Error("entity mutation leaked into original")
	}
	if doc.Relations[0].Tag != RelActorPerformer {
		t.Error("relation mutation leaked into original")
	}
}

func TestCopyClear(t *testing.T) {
	doc := sampleDoc(t)
	c := doc.Copy(ClearEntities | ClearRelations)
	if len(c.Tokens) != len(doc.Tokens) {
		t.Error("tokens must always be copied")
	}
	if len(c.Mentions) != len(doc.Mentions) {
		t.Error("mentions should be kept")
	}
	if len(c.Entities) != 0 || len(c.Relations) != 0 {
		t.Errorf("expected cleared entities and relations, got %d and %d", len(c.Entities), len(c.Relations))
	}

	all := doc.Copy(ClearAll)
	if len(all.Mentions)+len(all.Entities)+len(all.Relations) != 0 {
		t.Error("ClearAll should leave only tokens")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	for _, addressing := range []Addressing{ByEntity, ByMention} {
		t.Run(addressing.String(), func(t *testing.T) {
			doc, err := sampleDoc(t).WithAddressing(addressing)
			if err != nil {
				t.Fatal(err)
			}
			data, err := json.Marshal(doc)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got Document
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(doc, &got) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, doc)
			}
		})
	}
}

func TestJSONFieldNames(t *testing.T) {
	doc := sampleDoc(t)
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"text", "name", "id", "category", "tokens", "mentions", "entities", "relations"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if got := string(raw["relationAddressing"]); got != `"entity"` {
		t.Errorf("relationAddressing: got %s, want \"entity\"", got)
	}

	var tokens []map[string]any
	if err := json.Unmarshal(raw["tokens"], &tokens); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"text", "indexInDocument", "posTag", "sentenceIndex"} {
		if _, ok := tokens[0][key]; !ok {
			t.Errorf("token missing key %q", key)
		}
	}
}

func TestWithAddressingUnresolved(t *testing.T) {
	doc := sampleDoc(t)
	legacy, err := doc.WithAddressing(ByMention)
	if err != nil {
		t.Fatal(err)
	}
	legacy.Entities = nil
	if _, err := legacy.WithAddressing(ByEntity); !errors.Is(err, ErrNoEntity) {
		t.Fatalf("expected ErrNoEntity, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Document)
		want   error
	}{
		{name: "valid", mutate: func(d *Document) {}},
		{name: "mention across sentences", mutate: func(d *Document) { d.Mentions[0].TokenIndices = []int{5, 6} }, want: ErrInconsistent},
		{name: "empty mention", mutate: func(d *Document) { d.Mentions[0].TokenIndices = nil }, want: ErrInconsistent},
		{name: "mention token out of range", mutate: func(d *Document) { d.Mentions[0].TokenIndices = []int{11} }, want: ErrOutOfRange},
		{name: "entity mixes tags", mutate: func(d *Document) { d.Entities[0].MentionIndices = []int{0, 1} }, want: ErrInconsistent},
		{name: "entity mention out of range", mutate: func(d *Document) { d.Entities[0].MentionIndices = []int{6} }, want: ErrOutOfRange},
		{name: "relation out of range", mutate: func(d *Document) { d.Relations[0].Tail = 5 }, want: ErrOutOfRange},
		{name: "decreasing sentence index", mutate: func(d *Document) { d.Tokens[10].SentenceIndex = 0 }, want: ErrInconsistent},
		{name: "duplicate token index", mutate: func(d *Document) { d.Tokens[1].IndexInDocument = 0 }, want: ErrInconsistent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDoc(t)
			tt.mutate(doc)
			err := doc.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}
