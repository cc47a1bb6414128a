package session

import (
	"fmt"
	"strings"
	"testing"

	"github.com/veritest/veritest-backend/internal/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	single := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b", "c"}, []string{"a"}, 2)
	multi := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c", "d"}, []string{"b", "d"}, 4)
	unanswered := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b"}, []string{"b"}, 1)
	questions := []*model.Question{single, multi, unanswered}

	snap := snapshotWith(t, questions, map[*model.Question][]string{
		single: {"c"},
		multi:  {"d", "b"},
	})

	raw := EncodeAnswers(questions, snap)
	decoded := DecodeAnswers(raw)

	if len(decoded) != 2 {
		t.Fatalf("decoded %d entries, want 2: %v", len(decoded), decoded)
	}
	if got := decoded[single.ID.String()]; len(got) != 1 || got[0] != "c" {
		t.Fatalf("single-select decoded = %v, want [c]", got)
	}
	gotMulti := decoded[multi.ID.String()]
	if len(gotMulti) != 2 {
		t.Fatalf("multi-select decoded = %v, want two options", gotMulti)
	}
	set := map[string]bool{}
	for _, id := range gotMulti {
		set[id] = true
	}
	if !set["b"] || !set["d"] {
		t.Fatalf("multi-select decoded = %v, want set {b,d}", gotMulti)
	}
	if _, ok := decoded[unanswered.ID.String()]; ok {
		t.Fatal("unanswered question leaked into serialization")
	}

	// Restoring into a fresh ledger reproduces an equivalent snapshot.
	l := NewLedger(questions)
	for qid, ids := range decoded {
		if err := l.Restore(qid, ids); err != nil {
			t.Fatalf("restore(%s): %v", qid, err)
		}
	}
	if again := EncodeAnswers(questions, l.Snapshot()); again != raw {
		t.Fatalf("round trip diverged:\n first: %s\nsecond: %s", raw, again)
	}
}

func TestEncodeAnswers_Deterministic(t *testing.T) {
	multi := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c", "d"}, []string{"a", "b"}, 4)
	questions := []*model.Question{multi}

	// Select in two different orders; the encoding must match because the
	// option order comes from the question, not insertion order.
	first := snapshotWith(t, questions, map[*model.Question][]string{multi: {"a", "d", "b"}})
	l := NewLedger(questions)
	for _, id := range []string{"d", "b", "a"} {
		if err := l.Select(multi.ID.String(), id); err != nil {
			t.Fatal(err)
		}
	}
	second := l.Snapshot()

	if EncodeAnswers(questions, first) != EncodeAnswers(questions, second) {
		t.Fatal("encoding depends on selection order")
	}
}

func TestDecodeAnswers_Edges(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string][]string
	}{
		{name: "empty string", raw: "", want: map[string][]string{}},
		{name: "simple pairs", raw: "Q1:a;Q2:b,d;Q3:c", want: map[string][]string{
			"Q1": {"a"}, "Q2": {"b", "d"}, "Q3": {"c"},
		}},
		// Empty right-hand side means "no entry", not a parse error.
		{name: "empty rhs skipped", raw: "Q1:;Q2:b", want: map[string][]string{"Q2": {"b"}}},
		{name: "missing colon skipped", raw: "garbage;Q2:b", want: map[string][]string{"Q2": {"b"}}},
		{name: "trailing separator", raw: "Q1:a;", want: map[string][]string{"Q1": {"a"}}},
		// Only the first colon splits; later colons stay in the RHS.
		{name: "colon in rhs", raw: "Q1:a:b", want: map[string][]string{"Q1": {"a:b"}}},
		{name: "stray commas", raw: "Q1:a,,b,", want: map[string][]string{"Q1": {"a", "b"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DecodeAnswers(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("decoded %v, want %v", got, tc.want)
			}
			for qid, ids := range tc.want {
				if fmt.Sprint(got[qid]) != fmt.Sprint(ids) {
					t.Fatalf("q %s: decoded %v, want %v", qid, got[qid], ids)
				}
			}
		})
	}
}

func TestEncodeSelection(t *testing.T) {
	multi := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c"}, []string{"a"}, 2)
	sel := Selection{Kind: model.QuestionKindMultiSelect, Multi: map[string]bool{"c": true, "a": true}}
	if got := EncodeSelection(multi, sel); got != "a,c" {
		t.Fatalf("EncodeSelection = %q, want %q", got, "a,c")
	}
	if got := DecodeSelection("a,c"); strings.Join(got, "|") != "a|c" {
		t.Fatalf("DecodeSelection = %v, want [a c]", got)
	}
	if got := DecodeSelection(""); got != nil {
		t.Fatalf("DecodeSelection(\"\") = %v, want nil", got)
	}
}
