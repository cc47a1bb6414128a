package session

import (
	"math"
	"testing"

	"github.com/veritest/veritest-backend/internal/model"
)

func snapshotWith(t *testing.T, questions []*model.Question, picks map[*model.Question][]string) Snapshot {
	t.Helper()
	l := NewLedger(questions)
	for q, ids := range picks {
		for _, id := range ids {
			if err := l.Select(q.ID.String(), id); err != nil {
				t.Fatalf("select(%s, %s): %v", q.ID, id, err)
			}
		}
	}
	return l.Snapshot()
}

func TestScore_SingleSelect(t *testing.T) {
	q := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b", "c", "d"}, []string{"b"}, 4)

	tests := []struct {
		name string
		pick []string
		want float64
	}{
		{name: "correct option", pick: []string{"b"}, want: 4},
		{name: "wrong option a", pick: []string{"a"}, want: 0},
		{name: "wrong option c", pick: []string{"c"}, want: 0},
		{name: "unanswered", pick: nil, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			questions := []*model.Question{q}
			snap := snapshotWith(t, questions, map[*model.Question][]string{q: tc.pick})
			report := Score(questions, snap)
			if got := report.PerQuestion[q.ID.String()]; got != tc.want {
				t.Fatalf("per-question = %v, want %v", got, tc.want)
			}
			if report.Total != tc.want {
				t.Fatalf("total = %v, want %v", report.Total, tc.want)
			}
		})
	}
}

func TestScore_MultiSelectPartialCredit(t *testing.T) {
	// 6 points, correct = {a, b, c}, so each correct pick is worth 2.0.
	q := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c", "d"}, []string{"a", "b", "c"}, 6)

	tests := []struct {
		name string
		pick []string
		want float64
	}{
		{name: "two of three correct", pick: []string{"a", "b"}, want: 4.0},
		{name: "incorrect pick not penalized", pick: []string{"a", "b", "d"}, want: 4.0},
		{name: "all correct", pick: []string{"a", "b", "c"}, want: 6.0},
		{name: "only wrong pick", pick: []string{"d"}, want: 0},
		{name: "unanswered", pick: nil, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			questions := []*model.Question{q}
			snap := snapshotWith(t, questions, map[*model.Question][]string{q: tc.pick})
			report := Score(questions, snap)
			if got := report.PerQuestion[q.ID.String()]; got != tc.want {
				t.Fatalf("per-question = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScore_RoundsPerQuestionToOneDecimal(t *testing.T) {
	// 5 points over 3 correct options: one hit is 5/3 = 1.666..., which must
	// round to 1.7 before summing.
	q := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c", "d"}, []string{"a", "b", "c"}, 5)
	questions := []*model.Question{q}
	snap := snapshotWith(t, questions, map[*model.Question][]string{q: {"a"}})

	report := Score(questions, snap)
	if got := report.PerQuestion[q.ID.String()]; got != 1.7 {
		t.Fatalf("per-question = %v, want 1.7", got)
	}
}

func TestScore_TotalAcrossQuestions(t *testing.T) {
	mcq := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b"}, []string{"a"}, 4)
	msq := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c"}, []string{"a", "b", "c"}, 6)
	questions := []*model.Question{mcq, msq}

	snap := snapshotWith(t, questions, map[*model.Question][]string{
		mcq: {"a"},
		msq: {"a", "c"},
	})

	report := Score(questions, snap)
	if want := 4.0 + 4.0; report.Total != want {
		t.Fatalf("total = %v, want %v", report.Total, want)
	}
}

func TestScore_IsDeterministicAndPure(t *testing.T) {
	q := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c"}, []string{"a", "b"}, 3)
	questions := []*model.Question{q}
	snap := snapshotWith(t, questions, map[*model.Question][]string{q: {"a"}})

	first := Score(questions, snap)
	second := Score(questions, snap)
	if first.Total != second.Total {
		t.Fatalf("non-deterministic: %v vs %v", first.Total, second.Total)
	}
	// Scoring must not mutate the snapshot.
	if got := snap.Selections[q.ID.String()].Multi; len(got) != 1 || !got["a"] {
		t.Fatalf("snapshot mutated by scoring: %v", got)
	}
}

func TestPersistedTotal(t *testing.T) {
	tests := []struct {
		total float64
		want  int
	}{
		{total: 0, want: 0},
		{total: 4.4, want: 4},
		{total: 4.5, want: 5},
		{total: 9.9, want: 10},
		{total: 10.0, want: 10},
	}
	for _, tc := range tests {
		if got := PersistedTotal(tc.total); got != tc.want {
			t.Fatalf("PersistedTotal(%v) = %d, want %d", tc.total, got, tc.want)
		}
	}
}

func TestRoundTenth(t *testing.T) {
	if got := roundTenth(5.0 / 3.0); math.Abs(got-1.7) > 1e-9 {
		t.Fatalf("roundTenth(5/3) = %v, want 1.7", got)
	}
	if got := roundTenth(1.649999); math.Abs(got-1.6) > 1e-9 {
		t.Fatalf("roundTenth(1.649999) = %v, want 1.6", got)
	}
}
