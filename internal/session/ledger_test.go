package session

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/veritest/veritest-backend/internal/model"
)

func makeQuestion(kind model.QuestionKind, optionIDs, correct []string, points float64) *model.Question {
	opts := make([]model.Option, len(optionIDs))
	for i, id := range optionIDs {
		opts[i] = model.Option{ID: id, Text: "option " + id}
	}
	return &model.Question{
		ID:             uuid.New(),
		Kind:           kind,
		Options:        opts,
		CorrectOptions: correct,
		Points:         points,
	}
}

func TestLedger_SingleSelectExclusivity(t *testing.T) {
	q := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b", "c", "d"}, []string{"b"}, 4)
	qid := q.ID.String()
	l := NewLedger([]*model.Question{q})

	steps := []struct {
		pick       string
		wantStatus QuestionStatus
		wantHeld   string
	}{
		{pick: "a", wantStatus: StatusAnswered, wantHeld: "a"},
		{pick: "b", wantStatus: StatusAnswered, wantHeld: "b"}, // replaces, never accumulates
		{pick: "b", wantStatus: StatusUnanswered},              // re-select clears
		{pick: "c", wantStatus: StatusAnswered, wantHeld: "c"},
		{pick: "d", wantStatus: StatusAnswered, wantHeld: "d"},
	}

	for i, step := range steps {
		if err := l.Select(qid, step.pick); err != nil {
			t.Fatalf("step %d: select(%s): %v", i, step.pick, err)
		}
		if got := l.StatusOf(qid); got != step.wantStatus {
			t.Fatalf("step %d: status = %s, want %s", i, got, step.wantStatus)
		}
		snap := l.Snapshot()
		sel, ok := snap.Selections[qid]
		if step.wantStatus == StatusUnanswered {
			if ok {
				t.Fatalf("step %d: expected no entry, got %+v", i, sel)
			}
			continue
		}
		if sel.Single != step.wantHeld {
			t.Fatalf("step %d: held = %q, want %q", i, sel.Single, step.wantHeld)
		}
		if len(sel.OptionIDs()) != 1 {
			t.Fatalf("step %d: single-select holds %d options", i, len(sel.OptionIDs()))
		}
	}
}

func TestLedger_MultiSelectToggle(t *testing.T) {
	q := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c", "d"}, []string{"a", "b", "c"}, 6)
	qid := q.ID.String()
	l := NewLedger([]*model.Question{q})

	mustSelect := func(opt string) {
		t.Helper()
		if err := l.Select(qid, opt); err != nil {
			t.Fatalf("select(%s): %v", opt, err)
		}
	}

	mustSelect("a")
	mustSelect("c")
	snap := l.Snapshot()
	if got := snap.Selections[qid].Multi; !got["a"] || !got["c"] || len(got) != 2 {
		t.Fatalf("expected {a,c}, got %v", got)
	}

	// Toggling twice returns to the prior state.
	mustSelect("b")
	mustSelect("b")
	snap = l.Snapshot()
	if got := snap.Selections[qid].Multi; !got["a"] || !got["c"] || len(got) != 2 {
		t.Fatalf("double toggle changed state: %v", got)
	}

	// Emptying the set removes the entry entirely.
	mustSelect("a")
	mustSelect("c")
	if got := l.StatusOf(qid); got != StatusUnanswered {
		t.Fatalf("empty set should be unanswered, got %s", got)
	}
	if _, ok := l.Snapshot().Selections[qid]; ok {
		t.Fatal("empty multi-select entry should be removed")
	}
}

func TestLedger_InvariantViolations(t *testing.T) {
	q := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b"}, []string{"a"}, 1)
	l := NewLedger([]*model.Question{q})

	if err := l.Select(q.ID.String(), "z"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("foreign option: err = %v, want ErrUnknownOption", err)
	}
	if err := l.Select(uuid.NewString(), "a"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("foreign question: err = %v, want ErrUnknownQuestion", err)
	}
	if err := l.ToggleMark(uuid.NewString()); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("mark on foreign question: err = %v, want ErrUnknownQuestion", err)
	}
	// Rejected mutations leave the ledger untouched.
	if l.AnsweredCount() != 0 {
		t.Fatalf("rejected mutation corrupted ledger: %d entries", l.AnsweredCount())
	}
}

func TestLedger_MarkOverlayIndependentOfAnswers(t *testing.T) {
	q1 := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b"}, []string{"a"}, 1)
	q2 := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b"}, []string{"a"}, 2)
	l := NewLedger([]*model.Question{q1, q2})

	if err := l.ToggleMark(q1.ID.String()); err != nil {
		t.Fatal(err)
	}
	if err := l.Select(q1.ID.String(), "a"); err != nil {
		t.Fatal(err)
	}

	// Answered and marked can coexist.
	if l.StatusOf(q1.ID.String()) != StatusAnswered || !l.Marked(q1.ID.String()) {
		t.Fatal("question should be answered and marked simultaneously")
	}
	if l.Marked(q2.ID.String()) {
		t.Fatal("mark leaked to another question")
	}
	if !l.HasMarks() {
		t.Fatal("HasMarks should report the pending mark")
	}

	if err := l.ToggleMark(q1.ID.String()); err != nil {
		t.Fatal(err)
	}
	if l.HasMarks() {
		t.Fatal("mark should clear on second toggle")
	}
	// Clearing the mark does not clear the answer.
	if l.StatusOf(q1.ID.String()) != StatusAnswered {
		t.Fatal("unmarking cleared the answer")
	}
}

func TestLedger_SnapshotIsFrozen(t *testing.T) {
	q := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c"}, []string{"a"}, 3)
	qid := q.ID.String()
	l := NewLedger([]*model.Question{q})

	if err := l.Select(qid, "a"); err != nil {
		t.Fatal(err)
	}
	snap := l.Snapshot()

	// Mutating the live ledger must not alter the snapshot.
	if err := l.Select(qid, "b"); err != nil {
		t.Fatal(err)
	}
	if got := snap.Selections[qid].Multi; len(got) != 1 || !got["a"] {
		t.Fatalf("snapshot changed under live mutation: %v", got)
	}
}

func TestLedger_Restore(t *testing.T) {
	single := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b"}, []string{"b"}, 2)
	multi := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c"}, []string{"a", "c"}, 4)
	l := NewLedger([]*model.Question{single, multi})

	if err := l.Restore(single.ID.String(), []string{"b"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Restore(multi.ID.String(), []string{"a", "c"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Restore(single.ID.String(), []string{"a", "b"}); err == nil {
		t.Fatal("restoring two options into a single-select should fail")
	}
	if err := l.Restore(multi.ID.String(), []string{"z"}); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("err = %v, want ErrUnknownOption", err)
	}

	snap := l.Snapshot()
	if snap.Selections[single.ID.String()].Single != "b" {
		t.Fatal("single-select restore lost")
	}
	if got := snap.Selections[multi.ID.String()].Multi; !got["a"] || !got["c"] || len(got) != 2 {
		t.Fatalf("multi-select restore = %v, want {a,c}", got)
	}
}
