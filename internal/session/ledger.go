package session

import (
	"errors"
	"fmt"

	"github.com/veritest/veritest-backend/internal/model"
)

// Ledger invariant violations. These indicate a caller defect, never a user
// mistake; the mutation is rejected and state is left untouched.
var (
	ErrUnknownQuestion = errors.New("question does not belong to this session")
	ErrUnknownOption   = errors.New("option does not belong to this question")
)

// Selection is a tagged answer value: Single carries at most one option for
// SINGLE_SELECT questions, Multi carries a set for MULTI_SELECT. Exactly one
// side is populated, decided by the question's declared kind.
type Selection struct {
	Kind   model.QuestionKind
	Single string
	Multi  map[string]bool
}

// OptionIDs returns the selected option identifiers. Multi-select IDs come
// back in insertion-independent set form; callers needing a stable order
// must sort against the question's option list.
func (s Selection) OptionIDs() []string {
	if s.Kind == model.QuestionKindSingleSelect {
		if s.Single == "" {
			return nil
		}
		return []string{s.Single}
	}
	ids := make([]string, 0, len(s.Multi))
	for id := range s.Multi {
		ids = append(ids, id)
	}
	return ids
}

// QuestionStatus is derived from the ledger, never stored.
type QuestionStatus string

const (
	StatusUnanswered QuestionStatus = "unanswered"
	StatusAnswered   QuestionStatus = "answered"
)

// Ledger is the in-memory record of a test-taker's selections, keyed by
// question identifier. Mutation rules differ by question kind:
//
//   - single-select: selecting the held option clears it, anything else
//     replaces the prior value;
//   - multi-select: selection toggles set membership, and an entry whose set
//     becomes empty is removed entirely.
//
// The marked-for-review overlay is kept separately and is also keyed by
// question identifier, never by position.
type Ledger struct {
	questions map[string]*model.Question
	entries   map[string]*Selection
	marks     map[string]bool
}

// NewLedger creates an empty ledger over the given question set.
func NewLedger(questions []*model.Question) *Ledger {
	byID := make(map[string]*model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID.String()] = q
	}
	return &Ledger{
		questions: byID,
		entries:   make(map[string]*Selection),
		marks:     make(map[string]bool),
	}
}

// Select applies one selection to the ledger under the named question's
// declared kind. Option membership is checked on every mutation.
func (l *Ledger) Select(questionID, optionID string) error {
	q, ok := l.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if !q.HasOption(optionID) {
		return fmt.Errorf("%w: question %s, option %s", ErrUnknownOption, questionID, optionID)
	}

	switch q.Kind {
	case model.QuestionKindSingleSelect:
		entry, exists := l.entries[questionID]
		if exists && entry.Single == optionID {
			// Idempotent deselect.
			delete(l.entries, questionID)
			return nil
		}
		l.entries[questionID] = &Selection{Kind: q.Kind, Single: optionID}

	case model.QuestionKindMultiSelect:
		entry, exists := l.entries[questionID]
		if !exists {
			entry = &Selection{Kind: q.Kind, Multi: make(map[string]bool)}
			l.entries[questionID] = entry
		}
		if entry.Multi[optionID] {
			delete(entry.Multi, optionID)
		} else {
			entry.Multi[optionID] = true
		}
		// Empty set is equivalent to unanswered.
		if len(entry.Multi) == 0 {
			delete(l.entries, questionID)
		}

	default:
		return fmt.Errorf("question %s has unknown kind %q", questionID, q.Kind)
	}

	return nil
}

// ToggleMark flips the marked-for-review flag for a question. Marking is
// independent of answered status; a question can be both.
func (l *Ledger) ToggleMark(questionID string) error {
	if _, ok := l.questions[questionID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if l.marks[questionID] {
		delete(l.marks, questionID)
	} else {
		l.marks[questionID] = true
	}
	return nil
}

// StatusOf returns answered if the question has at least one selection.
func (l *Ledger) StatusOf(questionID string) QuestionStatus {
	if _, ok := l.entries[questionID]; ok {
		return StatusAnswered
	}
	return StatusUnanswered
}

// Marked reports the marked-for-review overlay for a question.
func (l *Ledger) Marked(questionID string) bool {
	return l.marks[questionID]
}

// HasMarks reports whether any question is still marked for review.
func (l *Ledger) HasMarks() bool {
	return len(l.marks) > 0
}

// AnsweredCount returns the number of questions with at least one selection.
func (l *Ledger) AnsweredCount() int {
	return len(l.entries)
}

// Restore replaces the entry for one question with a previously saved
// selection, validating every option against the question. Used when
// rebuilding a session from autosaved answers.
func (l *Ledger) Restore(questionID string, optionIDs []string) error {
	q, ok := l.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	for _, id := range optionIDs {
		if !q.HasOption(id) {
			return fmt.Errorf("%w: question %s, option %s", ErrUnknownOption, questionID, id)
		}
	}
	if len(optionIDs) == 0 {
		delete(l.entries, questionID)
		return nil
	}

	switch q.Kind {
	case model.QuestionKindSingleSelect:
		if len(optionIDs) > 1 {
			return fmt.Errorf("single-select question %s cannot restore %d options", questionID, len(optionIDs))
		}
		l.entries[questionID] = &Selection{Kind: q.Kind, Single: optionIDs[0]}
	case model.QuestionKindMultiSelect:
		set := make(map[string]bool, len(optionIDs))
		for _, id := range optionIDs {
			set[id] = true
		}
		l.entries[questionID] = &Selection{Kind: q.Kind, Multi: set}
	default:
		return fmt.Errorf("question %s has unknown kind %q", questionID, q.Kind)
	}
	return nil
}

// Snapshot is a frozen, read-only copy of the ledger handed to the scoring
// engine and the wire codec. It never aliases live ledger state.
type Snapshot struct {
	Selections map[string]Selection
	Marks      map[string]bool
}

// Snapshot deep-copies the current ledger state.
func (l *Ledger) Snapshot() Snapshot {
	snap := Snapshot{
		Selections: make(map[string]Selection, len(l.entries)),
		Marks:      make(map[string]bool, len(l.marks)),
	}
	for qid, entry := range l.entries {
		copied := Selection{Kind: entry.Kind, Single: entry.Single}
		if entry.Multi != nil {
			copied.Multi = make(map[string]bool, len(entry.Multi))
			for id := range entry.Multi {
				copied.Multi[id] = true
			}
		}
		snap.Selections[qid] = copied
	}
	for qid, v := range l.marks {
		if v {
			snap.Marks[qid] = true
		}
	}
	return snap
}
