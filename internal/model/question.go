package model

import (
	"github.com/google/uuid"
)

// QuestionKind distinguishes single-answer from multi-answer questions.
type QuestionKind string

const (
	// QuestionKindSingleSelect has exactly one correct option; all-or-nothing credit.
	QuestionKindSingleSelect QuestionKind = "SINGLE_SELECT"
	// QuestionKindMultiSelect has one or more correct options; proportional credit.
	QuestionKindMultiSelect QuestionKind = "MULTI_SELECT"
)

// Option is a single answer choice. Options are immutable once an exam starts.
type Option struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ImageRef string `json:"image_ref,omitempty"`
}

// Question represents a single exam question with its answer key.
// CorrectOptions holds exactly one entry for SINGLE_SELECT and one or more
// for MULTI_SELECT.
type Question struct {
	ID             uuid.UUID    `json:"id"`
	ExamID         uuid.UUID    `json:"exam_id"`
	Text           string       `json:"text"`
	Kind           QuestionKind `json:"kind"`
	Options        []Option     `json:"options"`
	CorrectOptions []string     `json:"correct_options"`
	Points         float64      `json:"points"`
	OrderNum       int          `json:"order_num"`
}

// HasOption reports whether optionID belongs to this question's option list.
func (q *Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// QuestionForTaker is a question stripped of its answer key, safe to send to
// a test-taker.
type QuestionForTaker struct {
	ID       uuid.UUID    `json:"id"`
	Text     string       `json:"text"`
	Kind     QuestionKind `json:"kind"`
	Options  []Option     `json:"options"`
	Points   float64      `json:"points"`
	OrderNum int          `json:"order_num"`
}
