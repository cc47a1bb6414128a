package session

import (
	"math"

	"github.com/veritest/veritest-backend/internal/model"
)

// ScoreReport is the result of scoring a frozen ledger snapshot.
type ScoreReport struct {
	// PerQuestion maps question ID to its contribution, already rounded to
	// one decimal place.
	PerQuestion map[string]float64
	// Total is the sum of per-question contributions. It is NOT rounded to
	// an integer; that happens only at the point of persistence.
	Total float64
}

// Score grades a frozen snapshot against the question definitions. It is
// pure: no I/O, no mutation, deterministic for identical inputs.
//
// Single-select: full points when the selected option equals the single
// correct option, else zero.
//
// Multi-select with k correct options worth P points: each correctly
// selected option contributes P/k. Selections outside the correct set are
// ignored, never penalized. Each question's contribution is rounded to one
// decimal place before summing.
//
// Unanswered questions score zero.
func Score(questions []*model.Question, snap Snapshot) ScoreReport {
	report := ScoreReport{PerQuestion: make(map[string]float64, len(questions))}

	for _, q := range questions {
		qid := q.ID.String()
		sel, answered := snap.Selections[qid]
		if !answered {
			report.PerQuestion[qid] = 0
			continue
		}

		var earned float64
		switch q.Kind {
		case model.QuestionKindSingleSelect:
			if len(q.CorrectOptions) == 1 && sel.Single == q.CorrectOptions[0] {
				earned = q.Points
			}
		case model.QuestionKindMultiSelect:
			k := len(q.CorrectOptions)
			if k == 0 {
				break
			}
			hits := 0
			for _, correct := range q.CorrectOptions {
				if sel.Multi[correct] {
					hits++
				}
			}
			earned = float64(hits) * (q.Points / float64(k))
		}

		earned = roundTenth(earned)
		report.PerQuestion[qid] = earned
		report.Total += earned
	}

	return report
}

// PersistedTotal rounds a raw total to the nearest integer. Called exactly
// once, when the score is written into the submission record.
func PersistedTotal(total float64) int {
	return int(math.Round(total))
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
