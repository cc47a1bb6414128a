package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates a submission record's lifecycle.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	SubmitReasonManual       SubmitReason = "manual"
	SubmitReasonTimeout      SubmitReason = "timeout"
	SubmitReasonDisqualified SubmitReason = "disqualified"
)

// Submission is a student's attempt record for one exam. It is created open
// when the student joins and finalized exactly once by the session engine.
// Answers holds the compact serialization, e.g. "Q1:a;Q2:b,d;Q3:c".
type Submission struct {
	AssignmentID uuid.UUID     `json:"assignment_id"`
	ExamID       uuid.UUID     `json:"exam_id"`
	StudentID    int           `json:"student_id"`
	Answers      string        `json:"answers"`
	Score        int           `json:"score"`
	Submitted    bool          `json:"submitted"`
	SubmittedAt  *time.Time    `json:"submitted_at,omitempty"`
	Disqualified bool          `json:"disqualified"`
	StartedAt    time.Time     `json:"started_at"`
	Status       AttemptStatus `json:"status"`
}
