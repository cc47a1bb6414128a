package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusClosed    ExamStatus = "CLOSED"
)

// Exam represents a timed assessment.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	SubjectID       *uuid.UUID `json:"subject_id,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      int        `json:"total_marks"`
	EntryToken      string     `json:"entry_token,omitempty"`
	// IntegrityThreshold is the number of backgrounding events after which a
	// session is force-submitted as disqualified.
	IntegrityThreshold int        `json:"integrity_threshold"`
	Status             ExamStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ExamPayload is the Redis-cached exam sent to test-takers (no answer keys).
type ExamPayload struct {
	ExamID    uuid.UUID          `json:"exam_id"`
	Title     string             `json:"title"`
	Duration  int                `json:"duration_minutes"`
	Questions []QuestionForTaker `json:"questions"`
}

// JoinExamRequest is the payload for a student joining an exam.
type JoinExamRequest struct {
	EntryToken string `json:"entry_token" binding:"required,min=4,max=20"`
}
