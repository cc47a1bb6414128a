package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritest/veritest-backend/internal/model"
)

// AttemptRow combines student data with their submission for the monitor view.
type AttemptRow struct {
	StudentID    int                 `json:"student_id"`
	Name         string              `json:"name"`
	Username     string              `json:"username"`
	Score        *int                `json:"score"`
	Submitted    bool                `json:"submitted"`
	Disqualified bool                `json:"disqualified"`
	Status       model.AttemptStatus `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	SubmittedAt  *time.Time          `json:"submitted_at"`
}

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// GetByExamAndStudent retrieves the submission for an exam-student pair.
func (r *SubmissionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT assignment_id, exam_id, student_id, answers, score, submitted,
		        submitted_at, disqualified, started_at, status
		 FROM submissions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&s.AssignmentID, &s.ExamID, &s.StudentID, &s.Answers, &s.Score, &s.Submitted,
		&s.SubmittedAt, &s.Disqualified, &s.StartedAt, &s.Status)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateOpen inserts an open attempt record when the student joins the exam.
// Returns false without error when the record already exists, so a rejoin
// never resets the original started_at.
func (r *SubmissionRepository) CreateOpen(ctx context.Context, s *model.Submission) (bool, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submissions (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING assignment_id, started_at`,
		s.ExamID, s.StudentID, model.AttemptStatusInProgress,
	).Scan(&s.AssignmentID, &s.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upsert writes the finalized attempt record. The session engine calls this
// exactly once per attempt; the submitted = FALSE guard makes a duplicate
// write a no-op at the database level as well.
func (r *SubmissionRepository) Upsert(ctx context.Context, s *model.Submission) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO submissions (exam_id, student_id, answers, score, submitted,
		                          submitted_at, disqualified, started_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (exam_id, student_id) DO UPDATE
		 SET answers = EXCLUDED.answers,
		     score = EXCLUDED.score,
		     submitted = EXCLUDED.submitted,
		     submitted_at = EXCLUDED.submitted_at,
		     disqualified = EXCLUDED.disqualified,
		     status = EXCLUDED.status
		 WHERE submissions.submitted = FALSE`,
		s.ExamID, s.StudentID, s.Answers, s.Score, s.Submitted,
		s.SubmittedAt, s.Disqualified, s.StartedAt, s.Status)
	return err
}

// ListByStudent retrieves all attempts for a student, newest first.
// Used for the lobby status overlay.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT assignment_id, exam_id, student_id, answers, score, submitted,
		        submitted_at, disqualified, started_at, status
		 FROM submissions
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.AssignmentID, &s.ExamID, &s.StudentID, &s.Answers, &s.Score, &s.Submitted,
			&s.SubmittedAt, &s.Disqualified, &s.StartedAt, &s.Status); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ListByExam retrieves all student attempts for an exam with pagination.
// Used by the proctor monitor.
func (r *SubmissionRepository) ListByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]AttemptRow, int, error) {
	offset := (page - 1) * perPage

	baseQuery := `
		FROM submissions sub
		JOIN students st ON sub.student_id = st.id
		WHERE sub.exam_id = $1
	`
	args := []any{examID}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT st.id, st.name, st.username,
		       sub.score, sub.submitted, sub.disqualified, sub.status,
		       sub.started_at, sub.submitted_at
		` + baseQuery + `
		ORDER BY st.name ASC
		LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, perPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []AttemptRow
	for rows.Next() {
		var a AttemptRow
		if err := rows.Scan(&a.StudentID, &a.Name, &a.Username,
			&a.Score, &a.Submitted, &a.Disqualified, &a.Status,
			&a.StartedAt, &a.SubmittedAt); err != nil {
			return nil, 0, err
		}
		results = append(results, a)
	}
	return results, total, rows.Err()
}
