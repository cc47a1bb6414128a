package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritest/veritest-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject_id, start_time, duration_minutes, total_marks,
		        entry_token, integrity_threshold, status, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.SubjectID, &e.StartTime, &e.DurationMinutes, &e.TotalMarks,
		&e.EntryToken, &e.IntegrityThreshold, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByEntryToken retrieves a published exam by its entry token.
// Entry tokens are unique across exams.
func (r *ExamRepository) GetByEntryToken(ctx context.Context, token string) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject_id, start_time, duration_minutes, total_marks,
		        entry_token, integrity_threshold, status, created_at, updated_at
		 FROM exams WHERE entry_token = $1 AND status = $2`,
		token, model.ExamStatusPublished,
	).Scan(&e.ID, &e.Title, &e.SubjectID, &e.StartTime, &e.DurationMinutes, &e.TotalMarks,
		&e.EntryToken, &e.IntegrityThreshold, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListPublished returns all exams with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, subject_id, start_time, duration_minutes, total_marks,
		        entry_token, integrity_threshold, status, created_at, updated_at
		 FROM exams WHERE status = $1
		 ORDER BY created_at DESC`, model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.SubjectID, &e.StartTime, &e.DurationMinutes, &e.TotalMarks,
			&e.EntryToken, &e.IntegrityThreshold, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpdateStatus updates an exam's status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}
