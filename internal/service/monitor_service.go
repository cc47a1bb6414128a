package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/repository"
	"github.com/veritest/veritest-backend/internal/response"
	"github.com/veritest/veritest-backend/internal/session"
)

// MonitorService assembles the proctor's live view of an exam: the persisted
// attempt rows overlaid with whatever the in-memory engine knows right now.
type MonitorService struct {
	subRepo  *repository.SubmissionRepository
	registry *session.Registry
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	subRepo *repository.SubmissionRepository,
	registry *session.Registry,
	rdb *redis.Client,
	log zerolog.Logger,
) *MonitorService {
	return &MonitorService{
		subRepo:  subRepo,
		registry: registry,
		rdb:      rdb,
		log:      log.With().Str("component", "monitor_service").Logger(),
	}
}

// MonitorRow is one student's attempt as shown on the proctor dashboard.
type MonitorRow struct {
	repository.AttemptRow
	Live             bool                   `json:"live"`
	RemainingSeconds int                    `json:"remaining_seconds,omitempty"`
	AnsweredCount    int                    `json:"answered_count,omitempty"`
	IntegrityState   session.IntegrityState `json:"integrity_state,omitempty"`
	IntegrityCount   int                    `json:"integrity_count,omitempty"`
}

// ListAttempts returns the paginated attempt rows for an exam, each overlaid
// with live engine state when the session is resident in this process.
func (s *MonitorService) ListAttempts(ctx context.Context, examID uuid.UUID, page, perPage int) ([]MonitorRow, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 200 {
		perPage = 200
	}

	attempts, total, err := s.subRepo.ListByExam(ctx, examID, page, perPage)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]MonitorRow, 0, len(attempts))
	for _, a := range attempts {
		row := MonitorRow{AttemptRow: a}

		if live := s.registry.Get(examID, a.StudentID); live != nil {
			if view, verr := live.View(); verr == nil {
				row.Live = !view.Submitted
				row.RemainingSeconds = view.RemainingSeconds
				row.AnsweredCount = view.AnsweredCount
				row.IntegrityState = view.Integrity
				row.IntegrityCount = view.IntegrityCount
			}
		}

		rows = append(rows, row)
	}

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
	return rows, pagination, nil
}

// SubscribeEvents opens a Redis subscription on the exam's live monitor
// channel. The caller owns the returned PubSub and must Close it.
func (s *MonitorService) SubscribeEvents(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}
