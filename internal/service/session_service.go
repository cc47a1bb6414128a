package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/repository"
	"github.com/veritest/veritest-backend/internal/session"
)

// Domain errors.
var (
	ErrExamNotAvailable  = errors.New("exam is not available for joining")
	ErrInvalidEntryToken = errors.New("invalid entry token")
	ErrNoActiveSession   = errors.New("no active session for this exam")
	ErrAlreadySubmitted  = errors.New("attempt already submitted")
	ErrReviewPending     = errors.New("questions still marked for review")
)

// finalizedRetention is how long a submitted session stays in the registry
// so late state queries see the result without a DB round trip.
const finalizedRetention = 5 * time.Minute

// SessionService bridges transport handlers to the in-memory session engine.
// It owns the join flow, engine hydration on resume, the Redis autosave
// mirror and the work queues the persistence workers drain.
type SessionService struct {
	registry     *session.Registry
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	subRepo      *repository.SubmissionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	registry *session.Registry,
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	subRepo *repository.SubmissionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		registry:     registry,
		examRepo:     examRepo,
		questionRepo: questionRepo,
		subRepo:      subRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "session_service").Logger(),
	}
}

// LobbyStatus is the concrete state of an exam as shown in the lobby.
type LobbyStatus string

const (
	LobbyStatusUpcoming   LobbyStatus = "UPCOMING"
	LobbyStatusAvailable  LobbyStatus = "AVAILABLE"
	LobbyStatusInProgress LobbyStatus = "IN_PROGRESS"
	LobbyStatusCompleted  LobbyStatus = "COMPLETED"
)

// LobbyExam is an exam as displayed in the student lobby. The entry token is
// stripped; students type it in, they never read it from the API.
type LobbyExam struct {
	model.Exam
	LobbyStatus  LobbyStatus          `json:"lobby_status"`
	Attempt      *model.AttemptStatus `json:"attempt_status,omitempty"`
	Score        *int                 `json:"score,omitempty"`
	Disqualified bool                 `json:"disqualified,omitempty"`
}

// GetLobby returns the published exams overlaid with the student's own
// attempt status.
func (s *SessionService) GetLobby(ctx context.Context, studentID int) ([]LobbyExam, error) {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list published exams: %w", err)
	}

	subs, err := s.subRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	subMap := make(map[uuid.UUID]*model.Submission, len(subs))
	for i := range subs {
		subMap[subs[i].ExamID] = &subs[i]
	}

	now := time.Now()
	lobby := make([]LobbyExam, 0, len(exams))
	for _, exam := range exams {
		exam.EntryToken = ""
		entry := LobbyExam{Exam: exam}

		if sub, ok := subMap[exam.ID]; ok {
			entry.Attempt = &sub.Status
			if sub.Submitted {
				entry.LobbyStatus = LobbyStatusCompleted
				score := sub.Score
				entry.Score = &score
				entry.Disqualified = sub.Disqualified
			} else {
				entry.LobbyStatus = LobbyStatusInProgress
			}
		} else if exam.StartTime != nil && exam.StartTime.After(now) {
			entry.LobbyStatus = LobbyStatusUpcoming
		} else {
			entry.LobbyStatus = LobbyStatusAvailable
		}

		lobby = append(lobby, entry)
	}
	return lobby, nil
}

// UpsertSubmission implements session.Store. The engine calls it exactly once
// per attempt, synchronously, from inside its finalize step.
func (s *SessionService) UpsertSubmission(ctx context.Context, rec *model.Submission) error {
	return s.subRepo.Upsert(ctx, rec)
}

// JoinExam validates the entry token and opens (or returns) the attempt
// record. Joining is idempotent: a rejoin never resets started_at.
func (s *SessionService) JoinExam(ctx context.Context, studentID int, entryToken string) (*model.Exam, *model.Submission, error) {
	exam, err := s.examRepo.GetByEntryToken(ctx, entryToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrInvalidEntryToken
		}
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}

	if exam.StartTime != nil && exam.StartTime.After(time.Now()) {
		return nil, nil, ErrExamNotAvailable
	}

	sub := &model.Submission{
		ExamID:    exam.ID,
		StudentID: studentID,
		Status:    model.AttemptStatusInProgress,
	}

	created, err := s.subRepo.CreateOpen(ctx, sub)
	if err != nil {
		return nil, nil, fmt.Errorf("create attempt: %w", err)
	}
	if !created {
		// Already joined; return the existing record as-is.
		sub, err = s.subRepo.GetByExamAndStudent(ctx, exam.ID, studentID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch existing attempt: %w", err)
		}
	}

	// Cache the start instant so resume state reads skip PostgreSQL. The DB
	// row remains the source of truth; a miss self-heals in buildSession.
	startKey := config.CacheKey.AttemptStartKey(exam.ID.String(), studentID)
	if err := s.rdb.Set(ctx, startKey, sub.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache attempt start time")
	}

	return exam, sub, nil
}

// EnsureSession returns the live engine session for an attempt, hydrating one
// from PostgreSQL and the Redis autosave mirror if the process does not have
// it in memory (first attach, reconnect, or server restart mid-exam).
func (s *SessionService) EnsureSession(ctx context.Context, examID uuid.UUID, studentID int) (*session.Session, error) {
	if live := s.registry.Get(examID, studentID); live != nil {
		return live, nil
	}

	sub, err := s.subRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if sub.Submitted {
		return nil, ErrAlreadySubmitted
	}

	sess, err := s.buildSession(ctx, sub)
	if err != nil {
		return nil, err
	}

	// Another goroutine may have hydrated concurrently; the registry keeps
	// exactly one session per attempt and the loser is discarded unstarted.
	live, inserted := s.registry.GetOrPut(examID, studentID, sess)
	if inserted {
		live.Start()
	}
	return live, nil
}

// buildSession assembles an engine session from the persisted attempt plus
// the autosave mirror. If the attempt's clock has already run out, Start will
// fire the timeout submission on the first tick.
func (s *SessionService) buildSession(ctx context.Context, sub *model.Submission) (*session.Session, error) {
	exam, err := s.examRepo.GetByID(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	questions, err := s.questionRepo.ListByExam(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, errors.New("exam has no questions")
	}

	examID := sub.ExamID
	studentID := sub.StudentID

	sess := session.New(session.Config{
		Exam:         exam,
		Questions:    questions,
		AssignmentID: sub.AssignmentID,
		StudentID:    studentID,
		StartedAt:    sub.StartedAt,
		Store:        s,
		Log:          s.log,
		OnMutate: func(questionID, encoded string) {
			s.mirrorAnswer(examID, studentID, questionID, encoded)
		},
		OnIntegrity: func(kind session.SignalKind, count int, outcome session.IntegrityOutcome) {
			s.recordIntegrity(examID, studentID, kind, count, outcome)
		},
		OnFinalized: func(res *session.Result) {
			s.afterFinalize(examID, studentID, res)
		},
	})

	s.hydrate(ctx, sess, examID, studentID)
	return sess, nil
}

// hydrate replays the Redis autosave mirror into a not-yet-started session.
func (s *SessionService) hydrate(ctx context.Context, sess *session.Session, examID uuid.UUID, studentID int) {
	answersKey := config.CacheKey.AttemptAnswersKey(examID.String(), studentID)
	saved, err := s.rdb.HGetAll(ctx, answersKey).Result()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read autosaved answers, starting empty")
	} else if len(saved) > 0 {
		restored := make(map[string][]string, len(saved))
		for qid, rhs := range saved {
			if ids := session.DecodeSelection(rhs); len(ids) > 0 {
				restored[qid] = ids
			}
		}
		sess.RestoreAnswers(restored)
	}

	marksKey := config.CacheKey.AttemptMarksKey(examID.String(), studentID)
	marks, err := s.rdb.SMembers(ctx, marksKey).Result()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read autosaved marks")
	} else if len(marks) > 0 {
		sess.RestoreMarks(marks)
	}
}

// mirrorAnswer updates the Redis hash that backs resume, and enqueues the
// change for the autosave worker to persist to PostgreSQL. Runs on the
// session loop, so both writes are fire-and-forget pipeline commands.
func (s *SessionService) mirrorAnswer(examID uuid.UUID, studentID int, questionID, encoded string) {
	ctx := context.Background()
	answersKey := config.CacheKey.AttemptAnswersKey(examID.String(), studentID)

	pipe := s.rdb.Pipeline()
	if encoded == "" {
		pipe.HDel(ctx, answersKey, questionID)
	} else {
		pipe.HSet(ctx, answersKey, questionID, encoded)
	}

	payload, _ := json.Marshal(map[string]any{
		"student_id": studentID,
		"exam_id":    examID.String(),
		"q_id":       questionID,
		"answer":     encoded,
	})
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).
			Str("question_id", questionID).
			Msg("Autosave mirror write failed")
	}
}

// recordIntegrity enqueues the counted signal for the integrity worker and
// publishes it on the exam's live monitor channel.
func (s *SessionService) recordIntegrity(examID uuid.UUID, studentID int, kind session.SignalKind, count int, outcome session.IntegrityOutcome) {
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"student_id": studentID,
		"exam_id":    examID.String(),
		"kind":       string(kind),
		"count":      count,
		"outcome":    outcome.String(),
		"timestamp":  time.Now().Unix(),
	})

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistIntegrityQueue, payload)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).Msg("Integrity event write failed")
	}
}

// afterFinalize publishes the submission on the monitor channel, clears the
// attempt's Redis mirror and schedules the registry eviction.
func (s *SessionService) afterFinalize(examID uuid.UUID, studentID int, res *session.Result) {
	ctx := context.Background()

	event, _ := json.Marshal(map[string]any{
		"event":        "submitted",
		"student_id":   studentID,
		"exam_id":      examID.String(),
		"reason":       string(res.Reason),
		"score":        res.Record.Score,
		"disqualified": res.Record.Disqualified,
	})
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), event).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Monitor publish failed")
	}

	// The mirror only serves in-progress resume; the answers now live on the
	// submission row. Skip the cleanup if the store write failed so nothing
	// is lost before an operator steps in.
	if res.StoreErr == nil {
		s.rdb.Del(ctx,
			config.CacheKey.AttemptAnswersKey(examID.String(), studentID),
			config.CacheKey.AttemptMarksKey(examID.String(), studentID),
			config.CacheKey.AttemptStartKey(examID.String(), studentID),
		)
	}

	time.AfterFunc(finalizedRetention, func() {
		s.registry.Remove(examID, studentID)
	})
}

// SelectOption applies one option selection on the live session.
func (s *SessionService) SelectOption(ctx context.Context, examID uuid.UUID, studentID int, questionID, optionID string) error {
	sess, err := s.EnsureSession(ctx, examID, studentID)
	if err != nil {
		return err
	}
	return sess.Select(questionID, optionID)
}

// ToggleMark flips the marked-for-review overlay and mirrors it to Redis.
func (s *SessionService) ToggleMark(ctx context.Context, examID uuid.UUID, studentID int, questionID string) error {
	sess, err := s.EnsureSession(ctx, examID, studentID)
	if err != nil {
		return err
	}
	if err := sess.ToggleMark(questionID); err != nil {
		return err
	}

	view, err := sess.View()
	if err != nil {
		return err
	}
	marksKey := config.CacheKey.AttemptMarksKey(examID.String(), studentID)
	if view.Marks[questionID] {
		return s.rdb.SAdd(ctx, marksKey, questionID).Err()
	}
	return s.rdb.SRem(ctx, marksKey, questionID).Err()
}

// ReportSignal feeds a backgrounding/navigation signal into the monitor.
func (s *SessionService) ReportSignal(ctx context.Context, examID uuid.UUID, studentID int, kind session.SignalKind) (session.IntegrityOutcome, error) {
	sess, err := s.EnsureSession(ctx, examID, studentID)
	if err != nil {
		return session.OutcomeIgnored, err
	}
	return sess.ReportSignal(kind)
}

// AcknowledgeWarning dismisses the integrity warning modal.
func (s *SessionService) AcknowledgeWarning(ctx context.Context, examID uuid.UUID, studentID int) error {
	sess, err := s.EnsureSession(ctx, examID, studentID)
	if err != nil {
		return err
	}
	return sess.AcknowledgeWarning()
}

// Submit finalizes the attempt. Manual submits with confirm=false are held
// back while any question is still marked for review; the caller prompts for
// confirmation and retries with confirm=true.
func (s *SessionService) Submit(ctx context.Context, examID uuid.UUID, studentID int, confirm bool) (*session.Result, error) {
	sess, err := s.EnsureSession(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}

	if !confirm {
		has, err := sess.HasMarks()
		if err != nil {
			return nil, err
		}
		if has {
			return nil, ErrReviewPending
		}
	}

	res, err := sess.Submit(model.SubmitReasonManual)
	if err != nil {
		if errors.Is(err, session.ErrAlreadySubmitted) {
			return nil, ErrAlreadySubmitted
		}
		return nil, err
	}
	return res, nil
}

// Disqualify applies a proctor's disqualification decision.
func (s *SessionService) Disqualify(ctx context.Context, examID uuid.UUID, studentID int) error {
	sess, err := s.EnsureSession(ctx, examID, studentID)
	if err != nil {
		return err
	}
	if err := sess.Disqualify(); err != nil {
		if errors.Is(err, session.ErrAlreadySubmitted) {
			return ErrAlreadySubmitted
		}
		return err
	}
	return nil
}

// GetState returns the attempt's current view: the live engine state while
// in progress, or a terminal view assembled from the submission row after.
func (s *SessionService) GetState(ctx context.Context, examID uuid.UUID, studentID int) (*session.StateView, error) {
	sess, err := s.EnsureSession(ctx, examID, studentID)
	if err == nil {
		view, verr := sess.View()
		if verr != nil {
			return nil, verr
		}
		return &view, nil
	}
	if !errors.Is(err, ErrAlreadySubmitted) {
		return nil, err
	}

	sub, err := s.subRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return viewFromRecord(sub), nil
}

// viewFromRecord builds a terminal StateView for an attempt whose engine
// session is no longer in memory.
func viewFromRecord(sub *model.Submission) *session.StateView {
	selections := make(map[string]string)
	answered := 0
	for qid, ids := range session.DecodeAnswers(sub.Answers) {
		answered++
		rhs := ids[0]
		for _, id := range ids[1:] {
			rhs += "," + id
		}
		selections[qid] = rhs
	}

	integrity := session.IntegrityActive
	if sub.Disqualified {
		integrity = session.IntegrityDisqualified
	}

	score := sub.Score
	return &session.StateView{
		State:            session.StateSubmitted,
		RemainingSeconds: 0,
		Warning:          session.WarningNone,
		AnsweredCount:    answered,
		Selections:       selections,
		Marks:            map[string]bool{},
		Integrity:        integrity,
		Submitted:        true,
		Score:            &score,
	}
}
