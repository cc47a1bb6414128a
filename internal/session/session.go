package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veritest/veritest-backend/internal/model"
)

// State is the lifecycle of one session.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateSubmitting State = "SUBMITTING"
	StateSubmitted  State = "SUBMITTED"
)

var (
	// ErrAlreadySubmitted: a second submit of any reason is a no-op.
	ErrAlreadySubmitted = errors.New("session already submitted")
	// ErrSessionClosed: the session was torn down; mutations are rejected.
	ErrSessionClosed = errors.New("session is closed")
	// ErrNotStarted: the session loop has not been started yet.
	ErrNotStarted = errors.New("session not started")
)

// Store is the slice of the Exam Store the session engine needs: finalizing
// a submission record, create-or-update. The engine never retries a failed
// write; the error is surfaced and the at-most-once guard stays set.
type Store interface {
	UpsertSubmission(ctx context.Context, rec *model.Submission) error
}

// Result is what a finalized session produced.
type Result struct {
	Reason   model.SubmitReason
	Report   ScoreReport
	Record   *model.Submission
	StoreErr error
}

// Config wires one session. Exam, Questions and identifiers are immutable
// for the session's lifetime.
type Config struct {
	Exam         *model.Exam
	Questions    []*model.Question // in display order
	AssignmentID uuid.UUID
	StudentID    int
	StartedAt    time.Time
	Store        Store
	Log          zerolog.Logger

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time

	// OnMutate fires after every accepted ledger mutation, with the compact
	// right-hand side for that question ("" when cleared). Used for the
	// autosave mirror. Runs on the session loop; keep it fast.
	OnMutate func(questionID, encoded string)
	// OnIntegrity fires after every counted integrity signal.
	OnIntegrity func(kind SignalKind, count int, outcome IntegrityOutcome)
	// OnFinalized fires exactly once, after the submission attempt
	// (successful or not).
	OnFinalized func(*Result)
}

// Session owns one in-progress attempt: the clock, the answer ledger, the
// integrity monitor and the submission guard. All mutations and the clock
// expiry funnel through a single dispatch goroutine, so the engine needs no
// locks and two near-simultaneous submit triggers cannot both proceed.
type Session struct {
	cfg     Config
	clock   *Clock
	ledger  *Ledger
	monitor *Monitor
	log     zerolog.Logger

	state     State
	submitted bool // at-most-once guard; set before any other submit work
	result    *Result

	cmds   chan func()
	closed chan struct{}
}

// New builds a session in the NotStarted state.
func New(cfg Config) *Session {
	threshold := DefaultIntegrityThreshold
	if cfg.Exam != nil && cfg.Exam.IntegrityThreshold > 0 {
		threshold = cfg.Exam.IntegrityThreshold
	}
	duration := time.Duration(cfg.Exam.DurationMinutes) * time.Minute

	return &Session{
		cfg:     cfg,
		clock:   NewClock(cfg.StartedAt, duration, cfg.Now),
		ledger:  NewLedger(cfg.Questions),
		monitor: NewMonitor(threshold),
		log: cfg.Log.With().
			Str("component", "session").
			Str("exam_id", cfg.Exam.ID.String()).
			Int("student_id", cfg.StudentID).
			Logger(),
		state:  StateNotStarted,
		cmds:   make(chan func(), 16),
		closed: make(chan struct{}),
	}
}

// RestoreAnswers replays autosaved selections into the ledger. Must be
// called before Start; invalid entries are skipped and logged rather than
// aborting the resume.
func (s *Session) RestoreAnswers(saved map[string][]string) {
	if s.state != StateNotStarted {
		return
	}
	for qid, ids := range saved {
		if err := s.ledger.Restore(qid, ids); err != nil {
			s.log.Warn().Err(err).Str("question_id", qid).Msg("Skipping invalid autosaved answer")
		}
	}
}

// RestoreMarks replays the marked-for-review overlay. Must be called before
// Start; unknown question IDs are skipped.
func (s *Session) RestoreMarks(questionIDs []string) {
	if s.state != StateNotStarted {
		return
	}
	for _, qid := range questionIDs {
		if err := s.ledger.ToggleMark(qid); err != nil {
			s.log.Warn().Err(err).Str("question_id", qid).Msg("Skipping invalid autosaved mark")
		}
	}
}

// Start launches the dispatch loop and the clock. Expiry triggers a timeout
// submission through the same dispatch point as every other event.
func (s *Session) Start() {
	if s.state != StateNotStarted {
		return
	}
	s.state = StateInProgress
	go s.run()
	s.clock.Start(func() {
		_ = s.dispatch(func() {
			s.finalize(model.SubmitReasonTimeout)
		})
	})
	s.log.Info().
		Time("started_at", s.cfg.StartedAt).
		Int("duration_minutes", s.cfg.Exam.DurationMinutes).
		Msg("Session started")
}

func (s *Session) run() {
	for {
		select {
		case <-s.closed:
			return
		case fn := <-s.cmds:
			fn()
		}
	}
}

// dispatch runs fn on the loop goroutine and waits for it.
func (s *Session) dispatch(fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
	case <-s.closed:
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

// Close tears the session down. The record of a submitted session survives
// in the store; an unsubmitted session simply stops (state remains
// recoverable from Redis/Postgres on the next join).
func (s *Session) Close() {
	select {
	case <-s.closed:
		return
	default:
	}
	s.clock.Stop()
	close(s.closed)
}

// ─── Mutations ──────────────────────────────────────────────────────

// Select applies one option selection under the question's declared kind.
func (s *Session) Select(questionID, optionID string) error {
	var err error
	dispErr := s.dispatch(func() {
		if s.submitted {
			err = ErrAlreadySubmitted
			return
		}
		if err = s.ledger.Select(questionID, optionID); err != nil {
			return
		}
		if s.cfg.OnMutate != nil {
			encoded := ""
			if sel, ok := s.ledger.Snapshot().Selections[questionID]; ok {
				encoded = EncodeSelection(s.questionByID(questionID), sel)
			}
			s.cfg.OnMutate(questionID, encoded)
		}
	})
	if dispErr != nil {
		return dispErr
	}
	return err
}

// ToggleMark flips the marked-for-review overlay for a question.
func (s *Session) ToggleMark(questionID string) error {
	var err error
	dispErr := s.dispatch(func() {
		if s.submitted {
			err = ErrAlreadySubmitted
			return
		}
		err = s.ledger.ToggleMark(questionID)
	})
	if dispErr != nil {
		return dispErr
	}
	return err
}

// ─── Integrity ──────────────────────────────────────────────────────

// ReportSignal feeds one backgrounding/navigation signal into the monitor.
// Reaching the threshold force-submits the session as disqualified.
func (s *Session) ReportSignal(kind SignalKind) (IntegrityOutcome, error) {
	outcome := OutcomeIgnored
	dispErr := s.dispatch(func() {
		if s.submitted {
			return
		}
		outcome = s.monitor.RecordSignal(kind)
		if outcome == OutcomeIgnored {
			return
		}
		if s.cfg.OnIntegrity != nil {
			s.cfg.OnIntegrity(kind, s.monitor.Count(), outcome)
		}
		if outcome == OutcomeDisqualified {
			s.finalize(model.SubmitReasonDisqualified)
		}
	})
	if dispErr != nil {
		return OutcomeIgnored, dispErr
	}
	return outcome, nil
}

// AcknowledgeWarning returns a warned taker to the active state, provided
// the clock has not expired in the meantime.
func (s *Session) AcknowledgeWarning() error {
	return s.dispatch(func() {
		if s.submitted || s.clock.Remaining() == 0 {
			return
		}
		s.monitor.Acknowledge()
	})
}

// Disqualify applies an external disqualifying signal (proctor decision).
func (s *Session) Disqualify() error {
	var err error
	dispErr := s.dispatch(func() {
		if s.submitted {
			err = ErrAlreadySubmitted
			return
		}
		if s.monitor.Disqualify() {
			s.finalize(model.SubmitReasonDisqualified)
		}
	})
	if dispErr != nil {
		return dispErr
	}
	return err
}

// ─── Submission ─────────────────────────────────────────────────────

// Submit finalizes the session. At-most-once: a second call with any reason
// returns ErrAlreadySubmitted and never touches the store again. The
// marked-for-review confirmation gate for manual submits is a UX concern
// handled by the caller; once Submit is called it always proceeds.
func (s *Session) Submit(reason model.SubmitReason) (*Result, error) {
	var (
		res *Result
		err error
	)
	dispErr := s.dispatch(func() {
		if s.submitted {
			err = ErrAlreadySubmitted
			return
		}
		res = s.finalize(reason)
	})
	if dispErr != nil {
		return nil, dispErr
	}
	return res, err
}

// finalize runs on the loop goroutine. The guard flag is set as the very
// first action, before the store write, so a clock expiry and a
// disqualification arriving back to back cannot both proceed.
func (s *Session) finalize(reason model.SubmitReason) *Result {
	if s.submitted {
		return s.result
	}
	s.submitted = true
	s.state = StateSubmitting
	s.clock.Stop()

	snap := s.ledger.Snapshot()
	report := Score(s.cfg.Questions, snap)

	now := time.Now()
	if s.cfg.Now != nil {
		now = s.cfg.Now()
	}

	rec := &model.Submission{
		AssignmentID: s.cfg.AssignmentID,
		ExamID:       s.cfg.Exam.ID,
		StudentID:    s.cfg.StudentID,
		Answers:      EncodeAnswers(s.cfg.Questions, snap),
		Score:        PersistedTotal(report.Total),
		Submitted:    true,
		SubmittedAt:  &now,
		Disqualified: reason == model.SubmitReasonDisqualified,
		StartedAt:    s.cfg.StartedAt,
		Status:       model.AttemptStatusSubmitted,
	}

	storeErr := s.cfg.Store.UpsertSubmission(context.Background(), rec)
	if storeErr != nil {
		// Surfaced, never retried: a failed write needs operator
		// intervention, not a client-side retry loop.
		s.log.Error().Err(storeErr).Str("reason", string(reason)).Msg("Submission write failed")
	} else {
		s.log.Info().
			Str("reason", string(reason)).
			Int("score", rec.Score).
			Bool("disqualified", rec.Disqualified).
			Msg("Session submitted")
	}

	s.state = StateSubmitted
	s.result = &Result{Reason: reason, Report: report, Record: rec, StoreErr: storeErr}
	if s.cfg.OnFinalized != nil {
		s.cfg.OnFinalized(s.result)
	}
	return s.result
}

// ─── Queries ────────────────────────────────────────────────────────

// StateView is a read-only snapshot of the session for display and resume.
type StateView struct {
	State            State             `json:"state"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Warning          WarningTier       `json:"warning_tier"`
	AnsweredCount    int               `json:"answered_count"`
	Selections       map[string]string `json:"selections"` // keyed by question ID, compact RHS values
	Marks            map[string]bool   `json:"marks"`
	Integrity        IntegrityState    `json:"integrity_state"`
	IntegrityCount   int               `json:"integrity_count"`
	HasMarks         bool              `json:"has_marks"`
	Submitted        bool              `json:"submitted"`
	Score            *int              `json:"score,omitempty"`
}

// View assembles the current state for the client.
func (s *Session) View() (StateView, error) {
	var view StateView
	err := s.dispatch(func() {
		snap := s.ledger.Snapshot()
		view = StateView{
			State:            s.state,
			RemainingSeconds: int(s.clock.Remaining() / time.Second),
			Warning:          s.clock.Warning(),
			AnsweredCount:    len(snap.Selections),
			Selections:       make(map[string]string, len(snap.Selections)),
			Marks:            snap.Marks,
			Integrity:        s.monitor.State(),
			IntegrityCount:   s.monitor.Count(),
			HasMarks:         len(snap.Marks) > 0,
			Submitted:        s.submitted,
		}
		for qid, sel := range snap.Selections {
			view.Selections[qid] = EncodeSelection(s.questionByID(qid), sel)
		}
		if s.result != nil {
			score := s.result.Record.Score
			view.Score = &score
		}
	})
	return view, err
}

// HasMarks reports whether any question is still marked for review; the
// handler uses it for the manual-submit confirmation gate.
func (s *Session) HasMarks() (bool, error) {
	var has bool
	err := s.dispatch(func() { has = s.ledger.HasMarks() })
	return has, err
}

// Remaining returns the clock's current value; safe without dispatch.
func (s *Session) Remaining() time.Duration { return s.clock.Remaining() }

// Result returns the finalized result, nil while in progress.
func (s *Session) Result() (*Result, error) {
	var res *Result
	err := s.dispatch(func() { res = s.result })
	return res, err
}

func (s *Session) questionByID(id string) *model.Question {
	for _, q := range s.cfg.Questions {
		if q.ID.String() == id {
			return q
		}
	}
	return nil
}
