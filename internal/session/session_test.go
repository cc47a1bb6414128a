package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veritest/veritest-backend/internal/model"
)

type fakeStore struct {
	mu    sync.Mutex
	calls int
	last  *model.Submission
	err   error
}

func (f *fakeStore) UpsertSubmission(_ context.Context, rec *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = rec
	return f.err
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testSession struct {
	sess      *Session
	store     *fakeStore
	exam      *model.Exam
	questions []*model.Question
}

func newTestSession(t *testing.T, mutate func(cfg *Config)) *testSession {
	t.Helper()

	mcq := makeQuestion(model.QuestionKindSingleSelect, []string{"a", "b", "c", "d"}, []string{"b"}, 4)
	msq := makeQuestion(model.QuestionKindMultiSelect, []string{"a", "b", "c", "d"}, []string{"a", "b", "c"}, 6)
	exam := &model.Exam{
		ID:                 uuid.New(),
		Title:              "Unit Exam",
		DurationMinutes:    10,
		IntegrityThreshold: 2,
		Status:             model.ExamStatusPublished,
	}
	store := &fakeStore{}

	cfg := Config{
		Exam:         exam,
		Questions:    []*model.Question{mcq, msq},
		AssignmentID: uuid.New(),
		StudentID:    7,
		StartedAt:    time.Now(),
		Store:        store,
		Log:          zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ts := &testSession{
		sess:      New(cfg),
		store:     store,
		exam:      exam,
		questions: cfg.Questions,
	}
	t.Cleanup(ts.sess.Close)
	return ts
}

func TestSession_AtMostOnceSubmit(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.sess.Start()

	if err := ts.sess.Select(ts.questions[0].ID.String(), "b"); err != nil {
		t.Fatal(err)
	}

	res, err := ts.sess.Submit(model.SubmitReasonManual)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if res.Record.Score != 4 {
		t.Fatalf("score = %d, want 4", res.Record.Score)
	}

	if _, err := ts.sess.Submit(model.SubmitReasonManual); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("second submit err = %v, want ErrAlreadySubmitted", err)
	}
	if got := ts.store.callCount(); got != 1 {
		t.Fatalf("store called %d times, want exactly 1", got)
	}
}

func TestSession_DoubleTapSubmitRace(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.sess.Start()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ts.sess.Submit(model.SubmitReasonManual)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrAlreadySubmitted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d submits succeeded, want exactly 1", succeeded)
	}
	if got := ts.store.callCount(); got != 1 {
		t.Fatalf("store called %d times, want exactly 1", got)
	}
}

func TestSession_TimeoutAutoSubmit(t *testing.T) {
	finalized := make(chan *Result, 1)
	ts := newTestSession(t, func(cfg *Config) {
		// Deadline already passed: the clock must fire on its first tick.
		cfg.StartedAt = time.Now().Add(-time.Hour)
		cfg.OnFinalized = func(r *Result) { finalized <- r }
	})
	ts.sess.clock.interval = 5 * time.Millisecond
	ts.sess.Start()

	var res *Result
	select {
	case res = <-finalized:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout submission never happened")
	}

	if res.Reason != model.SubmitReasonTimeout {
		t.Fatalf("reason = %s, want timeout", res.Reason)
	}
	if res.Record.Disqualified {
		t.Fatal("timeout submission must not be flagged disqualified")
	}
	if got := ts.store.callCount(); got != 1 {
		t.Fatalf("store called %d times, want 1", got)
	}

	// The session is torn down: further mutations are rejected.
	if err := ts.sess.Select(ts.questions[0].ID.String(), "a"); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("post-submit select err = %v, want ErrAlreadySubmitted", err)
	}
}

func TestSession_IntegrityEscalation(t *testing.T) {
	var signals []IntegrityOutcome
	ts := newTestSession(t, func(cfg *Config) {
		cfg.OnIntegrity = func(_ SignalKind, _ int, outcome IntegrityOutcome) {
			signals = append(signals, outcome)
		}
	})
	ts.sess.Start()

	outcome, err := ts.sess.ReportSignal(SignalBackgrounded)
	if err != nil || outcome != OutcomeWarned {
		t.Fatalf("first signal: outcome=%v err=%v, want warned", outcome, err)
	}
	if err := ts.sess.AcknowledgeWarning(); err != nil {
		t.Fatal(err)
	}

	outcome, err = ts.sess.ReportSignal(SignalBackgrounded)
	if err != nil || outcome != OutcomeDisqualified {
		t.Fatalf("threshold signal: outcome=%v err=%v, want disqualified", outcome, err)
	}

	if got := ts.store.callCount(); got != 1 {
		t.Fatalf("store called %d times, want exactly 1", got)
	}
	ts.store.mu.Lock()
	rec := ts.store.last
	ts.store.mu.Unlock()
	if !rec.Disqualified || !rec.Submitted {
		t.Fatalf("record = %+v, want submitted and disqualified", rec)
	}

	// Signals after the terminal state are no-ops.
	outcome, err = ts.sess.ReportSignal(SignalBackgrounded)
	if err != nil || outcome != OutcomeIgnored {
		t.Fatalf("post-terminal signal: outcome=%v err=%v, want ignored", outcome, err)
	}
	if _, err := ts.sess.Submit(model.SubmitReasonManual); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("submit after disqualification err = %v, want ErrAlreadySubmitted", err)
	}
	if len(signals) != 2 {
		t.Fatalf("integrity hook fired %d times, want 2", len(signals))
	}
}

func TestSession_ProctorDisqualify(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.sess.Start()

	if err := ts.sess.Disqualify(); err != nil {
		t.Fatal(err)
	}
	ts.store.mu.Lock()
	rec := ts.store.last
	ts.store.mu.Unlock()
	if rec == nil || !rec.Disqualified {
		t.Fatalf("record = %+v, want disqualified submission", rec)
	}
	if err := ts.sess.Disqualify(); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("second disqualify err = %v, want ErrAlreadySubmitted", err)
	}
}

func TestSession_StoreFailureKeepsGuardSet(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.store.err = errors.New("connection refused")
	ts.sess.Start()

	res, err := ts.sess.Submit(model.SubmitReasonManual)
	if err != nil {
		t.Fatalf("submit dispatch: %v", err)
	}
	if res.StoreErr == nil {
		t.Fatal("store failure was not surfaced")
	}

	// No automatic retry: the guard stays set and the store is not hit again.
	if _, err := ts.sess.Submit(model.SubmitReasonManual); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("resubmit err = %v, want ErrAlreadySubmitted", err)
	}
	if got := ts.store.callCount(); got != 1 {
		t.Fatalf("store called %d times, want 1", got)
	}
}

func TestSession_SubmissionRecordContents(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.sess.Start()

	mcq, msq := ts.questions[0], ts.questions[1]
	for _, pick := range []struct{ qid, opt string }{
		{mcq.ID.String(), "b"},
		{msq.ID.String(), "a"},
		{msq.ID.String(), "d"},
	} {
		if err := ts.sess.Select(pick.qid, pick.opt); err != nil {
			t.Fatal(err)
		}
	}

	res, err := ts.sess.Submit(model.SubmitReasonManual)
	if err != nil {
		t.Fatal(err)
	}

	rec := res.Record
	// mcq: full 4 points. msq: one correct of three at 6 points = 2.0; the
	// wrong pick "d" is ignored. Total 6.0 → persisted 6.
	if rec.Score != 6 {
		t.Fatalf("score = %d, want 6", rec.Score)
	}
	wantAnswers := mcq.ID.String() + ":b;" + msq.ID.String() + ":a,d"
	if rec.Answers != wantAnswers {
		t.Fatalf("answers = %q, want %q", rec.Answers, wantAnswers)
	}
	if rec.AssignmentID == uuid.Nil || rec.SubmittedAt == nil || !rec.Submitted {
		t.Fatalf("record incomplete: %+v", rec)
	}
	if rec.Status != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", rec.Status)
	}
}

func TestSession_ViewAndAutosaveHook(t *testing.T) {
	type mutation struct{ qid, encoded string }
	var muts []mutation
	ts := newTestSession(t, func(cfg *Config) {
		cfg.OnMutate = func(qid, encoded string) {
			muts = append(muts, mutation{qid, encoded})
		}
	})
	ts.sess.Start()

	mcq := ts.questions[0]
	qid := mcq.ID.String()
	if err := ts.sess.Select(qid, "b"); err != nil {
		t.Fatal(err)
	}
	if err := ts.sess.ToggleMark(qid); err != nil {
		t.Fatal(err)
	}

	view, err := ts.sess.View()
	if err != nil {
		t.Fatal(err)
	}
	if view.State != StateInProgress || view.AnsweredCount != 1 || !view.Marks[qid] || !view.HasMarks {
		t.Fatalf("view = %+v", view)
	}
	if view.Selections[qid] != "b" {
		t.Fatalf("view selection = %q, want b", view.Selections[qid])
	}
	if view.RemainingSeconds <= 0 || view.RemainingSeconds > 600 {
		t.Fatalf("remaining = %d, want within (0, 600]", view.RemainingSeconds)
	}

	// Clearing emits an empty mirror value.
	if err := ts.sess.Select(qid, "b"); err != nil {
		t.Fatal(err)
	}
	if len(muts) != 2 || muts[0].encoded != "b" || muts[1].encoded != "" {
		t.Fatalf("mutation hook saw %+v", muts)
	}

	// Invalid options never reach the hook.
	if err := ts.sess.Select(qid, "zzz"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("err = %v, want ErrUnknownOption", err)
	}
	if len(muts) != 2 {
		t.Fatalf("rejected mutation leaked to hook: %+v", muts)
	}
}

func TestSession_RestoreAnswersBeforeStart(t *testing.T) {
	ts := newTestSession(t, nil)
	mcq, msq := ts.questions[0], ts.questions[1]

	ts.sess.RestoreAnswers(map[string][]string{
		mcq.ID.String(): {"b"},
		msq.ID.String(): {"a", "c"},
		"not-a-question": {"x"}, // skipped, not fatal
	})
	ts.sess.Start()

	view, err := ts.sess.View()
	if err != nil {
		t.Fatal(err)
	}
	if view.AnsweredCount != 2 {
		t.Fatalf("answered = %d, want 2", view.AnsweredCount)
	}
	if !strings.Contains(view.Selections[msq.ID.String()], "a") {
		t.Fatalf("restored multi selection = %q", view.Selections[msq.ID.String()])
	}
}
