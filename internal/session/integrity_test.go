package session

import "testing"

func TestMonitor_WarnThenDisqualify(t *testing.T) {
	m := NewMonitor(2)

	if m.State() != IntegrityActive {
		t.Fatalf("initial state = %s, want ACTIVE", m.State())
	}

	if got := m.RecordSignal(SignalBackgrounded); got != OutcomeWarned {
		t.Fatalf("first signal outcome = %v, want warned", got)
	}
	if m.State() != IntegrityWarned || !m.ModalOpen() {
		t.Fatalf("after first signal: state=%s modal=%v", m.State(), m.ModalOpen())
	}

	m.Acknowledge()
	if m.State() != IntegrityActive || m.ModalOpen() {
		t.Fatalf("after acknowledge: state=%s modal=%v", m.State(), m.ModalOpen())
	}
	// Acknowledging does not reset the counter.
	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}

	if got := m.RecordSignal(SignalNavigation); got != OutcomeDisqualified {
		t.Fatalf("threshold signal outcome = %v, want disqualified", got)
	}
	if m.State() != IntegrityDisqualified {
		t.Fatalf("state = %s, want DISQUALIFIED", m.State())
	}
}

func TestMonitor_TerminalStateIgnoresSignals(t *testing.T) {
	m := NewMonitor(1)

	if got := m.RecordSignal(SignalBackgrounded); got != OutcomeDisqualified {
		t.Fatalf("outcome = %v, want disqualified at threshold 1", got)
	}
	countAfter := m.Count()

	for i := 0; i < 3; i++ {
		if got := m.RecordSignal(SignalBackgrounded); got != OutcomeIgnored {
			t.Fatalf("post-terminal signal %d outcome = %v, want ignored", i, got)
		}
	}
	if m.Count() != countAfter {
		t.Fatalf("post-terminal signals advanced the counter: %d", m.Count())
	}

	// Acknowledge is a no-op once disqualified.
	m.Acknowledge()
	if m.State() != IntegrityDisqualified {
		t.Fatalf("acknowledge escaped terminal state: %s", m.State())
	}
}

func TestMonitor_ExternalDisqualify(t *testing.T) {
	m := NewMonitor(5)

	if !m.Disqualify() {
		t.Fatal("first external disqualify should transition")
	}
	if m.Disqualify() {
		t.Fatal("second external disqualify should be a no-op")
	}
	if m.State() != IntegrityDisqualified {
		t.Fatalf("state = %s, want DISQUALIFIED", m.State())
	}
}

func TestMonitor_ThresholdFallback(t *testing.T) {
	m := NewMonitor(0)
	m.RecordSignal(SignalBackgrounded)
	if m.State() != IntegrityWarned {
		t.Fatalf("default threshold should warn first, state = %s", m.State())
	}
	if got := m.RecordSignal(SignalBackgrounded); got != OutcomeDisqualified {
		t.Fatalf("default threshold is %d; second signal outcome = %v", DefaultIntegrityThreshold, got)
	}
}
