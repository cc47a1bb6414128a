package session

// IntegrityState is the state machine for in-session proctoring signals.
type IntegrityState string

const (
	IntegrityActive       IntegrityState = "ACTIVE"
	IntegrityWarned       IntegrityState = "WARNED"
	IntegrityDisqualified IntegrityState = "DISQUALIFIED"
)

// SignalKind identifies what the client observed.
type SignalKind string

const (
	// SignalBackgrounded: the app moved away from the foreground.
	SignalBackgrounded SignalKind = "backgrounded"
	// SignalNavigation: a hardware/back navigation away was attempted.
	SignalNavigation SignalKind = "navigation"
)

// IntegrityOutcome tells the session what a signal resulted in.
type IntegrityOutcome int

const (
	// OutcomeIgnored: the signal arrived after a terminal state; no-op.
	OutcomeIgnored IntegrityOutcome = iota
	// OutcomeWarned: first-level escalation, the taker must acknowledge.
	OutcomeWarned
	// OutcomeDisqualified: the threshold was reached; the session must be
	// force-submitted with the disqualified flag.
	OutcomeDisqualified
)

func (o IntegrityOutcome) String() string {
	switch o {
	case OutcomeWarned:
		return "warned"
	case OutcomeDisqualified:
		return "disqualified"
	default:
		return "ignored"
	}
}

// DefaultIntegrityThreshold is the backgrounding count at which a session is
// disqualified when the exam does not configure its own.
const DefaultIntegrityThreshold = 2

// Monitor tracks integrity violations for one session. Escalation: the first
// occurrence warns, reaching the threshold disqualifies. Disqualified is
// terminal; later signals are ignored. Monitor is not safe for concurrent
// use; the owning session serializes access.
type Monitor struct {
	state     IntegrityState
	count     int
	threshold int
	modalOpen bool
}

// NewMonitor creates a monitor in the Active state. A threshold below one
// falls back to the default.
func NewMonitor(threshold int) *Monitor {
	if threshold < 1 {
		threshold = DefaultIntegrityThreshold
	}
	return &Monitor{state: IntegrityActive, threshold: threshold}
}

// RecordSignal applies one backgrounding or navigation signal.
func (m *Monitor) RecordSignal(kind SignalKind) IntegrityOutcome {
	if m.state == IntegrityDisqualified {
		return OutcomeIgnored
	}
	_ = kind // both kinds escalate identically
	m.count++
	if m.count >= m.threshold {
		m.state = IntegrityDisqualified
		m.modalOpen = false
		return OutcomeDisqualified
	}
	m.state = IntegrityWarned
	m.modalOpen = true
	return OutcomeWarned
}

// Acknowledge returns a warned taker to the Active state. Only valid while
// Warned; anything else is a no-op.
func (m *Monitor) Acknowledge() {
	if m.state != IntegrityWarned {
		return
	}
	m.state = IntegrityActive
	m.modalOpen = false
}

// Disqualify applies an external disqualifying signal (e.g. from a separate
// proctoring subsystem). Returns false if already terminal.
func (m *Monitor) Disqualify() bool {
	if m.state == IntegrityDisqualified {
		return false
	}
	m.state = IntegrityDisqualified
	m.modalOpen = false
	return true
}

// State returns the current integrity state.
func (m *Monitor) State() IntegrityState { return m.state }

// Count returns the number of recorded backgrounding events.
func (m *Monitor) Count() int { return m.count }

// ModalOpen reports whether the warning modal should be showing.
func (m *Monitor) ModalOpen() bool { return m.modalOpen }
