package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect Action = "select"
	ActionMark   Action = "mark"
	ActionSignal Action = "signal"
	ActionAck    Action = "ack"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// Request is the single client → server message shape. Fields beyond Action
// are populated per action.
type Request struct {
	Action   Action `json:"action"`
	QID      string `json:"q_id,omitempty"`
	OptionID string `json:"option_id,omitempty"`
	Kind     string `json:"kind,omitempty"`    // signal: "backgrounded" | "navigation"
	Confirm  bool   `json:"confirm,omitempty"` // submit: bypass the review prompt
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError        Event = "error"
	EventState        Event = "state"
	EventSaved        Event = "saved"
	EventMarked       Event = "marked"
	EventClock        Event = "clock"
	EventWarning      Event = "warning"
	EventReviewPrompt Event = "review_prompt"
	EventDisqualified Event = "disqualified"
	EventGraded       Event = "graded"
	EventPong         Event = "pong"
)

// StateResponse carries the full resume snapshot, sent once on attach.
type StateResponse struct {
	Event Event       `json:"event"`
	State interface{} `json:"state"`
}

// SavedResponse acknowledges an accepted selection.
type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

// MarkedResponse acknowledges a review-mark toggle with the resulting state.
type MarkedResponse struct {
	Event  Event  `json:"event"`
	QID    string `json:"q_id"`
	Marked bool   `json:"marked"`
}

// ClockResponse is pushed once per second while the attempt is in progress.
type ClockResponse struct {
	Event            Event  `json:"event"`
	RemainingSeconds int    `json:"remaining_seconds"`
	WarningTier      string `json:"warning_tier"`
}

// WarningResponse tells the client to show the integrity warning modal.
type WarningResponse struct {
	Event Event  `json:"event"`
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// ReviewPromptResponse asks the client to confirm a submit while questions
// are still marked for review.
type ReviewPromptResponse struct {
	Event       Event `json:"event"`
	MarkedCount int   `json:"marked_count"`
}

// DisqualifiedResponse signals that the attempt was force-submitted.
type DisqualifiedResponse struct {
	Event Event  `json:"event"`
	Kind  string `json:"kind,omitempty"`
}

// GradedResponse carries the final score after any submission.
type GradedResponse struct {
	Event        Event  `json:"event"`
	Score        int    `json:"score"`
	Reason       string `json:"reason"`
	Disqualified bool   `json:"disqualified"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
