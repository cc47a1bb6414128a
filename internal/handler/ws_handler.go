package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/veritest/veritest-backend/internal/middleware"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/service"
	"github.com/veritest/veritest-backend/internal/session"
	ws "github.com/veritest/veritest-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the live exam session: selections and integrity signals
// in, clock ticks and verdicts out.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket. The server pushes a clock event every second and a
// graded event when the attempt seals, whichever way it seals.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	studentID := claims.UserID

	sess, err := h.sessionService.EnsureSession(c.Request.Context(), examID, studentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoActiveSession):
			conn.WriteError("no active session for this exam")
		case errors.Is(err, service.ErrAlreadySubmitted):
			conn.WriteError("attempt already submitted")
		default:
			conn.WriteError("session load failed")
		}
		return
	}

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	// Initial resume snapshot.
	if view, verr := sess.View(); verr == nil {
		conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: view})
	}

	stop := make(chan struct{})
	defer close(stop)
	go h.pushClock(conn, sess, stop)

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionSelect:
			h.handleSelect(conn, sess, &msg)
		case ws.ActionMark:
			h.handleMark(conn, sess, &msg)
		case ws.ActionSignal:
			if done := h.handleSignal(conn, sess, &msg); done {
				return
			}
		case ws.ActionAck:
			if err := sess.AcknowledgeWarning(); err != nil {
				conn.WriteError("acknowledge failed")
			}
		case ws.ActionSubmit:
			if done := h.handleSubmit(conn, wsLog, sess, msg.Confirm); done {
				return
			}
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

// pushClock sends the remaining time once per second. When the clock runs
// out the engine seals the attempt itself; this loop just delivers the
// verdict and stops.
func (h *WSHandler) pushClock(conn *ws.Conn, sess *session.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			view, err := sess.View()
			if err != nil {
				return
			}

			if view.Submitted {
				if res, rerr := sess.Result(); rerr == nil && res != nil && res.Reason == model.SubmitReasonTimeout {
					conn.WriteTyped(ws.GradedResponse{
						Event:        ws.EventGraded,
						Score:        res.Record.Score,
						Reason:       string(res.Reason),
						Disqualified: res.Record.Disqualified,
					})
				}
				return
			}

			conn.WriteTyped(ws.ClockResponse{
				Event:            ws.EventClock,
				RemainingSeconds: view.RemainingSeconds,
				WarningTier:      view.Warning.String(),
			})
		}
	}
}

func (h *WSHandler) handleSelect(conn *ws.Conn, sess *session.Session, msg *ws.Request) {
	if msg.QID == "" || msg.OptionID == "" {
		conn.WriteError("q_id and option_id are required")
		return
	}

	if err := sess.Select(msg.QID, msg.OptionID); err != nil {
		switch {
		case errors.Is(err, session.ErrUnknownQuestion), errors.Is(err, session.ErrUnknownOption):
			conn.WriteError("unknown question or option")
		case errors.Is(err, session.ErrAlreadySubmitted):
			conn.WriteError("attempt already submitted")
		default:
			conn.WriteError("save failed")
		}
		return
	}

	conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QID: msg.QID})
}

func (h *WSHandler) handleMark(conn *ws.Conn, sess *session.Session, msg *ws.Request) {
	if msg.QID == "" {
		conn.WriteError("q_id is required")
		return
	}

	if err := sess.ToggleMark(msg.QID); err != nil {
		conn.WriteError("mark failed")
		return
	}

	view, err := sess.View()
	if err != nil {
		conn.WriteError("mark failed")
		return
	}
	conn.WriteTyped(ws.MarkedResponse{
		Event:  ws.EventMarked,
		QID:    msg.QID,
		Marked: view.Marks[msg.QID],
	})
}

// handleSignal feeds an integrity signal in. Returns true when the signal
// disqualified the attempt and the stream should close.
func (h *WSHandler) handleSignal(conn *ws.Conn, sess *session.Session, msg *ws.Request) bool {
	var kind session.SignalKind
	switch msg.Kind {
	case string(session.SignalBackgrounded):
		kind = session.SignalBackgrounded
	case string(session.SignalNavigation):
		kind = session.SignalNavigation
	default:
		conn.WriteError("unknown signal kind")
		return false
	}

	outcome, err := sess.ReportSignal(kind)
	if err != nil {
		conn.WriteError("signal failed")
		return false
	}

	switch outcome {
	case session.OutcomeWarned:
		view, verr := sess.View()
		count := 0
		if verr == nil {
			count = view.IntegrityCount
		}
		conn.WriteTyped(ws.WarningResponse{Event: ws.EventWarning, Kind: msg.Kind, Count: count})
		return false
	case session.OutcomeDisqualified:
		conn.WriteTyped(ws.DisqualifiedResponse{Event: ws.EventDisqualified, Kind: msg.Kind})
		if res, rerr := sess.Result(); rerr == nil && res != nil {
			conn.WriteTyped(ws.GradedResponse{
				Event:        ws.EventGraded,
				Score:        res.Record.Score,
				Reason:       string(res.Reason),
				Disqualified: true,
			})
		}
		return true
	default:
		return false
	}
}

// handleSubmit runs the manual submit flow, including the review prompt gate.
// Returns true when the attempt sealed and the stream should close.
func (h *WSHandler) handleSubmit(conn *ws.Conn, wsLog zerolog.Logger, sess *session.Session, confirm bool) bool {
	if !confirm {
		has, err := sess.HasMarks()
		if err != nil {
			conn.WriteError("submit failed")
			return false
		}
		if has {
			view, verr := sess.View()
			marked := 0
			if verr == nil {
				marked = len(view.Marks)
			}
			conn.WriteTyped(ws.ReviewPromptResponse{Event: ws.EventReviewPrompt, MarkedCount: marked})
			return false
		}
	}

	res, err := sess.Submit(model.SubmitReasonManual)
	if err != nil {
		if errors.Is(err, session.ErrAlreadySubmitted) {
			conn.WriteError("attempt already submitted")
		} else {
			conn.WriteError("submit failed")
		}
		return false
	}

	if res.StoreErr != nil {
		wsLog.Error().Err(res.StoreErr).Msg("Submission write failed")
		conn.WriteError("submission could not be saved; contact your proctor")
		return true
	}

	wsLog.Info().Int("score", res.Record.Score).Msg("Exam submitted")
	conn.WriteTyped(ws.GradedResponse{
		Event:        ws.EventGraded,
		Score:        res.Record.Score,
		Reason:       string(res.Reason),
		Disqualified: res.Record.Disqualified,
	})
	return true
}
