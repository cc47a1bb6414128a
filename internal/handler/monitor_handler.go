package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veritest/veritest-backend/internal/response"
	"github.com/veritest/veritest-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler serves the proctor dashboard: attempt listings, the live
// event stream, and the disqualify/publish/reset actions.
type MonitorHandler struct {
	examService    *service.ExamService
	sessionService *service.SessionService
	monitorService *service.MonitorService
	authService    *service.AuthService
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	examService *service.ExamService,
	sessionService *service.SessionService,
	monitorService *service.MonitorService,
	authService *service.AuthService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		examService:    examService,
		sessionService: sessionService,
		monitorService: monitorService,
		authService:    authService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// ListAttempts godoc
// GET /api/v1/proctor/exams/:exam_id/attempts?page=&per_page=
// Returns the paginated attempt rows, overlaid with live engine state.
func (h *MonitorHandler) ListAttempts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	rows, pagination, err := h.monitorService.ListAttempts(c.Request.Context(), examID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": rows}, pagination)
}

// StreamEvents godoc
// GET /api/v1/proctor/exams/:exam_id/events
// SSE stream of integrity and submission events, forwarded from the exam's
// Redis monitor channel, with a periodic full refresh and keep-alive pings.
func (h *MonitorHandler) StreamEvents(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.examService.GetByID(c.Request.Context(), examID); err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	pubsub := h.monitorService.SubscribeEvents(reqCtx, examID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Proctor attached to live monitor SSE")

	h.sendSnapshot(c, examID)

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendSnapshot(c, examID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes a full attempt listing as one SSE event.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, examID uuid.UUID) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()

	rows, _, err := h.monitorService.ListAttempts(ctx, examID, 1, 200)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to build monitor snapshot")
		return
	}

	c.SSEvent("message", gin.H{
		"type":     "snapshot",
		"attempts": rows,
	})
	c.Writer.Flush()
}

// DisqualifyStudent godoc
// POST /api/v1/proctor/exams/:exam_id/students/:student_id/disqualify
// Force-submits the student's attempt with the disqualified flag.
func (h *MonitorHandler) DisqualifyStudent(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.sessionService.Disqualify(c.Request.Context(), examID, studentID); err != nil {
		switch {
		case errors.Is(err, service.ErrNoActiveSession):
			response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
		case errors.Is(err, service.ErrAlreadySubmitted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	h.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Msg("Student disqualified by proctor")
	response.Success(c, http.StatusOK, gin.H{})
}

// PublishExam godoc
// POST /api/v1/proctor/exams/:exam_id/publish
// Moves a draft exam to PUBLISHED and warms its Redis payload cache.
func (h *MonitorHandler) PublishExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.examService.Publish(c.Request.Context(), examID); err != nil {
		switch {
		case errors.Is(err, service.ErrExamNotDraft), errors.Is(err, service.ErrNoQuestions):
			response.Fail(c, http.StatusConflict, response.ErrConflict)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ResetStudentLogin godoc
// POST /api/v1/proctor/students/:student_id/reset-login
// Clears the student's single-device login session so they can sign in again.
func (h *MonitorHandler) ResetStudentLogin(c *gin.Context) {
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), studentID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
