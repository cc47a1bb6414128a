package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veritest/veritest-backend/internal/middleware"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/response"
	"github.com/veritest/veritest-backend/internal/service"
	"github.com/veritest/veritest-backend/internal/validator"
)

// PortalHandler handles student-facing endpoints (lobby, join, resume).
// In-exam mutations ride the WebSocket stream; the REST submit exists as a
// fallback for clients whose socket dropped at the very end.
type PortalHandler struct {
	sessionService *service.SessionService
	examService    *service.ExamService
}

// NewPortalHandler creates a new PortalHandler.
func NewPortalHandler(
	sessionService *service.SessionService,
	examService *service.ExamService,
) *PortalHandler {
	return &PortalHandler{
		sessionService: sessionService,
		examService:    examService,
	}
}

// GetLobby godoc
// GET /api/v1/student/lobby
// Returns published exams overlaid with the student's attempt status.
func (h *PortalHandler) GetLobby(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lobby, err := h.sessionService.GetLobby(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": lobby})
}

// JoinExam godoc
// POST /api/v1/student/exams/join
// Validates the entry token and opens the attempt (idempotent).
func (h *PortalHandler) JoinExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.JoinExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, attempt, err := h.sessionService.JoinExam(c.Request.Context(), claims.UserID, req.EntryToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidEntryToken):
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidEntryToken)
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusBadRequest, response.ErrExamNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	exam.EntryToken = ""
	response.Success(c, http.StatusOK, gin.H{
		"exam":    exam,
		"attempt": attempt,
	})
}

// GetExamPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the cached taker payload. Requires a joined, unsubmitted attempt;
// fetching the paper is what attaches the in-memory session.
func (h *PortalHandler) GetExamPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.sessionService.EnsureSession(c.Request.Context(), examID, claims.UserID); err != nil {
		switch {
		case errors.Is(err, service.ErrNoActiveSession):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		case errors.Is(err, service.ErrAlreadySubmitted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrExamLoadFailed)
		}
		return
	}

	payload, err := h.examService.GetExamPayload(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// GetExamState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns the attempt's resume snapshot: remaining time, saved selections,
// review marks and integrity state. Covers page reloads.
func (h *PortalHandler) GetExamState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.GetState(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			response.Fail(c, http.StatusForbidden, response.ErrNoActiveSession)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SubmitExam godoc
// POST /api/v1/student/exams/:exam_id/submit
// REST submit fallback. Body: {"confirm": true} to bypass the review prompt.
func (h *PortalHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req struct {
		Confirm bool `json:"confirm"`
	}
	_ = c.ShouldBindJSON(&req) // empty body means confirm=false

	res, err := h.sessionService.Submit(c.Request.Context(), examID, claims.UserID, req.Confirm)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReviewPending):
			response.Fail(c, http.StatusConflict, response.ErrReviewPending)
		case errors.Is(err, service.ErrAlreadySubmitted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		case errors.Is(err, service.ErrNoActiveSession):
			response.Fail(c, http.StatusForbidden, response.ErrNoActiveSession)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	if res.StoreErr != nil {
		// Scored in memory but the record write failed. Surface it; the
		// client must not retry, the attempt is sealed either way.
		response.Fail(c, http.StatusInternalServerError, response.ErrSubmissionWrite)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"score":        res.Record.Score,
		"reason":       res.Reason,
		"disqualified": res.Record.Disqualified,
	})
}
