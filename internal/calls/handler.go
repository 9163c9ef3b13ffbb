package calls

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"callqa-backend/internal/checklist"
	"callqa-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the calls service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches call routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/calls", h.createCall)
	rg.GET("/calls/:id", h.getCall)
	rg.GET("/calls/:id/status", h.getStatus)
	rg.POST("/calls/:id/process", h.process)
	rg.GET("/calls/:id/questionnaire", h.getQuestionnaire)
	rg.PUT("/calls/:id/questionnaire", h.correctQuestionnaire)
}

func (h *Handler) createCall(c *gin.Context) {
	var in NewInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	call, err := h.Svc.Create(c.Request.Context(), in)
	if err != nil {
		// The call may already be stored; its id lets the client retry via /process.
		var details any
		if call.ID > 0 {
			c.Set("callId", call.ID)
			details = gin.H{"call_id": call.ID, "status": call.Status}
		}
		switch {
		case errors.Is(err, ErrQueueNotConfigured):
			respond.Error(c, http.StatusServiceUnavailable, "queue_unavailable", "job queue not configured", details)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to schedule call", details)
		}
		return
	}
	respond.JSON(c, http.StatusAccepted, gin.H{
		"call_id": call.ID,
		"status":  "queued",
	})
}

func (h *Handler) getCall(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	call, err := h.Svc.Get(c.Request.Context(), id)
	if err != nil {
		writeLookupError(c, err, "failed to fetch call")
		return
	}
	respond.OK(c, call)
}

func (h *Handler) getStatus(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	view, err := h.Svc.Status(c.Request.Context(), id)
	if err != nil {
		writeLookupError(c, err, "failed to fetch status")
		return
	}
	respond.OK(c, view)
}

func (h *Handler) process(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	msg, err := h.Svc.Enqueue(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrQueueNotConfigured) {
			respond.Error(c, http.StatusServiceUnavailable, "queue_unavailable", "job queue not configured", nil)
			return
		}
		writeLookupError(c, err, "failed to schedule call")
		return
	}
	respond.JSON(c, http.StatusAccepted, gin.H{
		"call_id":    id,
		"request_id": msg.RequestID,
		"status":     "queued",
	})
}

func (h *Handler) getQuestionnaire(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	q, err := h.Svc.Questionnaire(c.Request.Context(), id)
	if err != nil {
		writeLookupError(c, err, "failed to fetch questionnaire")
		return
	}
	respond.OK(c, questionnaireBody(q))
}

func (h *Handler) correctQuestionnaire(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	var values map[string]checklist.Value
	if err := c.ShouldBindJSON(&values); err != nil || len(values) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "body must map checklist fields to true, false or null", nil)
		return
	}
	q, err := h.Svc.Correct(c.Request.Context(), id, values)
	if err != nil {
		var unknown checklist.UnknownFieldError
		if errors.As(err, &unknown) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unknown checklist fields", []map[string]string{
				{"field": "questionnaire", "issue": err.Error()},
			})
			return
		}
		writeLookupError(c, err, "failed to update questionnaire")
		return
	}
	respond.OK(c, questionnaireBody(q))
}

func questionnaireBody(q Questionnaire) gin.H {
	return gin.H{
		"call_id":            q.CallID,
		"answers":            q.Answers,
		"filled_by_ai":       q.FilledByAI,
		"corrected_by_human": q.CorrectedByHuman,
		"total_score":        q.TotalScore(),
		"max_score":          checklist.MaxScore,
		"updated_at":         q.UpdatedAt,
	}
}

func callID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "call id must be a positive integer", nil)
		return 0, false
	}
	c.Set("callId", id)
	return id, true
}

func writeLookupError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "call not found", nil)
	case errors.Is(err, ErrQuestionnaireNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "questionnaire not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
