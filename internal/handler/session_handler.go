package handler

import (
	"mime"
	"net/http"
	"strconv"

	"skkn-server/internal/domain"
	"skkn-server/internal/export"
	"skkn-server/internal/generation"
	"skkn-server/internal/model"
	"skkn-server/internal/repository"
	"skkn-server/pkg/taskmanager"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type feedbackRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}

type reviseRequest struct {
	Feedback  string `json:"feedback" binding:"required"`
	Reference string `json:"reference"`
}

type documentRequest struct {
	Document string `json:"document"`
}

// actionResponse is returned by endpoints that start an upstream request.
// The request keeps running after the response; progress is published on
// the session websocket.
type actionResponse struct {
	TaskID  uuid.UUID       `json:"taskId"`
	Session generation.View `json:"session"`
}

type sessionSummary struct {
	ID          uuid.UUID    `json:"id"`
	Topic       string       `json:"topic"`
	Stage       domain.Stage `json:"stage"`
	IsStreaming bool         `json:"isStreaming"`
}

// SessionHandler serves the document generation workflow.
type SessionHandler struct {
	registry *generation.Registry
	tasks    *taskmanager.TaskManager
	ledger   repository.ResultRepository
	logger   *zap.Logger
}

// NewSessionHandler creates a SessionHandler. ledger may be nil when the
// result history is not stored.
func NewSessionHandler(registry *generation.Registry, tasks *taskmanager.TaskManager, ledger repository.ResultRepository, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		tasks:    tasks,
		ledger:   ledger,
		logger:   logger.Named("SessionHandler"),
	}
}

// RegisterRoutes registers the session endpoints.
func (h *SessionHandler) RegisterRoutes(router *gin.Engine) {
	sessions := router.Group("/api/sessions")
	{
		sessions.POST("", h.createSession)
		sessions.GET("", h.listSessions)
		sessions.GET("/:id", h.getSession)
		sessions.DELETE("/:id", h.deleteSession)

		sessions.POST("/:id/start", h.start)
		sessions.POST("/:id/advance", h.advance)
		sessions.POST("/:id/feedback", h.feedback)
		sessions.POST("/:id/approve", h.approve)
		sessions.POST("/:id/revise", h.revise)
		sessions.POST("/:id/retry", h.retry)
		sessions.POST("/:id/cancel", h.cancel)
		sessions.POST("/:id/reset", h.reset)

		sessions.PUT("/:id/document", h.editDocument)
		sessions.GET("/:id/export", h.exportDocument)
		sessions.GET("/:id/results", h.listResults)
		sessions.GET("/:id/ws", h.streamEvents)
	}
	router.GET("/api/tasks/:taskId", h.getTask)
}

func (h *SessionHandler) createSession(c *gin.Context) {
	var topic domain.TopicInfo
	if err := c.ShouldBindJSON(&topic); err != nil {
		h.logger.Warn("Invalid topic payload", zap.Error(err))
		abortBadRequest(c, "invalid topic: "+err.Error())
		return
	}
	s := h.registry.Create(topic)

	if start, _ := strconv.ParseBool(c.Query("start")); start {
		job, err := s.BeginStart()
		if err != nil {
			handleServiceError(c, err)
			return
		}
		h.dispatch(c, s, "start", job)
		return
	}
	c.JSON(http.StatusCreated, s.View())
}

func (h *SessionHandler) listSessions(c *gin.Context) {
	sessions := h.registry.List()
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionSummary{
			ID:          s.ID(),
			Topic:       s.Topic().ShortTitle(80),
			Stage:       s.Stage(),
			IsStreaming: s.IsStreaming(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *SessionHandler) getSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) deleteSession(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	if err := h.registry.Delete(id); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) start(c *gin.Context) {
	h.begin(c, "start", (*generation.Session).BeginStart)
}

func (h *SessionHandler) advance(c *gin.Context) {
	h.begin(c, "advance", (*generation.Session).BeginAdvance)
}

func (h *SessionHandler) approve(c *gin.Context) {
	h.begin(c, "approve", (*generation.Session).BeginApprove)
}

func (h *SessionHandler) retry(c *gin.Context) {
	h.begin(c, "retry", (*generation.Session).BeginRetry)
}

func (h *SessionHandler) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "feedback is required")
		return
	}
	h.begin(c, "feedback", func(s *generation.Session) (*generation.Job, error) {
		return s.BeginFeedback(req.Feedback)
	})
}

func (h *SessionHandler) revise(c *gin.Context) {
	var req reviseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "feedback is required")
		return
	}
	h.begin(c, "revise", func(s *generation.Session) (*generation.Job, error) {
		return s.BeginRevise(req.Feedback, req.Reference)
	})
}

func (h *SessionHandler) cancel(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	cancelled := s.Cancel()
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (h *SessionHandler) reset(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Reset(); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) editDocument(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "invalid document payload")
		return
	}
	if err := s.EditDocument(req.Document); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) exportDocument(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	doc, err := export.Word(s.Document(), s.Topic())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename})
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, export.ContentType, doc.Body)
}

func (h *SessionHandler) listResults(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	if h.ledger == nil {
		c.JSON(http.StatusOK, []*model.GenerationResult{})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abortBadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	results, err := h.ledger.ListBySession(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Error("Failed to list results", zap.String("sessionID", id.String()), zap.Error(err))
		handleServiceError(c, err)
		return
	}
	if results == nil {
		results = []*model.GenerationResult{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *SessionHandler) getTask(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("taskId"))
	if err != nil {
		abortBadRequest(c, "invalid task id")
		return
	}
	task, err := h.tasks.GetTask(taskID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// begin validates the action synchronously and runs the upstream request in
// the task manager.
func (h *SessionHandler) begin(c *gin.Context, name string, beginFn func(*generation.Session) (*generation.Job, error)) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	job, err := beginFn(s)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	h.dispatch(c, s, name, job)
}

func (h *SessionHandler) dispatch(c *gin.Context, s *generation.Session, name string, job *generation.Job) {
	taskID, err := h.tasks.Submit(name, s.ID().String(), job.Run)
	if err != nil {
		job.Abort(err)
		h.logger.Warn("Failed to submit session task",
			zap.String("sessionID", s.ID().String()),
			zap.String("action", name),
			zap.Error(err),
		)
		handleServiceError(c, err)
		return
	}
	h.logger.Debug("Session task submitted",
		zap.String("sessionID", s.ID().String()),
		zap.String("action", name),
		zap.String("taskID", taskID.String()),
	)
	c.JSON(http.StatusAccepted, actionResponse{TaskID: taskID, Session: s.View()})
}

func (h *SessionHandler) session(c *gin.Context) (*generation.Session, bool) {
	id, ok := parseSessionID(c)
	if !ok {
		return nil, false
	}
	s, err := h.registry.Get(id)
	if err != nil {
		handleServiceError(c, err)
		return nil, false
	}
	return s, true
}

func parseSessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortBadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}
