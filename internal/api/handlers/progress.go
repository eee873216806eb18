package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MacJediWizard/accessgate/internal/api/middleware"
	"github.com/MacJediWizard/accessgate/internal/assessment"
	"github.com/MacJediWizard/accessgate/internal/completion"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LevelSubmitter saves level results and consumes seats on completion.
type LevelSubmitter interface {
	Submit(ctx context.Context, sub assessment.Submission) (*assessment.SubmitResult, error)
}

// ProgressReader reads a user's stored level results.
type ProgressReader interface {
	GetProgress(ctx context.Context, userID string, level int) (*models.ProgressRecord, error)
	ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error)
}

// CompletionEvaluator decides whether a user finished an audience's levels.
type CompletionEvaluator interface {
	Evaluate(ctx context.Context, userID string, audience models.Audience) (completion.Verdict, error)
}

// SubmitProgressRequest is the body of POST /api/v1/progress.
type SubmitProgressRequest struct {
	LevelNumber int    `json:"level_number"`
	Code        string `json:"code,omitempty"`
	progress.Payload
}

// ProgressHandler handles assessment progress endpoints.
type ProgressHandler struct {
	submitter LevelSubmitter
	reader    ProgressReader
	evaluator CompletionEvaluator
	logger    zerolog.Logger
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(submitter LevelSubmitter, reader ProgressReader, evaluator CompletionEvaluator, logger zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		submitter: submitter,
		reader:    reader,
		evaluator: evaluator,
		logger:    logger.With().Str("component", "progress_handler").Logger(),
	}
}

// RegisterRoutes registers progress routes on the given router group.
func (h *ProgressHandler) RegisterRoutes(r *gin.RouterGroup) {
	p := r.Group("/progress")
	{
		p.POST("", h.Submit)
		p.GET("", h.List)
		p.GET("/completion", h.Completion)
		p.GET("/levels/:level", h.Get)
	}
}

// Submit saves one level result for the authenticated user.
// POST /api/v1/progress
func (h *ProgressHandler) Submit(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	var req SubmitProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(c, h.logger, err, "failed to read request")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.submitter.Submit(c.Request.Context(), assessment.Submission{
		UserID:      user.ID,
		LevelNumber: req.LevelNumber,
		Code:        req.Code,
		Payload:     req.Payload,
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to save progress")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// List returns every level result of the authenticated user.
// GET /api/v1/progress
func (h *ProgressHandler) List(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	records, err := h.reader.ListProgress(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, h.logger, err, "failed to list progress")
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Get returns one level result of the authenticated user.
// GET /api/v1/progress/levels/:level
func (h *ProgressHandler) Get(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid level number"})
		return
	}

	record, err := h.reader.GetProgress(c.Request.Context(), user.ID, level)
	if err != nil {
		respondError(c, h.logger, err, "failed to get progress")
		return
	}

	c.JSON(http.StatusOK, record)
}

// Completion evaluates the authenticated user against an audience.
// GET /api/v1/progress/completion?audience=
func (h *ProgressHandler) Completion(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	audience := models.Audience(c.Query("audience"))
	if !audience.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audience must be one of B2C, B2B, B2E"})
		return
	}

	verdict, err := h.evaluator.Evaluate(c.Request.Context(), user.ID, audience)
	if err != nil {
		respondError(c, h.logger, err, "failed to evaluate completion")
		return
	}

	c.JSON(http.StatusOK, verdict)
}
