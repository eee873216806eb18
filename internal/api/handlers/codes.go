package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/accessgate/internal/api/middleware"
	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CodeChecker answers public redemption checks.
type CodeChecker interface {
	Check(ctx context.Context, code, userID string) (*grants.CheckResult, error)
}

// SeatStarter adds users to grants.
type SeatStarter interface {
	Start(ctx context.Context, code, userID string) (*grants.StartOutcome, error)
}

// CodesHandler handles redemption code endpoints.
type CodesHandler struct {
	checker CodeChecker
	starter SeatStarter
	logger  zerolog.Logger
}

// NewCodesHandler creates a new CodesHandler.
func NewCodesHandler(checker CodeChecker, starter SeatStarter, logger zerolog.Logger) *CodesHandler {
	return &CodesHandler{
		checker: checker,
		starter: starter,
		logger:  logger.With().Str("component", "codes_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the redemption check. The group should carry
// optional authentication so a signed-in caller is checked as themselves.
func (h *CodesHandler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/codes/:code/check", h.Check)
}

// RegisterRoutes registers code routes that require authentication.
func (h *CodesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/codes/:code/redeem", h.Redeem)
}

// Check reports whether a code can be used.
// GET /api/v1/codes/:code/check?userId=
func (h *CodesHandler) Check(c *gin.Context) {
	userID := c.Query("userId")
	if user := middleware.GetUser(c); user != nil {
		userID = user.ID
	}

	result, err := h.checker.Check(c.Request.Context(), c.Param("code"), userID)
	if err != nil {
		respondError(c, h.logger, err, "failed to check code")
		return
	}

	c.JSON(http.StatusOK, result)
}

// Redeem starts the authenticated user on the grant for a code. Users who
// already hold an entry are resumed with 200.
// POST /api/v1/codes/:code/redeem
func (h *CodesHandler) Redeem(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	outcome, err := h.starter.Start(c.Request.Context(), c.Param("code"), user.ID)
	if err != nil {
		respondError(c, h.logger, err, "failed to redeem code")
		return
	}

	status := http.StatusCreated
	if outcome.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, outcome)
}
