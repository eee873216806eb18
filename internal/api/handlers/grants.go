package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MacJediWizard/accessgate/internal/api/middleware"
	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// GrantIssuer creates new access grants.
type GrantIssuer interface {
	Issue(ctx context.Context, req grants.IssueRequest) (*models.AccessGrant, error)
}

// GrantReader reads grants and their redemptions.
type GrantReader interface {
	GetGrantByID(ctx context.Context, id uuid.UUID) (*models.AccessGrant, error)
	ListGrants(ctx context.Context, filter grants.GrantFilter) ([]*models.AccessGrant, error)
	ListRedemptions(ctx context.Context, grantID uuid.UUID) ([]models.Redemption, error)
}

// SeatCompleter consumes a user's seat outside the submission flow.
type SeatCompleter interface {
	ForceComplete(ctx context.Context, grantID uuid.UUID, userID string) (*grants.CompleteOutcome, error)
}

// ExpirySweeper runs the grant expiry sweep on demand.
type ExpirySweeper interface {
	RunNow(ctx context.Context) (int, error)
}

// GrantsHandler handles the admin grant endpoints.
type GrantsHandler struct {
	issuer    GrantIssuer
	store     GrantReader
	completer SeatCompleter
	sweeper   ExpirySweeper
	logger    zerolog.Logger
}

// NewGrantsHandler creates a new GrantsHandler. sweeper may be nil, which
// leaves the expiry route unregistered.
func NewGrantsHandler(issuer GrantIssuer, store GrantReader, completer SeatCompleter, sweeper ExpirySweeper, logger zerolog.Logger) *GrantsHandler {
	return &GrantsHandler{
		issuer:    issuer,
		store:     store,
		completer: completer,
		sweeper:   sweeper,
		logger:    logger.With().Str("component", "grants_handler").Logger(),
	}
}

// RegisterRoutes registers admin routes on the given router group. The group
// must already require the admin role.
func (h *GrantsHandler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/grants")
	{
		g.POST("", h.Issue)
		g.GET("", h.List)
		g.GET("/:id", h.Get)
		g.POST("/:id/redemptions/:userId/complete", h.ForceComplete)
	}
	if h.sweeper != nil {
		r.POST("/expiry/run", h.RunExpiry)
	}
}

// Issue creates a grant. The owner defaults to the calling admin.
// POST /api/v1/admin/grants
func (h *GrantsHandler) Issue(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	var req grants.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(c, h.logger, err, "failed to read request")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.OwnerUserID == "" {
		req.OwnerUserID = user.ID
	}

	grant, err := h.issuer.Issue(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "failed to issue grant")
		return
	}

	h.logger.Info().
		Str("grant_id", grant.ID.String()).
		Str("issued_by", user.ID).
		Msg("grant issued via API")
	c.JSON(http.StatusCreated, grant)
}

// List returns grants filtered by owner, organization, kind and status.
// GET /api/v1/admin/grants
func (h *GrantsHandler) List(c *gin.Context) {
	filter := grants.GrantFilter{
		OwnerUserID:    c.Query("owner_user_id"),
		OrganizationID: c.Query("organization_id"),
		Kind:           models.GrantKind(c.Query("kind")),
		Status:         models.GrantStatus(c.Query("status")),
		Limit:          defaultListLimit,
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
		return
	}
	switch filter.Status {
	case "", models.GrantStatusActive, models.GrantStatusCompleted, models.GrantStatusExpired:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = offset
	}

	list, err := h.store.ListGrants(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "failed to list grants")
		return
	}

	c.JSON(http.StatusOK, gin.H{"grants": list, "limit": filter.Limit, "offset": filter.Offset})
}

// Get returns a grant with its redemptions.
// GET /api/v1/admin/grants/:id
func (h *GrantsHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid grant ID"})
		return
	}

	grant, err := h.store.GetGrantByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to get grant")
		return
	}

	redemptions, err := h.store.ListRedemptions(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to list redemptions")
		return
	}
	grant.Redemptions = redemptions

	c.JSON(http.StatusOK, grant)
}

// ForceComplete consumes a started user's seat. A seat consumed earlier is
// reported as an already_completed conflict.
// POST /api/v1/admin/grants/:id/redemptions/:userId/complete
func (h *GrantsHandler) ForceComplete(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid grant ID"})
		return
	}

	outcome, err := h.completer.ForceComplete(c.Request.Context(), id, c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, err, "failed to complete redemption")
		return
	}

	h.logger.Info().
		Str("grant_id", id.String()).
		Str("user_id", c.Param("userId")).
		Str("completed_by", user.ID).
		Int("used_seats", outcome.UsedSeats).
		Msg("seat force-completed")
	c.JSON(http.StatusOK, outcome)
}

// RunExpiry expires every active grant past its end date.
// POST /api/v1/admin/expiry/run
func (h *GrantsHandler) RunExpiry(c *gin.Context) {
	n, err := h.sweeper.RunNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "failed to run expiry sweep")
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
