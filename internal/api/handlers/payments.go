package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/MacJediWizard/accessgate/internal/payments"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// PaymentProcessor turns payment events into purchase grants.
type PaymentProcessor interface {
	HandlePaymentSucceeded(ctx context.Context, ev payments.Event) (*models.AccessGrant, bool, error)
}

// PackageLister lists the purchasable packages.
type PackageLister interface {
	Packages() []payments.Package
}

// PaymentsHandler handles the payment webhook and package catalog.
type PaymentsHandler struct {
	processor PaymentProcessor
	catalog   PackageLister
	secret    []byte
	logger    zerolog.Logger
}

// NewPaymentsHandler creates a new PaymentsHandler. Webhook bodies must be
// signed with secret.
func NewPaymentsHandler(processor PaymentProcessor, catalog PackageLister, secret string, logger zerolog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		processor: processor,
		catalog:   catalog,
		secret:    []byte(secret),
		logger:    logger.With().Str("component", "payments_handler").Logger(),
	}
}

// RegisterPublicRoutes registers payment routes that authenticate by
// signature instead of by bearer token.
func (h *PaymentsHandler) RegisterPublicRoutes(r *gin.RouterGroup) {
	p := r.Group("/payments")
	{
		p.POST("/events", h.Event)
		p.GET("/packages", h.Packages)
	}
}

// Event handles a "payment succeeded" notification. Redelivered events
// return the grant created the first time with 200.
// POST /api/v1/payments/events
func (h *PaymentsHandler) Event(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, h.logger, err, "failed to read request")
		return
	}

	if err := payments.VerifySignature(h.secret, body, c.GetHeader(payments.SignatureHeader)); err != nil {
		h.logger.Warn().Str("client_ip", c.ClientIP()).Msg("payment event with bad signature")
		respondError(c, h.logger, err, "failed to verify signature")
		return
	}

	var ev payments.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %v", payments.ErrInvalidEvent, err), "failed to decode event")
		return
	}

	grant, created, err := h.processor.HandlePaymentSucceeded(c.Request.Context(), ev)
	if err != nil {
		respondError(c, h.logger, err, "failed to process payment event")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"grant": grant, "created": created})
}

// Packages lists the purchasable packages.
// GET /api/v1/payments/packages
func (h *PaymentsHandler) Packages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": h.catalog.Packages()})
}
