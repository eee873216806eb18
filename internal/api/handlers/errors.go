// Package handlers contains the HTTP handlers for the accessgate API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/payments"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// respondError maps a service error to a status code and JSON body. Conflicts
// carry a machine-readable "conflict" flag next to the message. Unknown
// errors are logged and hidden behind a generic message.
func respondError(c *gin.Context, logger zerolog.Logger, err error, msg string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	case errors.Is(err, progress.ErrInvalidLevel), errors.Is(err, progress.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, progress.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, payments.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case errors.Is(err, payments.ErrUnknownPackage), errors.Is(err, payments.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch grants.Classify(err) {
	case grants.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case grants.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case grants.KindConflict:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "conflict": grants.ConflictFlag(err)})
	default:
		logger.Error().Err(err).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
