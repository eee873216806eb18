// Package middleware provides HTTP middleware for the accessgate API.
package middleware

import (
	"net/http"

	"github.com/MacJediWizard/accessgate/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey ContextKey = "user"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.User, error)
}

// AuthMiddleware returns a Gin middleware that requires a valid bearer token.
func AuthMiddleware(verifier TokenVerifier, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		token := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		user, err := verifier.Verify(token)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("invalid bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Store user in Gin context for handlers to access
		c.Set(string(UserContextKey), user)

		log.Debug().
			Str("user_id", user.ID).
			Str("path", c.Request.URL.Path).
			Msg("authenticated request")

		c.Next()
	}
}

// OptionalAuthMiddleware loads the user when a valid token is present but
// never rejects the request.
func OptionalAuthMiddleware(verifier TokenVerifier, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		if token := auth.ExtractBearerToken(c.GetHeader("Authorization")); token != "" {
			if user, err := verifier.Verify(token); err == nil {
				c.Set(string(UserContextKey), user)
				log.Debug().
					Str("user_id", user.ID).
					Str("path", c.Request.URL.Path).
					Msg("authenticated request (optional)")
			}
		}
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated user has role.
// Must run after AuthMiddleware.
func RequireRole(role string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		user := RequireUser(c)
		if user == nil {
			return
		}
		if !user.HasRole(role) {
			log.Warn().
				Str("user_id", user.ID).
				Str("role", role).
				Str("path", c.Request.URL.Path).
				Msg("missing required role")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// GetUser retrieves the authenticated user from the Gin context.
// Returns nil if no user is authenticated.
func GetUser(c *gin.Context) *auth.User {
	user, exists := c.Get(string(UserContextKey))
	if !exists {
		return nil
	}
	u, ok := user.(*auth.User)
	if !ok {
		return nil
	}
	return u
}

// RequireUser is a helper that gets the authenticated user or aborts with 401.
// Use this in handlers that expect AuthMiddleware to have already run.
func RequireUser(c *gin.Context) *auth.User {
	user := GetUser(c)
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil
	}
	return user
}
