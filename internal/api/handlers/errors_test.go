package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/payments"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRespondError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		conflict string
		message  string
	}{
		{"invalid code", grants.ErrInvalidCode, http.StatusBadRequest, "", grants.ErrInvalidCode.Error()},
		{"invalid request", fmt.Errorf("user ID is required: %w", grants.ErrInvalidRequest), http.StatusBadRequest, "", ""},
		{"grant not found", fmt.Errorf("get grant by code: %w", grants.ErrGrantNotFound), http.StatusNotFound, "", ""},
		{"seats full", grants.ErrSeatsFull, http.StatusBadRequest, "seats_full", grants.ErrSeatsFull.Error()},
		{"expired", grants.ErrExpired, http.StatusBadRequest, "expired", ""},
		{"not started", grants.ErrNotStarted, http.StatusBadRequest, "not_started", ""},
		{"already completed", grants.ErrAlreadyCompleted, http.StatusBadRequest, "already_completed", ""},
		{"code taken", fmt.Errorf("create grant: %w", grants.ErrCodeTaken), http.StatusBadRequest, "code_taken", ""},
		{"invalid level", progress.ErrInvalidLevel, http.StatusBadRequest, "", ""},
		{"invalid payload", fmt.Errorf("%w: no cards", progress.ErrInvalidPayload), http.StatusBadRequest, "", ""},
		{"record not found", progress.ErrRecordNotFound, http.StatusNotFound, "", ""},
		{"bad signature", payments.ErrInvalidSignature, http.StatusUnauthorized, "", ""},
		{"unknown package", payments.ErrUnknownPackage, http.StatusBadRequest, "", ""},
		{"body too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, "", "request body too large"},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError, "", "failed to do thing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/", func(c *gin.Context) {
				respondError(c, zerolog.Nop(), tt.err, "failed to do thing")
			})
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/", nil)
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			resp := decodeBody(t, w)
			if tt.conflict != "" && resp["conflict"] != tt.conflict {
				t.Errorf("expected conflict %q, got %v", tt.conflict, resp["conflict"])
			}
			if tt.conflict == "" {
				if _, ok := resp["conflict"]; ok {
					t.Errorf("unexpected conflict flag %v", resp["conflict"])
				}
			}
			if tt.message != "" && resp["error"] != tt.message {
				t.Errorf("expected error %q, got %v", tt.message, resp["error"])
			}
		})
	}
}
