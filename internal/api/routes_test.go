package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/accessgate/internal/assessment"
	"github.com/MacJediWizard/accessgate/internal/auth"
	"github.com/MacJediWizard/accessgate/internal/completion"
	"github.com/MacJediWizard/accessgate/internal/config"
	"github.com/MacJediWizard/accessgate/internal/db/sqlite"
	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/maintenance"
	"github.com/MacJediWizard/accessgate/internal/metrics"
	"github.com/MacJediWizard/accessgate/internal/payments"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "router-test-secret-that-is-long-enough"
	testWebhookSecret = "router-webhook-secret"
)

const testCatalog = `
packages:
  team-3:
    name: Team of three
    max_seats: 3
    audience: B2B
    validity_days: 30
`

type testServer struct {
	router   *Router
	store    *sqlite.Store
	verifier *auth.TokenVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	logger := zerolog.Nop()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)

	verifier, err := auth.NewTokenVerifier(testJWTSecret, "")
	require.NoError(t, err)

	catalog, err := payments.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	opts := grants.Options{Location: time.UTC, Recorder: m}
	allocator := grants.NewAllocator(store, logger, opts)
	issuer := grants.NewIssuer(store, logger, opts)
	progressSvc := progress.NewService(store, logger, progress.Options{Recorder: m})
	evaluator := completion.NewEvaluator(store)

	cfg := config.ServerConfig{
		Environment:          config.EnvDevelopment,
		AdminRole:            "admin",
		PaymentWebhookSecret: testWebhookSecret,
		RateLimitRequests:    10000,
		RateLimitPeriod:      time.Minute,
		MaxBodyBytes:         1 << 20,
	}
	router, err := NewRouter(cfg, VersionInfo{Version: "test"}, Services{
		Store:     store,
		Validator: grants.NewValidator(store, logger, opts),
		Allocator: allocator,
		Issuer:    issuer,
		Submitter: assessment.NewSubmitter(store, progressSvc, evaluator, allocator, logger),
		Progress:  progressSvc,
		Evaluator: evaluator,
		Payments:  payments.NewProcessor(store, issuer, catalog, m, logger),
		Catalog:   catalog,
		Sweeper:   maintenance.NewExpiryScheduler(store, "", m, logger),
		Verifier:  verifier,
		Metrics:   m,
		Gatherer:  reg,
	}, logger)
	require.NoError(t, err)

	return &testServer{router: router, store: store, verifier: verifier}
}

func (s *testServer) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	tok, err := s.verifier.Issue(subject, roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func (s *testServer) issueGrant(t *testing.T, audience string, seats int) string {
	t.Helper()
	admin := s.token(t, "admin-1", "admin")
	status, resp := s.do(t, "POST", "/api/v1/admin/grants", admin, map[string]any{
		"kind":      "trial",
		"audience":  audience,
		"max_seats": seats,
	})
	require.Equal(t, http.StatusCreated, status, resp)
	return resp["code"].(string)
}

func levelBody(level int, code string) map[string]any {
	return map[string]any{
		"level_number": level,
		"code":         code,
		"cards": []map[string]any{
			{"card_id": "c1", "score": 30, "correct_answers": 3, "total_questions": 4},
		},
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, resp := s.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", resp["status"])

	status, resp = s.do(t, "GET", "/version", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "test", resp["version"])

	status, resp = s.do(t, "GET", "/api/v1/payments/packages", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, resp["packages"], 1)
}

func TestRouter_AuthBoundaries(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, "GET", "/api/v1/progress", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, "GET", "/api/v1/admin/grants", s.token(t, "u-1"), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, "GET", "/api/v1/admin/grants", s.token(t, "admin-1", "admin"), nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_RedeemAndComplete(t *testing.T) {
	s := newTestServer(t)
	code := s.issueGrant(t, "B2B", 2)
	user := s.token(t, "player-1")

	status, resp := s.do(t, "GET", "/api/v1/codes/"+code+"/check", user, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, false, resp["has_user_played"])

	status, _ = s.do(t, "POST", "/api/v1/progress", user, levelBody(1, code))
	assert.Equal(t, http.StatusBadRequest, status, "saving before redeeming must fail")

	status, _ = s.do(t, "POST", "/api/v1/codes/"+code+"/redeem", user, nil)
	require.Equal(t, http.StatusCreated, status)
	status, _ = s.do(t, "POST", "/api/v1/codes/"+code+"/redeem", user, nil)
	require.Equal(t, http.StatusOK, status)

	for level := 1; level <= 2; level++ {
		status, resp = s.do(t, "POST", "/api/v1/progress", user, levelBody(level, code))
		require.Equal(t, http.StatusCreated, status, resp)
		assert.Equal(t, false, resp["seat_consumed"])
	}

	status, resp = s.do(t, "POST", "/api/v1/progress", user, levelBody(3, code))
	require.Equal(t, http.StatusCreated, status, resp)
	assert.Equal(t, true, resp["seat_consumed"])
	assert.Equal(t, true, resp["first_completion"])
	assert.Equal(t, float64(1), resp["used_seats"])

	status, resp = s.do(t, "POST", "/api/v1/progress", user, levelBody(3, code))
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, false, resp["seat_consumed"])

	status, resp = s.do(t, "GET", "/api/v1/codes/"+code+"/check", user, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["user_seat_used"])
	assert.Equal(t, float64(1), resp["used_seats"])

	status, resp = s.do(t, "GET", "/api/v1/progress/completion?audience=B2B", user, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["complete"])
}

func TestRouter_ConcurrentRedeemRespectsSeats(t *testing.T) {
	s := newTestServer(t)
	code := s.issueGrant(t, "B2C", 2)

	const players = 8
	tokens := make([]string, players)
	for i := range tokens {
		tokens[i] = s.token(t, fmt.Sprintf("p-%d", i))
	}

	var wg sync.WaitGroup
	statuses := make([]int, players)
	for i := range players {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/api/v1/codes/"+code+"/redeem", nil)
			req.Header.Set("Authorization", "Bearer "+tokens[i])
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			statuses[i] = w.Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, st := range statuses {
		switch st {
		case http.StatusCreated:
			created++
		case http.StatusBadRequest:
		default:
			t.Errorf("unexpected status %d", st)
		}
	}
	assert.Equal(t, 2, created)

	g, err := s.store.GetGrantByCode(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, 2, g.ClaimedSeats)
	assert.Equal(t, 0, g.UsedSeats)
}

func TestRouter_PaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"payment_ref":"pay_42","user_id":"buyer-1","package_ref":"team-3"}`)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/payments/events", bytes.NewReader(body))
		req.Header.Set(payments.SignatureHeader, payments.Sign([]byte(testWebhookSecret), body))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	first := post()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := post()
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	g, err := s.store.GetGrantByPaymentRef(context.Background(), "pay_42")
	require.NoError(t, err)
	assert.Equal(t, 3, g.MaxSeats)
	assert.Equal(t, "buyer-1", g.OwnerUserID)
}

func TestRouter_MetricsExposed(t *testing.T) {
	s := newTestServer(t)
	s.issueGrant(t, "B2C", 1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `accessgate_grants_issued_total{kind="trial"} 1`)
	assert.Contains(t, w.Body.String(), `accessgate_http_request_duration_seconds_count{method="POST",route="/api/v1/admin/grants",status="201"} 1`)
}
