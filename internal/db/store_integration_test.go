//go:build integration

package db

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

// setupTestDB starts a PostgreSQL container, runs migrations, and returns a connected DB.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	if !dockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("accessgate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 20
	cfg.MinConns = 1

	database, err := New(ctx, cfg, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	t.Cleanup(database.Close)

	require.NoError(t, database.Migrate(ctx))
	return database
}

func createTestGrant(t *testing.T, db *DB, code string, maxSeats int) *models.AccessGrant {
	t.Helper()
	now := time.Now().UTC()
	g := models.NewAccessGrant(models.GrantKindTrial, code, "owner-1", models.AudienceB2B, maxSeats, now, models.EndOfDay(now.AddDate(0, 0, 14)))
	require.NoError(t, db.CreateGrant(context.Background(), g))
	return g
}

func TestStore_Migrate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	version, err := db.CurrentVersion(ctx)
	require.NoError(t, err)
	migrations, err := GetMigrations()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)

	// Re-running is a no-op.
	require.NoError(t, db.Migrate(ctx))
}

func TestStore_Grants(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		g := createTestGrant(t, db, "1000-AAA1-A001", 3)

		got, err := db.GetGrantByCode(ctx, g.Code)
		require.NoError(t, err)
		assert.Equal(t, g.ID, got.ID)
		assert.Equal(t, models.GrantStatusActive, got.Status)
		assert.Equal(t, 3, got.MaxSeats)

		byID, err := db.GetGrantByID(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, g.Code, byID.Code)

		exists, err := db.CodeExists(ctx, g.Code)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("DuplicateCode", func(t *testing.T) {
		createTestGrant(t, db, "1000-AAA1-A002", 1)
		dup := models.NewAccessGrant(models.GrantKindTrial, "1000-AAA1-A002", "owner-2", models.AudienceB2C, 1, time.Now(), time.Now().Add(time.Hour))
		assert.ErrorIs(t, db.CreateGrant(ctx, dup), grants.ErrCodeTaken)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := db.GetGrantByCode(ctx, "9999-ZZZ9-Z999")
		assert.ErrorIs(t, err, grants.ErrGrantNotFound)
		_, err = db.GetGrantByID(ctx, uuid.New())
		assert.ErrorIs(t, err, grants.ErrGrantNotFound)
	})

	t.Run("ListByOwner", func(t *testing.T) {
		list, err := db.ListGrants(ctx, grants.GrantFilter{OwnerUserID: "owner-1", Limit: 10})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(list), 2)
		for _, g := range list {
			assert.Equal(t, "owner-1", g.OwnerUserID)
		}
	})

	t.Run("MarkExpiredOnce", func(t *testing.T) {
		g := createTestGrant(t, db, "1000-AAA1-A003", 1)
		flipped, err := db.MarkGrantExpired(ctx, g.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, flipped)
		flipped, err = db.MarkGrantExpired(ctx, g.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, flipped)
	})

	t.Run("ExpireDueGrants", func(t *testing.T) {
		past := time.Now().AddDate(0, 0, -10)
		g := models.NewAccessGrant(models.GrantKindTrial, "1000-AAA1-A004", "owner-3", models.AudienceB2C, 1, past, models.EndOfDay(past.AddDate(0, 0, 1)))
		require.NoError(t, db.CreateGrant(ctx, g))

		n, err := db.ExpireDueGrants(ctx, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		got, err := db.GetGrantByID(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GrantStatusExpired, got.Status)
	})
}

func TestStore_PurchaseGrantIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	build := func(code string) *models.AccessGrant {
		g := models.NewAccessGrant(models.GrantKindPurchase, code, "buyer-1", models.AudienceB2B, 10, time.Now(), time.Now().AddDate(1, 0, 0))
		g.Details = models.KindDetails{PaymentRef: "pi_123", PackageRef: "team-10"}
		return g
	}

	first, created, err := db.CreatePurchaseGrant(ctx, build("2000-BBB2-B001"))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := db.CreatePurchaseGrant(ctx, build("2000-BBB2-B002"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "2000-BBB2-B001", again.Code)

	byRef, err := db.GetGrantByPaymentRef(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byRef.ID)
}

func TestStore_Redemptions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("StartResumeComplete", func(t *testing.T) {
		g := createTestGrant(t, db, "3000-CCC3-C001", 2)
		now := time.Now()

		red, resumed, err := db.StartRedemption(ctx, g.ID, "user-a", now)
		require.NoError(t, err)
		assert.False(t, resumed)
		assert.Equal(t, models.RedemptionStarted, red.State)

		_, resumed, err = db.StartRedemption(ctx, g.ID, "user-a", now.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, resumed)

		upd, err := db.CompleteRedemption(ctx, g.ID, "user-a", now)
		require.NoError(t, err)
		assert.True(t, upd.Consumed)
		assert.Equal(t, 1, upd.UsedSeats)

		upd, err = db.CompleteRedemption(ctx, g.ID, "user-a", now)
		require.NoError(t, err)
		assert.False(t, upd.Consumed)
		assert.Equal(t, 1, upd.UsedSeats)

		got, err := db.GetGrantByID(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.ClaimedSeats)
		assert.Equal(t, 1, got.UsedSeats)

		latest, err := db.LatestRedemptionForUser(ctx, "user-a")
		require.NoError(t, err)
		assert.Equal(t, g.ID, latest.GrantID)
		assert.True(t, latest.Completed())
	})

	t.Run("SeatsFullForNewcomers", func(t *testing.T) {
		g := createTestGrant(t, db, "3000-CCC3-C002", 1)
		now := time.Now()

		_, _, err := db.StartRedemption(ctx, g.ID, "user-a", now)
		require.NoError(t, err)
		_, _, err = db.StartRedemption(ctx, g.ID, "user-b", now)
		assert.ErrorIs(t, err, grants.ErrSeatsFull)

		_, err = db.GetRedemption(ctx, g.ID, "user-b")
		assert.ErrorIs(t, err, grants.ErrRedemptionNotFound)

		upd, err := db.CompleteRedemption(ctx, g.ID, "user-a", now)
		require.NoError(t, err)
		assert.True(t, upd.Consumed)
		assert.Equal(t, models.GrantStatusCompleted, upd.Status)
	})

	t.Run("UnknownGrant", func(t *testing.T) {
		_, _, err := db.StartRedemption(ctx, uuid.New(), "user-a", time.Now())
		assert.ErrorIs(t, err, grants.ErrGrantNotFound)
		_, err = db.CompleteRedemption(ctx, uuid.New(), "user-a", time.Now())
		assert.ErrorIs(t, err, grants.ErrGrantNotFound)
	})

	t.Run("ConcurrentCompletions", func(t *testing.T) {
		g := createTestGrant(t, db, "3000-CCC3-C003", 2)
		users := []string{"user-a", "user-b"}
		for _, u := range users {
			_, _, err := db.StartRedemption(ctx, g.ID, u, time.Now())
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		consumed := 0
		for _, u := range users {
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(user string) {
					defer wg.Done()
					upd, err := db.CompleteRedemption(ctx, g.ID, user, time.Now())
					if !assert.NoError(t, err) {
						return
					}
					if upd.Consumed {
						mu.Lock()
						consumed++
						mu.Unlock()
					}
				}(u)
			}
		}
		wg.Wait()

		got, err := db.GetGrantByID(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.UsedSeats)
		assert.Equal(t, 2, consumed)

		reds, err := db.ListRedemptions(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, reds, 2)
		for _, r := range reds {
			assert.True(t, r.Completed())
		}
	})

	t.Run("ConcurrentStarts", func(t *testing.T) {
		g := createTestGrant(t, db, "3000-CCC3-C004", 3)

		var wg sync.WaitGroup
		results := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, _, err := db.StartRedemption(ctx, g.ID, fmt.Sprintf("user-%d", n), time.Now())
				results <- err
			}(i)
		}
		wg.Wait()
		close(results)

		started := 0
		for err := range results {
			if err == nil {
				started++
			} else {
				assert.ErrorIs(t, err, grants.ErrSeatsFull)
			}
		}
		assert.Equal(t, 3, started)
	})
}

func TestStore_Progress(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	g := createTestGrant(t, db, "4000-DDD4-D001", 1)

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &models.ProgressRecord{
		ID: uuid.New(), UserID: "user-a", LevelNumber: 1, GrantID: g.ID,
		Cards:      []models.CardScore{{CardID: "c1", Score: 10, CorrectAnswers: 1, TotalQuestions: 1}},
		TotalScore: 10, MaxScore: 10, CorrectAnswers: 1, TotalQuestions: 1,
		PercentageScore: 100, RiskLevel: models.RiskConfident,
		CompletedAt: &now, CreatedAt: now, UpdatedAt: now,
	}
	created, err := db.UpsertProgress(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := rec.ID

	later := now.Add(time.Hour)
	again := *rec
	again.ID = uuid.New()
	again.Cards = []models.CardScore{}
	again.CompletedAt = &later
	again.UpdatedAt = later
	created, err = db.UpsertProgress(ctx, &again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, again.ID)

	got, err := db.GetProgress(ctx, "user-a", 1)
	require.NoError(t, err)
	assert.Empty(t, got.Cards)
	assert.True(t, got.CompletedAt.Equal(later))
	assert.Equal(t, g.ID, got.GrantID)

	list, err := db.ListProgress(ctx, "user-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = db.GetProgress(ctx, "user-a", 2)
	assert.ErrorIs(t, err, progress.ErrRecordNotFound)
}
