package assessment

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/accessgate/internal/completion"
	"github.com/MacJediWizard/accessgate/internal/db/sqlite"
	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/rs/zerolog"
)

type harness struct {
	store     *sqlite.Store
	allocator *grants.Allocator
	submitter *Submitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "assessment.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(store.Close)

	logger := zerolog.Nop()
	allocator := grants.NewAllocator(store, logger, grants.Options{Location: time.UTC})
	progressSvc := progress.NewService(store, logger, progress.Options{})
	evaluator := completion.NewEvaluator(store)

	return &harness{
		store:     store,
		allocator: allocator,
		submitter: NewSubmitter(store, progressSvc, evaluator, allocator, logger),
	}
}

func (h *harness) grant(t *testing.T, code string, audience models.Audience, maxSeats int) *models.AccessGrant {
	t.Helper()
	now := time.Now().UTC()
	g := models.NewAccessGrant(models.GrantKindTrial, code, "owner-1", audience, maxSeats, now, models.EndOfDay(now.AddDate(0, 0, 14)))
	if err := h.store.CreateGrant(context.Background(), g); err != nil {
		t.Fatalf("CreateGrant() error = %v", err)
	}
	return g
}

func (h *harness) start(t *testing.T, code, userID string) {
	t.Helper()
	if _, err := h.allocator.Start(context.Background(), code, userID); err != nil {
		t.Fatalf("Start(%s, %s) error = %v", code, userID, err)
	}
}

func (h *harness) submit(t *testing.T, userID, code string, level int) *SubmitResult {
	t.Helper()
	res, err := h.submitter.Submit(context.Background(), Submission{
		UserID:      userID,
		LevelNumber: level,
		Code:        code,
		Payload:     cardPayload(),
	})
	if err != nil {
		t.Fatalf("Submit(level %d) error = %v", level, err)
	}
	return res
}

func (h *harness) usedSeats(t *testing.T, g *models.AccessGrant) int {
	t.Helper()
	got, err := h.store.GetGrantByID(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetGrantByID() error = %v", err)
	}
	return got.UsedSeats
}

func cardPayload() progress.Payload {
	return progress.Payload{Cards: []models.CardScore{
		{CardID: "phishing", Score: 20, CorrectAnswers: 2, TotalQuestions: 2},
		{CardID: "passwords", Score: 10, CorrectAnswers: 1, TotalQuestions: 2},
	}}
}

func TestSubmit_B2BCompletesOnFinalRequiredLevel(t *testing.T) {
	h := newHarness(t)
	g := h.grant(t, "1234-ABC1-D234", models.AudienceB2B, 2)
	h.start(t, g.Code, "user-a")

	for level := 1; level <= 2; level++ {
		res := h.submit(t, "user-a", g.Code, level)
		if res.IsCompletedNow || res.SeatConsumed {
			t.Fatalf("level %d: completed too early: %+v", level, res)
		}
	}

	res := h.submit(t, "user-a", g.Code, 3)
	if !res.FirstCompletion || !res.SeatConsumed {
		t.Fatalf("level 3: FirstCompletion=%v SeatConsumed=%v, want both true", res.FirstCompletion, res.SeatConsumed)
	}
	if res.UsedSeats != 1 {
		t.Errorf("UsedSeats = %d, want 1", res.UsedSeats)
	}
	if res.Record.PercentageScore != 75 {
		t.Errorf("PercentageScore = %v, want 75", res.Record.PercentageScore)
	}
	if res.Record.RiskLevel != models.RiskCautious {
		t.Errorf("RiskLevel = %s, want Cautious", res.Record.RiskLevel)
	}
}

func TestSubmit_ReplayDoesNotConsumeAgain(t *testing.T) {
	h := newHarness(t)
	g := h.grant(t, "1234-ABC1-D235", models.AudienceB2B, 2)
	h.start(t, g.Code, "user-a")
	for level := 1; level <= 3; level++ {
		h.submit(t, "user-a", g.Code, level)
	}

	res := h.submit(t, "user-a", g.Code, 3)
	if res.Created {
		t.Error("replayed level should overwrite the existing record")
	}
	if !res.WasCompletedBefore || !res.IsCompletedNow {
		t.Errorf("WasCompletedBefore=%v IsCompletedNow=%v, want both true", res.WasCompletedBefore, res.IsCompletedNow)
	}
	if res.FirstCompletion || res.SeatConsumed {
		t.Errorf("FirstCompletion=%v SeatConsumed=%v, want both false", res.FirstCompletion, res.SeatConsumed)
	}
	if used := h.usedSeats(t, g); used != 1 {
		t.Errorf("used seats = %d, want 1", used)
	}
}

func TestSubmit_B2CCompletesOnFirstLevel(t *testing.T) {
	h := newHarness(t)
	g := h.grant(t, "1234-ABC1-D236", models.AudienceB2C, 1)
	h.start(t, g.Code, "user-c")

	res := h.submit(t, "user-c", g.Code, 1)
	if !res.FirstCompletion || !res.SeatConsumed {
		t.Fatalf("FirstCompletion=%v SeatConsumed=%v, want both true", res.FirstCompletion, res.SeatConsumed)
	}
	if len(res.RequiredLevels) != 1 || res.RequiredLevels[0] != 1 {
		t.Errorf("RequiredLevels = %v, want [1]", res.RequiredLevels)
	}

	// Later levels are optional for B2C and never touch the seat.
	extra := h.submit(t, "user-c", g.Code, 2)
	if extra.IsCompletedNow || extra.SeatConsumed {
		t.Errorf("optional level reported completion: %+v", extra)
	}

	got, err := h.store.GetGrantByID(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetGrantByID() error = %v", err)
	}
	if got.UsedSeats != 1 || got.Status != models.GrantStatusCompleted {
		t.Errorf("grant used=%d status=%s, want 1 completed", got.UsedSeats, got.Status)
	}
}

func TestSubmit_ResolvesLatestRedemption(t *testing.T) {
	h := newHarness(t)
	g := h.grant(t, "1234-ABC1-D237", models.AudienceB2C, 1)
	h.start(t, g.Code, "user-l")

	res := h.submit(t, "user-l", "", 1)
	if res.GrantID != g.ID {
		t.Errorf("GrantID = %s, want %s", res.GrantID, g.ID)
	}
	if !res.SeatConsumed {
		t.Error("expected seat to be consumed")
	}
}

func TestSubmit_Rejections(t *testing.T) {
	h := newHarness(t)
	g := h.grant(t, "1234-ABC1-D238", models.AudienceB2B, 1)
	ctx := context.Background()

	tests := []struct {
		name string
		sub  Submission
		want error
	}{
		{"not started with code", Submission{UserID: "stranger", LevelNumber: 1, Code: g.Code}, grants.ErrNotStarted},
		{"not started without code", Submission{UserID: "stranger", LevelNumber: 1}, grants.ErrNotStarted},
		{"malformed code", Submission{UserID: "stranger", LevelNumber: 1, Code: "nope"}, grants.ErrInvalidCode},
		{"unknown code", Submission{UserID: "stranger", LevelNumber: 1, Code: "9999-ZZZ9-Z999"}, grants.ErrGrantNotFound},
		{"level too high", Submission{UserID: "stranger", LevelNumber: 4, Code: g.Code}, progress.ErrInvalidLevel},
		{"missing user", Submission{LevelNumber: 1, Code: g.Code}, grants.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.submitter.Submit(ctx, tt.sub)
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
		})
	}

	records, err := h.store.ListProgress(ctx, "stranger")
	if err != nil {
		t.Fatalf("ListProgress() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("rejected submissions stored %d records", len(records))
	}
}

func TestSubmit_ConcurrentDuplicateFinalLevel(t *testing.T) {
	h := newHarness(t)
	g := h.grant(t, "1234-ABC1-D239", models.AudienceB2B, 3)
	h.start(t, g.Code, "user-a")
	h.submit(t, "user-a", g.Code, 1)
	h.submit(t, "user-a", g.Code, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	consumed := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.submitter.Submit(context.Background(), Submission{
				UserID: "user-a", LevelNumber: 3, Code: g.Code, Payload: cardPayload(),
			})
			if err != nil {
				t.Errorf("Submit() error = %v", err)
				return
			}
			if res.SeatConsumed {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if consumed != 1 {
		t.Errorf("seat consumed by %d submissions, want 1", consumed)
	}
	if used := h.usedSeats(t, g); used != 1 {
		t.Errorf("used seats = %d, want 1", used)
	}
}

func TestSubmit_SeatsForStartedUsersSurviveFullGrant(t *testing.T) {
	h := newHarness(t)
	g := h.grant(t, "1234-ABC1-D240", models.AudienceB2C, 2)
	h.start(t, g.Code, "user-a")
	h.start(t, g.Code, "user-b")

	if _, err := h.allocator.Start(context.Background(), g.Code, "user-c"); !errors.Is(err, grants.ErrSeatsFull) {
		t.Fatalf("third Start() error = %v, want ErrSeatsFull", err)
	}

	for _, u := range []string{"user-a", "user-b"} {
		if res := h.submit(t, u, g.Code, 1); !res.SeatConsumed {
			t.Errorf("%s: seat not consumed", u)
		}
	}
	if used := h.usedSeats(t, g); used != 2 {
		t.Errorf("used seats = %d, want 2", used)
	}
}
