package grants

import (
	"context"
	"time"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testOptions(rec Recorder) Options {
	return Options{
		Location: time.UTC,
		Recorder: rec,
		Now:      func() time.Time { return testNow },
	}
}

// fataler is satisfied by *testing.T and *rapid.T.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func seedGrant(t fataler, s *memStore, code string, maxSeats int, end time.Time) *models.AccessGrant {
	t.Helper()
	g := models.NewAccessGrant(models.GrantKindTrial, code, "owner-1", models.AudienceB2B, maxSeats, testNow.AddDate(0, 0, -7), end)
	if err := s.CreateGrant(context.Background(), g); err != nil {
		t.Fatalf("CreateGrant() error = %v", err)
	}
	return g
}

func newTestServices(s *memStore, rec Recorder) (*Validator, *Allocator) {
	logger := zerolog.Nop()
	opts := testOptions(rec)
	return NewValidator(s, logger, opts), NewAllocator(s, logger, opts)
}
