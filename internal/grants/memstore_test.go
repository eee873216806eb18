package grants

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
)

type redemptionKey struct {
	grantID uuid.UUID
	userID  string
}

// memStore is an in-memory Store. Each method holds the mutex for its whole
// body, which gives the same atomicity as a conditional SQL update.
type memStore struct {
	mu          sync.Mutex
	grants      map[uuid.UUID]*models.AccessGrant
	redemptions map[redemptionKey]*models.Redemption

	// taken makes CodeExists report true for these codes.
	taken map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		grants:      make(map[uuid.UUID]*models.AccessGrant),
		redemptions: make(map[redemptionKey]*models.Redemption),
		taken:       make(map[string]bool),
	}
}

func (s *memStore) CreateGrant(_ context.Context, g *models.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.grants {
		if existing.Code == g.Code {
			return ErrCodeTaken
		}
	}
	cp := *g
	s.grants[g.ID] = &cp
	return nil
}

func (s *memStore) GetGrantByID(_ context.Context, id uuid.UUID) (*models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrGrantNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *memStore) GetGrantByCode(_ context.Context, code string) (*models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.Code == code {
			cp := *g
			return &cp, nil
		}
	}
	return nil, ErrGrantNotFound
}

func (s *memStore) CodeExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken[code] {
		return true, nil
	}
	for _, g := range s.grants {
		if g.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListGrants(_ context.Context, filter GrantFilter) ([]*models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AccessGrant
	for _, g := range s.grants {
		if filter.OwnerUserID != "" && g.OwnerUserID != filter.OwnerUserID {
			continue
		}
		if filter.Status != "" && g.Status != filter.Status {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) MarkGrantExpired(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return false, ErrGrantNotFound
	}
	if g.Status != models.GrantStatusActive {
		return false, nil
	}
	g.Status = models.GrantStatusExpired
	g.UpdatedAt = at
	return true, nil
}

func (s *memStore) GetRedemption(_ context.Context, grantID uuid.UUID, userID string) (*models.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.redemptions[redemptionKey{grantID, userID}]
	if !ok {
		return nil, ErrRedemptionNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListRedemptions(_ context.Context, grantID uuid.UUID) ([]models.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Redemption
	for k, r := range s.redemptions {
		if k.grantID == grantID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) LatestRedemptionForUser(_ context.Context, userID string) (*models.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Redemption
	for k, r := range s.redemptions {
		if k.userID != userID {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrRedemptionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) StartRedemption(_ context.Context, grantID uuid.UUID, userID string, at time.Time) (*models.Redemption, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return nil, false, ErrGrantNotFound
	}
	key := redemptionKey{grantID, userID}
	if r, ok := s.redemptions[key]; ok {
		cp := *r
		return &cp, true, nil
	}
	if g.ClaimedSeats >= g.MaxSeats {
		return nil, false, ErrSeatsFull
	}
	g.ClaimedSeats++
	r := &models.Redemption{GrantID: grantID, UserID: userID, State: models.RedemptionStarted, StartedAt: at}
	s.redemptions[key] = r
	cp := *r
	return &cp, false, nil
}

func (s *memStore) CompleteRedemption(_ context.Context, grantID uuid.UUID, userID string, at time.Time) (*SeatUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return nil, ErrGrantNotFound
	}
	r, ok := s.redemptions[redemptionKey{grantID, userID}]
	if !ok || r.State != models.RedemptionStarted {
		return &SeatUpdate{UsedSeats: g.UsedSeats, Status: g.Status}, nil
	}
	r.State = models.RedemptionSeatConsumed
	r.CompletedAt = &at
	g.UsedSeats++
	if g.UsedSeats >= g.MaxSeats {
		g.Status = models.GrantStatusCompleted
	}
	return &SeatUpdate{Consumed: true, UsedSeats: g.UsedSeats, Status: g.Status}, nil
}

// consumedCount counts seat_consumed entries for a grant.
func (s *memStore) consumedCount(grantID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.redemptions {
		if k.grantID == grantID && r.Completed() {
			n++
		}
	}
	return n
}

// countingRecorder records outcome labels.
type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{counts: make(map[string]int)}
}

func (r *countingRecorder) inc(key string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key] += n
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func (r *countingRecorder) RecordCodeCheck(result string)       { r.inc("check:"+result, 1) }
func (r *countingRecorder) RecordRedemptionStart(result string) { r.inc("start:"+result, 1) }
func (r *countingRecorder) RecordSeatCompletion(result string)  { r.inc("seat:"+result, 1) }
func (r *countingRecorder) RecordGrantsExpired(n int)           { r.inc("expired", n) }
func (r *countingRecorder) RecordGrantIssued(kind string)       { r.inc("issued:"+kind, 1) }
