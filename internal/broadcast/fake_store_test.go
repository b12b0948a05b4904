package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
)

// fakeStore is an in-memory Store with the same conditional-update
// semantics as the gorm implementation.
type fakeStore struct {
	mu sync.Mutex

	moments     map[uint]*models.Moment
	authorities map[string]*models.AuthorityProfile
	sponsors    map[uint]*models.Sponsor
	subscribers []models.Subscriber
	broadcasts  map[uint]*models.Broadcast
	batches     map[uint]*models.BroadcastBatch

	nextBroadcastID uint
	nextBatchID     uint

	audienceErr           error
	slugErr               error
	completeBatchFailures int // CompleteBatch calls to fail before succeeding
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		moments:     make(map[uint]*models.Moment),
		authorities: make(map[string]*models.AuthorityProfile),
		sponsors:    make(map[uint]*models.Sponsor),
		broadcasts:  make(map[uint]*models.Broadcast),
		batches:     make(map[uint]*models.BroadcastBatch),
	}
}

func (s *fakeStore) addMoment(m models.Moment) *models.Moment {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.moments[cp.ID] = &cp
	return &cp
}

func (s *fakeStore) addSubscribers(phones []string, region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range phones {
		s.subscribers = append(s.subscribers, models.Subscriber{
			Model:       gorm.Model{ID: uint(len(s.subscribers) + 1)},
			PhoneNumber: p,
			OptedIn:     true,
			Regions:     []string{region},
		})
	}
}

func (s *fakeStore) GetMoment(ctx context.Context, id uint) (*models.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) SetMomentSlug(ctx context.Context, id uint, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slugErr != nil {
		return false, s.slugErr
	}
	m, ok := s.moments[id]
	if !ok || m.Slug != "" {
		return false, nil
	}
	m.Slug = slug
	return true, nil
}

func (s *fakeStore) MarkMomentBroadcasted(ctx context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.moments[id]; ok {
		m.Status = models.MomentStatusBroadcasted
		m.BroadcastedAt = &at
	}
	return nil
}

func (s *fakeStore) MarkMomentFailed(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.moments[id]; ok {
		m.Status = models.MomentStatusFailed
	}
	return nil
}

func (s *fakeStore) GetAuthority(ctx context.Context, creatorID string) (*models.AuthorityProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.authorities[creatorID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetSponsor(ctx context.Context, id uint) (*models.Sponsor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.sponsors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sp
	return &cp, nil
}

func (s *fakeStore) ListAudience(ctx context.Context, region string, limit int) ([]string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audienceErr != nil {
		return nil, 0, s.audienceErr
	}
	var phones []string
	var total int64
	for _, sub := range s.subscribers {
		if !sub.OptedIn {
			continue
		}
		if region != models.RegionNational && !contains(sub.Regions, region) {
			continue
		}
		total++
		if len(phones) < limit {
			phones = append(phones, sub.PhoneNumber)
		}
	}
	return phones, total, nil
}

func contains(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}

func (s *fakeStore) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBroadcastID++
	b.ID = s.nextBroadcastID
	b.CreatedAt = time.Now()
	if b.Status == "" {
		b.Status = models.BroadcastStatusPending
	}
	cp := *b
	s.broadcasts[b.ID] = &cp
	return nil
}

func (s *fakeStore) GetBroadcast(ctx context.Context, id uint) (*models.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *fakeStore) HasActiveBroadcast(ctx context.Context, momentID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.broadcasts {
		if b.MomentID == momentID &&
			(b.Status == models.BroadcastStatusProcessing || b.Status == models.BroadcastStatusCompleted) {
			return true, nil
		}
	}
	return false, nil
}

// activeMomentClaimed mirrors the partial unique index on
// broadcasts.moment_id: only one broadcast per moment may hold an active
// status. Caller holds s.mu.
func (s *fakeStore) activeMomentClaimed(id, momentID uint) bool {
	for _, other := range s.broadcasts {
		if other.ID != id && other.MomentID == momentID &&
			(other.Status == models.BroadcastStatusProcessing || other.Status == models.BroadcastStatusCompleted) {
			return true
		}
	}
	return false
}

func (s *fakeStore) StartBroadcast(ctx context.Context, id uint, recipients, batches int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok || b.Status != models.BroadcastStatusPending || s.activeMomentClaimed(id, b.MomentID) {
		return false, nil
	}
	now := time.Now()
	b.Status = models.BroadcastStatusProcessing
	b.RecipientCount = recipients
	b.BatchesTotal = batches
	b.StartedAt = &now
	return true, nil
}

func (s *fakeStore) CompleteEmptyBroadcast(ctx context.Context, id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok || b.Status != models.BroadcastStatusPending || s.activeMomentClaimed(id, b.MomentID) {
		return false, nil
	}
	now := time.Now()
	b.Status = models.BroadcastStatusCompleted
	b.StartedAt = &now
	b.CompletedAt = &now
	return true, nil
}

func (s *fakeStore) FailBroadcast(ctx context.Context, id uint, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok || b.Status != models.BroadcastStatusPending {
		return false, nil
	}
	now := time.Now()
	b.Status = models.BroadcastStatusFailed
	b.ErrorMessage = reason
	b.CompletedAt = &now
	return true, nil
}

func (s *fakeStore) CompleteBroadcast(ctx context.Context, id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok || b.Status != models.BroadcastStatusProcessing || b.BatchesCompleted != b.BatchesTotal {
		return false, nil
	}
	now := time.Now()
	b.Status = models.BroadcastStatusCompleted
	b.CompletedAt = &now
	return true, nil
}

func (s *fakeStore) CreateBatches(ctx context.Context, batches []models.BroadcastBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range batches {
		s.nextBatchID++
		batches[i].ID = s.nextBatchID
		cp := batches[i]
		s.batches[cp.ID] = &cp
	}
	return nil
}

func (s *fakeStore) OpenBatches(ctx context.Context, broadcastID uint) ([]models.BroadcastBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []models.BroadcastBatch
	for _, b := range s.batches {
		if b.BroadcastID == broadcastID && b.Status != models.BatchStatusCompleted {
			open = append(open, *b)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Number < open[j].Number })
	return open, nil
}

func (s *fakeStore) ClaimBatch(ctx context.Context, id uint, from string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = models.BatchStatusProcessing
	return true, nil
}

func (s *fakeStore) CompleteBatch(ctx context.Context, batchID, broadcastID uint, success, failure int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeBatchFailures > 0 {
		s.completeBatchFailures--
		return errors.New("batch write refused")
	}
	b, ok := s.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	b.Status = models.BatchStatusCompleted
	b.SuccessCount = success
	b.FailureCount = failure
	if bc, ok := s.broadcasts[broadcastID]; ok {
		bc.SuccessCount += success
		bc.FailureCount += failure
		bc.BatchesCompleted++
	}
	return nil
}

func (s *fakeStore) StaleBroadcasts(ctx context.Context, cutoff time.Time) ([]models.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []models.Broadcast
	for _, b := range s.broadcasts {
		if (b.Status == models.BroadcastStatusPending || b.Status == models.BroadcastStatusProcessing) &&
			b.CreatedAt.Before(cutoff) {
			stale = append(stale, *b)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	return stale, nil
}
