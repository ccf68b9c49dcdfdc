package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"bloodlink/internal/models"
)

// In-memory store implementations mirroring the Postgres repositories,
// including the optimistic version check on request updates. Used by tests
// and available for local runs without a database.

type MemoryDonorStore struct {
	mu     sync.RWMutex
	donors map[string]*models.Donor
}

func NewMemoryDonorStore() *MemoryDonorStore {
	return &MemoryDonorStore{donors: make(map[string]*models.Donor)}
}

func (s *MemoryDonorStore) Create(_ context.Context, d *models.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.donors[d.ID]; exists {
		return fmt.Errorf("donor %s already exists", d.ID)
	}
	s.donors[d.ID] = cloneDonor(d)
	return nil
}

func (s *MemoryDonorStore) GetByID(_ context.Context, id string) (*models.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.donors[id]
	if !ok {
		return nil, nil
	}
	return cloneDonor(d), nil
}

func (s *MemoryDonorStore) FindAvailableByBloodGroups(_ context.Context, groups []models.BloodGroup) ([]*models.Donor, error) {
	want := make(map[models.BloodGroup]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*models.Donor
	for _, d := range s.donors {
		if d.IsAvailable && want[d.BloodGroup] {
			res = append(res, cloneDonor(d))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryDonorStore) UpdateProfile(_ context.Context, d *models.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.donors[d.ID]
	if !ok {
		return fmt.Errorf("donor %s not found", d.ID)
	}
	cur.FullName = d.FullName
	cur.ContactNumber = d.ContactNumber
	cur.Age = d.Age
	cur.Gender = d.Gender
	cur.BloodGroup = d.BloodGroup
	cur.WeightKg = d.WeightKg
	cur.Location = d.Location
	cur.ChronicDisease = d.ChronicDisease
	cur.OnMedication = d.OnMedication
	return nil
}

func (s *MemoryDonorStore) SetAvailability(_ context.Context, id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donors[id]
	if !ok {
		return fmt.Errorf("donor %s not found", id)
	}
	d.IsAvailable = available
	return nil
}

func (s *MemoryDonorStore) SetCurrentLocation(_ context.Context, id string, loc models.Location, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donors[id]
	if !ok {
		return fmt.Errorf("donor %s not found", id)
	}
	d.CurrentLocation = &loc
	d.CurrentLocationAt = at
	return nil
}

func (s *MemoryDonorStore) RecordDonation(_ context.Context, donorID, requestID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donors[donorID]
	if !ok {
		return fmt.Errorf("donor %s not found", donorID)
	}
	d.TotalDonations++
	d.LastDonationDate = at
	d.IsAvailable = false
	d.DonationHistory = append(d.DonationHistory, models.DonationRecord{RequestID: requestID, DonatedOn: at})
	return nil
}

func (s *MemoryDonorStore) ReenableAvailability(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.donors {
		if !d.IsAvailable && !d.LastDonationDate.IsZero() && !d.InCooldown(now) {
			d.IsAvailable = true
			n++
		}
	}
	return n, nil
}

type MemoryRequestStore struct {
	mu       sync.Mutex
	requests map[string]*models.Request
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]*models.Request)}
}

func (s *MemoryRequestStore) Create(_ context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *MemoryRequestStore) GetByID(_ context.Context, id string) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	return cloneRequest(r), nil
}

func (s *MemoryRequestStore) Update(_ context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[r.ID]
	if !ok {
		return fmt.Errorf("request %s not found", r.ID)
	}
	if cur.Version != r.Version {
		return ErrVersionConflict
	}
	stored := cloneRequest(r)
	stored.Version++
	s.requests[r.ID] = stored
	r.Version++
	return nil
}

func (s *MemoryRequestStore) ListActive(_ context.Context) ([]*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*models.Request
	for _, r := range s.requests {
		if !r.Terminal() {
			res = append(res, cloneRequest(r))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryRequestStore) ListByReceiver(_ context.Context, receiverID string) ([]*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*models.Request
	for _, r := range s.requests {
		if r.ReceiverID == receiverID {
			res = append(res, cloneRequest(r))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryRequestStore) ListByDonor(_ context.Context, donorID string) ([]*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*models.Request
	for _, r := range s.requests {
		if r.HasDonor(donorID) {
			res = append(res, cloneRequest(r))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func cloneDonor(d *models.Donor) *models.Donor {
	return deepCopy(d, &models.Donor{})
}

func cloneRequest(r *models.Request) *models.Request {
	return deepCopy(r, &models.Request{})
}

func deepCopy[T any](src, dst *T) *T {
	b, err := json.Marshal(src)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		panic(err)
	}
	return dst
}
