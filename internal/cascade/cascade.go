package cascade

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/notify"
	"bloodlink/internal/repository"
)

// Sweeper expires unanswered matches and backfills unmet need from a wider
// search radius. One sweep goroutine drives the periodic pass; a per-request
// lock keeps a reject-triggered pass from overlapping it.
type Sweeper struct {
	requests   repository.RequestStore
	selector   *matching.Selector
	dispatcher *matching.Dispatcher
	notifier   notify.Notifier

	interval time.Duration
	locks    sync.Map // request id -> *sync.Mutex
	now      func() time.Time
}

func NewSweeper(requests repository.RequestStore, selector *matching.Selector,
	dispatcher *matching.Dispatcher, notifier notify.Notifier, interval time.Duration) *Sweeper {
	return &Sweeper{
		requests:   requests,
		selector:   selector,
		dispatcher: dispatcher,
		notifier:   notifier,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs the periodic sweep until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepAll(ctx)
			ticker.Reset(s.interval)
		}
	}
}

// SweepAll passes over every non-terminal request. Store errors abandon the
// cycle; the next tick re-derives everything from persisted state.
func (s *Sweeper) SweepAll(ctx context.Context) {
	reqs, err := s.requests.ListActive(ctx)
	if err != nil {
		log.Printf("Error listing active requests for sweep: %v", err)
		return
	}
	for _, req := range reqs {
		if err := s.SweepRequest(ctx, req.ID); err != nil {
			log.Printf("Error sweeping request %s: %v", req.ID, err)
		}
	}
}

// SweepRequest runs one cascade pass over a single request:
// expire stale pending matches, then backfill up to one replacement per
// expired slot from a 1.5x radius, never re-notifying a known donor.
func (s *Sweeper) SweepRequest(ctx context.Context, requestID string) error {
	mu := s.lockFor(requestID)
	mu.Lock()
	defer mu.Unlock()

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("request %s not found", requestID)
	}
	if req.Terminal() {
		return nil
	}

	now := s.now()
	expired := 0
	for _, m := range req.Matches {
		if m.Response == models.ResponsePending && now.After(m.ExpiresAt) {
			m.Response = models.ResponseExpired
			m.RespondedAt = now
			expired++
		}
	}
	if expired == 0 {
		return nil
	}

	// Expiry and backfill commit together: a failed pass leaves the request
	// untouched in the store so the next tick redoes the whole sweep.
	var created []*models.Match
	exhausted := false
	remaining := req.UnitsRequired - req.UnitsAccepted
	if remaining > 0 {
		exclude := make(map[string]bool, len(req.Matches))
		for _, m := range req.Matches {
			exclude[m.DonorID] = true
		}
		candidates, err := s.selector.Select(ctx, req, exclude, models.CascadeRadiusScale, now)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			exhausted = true
		} else {
			limit := remaining
			if expired < limit {
				limit = expired
			}
			if len(candidates) > limit {
				candidates = candidates[:limit]
			}
			created = s.appendMatches(req, candidates, now)
		}
	}

	req.Recompute()
	if err := s.requests.Update(ctx, req); err != nil {
		return err
	}
	if exhausted {
		s.notifier.Notify(req.ReceiverID, notify.EventCascadeFailed, map[string]interface{}{
			"request_id":  req.ID,
			"blood_group": string(req.BloodGroup),
			"urgency":     string(req.Urgency),
			"suggestion":  "consider escalating urgency",
		})
		return nil
	}
	if len(created) > 0 {
		s.dispatcher.Notify(req, created, true)
	}
	return nil
}

// appendMatches adds replacement pending matches, continuing the priority
// sequence. The dispatcher's count policy does not apply here: the slice is
// already capped to min(remaining need, expired slots).
func (s *Sweeper) appendMatches(req *models.Request, candidates []matching.Candidate, now time.Time) []*models.Match {
	expiry := now.Add(models.ExpiryWindow(req.Urgency))
	priority := req.NextPriority()
	created := make([]*models.Match, 0, len(candidates))
	for _, c := range candidates {
		m := &models.Match{
			DonorID:        c.Donor.ID,
			Score:          c.Score,
			DistanceKm:     c.DistanceKm,
			Response:       models.ResponsePending,
			DonationStatus: models.DonationScheduled,
			UnitsCommitted: 1,
			Priority:       priority,
			ExpiresAt:      expiry,
			NotifiedAt:     now,
		}
		priority++
		req.Matches = append(req.Matches, m)
		created = append(created, m)
	}
	return created
}

func (s *Sweeper) lockFor(requestID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(requestID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
