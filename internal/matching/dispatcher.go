package matching

import (
	"time"

	"bloodlink/internal/models"
	"bloodlink/internal/notify"
)

const (
	similarScoreBand = 5
	similarKmBand    = 2.0
)

// Dispatcher turns ranked candidates into pending match records and emits
// the best-effort notifications for them.
type Dispatcher struct {
	notifier notify.Notifier
}

func NewDispatcher(notifier notify.Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier}
}

// notifyCount picks how many candidates to contact: units required plus the
// urgency buffer, widened to keep candidates nearly equal to the leader from
// being cut off arbitrarily.
func notifyCount(req *models.Request, candidates []Candidate) int {
	if len(candidates) == 0 {
		return 0
	}
	target := req.UnitsRequired + models.NotifyBuffer(req.Urgency)
	if target > len(candidates) {
		target = len(candidates)
	}

	// Widen past every candidate nearly equal to the leader, wherever it
	// ranks. The slice stays a prefix so no one scored above a notified
	// candidate is skipped.
	top := candidates[0]
	for i, c := range candidates {
		if top.Score-c.Score <= similarScoreBand && absKm(top.DistanceKm-c.DistanceKm) <= similarKmBand && i+1 > target {
			target = i + 1
		}
	}
	return target
}

// Assign appends pending matches for the chosen candidates, continuing the
// request's priority sequence, and returns the new records. The caller
// persists the request before Notify is called.
func (d *Dispatcher) Assign(req *models.Request, candidates []Candidate, now time.Time) []*models.Match {
	n := notifyCount(req, candidates)
	expiry := now.Add(models.ExpiryWindow(req.Urgency))
	priority := req.NextPriority()

	created := make([]*models.Match, 0, n)
	for _, c := range candidates[:n] {
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

// Notify tells each newly matched donor about the request. Delivery failures
// are ignored; state already lives on the request record.
func (d *Dispatcher) Notify(req *models.Request, matches []*models.Match, cascade bool) {
	event := notify.EventNewMatch
	if cascade {
		event = notify.EventCascadeMatch
	}
	for _, m := range matches {
		d.notifier.Notify(m.DonorID, event, map[string]interface{}{
			"request_id":  req.ID,
			"blood_group": string(req.BloodGroup),
			"urgency":     string(req.Urgency),
			"distance_km": m.DistanceKm,
			"score":       m.Score,
			"location":    req.Location.Address,
			"hospital":    req.Hospital,
			"expires_at":  m.ExpiresAt,
		})
	}
}

// NotifyNoCandidates informs the requester that the search came up empty.
// Soft failure, the request stays as-is.
func (d *Dispatcher) NotifyNoCandidates(req *models.Request) {
	d.notifier.Notify(req.ReceiverID, notify.EventNoCandidates, map[string]interface{}{
		"request_id":  req.ID,
		"blood_group": string(req.BloodGroup),
		"urgency":     string(req.Urgency),
	})
}

func absKm(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
