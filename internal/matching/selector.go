package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bloodlink/internal/geo"
	"bloodlink/internal/models"
	"bloodlink/internal/repository"
)

// Candidate is one donor ranked against a request.
type Candidate struct {
	Donor      *models.Donor
	Score      int
	DistanceKm float64
}

type Selector struct {
	donors repository.DonorStore
}

func NewSelector(donors repository.DonorStore) *Selector {
	return &Selector{donors: donors}
}

// Select ranks eligible donors for a request. radiusScale stretches the
// urgency radius (1 for the initial search, wider for cascade backfills).
// Donors in exclude are skipped. An empty result is not an error.
func (s *Selector) Select(ctx context.Context, req *models.Request, exclude map[string]bool, radiusScale float64, now time.Time) ([]Candidate, error) {
	if radiusScale <= 0 {
		radiusScale = 1
	}
	donors, err := s.donors.FindAvailableByBloodGroups(ctx, CompatibleDonors(req.BloodGroup))
	if err != nil {
		return nil, fmt.Errorf("query compatible donors: %w", err)
	}

	radius := models.SearchRadiusKm(req.Urgency) * radiusScale
	var candidates []Candidate
	for _, d := range donors {
		if exclude[d.ID] {
			continue
		}
		loc := d.EffectiveLocation(now)
		if !loc.Usable() {
			continue
		}
		dist := geo.DistanceKm(loc, req.Location)
		if dist > radius {
			continue
		}
		score := scoreAt(d, req, now, dist)
		if score <= models.MinCandidateScore {
			continue
		}
		candidates = append(candidates, Candidate{
			Donor:      d,
			Score:      score,
			DistanceKm: geo.RoundKm(dist),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].DistanceKm < candidates[j].DistanceKm
	})
	return candidates, nil
}
