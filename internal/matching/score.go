package matching

import (
	"time"

	"bloodlink/internal/geo"
	"bloodlink/internal/models"
)

const maxScore = 100

// Eligible applies the donor-side hard gates: blood compatibility,
// availability, and the gender-specific donation cooldown. A donor failing
// any of them scores zero unconditionally.
func Eligible(d *models.Donor, recipient models.BloodGroup, now time.Time) bool {
	if !Compatible(recipient, d.BloodGroup) {
		return false
	}
	if !d.IsAvailable {
		return false
	}
	if d.InCooldown(now) {
		return false
	}
	return true
}

// Score rates a donor against a request on a 0-100 scale. Distance is taken
// from the donor's effective location at the time of scoring.
func Score(d *models.Donor, r *models.Request, now time.Time) int {
	return scoreAt(d, r, now, geo.DistanceKm(d.EffectiveLocation(now), r.Location))
}

func scoreAt(d *models.Donor, r *models.Request, now time.Time, distanceKm float64) int {
	if !Eligible(d, r.BloodGroup, now) {
		return 0
	}

	score := 40
	if d.BloodGroup == r.BloodGroup {
		score += 5
	}

	switch {
	case distanceKm <= 5:
		score += 30
	case distanceKm <= 10:
		score += 25
	case distanceKm <= 20:
		score += 20
	case distanceKm <= 50:
		score += 10
	}

	if d.IsAvailable {
		score += 15
	}

	switch {
	case !d.ChronicDisease && !d.OnMedication:
		score += 10
	case !d.ChronicDisease || !d.OnMedication:
		score += 5
	}

	switch {
	case d.TotalDonations >= 5:
		score += 5
	case d.TotalDonations >= 3:
		score += 3
	case d.TotalDonations >= 1:
		score += 2
	}

	if r.Urgency == models.UrgencyCritical {
		score += 5
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}
