package models

import "time"

// Urgency-derived policy values. These are explicit functions rather than
// struct defaults so the rules can be tested on their own and are computed
// exactly once at creation time.

const (
	// LocationFreshness bounds how old a donor's live location may be
	// before scoring falls back to the registration location.
	LocationFreshness = 24 * time.Hour

	// Donation cooldowns before a donor is eligible again.
	CooldownMale   = 90 * 24 * time.Hour
	CooldownFemale = 120 * 24 * time.Hour

	// CascadeRadiusScale widens the search when backfilling expired slots.
	CascadeRadiusScale = 1.5

	// MinCandidateScore is the hard floor below which a candidate is dropped.
	MinCandidateScore = 30
)

// SearchRadiusKm returns the candidate search radius for an urgency tier.
func SearchRadiusKm(u Urgency) float64 {
	switch u {
	case UrgencyCritical:
		return 15
	case UrgencyUrgent:
		return 10
	case UrgencyModerate:
		return 5
	default:
		return 10
	}
}

// NotifyBuffer is how many donors beyond the required units get notified.
func NotifyBuffer(u Urgency) int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyUrgent:
		return 2
	default:
		return 1
	}
}

// ExpiryWindow is how long a notified donor has to respond.
func ExpiryWindow(u Urgency) time.Duration {
	switch u {
	case UrgencyCritical:
		return 6 * time.Hour
	case UrgencyUrgent:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// RequiredByDefault computes the default required-by deadline for a new
// request from its urgency.
func RequiredByDefault(u Urgency, createdAt time.Time) time.Time {
	switch u {
	case UrgencyCritical:
		return createdAt.Add(2 * time.Hour)
	case UrgencyUrgent:
		return createdAt.Add(6 * time.Hour)
	default:
		return createdAt.Add(24 * time.Hour)
	}
}

// CooldownFor returns the gender-specific donation cooldown.
func CooldownFor(g Gender) time.Duration {
	if g == GenderFemale {
		return CooldownFemale
	}
	return CooldownMale
}

// InCooldown reports whether the donor is still inside their donation
// cooldown. Donors who never donated are always clear.
func (d *Donor) InCooldown(now time.Time) bool {
	if d.LastDonationDate.IsZero() {
		return false
	}
	return now.Sub(d.LastDonationDate) < CooldownFor(d.Gender)
}
