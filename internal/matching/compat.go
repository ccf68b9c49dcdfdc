package matching

import "bloodlink/internal/models"

// compatibility maps a recipient blood group to the donor groups that may
// give to it. O- donates to everyone, AB+ receives from everyone.
var compatibility = map[models.BloodGroup][]models.BloodGroup{
	models.BloodAPos:  {models.BloodAPos, models.BloodANeg, models.BloodOPos, models.BloodONeg},
	models.BloodANeg:  {models.BloodANeg, models.BloodONeg},
	models.BloodBPos:  {models.BloodBPos, models.BloodBNeg, models.BloodOPos, models.BloodONeg},
	models.BloodBNeg:  {models.BloodBNeg, models.BloodONeg},
	models.BloodABPos: {models.BloodAPos, models.BloodANeg, models.BloodBPos, models.BloodBNeg, models.BloodABPos, models.BloodABNeg, models.BloodOPos, models.BloodONeg},
	models.BloodABNeg: {models.BloodANeg, models.BloodBNeg, models.BloodABNeg, models.BloodONeg},
	models.BloodOPos:  {models.BloodOPos, models.BloodONeg},
	models.BloodONeg:  {models.BloodONeg},
}

// CompatibleDonors returns the donor blood groups acceptable for a recipient.
func CompatibleDonors(recipient models.BloodGroup) []models.BloodGroup {
	groups := compatibility[recipient]
	out := make([]models.BloodGroup, len(groups))
	copy(out, groups)
	return out
}

// Compatible reports whether donor blood may be given to the recipient.
func Compatible(recipient, donor models.BloodGroup) bool {
	for _, g := range compatibility[recipient] {
		if g == donor {
			return true
		}
	}
	return false
}
