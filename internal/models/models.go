package models

import "time"

type BloodGroup string

const (
	BloodAPos  BloodGroup = "A+"
	BloodANeg  BloodGroup = "A-"
	BloodBPos  BloodGroup = "B+"
	BloodBNeg  BloodGroup = "B-"
	BloodABPos BloodGroup = "AB+"
	BloodABNeg BloodGroup = "AB-"
	BloodOPos  BloodGroup = "O+"
	BloodONeg  BloodGroup = "O-"
)

func AllBloodGroups() []BloodGroup {
	return []BloodGroup{
		BloodAPos, BloodANeg, BloodBPos, BloodBNeg,
		BloodABPos, BloodABNeg, BloodOPos, BloodONeg,
	}
}

func (b BloodGroup) Valid() bool {
	switch b {
	case BloodAPos, BloodANeg, BloodBPos, BloodBNeg,
		BloodABPos, BloodABNeg, BloodOPos, BloodONeg:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyCritical Urgency = "Critical"
	UrgencyUrgent   Urgency = "Urgent"
	UrgencyModerate Urgency = "Moderate"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

type MatchResponse string

const (
	ResponsePending    MatchResponse = "pending"
	ResponseAccepted   MatchResponse = "accepted"
	ResponseRejected   MatchResponse = "rejected"
	ResponseExpired    MatchResponse = "expired"
	ResponseSuperseded MatchResponse = "superseded"
)

type DonationStatus string

const (
	DonationScheduled DonationStatus = "scheduled"
	DonationStarted   DonationStatus = "started"
	DonationCompleted DonationStatus = "completed"
	DonationCancelled DonationStatus = "cancelled"
)

type RequestStatus string

const (
	StatusPending          RequestStatus = "pending"
	StatusMatched          RequestStatus = "matched"
	StatusPartiallyMatched RequestStatus = "partially_matched"
	StatusFullyMatched     RequestStatus = "fully_matched"
	StatusCompleted        RequestStatus = "completed"
	StatusCancelled        RequestStatus = "cancelled"
	StatusExpired          RequestStatus = "expired"
)

// Location holds a (longitude, latitude) pair.
type Location struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Address   string  `json:"address,omitempty"`
}

func (l Location) Usable() bool {
	return l.Longitude >= -180 && l.Longitude <= 180 &&
		l.Latitude >= -90 && l.Latitude <= 90 &&
		!(l.Longitude == 0 && l.Latitude == 0)
}

type DonationRecord struct {
	RequestID string    `json:"request_id"`
	DonatedOn time.Time `json:"donated_on"`
}

type Donor struct {
	ID                string           `json:"id"`
	FullName          string           `json:"full_name"`
	Email             string           `json:"email"`
	ContactNumber     string           `json:"contact_number"`
	Age               int              `json:"age"`
	Gender            Gender           `json:"gender"`
	BloodGroup        BloodGroup       `json:"blood_group"`
	WeightKg          float64          `json:"weight_kg,omitempty"`
	Location          Location         `json:"location"`
	CurrentLocation   *Location        `json:"current_location,omitempty"`
	CurrentLocationAt time.Time        `json:"current_location_at,omitempty"`
	IsAvailable       bool             `json:"is_available"`
	LastDonationDate  time.Time        `json:"last_donation_date,omitempty"`
	TotalDonations    int              `json:"total_donations"`
	ChronicDisease    bool             `json:"chronic_disease"`
	OnMedication      bool             `json:"on_medication"`
	DonationHistory   []DonationRecord `json:"donation_history,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// EffectiveLocation returns the donor's current location if it was refreshed
// within the freshness window, otherwise the stored registration location.
func (d *Donor) EffectiveLocation(now time.Time) Location {
	if d.CurrentLocation != nil && now.Sub(d.CurrentLocationAt) <= LocationFreshness {
		return *d.CurrentLocation
	}
	return d.Location
}

type Match struct {
	DonorID          string         `json:"donor_id"`
	Score            int            `json:"score"`
	DistanceKm       float64        `json:"distance_km"`
	Response         MatchResponse  `json:"response"`
	DonationStatus   DonationStatus `json:"donation_status"`
	UnitsCommitted   int            `json:"units_committed"`
	ConfirmationCode string         `json:"confirmation_code,omitempty"`
	Priority         int            `json:"priority"`
	ExpiresAt        time.Time      `json:"expires_at"`
	NotifiedAt       time.Time      `json:"notified_at"`
	RespondedAt      time.Time      `json:"responded_at,omitempty"`
	AcceptedAt       time.Time      `json:"accepted_at,omitempty"`
	StartedAt        time.Time      `json:"started_at,omitempty"`
	CompletedAt      time.Time      `json:"completed_at,omitempty"`
}

type Request struct {
	ID             string        `json:"id"`
	ReceiverID     string        `json:"receiver_id"`
	BloodGroup     BloodGroup    `json:"blood_group"`
	Urgency        Urgency       `json:"urgency"`
	UnitsRequired  int           `json:"units_required"`
	UnitsAccepted  int           `json:"units_accepted"`
	UnitsCompleted int           `json:"units_completed"`
	Location       Location      `json:"location"`
	Hospital       string        `json:"hospital,omitempty"`
	RequiredBy     time.Time     `json:"required_by"`
	Status         RequestStatus `json:"status"`
	Matches        []*Match      `json:"matches"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// MatchFor finds this donor's match record. Match lists are bounded to a few
// dozen entries, a linear scan is enough.
func (r *Request) MatchFor(donorID string) *Match {
	for _, m := range r.Matches {
		if m.DonorID == donorID {
			return m
		}
	}
	return nil
}

func (r *Request) HasDonor(donorID string) bool {
	return r.MatchFor(donorID) != nil
}

func (r *Request) Terminal() bool {
	return r.Status == StatusCancelled || r.Status == StatusExpired || r.Status == StatusCompleted
}

func (r *Request) AcceptedCount() int {
	n := 0
	for _, m := range r.Matches {
		if m.Response == ResponseAccepted {
			n++
		}
	}
	return n
}

// NextPriority continues the notification ordering across cascade rounds.
func (r *Request) NextPriority() int {
	max := 0
	for _, m := range r.Matches {
		if m.Priority > max {
			max = m.Priority
		}
	}
	return max + 1
}

// DeriveStatus recomputes a request's status from its counters and match
// list. Explicit terminal states are never overridden. First rule wins.
func DeriveStatus(current RequestStatus, unitsRequired, unitsAccepted, unitsCompleted, matchCount int) RequestStatus {
	switch {
	case current == StatusCancelled || current == StatusExpired:
		return current
	case unitsCompleted >= unitsRequired:
		return StatusCompleted
	case unitsAccepted >= unitsRequired:
		return StatusFullyMatched
	case unitsAccepted > 0:
		return StatusPartiallyMatched
	case matchCount > 0:
		return StatusMatched
	default:
		return StatusPending
	}
}

// Recompute applies DeriveStatus in place. Callers persist right after.
func (r *Request) Recompute() {
	r.Status = DeriveStatus(r.Status, r.UnitsRequired, r.UnitsAccepted, r.UnitsCompleted, len(r.Matches))
}
