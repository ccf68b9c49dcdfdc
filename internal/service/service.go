package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-uuid"

	"bloodlink/internal/audit"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/notify"
	"bloodlink/internal/repository"
)

// casRetries bounds how often a mutation is replayed after losing the
// optimistic version check.
const casRetries = 5

// Cascader runs one backfill pass over a single request. Satisfied by the
// cascade sweeper; injected to keep reject-triggered passes synchronous.
type Cascader interface {
	SweepRequest(ctx context.Context, requestID string) error
}

// Auditor takes transition records off the request path.
type Auditor interface {
	Log(record audit.TransitionLog)
}

type Service struct {
	donors     repository.DonorStore
	requests   repository.RequestStore
	selector   *matching.Selector
	dispatcher *matching.Dispatcher
	notifier   notify.Notifier
	auditor    Auditor
	cascader   Cascader

	now func() time.Time
}

func New(donors repository.DonorStore, requests repository.RequestStore,
	selector *matching.Selector, dispatcher *matching.Dispatcher,
	notifier notify.Notifier, auditor Auditor) *Service {
	return &Service{
		donors:     donors,
		requests:   requests,
		selector:   selector,
		dispatcher: dispatcher,
		notifier:   notifier,
		auditor:    auditor,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetCascader wires the reject-triggered backfill. Separate from New because
// the sweeper itself needs the selector and dispatcher.
func (s *Service) SetCascader(c Cascader) {
	s.cascader = c
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// --- donors -----------------------------------------------------------------

func (s *Service) RegisterDonor(ctx context.Context, d *models.Donor) error {
	if !d.BloodGroup.Valid() {
		return fmt.Errorf("%w: invalid blood group %q", ErrValidation, d.BloodGroup)
	}
	if d.FullName == "" || d.Email == "" {
		return fmt.Errorf("%w: full name and email are required", ErrValidation)
	}
	if !d.Location.Usable() {
		return fmt.Errorf("%w: invalid coordinates", ErrValidation)
	}
	if d.ID == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return fmt.Errorf("generate donor id: %w", err)
		}
		d.ID = id
	}
	now := s.now()
	d.CreatedAt = now
	d.UpdatedAt = now
	return s.donors.Create(ctx, d)
}

func (s *Service) GetDonor(ctx context.Context, id string) (*models.Donor, error) {
	d, err := s.donors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: donor %s", ErrNotFound, id)
	}
	return d, nil
}

func (s *Service) UpdateDonorProfile(ctx context.Context, d *models.Donor) error {
	if !d.BloodGroup.Valid() {
		return fmt.Errorf("%w: invalid blood group %q", ErrValidation, d.BloodGroup)
	}
	return s.donors.UpdateProfile(ctx, d)
}

func (s *Service) SetDonorAvailability(ctx context.Context, donorID string, available bool) error {
	return s.donors.SetAvailability(ctx, donorID, available)
}

func (s *Service) UpdateDonorLocation(ctx context.Context, donorID string, loc models.Location) error {
	if !loc.Usable() {
		return fmt.Errorf("%w: invalid coordinates", ErrValidation)
	}
	return s.donors.SetCurrentLocation(ctx, donorID, loc, s.now())
}

// --- requests ---------------------------------------------------------------

// CreateRequest persists the request and runs the initial match. A matching
// failure never fails creation; the request simply stays unmatched until the
// next sweep.
func (s *Service) CreateRequest(ctx context.Context, req *models.Request) (int, error) {
	if !req.BloodGroup.Valid() {
		return 0, fmt.Errorf("%w: invalid blood group %q", ErrValidation, req.BloodGroup)
	}
	if !req.Location.Usable() {
		return 0, fmt.Errorf("%w: invalid coordinates", ErrValidation)
	}
	if req.ReceiverID == "" {
		return 0, fmt.Errorf("%w: receiver id is required", ErrValidation)
	}
	if req.Urgency == "" {
		req.Urgency = models.UrgencyModerate
	}
	if req.UnitsRequired < 1 {
		req.UnitsRequired = 1
	}
	if req.ID == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return 0, fmt.Errorf("generate request id: %w", err)
		}
		req.ID = id
	}
	now := s.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.RequiredBy.IsZero() {
		req.RequiredBy = models.RequiredByDefault(req.Urgency, now)
	}
	req.Status = models.StatusPending
	if err := s.requests.Create(ctx, req); err != nil {
		return 0, err
	}

	matched, err := s.matchRequest(ctx, req, now)
	if err != nil {
		log.Printf("Initial matching for request %s failed: %v", req.ID, err)
		return 0, nil
	}
	return matched, nil
}

func (s *Service) matchRequest(ctx context.Context, req *models.Request, now time.Time) (int, error) {
	candidates, err := s.selector.Select(ctx, req, nil, 1, now)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		s.dispatcher.NotifyNoCandidates(req)
		return 0, nil
	}
	created := s.dispatcher.Assign(req, candidates, now)
	req.Recompute()
	if err := s.requests.Update(ctx, req); err != nil {
		return 0, err
	}
	s.audit(req.ID, "", "", string(models.ResponsePending),
		fmt.Sprintf("notified %d donors", len(created)))
	s.dispatcher.Notify(req, created, false)
	return len(created), nil
}

func (s *Service) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return req, nil
}

func (s *Service) ListRequestsByReceiver(ctx context.Context, receiverID string) ([]*models.Request, error) {
	return s.requests.ListByReceiver(ctx, receiverID)
}

func (s *Service) ListRequestsByDonor(ctx context.Context, donorID string) ([]*models.Request, error) {
	return s.requests.ListByDonor(ctx, donorID)
}

func (s *Service) CancelRequest(ctx context.Context, requestID, receiverID string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		req, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil || (receiverID != "" && req.ReceiverID != receiverID) {
			return fmt.Errorf("%w: request %s", ErrNotFound, requestID)
		}
		if req.Status == models.StatusCancelled {
			return nil
		}
		old := req.Status
		req.Status = models.StatusCancelled
		if err := s.requests.Update(ctx, req); err != nil {
			if err == repository.ErrVersionConflict {
				continue
			}
			return err
		}
		s.audit(requestID, "", string(old), string(models.StatusCancelled), "request cancelled")
		return nil
	}
	return repository.ErrVersionConflict
}

// --- donor responses --------------------------------------------------------

// Accept processes a donor's acceptance. The read-modify-write is replayed
// under an optimistic version check so two concurrent accepts can never push
// unitsAccepted past unitsRequired.
func (s *Service) Accept(ctx context.Context, requestID, donorID string) (*models.Request, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		req, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
		}
		if req.Terminal() {
			return nil, fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
		}
		m := req.MatchFor(donorID)
		if m == nil {
			return nil, fmt.Errorf("%w: donor %s is not matched to request %s", ErrNotFound, donorID, requestID)
		}
		if m.Response == models.ResponseSuperseded {
			// Lost the capacity race to another donor.
			return nil, fmt.Errorf("%w: match superseded", ErrConflict)
		}
		if m.Response != models.ResponsePending {
			return nil, fmt.Errorf("%w: match already %s", ErrInvalidTransition, m.Response)
		}

		now := s.now()
		if req.UnitsAccepted >= req.UnitsRequired {
			// Capacity already reached: this donor loses the race.
			m.Response = models.ResponseSuperseded
			m.RespondedAt = now
			req.Recompute()
			if err := s.requests.Update(ctx, req); err != nil {
				if err == repository.ErrVersionConflict {
					continue
				}
				return nil, err
			}
			s.audit(requestID, donorID, string(models.ResponsePending), string(models.ResponseSuperseded),
				"accept after capacity reached")
			return nil, ErrConflict
		}

		code, err := newConfirmationCode()
		if err != nil {
			return nil, err
		}
		m.Response = models.ResponseAccepted
		m.RespondedAt = now
		m.AcceptedAt = now
		m.ConfirmationCode = code
		req.UnitsAccepted += m.UnitsCommitted

		if req.UnitsAccepted >= req.UnitsRequired {
			for _, other := range req.Matches {
				if other != m && other.Response == models.ResponsePending {
					other.Response = models.ResponseSuperseded
					other.RespondedAt = now
				}
			}
		}
		req.Recompute()
		if err := s.requests.Update(ctx, req); err != nil {
			if err == repository.ErrVersionConflict {
				continue
			}
			return nil, err
		}
		s.audit(requestID, donorID, string(models.ResponsePending), string(models.ResponseAccepted), "donor accepted")

		// The confirmation code goes to the requester out-of-band; the
		// donor side only ever sees "accepted".
		s.notifier.Notify(req.ReceiverID, notify.EventRequestAccepted, map[string]interface{}{
			"request_id":        requestID,
			"donor_id":          donorID,
			"score":             m.Score,
			"distance_km":       m.DistanceKm,
			"confirmation_code": code,
			"units_accepted":    req.UnitsAccepted,
		})
		return req, nil
	}
	return nil, repository.ErrVersionConflict
}

// Reject records a donor's refusal and immediately runs a cascade pass so
// expired slots get backfilled without waiting for the next sweep.
func (s *Service) Reject(ctx context.Context, requestID, donorID string) (*models.Request, error) {
	var result *models.Request
	for attempt := 0; attempt < casRetries; attempt++ {
		req, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
		}
		if req.Terminal() {
			return nil, fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
		}
		m := req.MatchFor(donorID)
		if m == nil {
			return nil, fmt.Errorf("%w: donor %s is not matched to request %s", ErrNotFound, donorID, requestID)
		}
		if m.Response != models.ResponsePending {
			return nil, fmt.Errorf("%w: match already %s", ErrInvalidTransition, m.Response)
		}

		now := s.now()
		m.Response = models.ResponseRejected
		m.RespondedAt = now
		m.ConfirmationCode = ""
		req.Recompute()
		if err := s.requests.Update(ctx, req); err != nil {
			if err == repository.ErrVersionConflict {
				continue
			}
			return nil, err
		}
		result = req
		break
	}
	if result == nil {
		return nil, repository.ErrVersionConflict
	}

	s.audit(requestID, donorID, string(models.ResponsePending), string(models.ResponseRejected), "donor rejected")
	s.notifier.Notify(result.ReceiverID, notify.EventRequestRejected, map[string]interface{}{
		"request_id": requestID,
		"donor_id":   donorID,
	})

	if s.cascader != nil {
		if err := s.cascader.SweepRequest(ctx, requestID); err != nil {
			log.Printf("Cascade after reject on request %s failed: %v", requestID, err)
		}
	}
	return result, nil
}

// --- donation lifecycle -----------------------------------------------------

// StartDonation authorizes the donation with the donor's confirmation code.
func (s *Service) StartDonation(ctx context.Context, requestID, receiverID, donorID, code string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		req, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil || (receiverID != "" && req.ReceiverID != receiverID) {
			return fmt.Errorf("%w: request %s", ErrNotFound, requestID)
		}
		if req.Status == models.StatusCancelled {
			return fmt.Errorf("%w: request is cancelled", ErrInvalidTransition)
		}
		m := req.MatchFor(donorID)
		if m == nil {
			return fmt.Errorf("%w: donor %s is not matched to request %s", ErrNotFound, donorID, requestID)
		}
		if m.Response != models.ResponseAccepted {
			return fmt.Errorf("%w: donor has not accepted", ErrInvalidTransition)
		}
		if m.DonationStatus != models.DonationScheduled {
			return fmt.Errorf("%w: donation is %s", ErrInvalidTransition, m.DonationStatus)
		}
		if m.ConfirmationCode == "" {
			return fmt.Errorf("%w: no confirmation code set", ErrInvalidTransition)
		}
		if m.ConfirmationCode != code {
			return fmt.Errorf("%w: confirmation code mismatch", ErrInvalidTransition)
		}

		m.DonationStatus = models.DonationStarted
		m.StartedAt = s.now()
		if err := s.requests.Update(ctx, req); err != nil {
			if err == repository.ErrVersionConflict {
				continue
			}
			return err
		}
		s.audit(requestID, donorID, string(models.DonationScheduled), string(models.DonationStarted), "donation started")
		s.notifier.Notify(donorID, notify.EventDonationStarted, map[string]interface{}{
			"request_id": requestID,
		})
		return nil
	}
	return repository.ErrVersionConflict
}

// CompleteDonation finishes the donation: bumps the request's completed
// units, then flips the donor into cooldown.
func (s *Service) CompleteDonation(ctx context.Context, requestID, receiverID, donorID string, unitsDonated int) error {
	if unitsDonated < 1 {
		unitsDonated = 1
	}
	for attempt := 0; attempt < casRetries; attempt++ {
		req, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil || (receiverID != "" && req.ReceiverID != receiverID) {
			return fmt.Errorf("%w: request %s", ErrNotFound, requestID)
		}
		if req.Status == models.StatusCancelled {
			return fmt.Errorf("%w: request is cancelled", ErrInvalidTransition)
		}
		m := req.MatchFor(donorID)
		if m == nil {
			return fmt.Errorf("%w: donor %s is not matched to request %s", ErrNotFound, donorID, requestID)
		}
		if m.DonationStatus != models.DonationStarted {
			return fmt.Errorf("%w: donation is %s", ErrInvalidTransition, m.DonationStatus)
		}

		now := s.now()
		m.DonationStatus = models.DonationCompleted
		m.CompletedAt = now
		m.ConfirmationCode = ""
		req.UnitsCompleted += unitsDonated
		req.Recompute()
		if err := s.requests.Update(ctx, req); err != nil {
			if err == repository.ErrVersionConflict {
				continue
			}
			return err
		}

		if err := s.donors.RecordDonation(ctx, donorID, requestID, now); err != nil {
			log.Printf("Error recording donation for donor %s: %v", donorID, err)
		}
		s.audit(requestID, donorID, string(models.DonationStarted), string(models.DonationCompleted), "donation completed")
		s.notifier.Notify(req.ReceiverID, notify.EventDonationComplete, map[string]interface{}{
			"request_id":      requestID,
			"donor_id":        donorID,
			"units_donated":   unitsDonated,
			"units_completed": req.UnitsCompleted,
			"status":          string(req.Status),
		})
		return nil
	}
	return repository.ErrVersionConflict
}

func (s *Service) audit(requestID, donorID, oldState, newState, msg string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Log(audit.TransitionLog{
		Timestamp: s.now(),
		RequestID: requestID,
		DonorID:   donorID,
		OldState:  oldState,
		NewState:  newState,
		Message:   msg,
	})
}
