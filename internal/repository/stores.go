package repository

import (
	"context"
	"errors"
	"time"

	"bloodlink/internal/models"
)

// ErrVersionConflict is returned by RequestStore.Update when the optimistic
// version check fails. Callers reload and retry.
var ErrVersionConflict = errors.New("request version conflict")

type DonorStore interface {
	Create(ctx context.Context, d *models.Donor) error
	GetByID(ctx context.Context, id string) (*models.Donor, error)
	FindAvailableByBloodGroups(ctx context.Context, groups []models.BloodGroup) ([]*models.Donor, error)
	UpdateProfile(ctx context.Context, d *models.Donor) error
	SetAvailability(ctx context.Context, id string, available bool) error
	SetCurrentLocation(ctx context.Context, id string, loc models.Location, at time.Time) error
	RecordDonation(ctx context.Context, donorID, requestID string, at time.Time) error
	ReenableAvailability(ctx context.Context, now time.Time) (int64, error)
}

type RequestStore interface {
	Create(ctx context.Context, r *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	// Update persists the request if r.Version still matches the stored row,
	// then bumps r.Version. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, r *models.Request) error
	ListActive(ctx context.Context) ([]*models.Request, error)
	ListByReceiver(ctx context.Context, receiverID string) ([]*models.Request, error)
	ListByDonor(ctx context.Context, donorID string) ([]*models.Request, error)
}
