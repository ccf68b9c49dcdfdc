package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"bloodlink/internal/models"
)

type DonorRepository struct {
	db *sql.DB
}

func NewDonorRepository(db *sql.DB) *DonorRepository {
	return &DonorRepository{db: db}
}

func (r *DonorRepository) Create(ctx context.Context, d *models.Donor) error {
	history, err := json.Marshal(d.DonationHistory)
	if err != nil {
		return fmt.Errorf("marshal donation history: %w", err)
	}
	query := `INSERT INTO donors (
			id, full_name, email, contact_number, age, gender, blood_group, weight_kg,
			longitude, latitude, address,
			cur_longitude, cur_latitude, cur_location_at,
			is_available, last_donation_date, total_donations,
			chronic_disease, on_medication, donation_history, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`

	var curLon, curLat sql.NullFloat64
	if d.CurrentLocation != nil {
		curLon = sql.NullFloat64{Float64: d.CurrentLocation.Longitude, Valid: true}
		curLat = sql.NullFloat64{Float64: d.CurrentLocation.Latitude, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, query,
		d.ID, d.FullName, d.Email, d.ContactNumber, d.Age, d.Gender, d.BloodGroup, d.WeightKg,
		d.Location.Longitude, d.Location.Latitude, d.Location.Address,
		curLon, curLat, nullTime(d.CurrentLocationAt),
		d.IsAvailable, nullTime(d.LastDonationDate), d.TotalDonations,
		d.ChronicDisease, d.OnMedication, history, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create donor: %w", err)
	}
	return nil
}

const donorColumns = `id, full_name, email, contact_number, age, gender, blood_group, weight_kg,
		longitude, latitude, address,
		cur_longitude, cur_latitude, cur_location_at,
		is_available, last_donation_date, total_donations,
		chronic_disease, on_medication, donation_history, created_at, updated_at`

func (r *DonorRepository) GetByID(ctx context.Context, id string) (*models.Donor, error) {
	query := `SELECT ` + donorColumns + ` FROM donors WHERE id=$1`
	d, err := scanDonor(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get donor by id: %w", err)
	}
	return d, nil
}

func (r *DonorRepository) FindAvailableByBloodGroups(ctx context.Context, groups []models.BloodGroup) ([]*models.Donor, error) {
	gs := make([]string, len(groups))
	for i, g := range groups {
		gs[i] = string(g)
	}
	query := `SELECT ` + donorColumns + ` FROM donors
		WHERE blood_group = ANY($1) AND is_available = TRUE`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(gs))
	if err != nil {
		return nil, fmt.Errorf("find donors: %w", err)
	}
	defer rows.Close()

	var res []*models.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r *DonorRepository) UpdateProfile(ctx context.Context, d *models.Donor) error {
	query := `UPDATE donors SET
			full_name=$1, contact_number=$2, age=$3, gender=$4, blood_group=$5, weight_kg=$6,
			longitude=$7, latitude=$8, address=$9,
			chronic_disease=$10, on_medication=$11, updated_at=NOW()
		WHERE id=$12`
	res, err := r.db.ExecContext(ctx, query,
		d.FullName, d.ContactNumber, d.Age, d.Gender, d.BloodGroup, d.WeightKg,
		d.Location.Longitude, d.Location.Latitude, d.Location.Address,
		d.ChronicDisease, d.OnMedication, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update donor: %w", err)
	}
	return requireRow(res, d.ID)
}

func (r *DonorRepository) SetAvailability(ctx context.Context, id string, available bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE donors SET is_available=$1, updated_at=NOW() WHERE id=$2`, available, id)
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	return requireRow(res, id)
}

func (r *DonorRepository) SetCurrentLocation(ctx context.Context, id string, loc models.Location, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE donors SET cur_longitude=$1, cur_latitude=$2, cur_location_at=$3, updated_at=NOW() WHERE id=$4`,
		loc.Longitude, loc.Latitude, at, id)
	if err != nil {
		return fmt.Errorf("set current location: %w", err)
	}
	return requireRow(res, id)
}

// RecordDonation applies the post-completion donor mutation in one statement:
// counter bump, cooldown clock reset, availability off, history append.
func (r *DonorRepository) RecordDonation(ctx context.Context, donorID, requestID string, at time.Time) error {
	rec, err := json.Marshal([]models.DonationRecord{{RequestID: requestID, DonatedOn: at}})
	if err != nil {
		return fmt.Errorf("marshal donation record: %w", err)
	}
	query := `UPDATE donors SET
			total_donations = total_donations + 1,
			last_donation_date = $1,
			is_available = FALSE,
			donation_history = donation_history || $2::jsonb,
			updated_at = NOW()
		WHERE id=$3`
	res, err := r.db.ExecContext(ctx, query, at, rec, donorID)
	if err != nil {
		return fmt.Errorf("record donation: %w", err)
	}
	return requireRow(res, donorID)
}

// ReenableAvailability flips donors back to available once their
// gender-specific cooldown has elapsed. Returns the number re-enabled.
func (r *DonorRepository) ReenableAvailability(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE donors SET is_available = TRUE, updated_at = NOW()
		WHERE is_available = FALSE
		  AND last_donation_date IS NOT NULL
		  AND last_donation_date <= $1 - (CASE WHEN gender = 'Female' THEN INTERVAL '120 days' ELSE INTERVAL '90 days' END)`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("reenable availability: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDonor(row rowScanner) (*models.Donor, error) {
	d := &models.Donor{}
	var (
		curLon, curLat   sql.NullFloat64
		curAt, lastDon   sql.NullTime
		history          []byte
	)
	err := row.Scan(
		&d.ID, &d.FullName, &d.Email, &d.ContactNumber, &d.Age, &d.Gender, &d.BloodGroup, &d.WeightKg,
		&d.Location.Longitude, &d.Location.Latitude, &d.Location.Address,
		&curLon, &curLat, &curAt,
		&d.IsAvailable, &lastDon, &d.TotalDonations,
		&d.ChronicDisease, &d.OnMedication, &history, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if curLon.Valid && curLat.Valid {
		d.CurrentLocation = &models.Location{Longitude: curLon.Float64, Latitude: curLat.Float64}
	}
	if curAt.Valid {
		d.CurrentLocationAt = curAt.Time
	}
	if lastDon.Valid {
		d.LastDonationDate = lastDon.Time
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &d.DonationHistory); err != nil {
			return nil, fmt.Errorf("unmarshal donation history: %w", err)
		}
	}
	return d, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func requireRow(res sql.Result, id string) error {
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("donor %s not found", id)
	}
	return nil
}
