package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"bloodlink/internal/models"
)

type RequestRepository struct {
	db *sql.DB
}

func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	matches, err := json.Marshal(req.Matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}
	query := `INSERT INTO requests (
			id, receiver_id, blood_group, urgency, units_required, units_accepted, units_completed,
			longitude, latitude, address, hospital, required_by, status, matches, version,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err = r.db.ExecContext(ctx, query,
		req.ID, req.ReceiverID, req.BloodGroup, req.Urgency,
		req.UnitsRequired, req.UnitsAccepted, req.UnitsCompleted,
		req.Location.Longitude, req.Location.Latitude, req.Location.Address, req.Hospital,
		req.RequiredBy, req.Status, matches, req.Version,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

const requestColumns = `id, receiver_id, blood_group, urgency, units_required, units_accepted, units_completed,
		longitude, latitude, address, hospital, required_by, status, matches, version,
		created_at, updated_at`

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id=$1`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request by id: %w", err)
	}
	return req, nil
}

// Update writes the request back with an optimistic version check. The
// accept path relies on this to stay conditionally atomic under concurrent
// donor responses.
func (r *RequestRepository) Update(ctx context.Context, req *models.Request) error {
	matches, err := json.Marshal(req.Matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}
	query := `UPDATE requests SET
			units_accepted=$1, units_completed=$2, status=$3, matches=$4,
			version=version+1, updated_at=NOW()
		WHERE id=$5 AND version=$6`
	res, err := r.db.ExecContext(ctx, query,
		req.UnitsAccepted, req.UnitsCompleted, req.Status, matches,
		req.ID, req.Version,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Either the row is gone or someone got there first. Disambiguate.
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM requests WHERE id=$1)`, req.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		if exists {
			return ErrVersionConflict
		}
		return fmt.Errorf("request %s not found", req.ID)
	}
	req.Version++
	return nil
}

func (r *RequestRepository) ListActive(ctx context.Context) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE status NOT IN ($1, $2, $3) ORDER BY created_at`
	return r.list(ctx, query, models.StatusCancelled, models.StatusExpired, models.StatusCompleted)
}

func (r *RequestRepository) ListByReceiver(ctx context.Context, receiverID string) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE receiver_id=$1 ORDER BY created_at DESC`
	return r.list(ctx, query, receiverID)
}

func (r *RequestRepository) ListByDonor(ctx context.Context, donorID string) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE matches @> $1::jsonb ORDER BY created_at DESC`
	needle, _ := json.Marshal([]map[string]string{{"donor_id": donorID}})
	return r.list(ctx, query, needle)
}

func (r *RequestRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Request, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var res []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func scanRequest(row rowScanner) (*models.Request, error) {
	req := &models.Request{}
	var matches []byte
	err := row.Scan(
		&req.ID, &req.ReceiverID, &req.BloodGroup, &req.Urgency,
		&req.UnitsRequired, &req.UnitsAccepted, &req.UnitsCompleted,
		&req.Location.Longitude, &req.Location.Latitude, &req.Location.Address, &req.Hospital,
		&req.RequiredBy, &req.Status, &matches, &req.Version,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		if err := json.Unmarshal(matches, &req.Matches); err != nil {
			return nil, fmt.Errorf("unmarshal matches: %w", err)
		}
	}
	return req, nil
}
