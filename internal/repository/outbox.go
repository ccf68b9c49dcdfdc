package repository

import (
	"context"
	"database/sql"
	"time"
)

type NotificationStatus string

const (
	NotificationStatusCreated        NotificationStatus = "CREATED"
	NotificationStatusProcessing     NotificationStatus = "PROCESSING"
	NotificationStatusFailed         NotificationStatus = "FAILED"
	NotificationStatusNoAttemptsLeft NotificationStatus = "NO_ATTEMPTS_LEFT"
)

// NotificationTask is one queued notification. State mutation enqueues it;
// the relay drains it to Kafka independently, so a broker outage can never
// roll back a match transition.
type NotificationTask struct {
	ID            int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	TargetID      string
	Event         string
	Payload       []byte
	Status        NotificationStatus
	AttemptCount  int
	NextAttemptAt sql.NullTime
}

type NotificationOutbox interface {
	Enqueue(ctx context.Context, targetID, event string, payload []byte) error
	GetPending(ctx context.Context, limit, maxAttempts int) ([]*NotificationTask, error)
	MarkProcessing(ctx context.Context, taskID int) error
	Delete(ctx context.Context, taskID int) error
	UpdateFailure(ctx context.Context, taskID, attemptCount int, newStatus NotificationStatus, nextAttemptAt time.Time) error
}

type PostgresNotificationOutbox struct {
	db *sql.DB
}

func NewPostgresNotificationOutbox(db *sql.DB) *PostgresNotificationOutbox {
	return &PostgresNotificationOutbox{db: db}
}

func (r *PostgresNotificationOutbox) Enqueue(ctx context.Context, targetID, event string, payload []byte) error {
	query := `
		INSERT INTO notification_tasks (created_at, updated_at, target_id, event, payload, status, attempt_count)
		VALUES (NOW(), NOW(), $1, $2, $3, $4, 0)
	`
	_, err := r.db.ExecContext(ctx, query, targetID, event, payload, NotificationStatusCreated)
	return err
}

func (r *PostgresNotificationOutbox) GetPending(ctx context.Context, limit, maxAttempts int) ([]*NotificationTask, error) {
	query := `
		SELECT id, created_at, updated_at, target_id, event, payload, status, attempt_count, next_attempt_at
		FROM notification_tasks
		WHERE status IN ($1, $2)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		  AND attempt_count < $3
		ORDER BY created_at
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, NotificationStatusCreated, NotificationStatusFailed, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []*NotificationTask
	for rows.Next() {
		t := &NotificationTask{}
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt,
			&t.TargetID, &t.Event, &t.Payload,
			&t.Status, &t.AttemptCount, &t.NextAttemptAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *PostgresNotificationOutbox) MarkProcessing(ctx context.Context, taskID int) error {
	query := `UPDATE notification_tasks SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, NotificationStatusProcessing, taskID)
	return err
}

func (r *PostgresNotificationOutbox) Delete(ctx context.Context, taskID int) error {
	query := `DELETE FROM notification_tasks WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, taskID)
	return err
}

func (r *PostgresNotificationOutbox) UpdateFailure(ctx context.Context, taskID, attemptCount int, newStatus NotificationStatus, nextAttemptAt time.Time) error {
	query := `
		UPDATE notification_tasks
		SET status = $1, attempt_count = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, newStatus, attemptCount, nextAttemptAt, taskID)
	return err
}
