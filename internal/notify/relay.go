package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"bloodlink/internal/repository"
)

// Publisher is what the relay pushes drained notifications through.
type Publisher interface {
	Publish(topic, key string, message []byte) error
}

// Relay drains the notification outbox to Kafka on a poll interval. Adapted
// outbox pattern: a row survives until publish succeeds, failures back off
// per attempt and park after maxAttempts.
type Relay struct {
	outbox       repository.NotificationOutbox
	producer     Publisher
	topic        string
	pollInterval time.Duration
	limit        int
	maxAttempts  int
	retryDelay   time.Duration
}

func NewRelay(outbox repository.NotificationOutbox, producer Publisher, topic string, pollInterval time.Duration, limit int) *Relay {
	return &Relay{
		outbox:       outbox,
		producer:     producer,
		topic:        topic,
		pollInterval: pollInterval,
		limit:        limit,
		maxAttempts:  3,
		retryDelay:   2 * time.Second,
	}
}

func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainPending(ctx)
			ticker.Reset(r.pollInterval)
		}
	}
}

func (r *Relay) drainPending(ctx context.Context) {
	tasks, err := r.outbox.GetPending(ctx, r.limit, r.maxAttempts)
	if err != nil {
		log.Printf("Error fetching pending notifications: %v", err)
		return
	}
	for _, task := range tasks {
		if err := r.outbox.MarkProcessing(ctx, task.ID); err != nil {
			log.Printf("Error marking notification %d as PROCESSING: %v", task.ID, err)
			continue
		}

		body, err := json.Marshal(map[string]interface{}{
			"target_id": task.TargetID,
			"event":     task.Event,
			"payload":   json.RawMessage(task.Payload),
		})
		if err != nil {
			log.Printf("Error encoding notification %d: %v", task.ID, err)
			continue
		}

		if err := r.producer.Publish(r.topic, task.TargetID, body); err != nil {
			r.recordFailure(ctx, task, err)
			continue
		}
		if err := r.outbox.Delete(ctx, task.ID); err != nil {
			log.Printf("Error deleting notification %d after publish: %v", task.ID, err)
		}
	}
}

func (r *Relay) recordFailure(ctx context.Context, task *repository.NotificationTask, err error) {
	newAttempt := task.AttemptCount + 1
	var newStatus repository.NotificationStatus
	if newAttempt >= r.maxAttempts {
		newStatus = repository.NotificationStatusNoAttemptsLeft
	} else {
		newStatus = repository.NotificationStatusFailed
	}
	nextAttempt := time.Now().Add(r.retryDelay)
	if errUpd := r.outbox.UpdateFailure(ctx, task.ID, newAttempt, newStatus, nextAttempt); errUpd != nil {
		log.Printf("Error updating notification %d on failure: %v", task.ID, errUpd)
	}
	log.Printf("Failed to publish notification %d: %v", task.ID, err)
}
