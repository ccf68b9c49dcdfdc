package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodlink/internal/notify"
	"bloodlink/internal/repository"
)

type fakeOutbox struct {
	nextID int
	tasks  map[int]*repository.NotificationTask
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{tasks: make(map[int]*repository.NotificationTask)}
}

func (f *fakeOutbox) Enqueue(_ context.Context, targetID, event string, payload []byte) error {
	f.nextID++
	f.tasks[f.nextID] = &repository.NotificationTask{
		ID:        f.nextID,
		CreatedAt: time.Now(),
		TargetID:  targetID,
		Event:     event,
		Payload:   payload,
		Status:    repository.NotificationStatusCreated,
	}
	return nil
}

func (f *fakeOutbox) GetPending(_ context.Context, limit, maxAttempts int) ([]*repository.NotificationTask, error) {
	var out []*repository.NotificationTask
	for _, t := range f.tasks {
		if len(out) >= limit {
			break
		}
		if t.Status == repository.NotificationStatusCreated || t.Status == repository.NotificationStatusFailed {
			if t.AttemptCount < maxAttempts && (!t.NextAttemptAt.Valid || !t.NextAttemptAt.Time.After(time.Now())) {
				cp := *t
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkProcessing(_ context.Context, taskID int) error {
	f.tasks[taskID].Status = repository.NotificationStatusProcessing
	return nil
}

func (f *fakeOutbox) Delete(_ context.Context, taskID int) error {
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeOutbox) UpdateFailure(_ context.Context, taskID, attemptCount int, newStatus repository.NotificationStatus, nextAttemptAt time.Time) error {
	t := f.tasks[taskID]
	t.AttemptCount = attemptCount
	t.Status = newStatus
	t.NextAttemptAt.Valid = true
	t.NextAttemptAt.Time = nextAttemptAt
	return nil
}

type fakePublisher struct {
	fail      bool
	published []publishedMsg
}

type publishedMsg struct {
	topic, key string
	body       []byte
}

func (p *fakePublisher) Publish(topic, key string, message []byte) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, publishedMsg{topic: topic, key: key, body: message})
	return nil
}

func drain(ctx context.Context, r *notify.Relay) {
	// Start would need a ticker; tests poke the drain path through a short
	// lived context instead.
	cctx, cancel := context.WithCancel(ctx)
	go r.Start(cctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
}

func TestRelayPublishesAndDeletes(t *testing.T) {
	outbox := newFakeOutbox()
	pub := &fakePublisher{}
	relay := notify.NewRelay(outbox, pub, "donor-notifications", 10*time.Millisecond, 10)

	n := notify.NewOutboxNotifier(outbox)
	require.True(t, n.Notify("donor-1", notify.EventNewMatch, map[string]interface{}{"request_id": "r1"}))

	drain(context.Background(), relay)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "donor-notifications", pub.published[0].topic)
	assert.Equal(t, "donor-1", pub.published[0].key)

	var envelope struct {
		TargetID string                 `json:"target_id"`
		Event    string                 `json:"event"`
		Payload  map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(pub.published[0].body, &envelope))
	assert.Equal(t, "donor-1", envelope.TargetID)
	assert.Equal(t, string(notify.EventNewMatch), envelope.Event)
	assert.Equal(t, "r1", envelope.Payload["request_id"])

	assert.Empty(t, outbox.tasks)
}

func TestRelayRetriesOnFailure(t *testing.T) {
	outbox := newFakeOutbox()
	pub := &fakePublisher{fail: true}
	relay := notify.NewRelay(outbox, pub, "donor-notifications", 10*time.Millisecond, 10)

	require.NoError(t, outbox.Enqueue(context.Background(), "donor-1", "new_match", []byte(`{}`)))

	drain(context.Background(), relay)

	require.Len(t, outbox.tasks, 1)
	task := outbox.tasks[1]
	assert.GreaterOrEqual(t, task.AttemptCount, 1)
	assert.True(t, task.NextAttemptAt.Valid)
	assert.Contains(t, []repository.NotificationStatus{
		repository.NotificationStatusFailed,
		repository.NotificationStatusNoAttemptsLeft,
	}, task.Status)
}

func TestRelayParksAfterMaxAttempts(t *testing.T) {
	outbox := newFakeOutbox()
	require.NoError(t, outbox.Enqueue(context.Background(), "donor-1", "new_match", []byte(`{}`)))
	outbox.tasks[1].AttemptCount = 2
	outbox.tasks[1].Status = repository.NotificationStatusFailed

	pub := &fakePublisher{fail: true}
	relay := notify.NewRelay(outbox, pub, "donor-notifications", 10*time.Millisecond, 10)

	drain(context.Background(), relay)

	task := outbox.tasks[1]
	assert.Equal(t, 3, task.AttemptCount)
	assert.Equal(t, repository.NotificationStatusNoAttemptsLeft, task.Status)

	// Parked tasks never surface again.
	pending, err := outbox.GetPending(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
