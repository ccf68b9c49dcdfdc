package cascade_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodlink/internal/cascade"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/notify"
	"bloodlink/internal/repository"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const kmPerDegreeLat = 111.1949

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEvent
}

type sentEvent struct {
	target  string
	event   notify.Event
	payload map[string]interface{}
}

func (n *recordingNotifier) Notify(targetID string, event notify.Event, payload map[string]interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{target: targetID, event: event, payload: payload})
	return true
}

type sweepEnv struct {
	sweeper  *cascade.Sweeper
	donors   *repository.MemoryDonorStore
	requests *repository.MemoryRequestStore
	notifier *recordingNotifier
	now      time.Time
}

func newSweepEnv(t *testing.T) *sweepEnv {
	t.Helper()
	donors := repository.NewMemoryDonorStore()
	requests := repository.NewMemoryRequestStore()
	rec := &recordingNotifier{}
	env := &sweepEnv{
		donors:   donors,
		requests: requests,
		notifier: rec,
		now:      baseTime,
	}
	env.sweeper = cascade.NewSweeper(requests,
		matching.NewSelector(donors), matching.NewDispatcher(rec), rec, time.Hour)
	env.sweeper.SetClock(func() time.Time { return env.now })
	return env
}

func (e *sweepEnv) addDonor(t *testing.T, id string, km float64) {
	t.Helper()
	require.NoError(t, e.donors.Create(context.Background(), &models.Donor{
		ID:          id,
		Gender:      models.GenderMale,
		BloodGroup:  models.BloodAPos,
		Location:    models.Location{Longitude: 77.0, Latitude: 12.0 + km/kmPerDegreeLat},
		IsAvailable: true,
	}))
}

func (e *sweepEnv) addRequest(t *testing.T, units int, matches ...*models.Match) *models.Request {
	t.Helper()
	req := &models.Request{
		ID:            "req-1",
		ReceiverID:    "receiver-1",
		BloodGroup:    models.BloodAPos,
		Urgency:       models.UrgencyUrgent,
		UnitsRequired: units,
		Location:      models.Location{Longitude: 77.0, Latitude: 12.0},
		Matches:       matches,
		CreatedAt:     baseTime,
	}
	req.Recompute()
	require.NoError(t, e.requests.Create(context.Background(), req))
	return req
}

func pendingMatch(donorID string, expiresAt time.Time) *models.Match {
	return &models.Match{
		DonorID:        donorID,
		Score:          90,
		Response:       models.ResponsePending,
		DonationStatus: models.DonationScheduled,
		UnitsCommitted: 1,
		Priority:       1,
		ExpiresAt:      expiresAt,
		NotifiedAt:     baseTime,
	}
}

func (e *sweepEnv) reload(t *testing.T, id string) *models.Request {
	t.Helper()
	req, err := e.requests.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, req)
	return req
}

func (e *sweepEnv) eventsFor(target string) []notify.Event {
	e.notifier.mu.Lock()
	defer e.notifier.mu.Unlock()
	var out []notify.Event
	for _, s := range e.notifier.sent {
		if s.target == target {
			out = append(out, s.event)
		}
	}
	return out
}

func TestSweepExpiresAndBackfills(t *testing.T) {
	env := newSweepEnv(t)
	// The fresh donor sits outside the 10 km urgent radius but inside the
	// 15 km cascade radius.
	env.addDonor(t, "fresh", 13)

	m := pendingMatch("stale", baseTime.Add(12*time.Hour))
	req := env.addRequest(t, 1, m)

	env.now = baseTime.Add(13 * time.Hour)
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))

	got := env.reload(t, req.ID)
	require.Len(t, got.Matches, 2)
	assert.Equal(t, models.ResponseExpired, got.MatchFor("stale").Response)

	repl := got.MatchFor("fresh")
	require.NotNil(t, repl)
	assert.Equal(t, models.ResponsePending, repl.Response)
	assert.Equal(t, 2, repl.Priority)
	assert.Equal(t, env.now.Add(12*time.Hour), repl.ExpiresAt)

	assert.Equal(t, []notify.Event{notify.EventCascadeMatch}, env.eventsFor("fresh"))
}

func TestSweepNeverRenotifiesKnownDonors(t *testing.T) {
	env := newSweepEnv(t)
	env.addDonor(t, "stale", 2)
	env.addDonor(t, "rejected-before", 3)

	req := env.addRequest(t, 1,
		pendingMatch("stale", baseTime.Add(12*time.Hour)),
		&models.Match{
			DonorID:  "rejected-before",
			Response: models.ResponseRejected,
			Priority: 2,
		},
	)

	env.now = baseTime.Add(13 * time.Hour)
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))

	got := env.reload(t, req.ID)
	// Both donors are still available in the store but already on the
	// request, so no backfill happens.
	assert.Len(t, got.Matches, 2)
	assert.Equal(t, []notify.Event{notify.EventCascadeFailed}, env.eventsFor("receiver-1"))
}

func TestSweepNoExpiredIsNoop(t *testing.T) {
	env := newSweepEnv(t)
	env.addDonor(t, "fresh", 2)

	req := env.addRequest(t, 1, pendingMatch("stale", baseTime.Add(12*time.Hour)))
	before := env.reload(t, req.ID).Version

	env.now = baseTime.Add(1 * time.Hour)
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))

	got := env.reload(t, req.ID)
	assert.Equal(t, before, got.Version)
	assert.Len(t, got.Matches, 1)
	assert.Empty(t, env.notifier.sent)
}

func TestSweepIdempotent(t *testing.T) {
	env := newSweepEnv(t)
	env.addDonor(t, "fresh", 2)

	req := env.addRequest(t, 1, pendingMatch("stale", baseTime.Add(12*time.Hour)))

	env.now = baseTime.Add(13 * time.Hour)
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))
	require.Len(t, env.reload(t, req.ID).Matches, 2)

	// Second pass: nothing newly expired, nothing to do.
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))
	got := env.reload(t, req.ID)
	assert.Len(t, got.Matches, 2)
	assert.Equal(t, []notify.Event{notify.EventCascadeMatch}, env.eventsFor("fresh"))
}

func TestSweepCapsBackfillAtRemainingNeed(t *testing.T) {
	env := newSweepEnv(t)
	for _, id := range []string{"f1", "f2", "f3"} {
		env.addDonor(t, id, 2)
	}

	// Three expired slots but only one unit still unmet.
	accepted := pendingMatch("done", baseTime.Add(12*time.Hour))
	accepted.Response = models.ResponseAccepted
	req := env.addRequest(t, 2,
		accepted,
		pendingMatch("s1", baseTime.Add(12*time.Hour)),
		pendingMatch("s2", baseTime.Add(12*time.Hour)),
		pendingMatch("s3", baseTime.Add(12*time.Hour)),
	)
	req.UnitsAccepted = 1
	req.Recompute()
	require.NoError(t, env.requests.Update(context.Background(), req))

	env.now = baseTime.Add(13 * time.Hour)
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))

	got := env.reload(t, req.ID)
	assert.Len(t, got.Matches, 5) // 4 originals + 1 replacement
}

func TestSweepCapsBackfillAtExpiredCount(t *testing.T) {
	env := newSweepEnv(t)
	for _, id := range []string{"f1", "f2", "f3"} {
		env.addDonor(t, id, 2)
	}

	// Need is three units but only one slot expired.
	req := env.addRequest(t, 3, pendingMatch("stale", baseTime.Add(12*time.Hour)))

	env.now = baseTime.Add(13 * time.Hour)
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))

	got := env.reload(t, req.ID)
	assert.Len(t, got.Matches, 2)
}

func TestSweepSkipsWhenCapacityMet(t *testing.T) {
	env := newSweepEnv(t)
	env.addDonor(t, "fresh", 2)

	accepted := pendingMatch("done", baseTime.Add(12*time.Hour))
	accepted.Response = models.ResponseAccepted
	req := env.addRequest(t, 1, accepted, pendingMatch("stale", baseTime.Add(12*time.Hour)))
	req.UnitsAccepted = 1
	req.Recompute()
	require.NoError(t, env.requests.Update(context.Background(), req))

	env.now = baseTime.Add(13 * time.Hour)
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))

	got := env.reload(t, req.ID)
	assert.Len(t, got.Matches, 2)
	assert.Equal(t, models.ResponseExpired, got.MatchFor("stale").Response)
	assert.Empty(t, env.notifier.sent)
}

func TestSweepSkipsTerminalRequests(t *testing.T) {
	env := newSweepEnv(t)
	env.addDonor(t, "fresh", 2)

	req := env.addRequest(t, 1, pendingMatch("stale", baseTime.Add(12*time.Hour)))
	req.Status = models.StatusCancelled
	require.NoError(t, env.requests.Update(context.Background(), req))

	env.now = baseTime.Add(13 * time.Hour)
	require.NoError(t, env.sweeper.SweepRequest(context.Background(), req.ID))

	got := env.reload(t, req.ID)
	assert.Equal(t, models.ResponsePending, got.MatchFor("stale").Response)
	assert.Empty(t, env.notifier.sent)
}

type flakyRequestStore struct {
	*repository.MemoryRequestStore
	failures int
}

func (s *flakyRequestStore) Update(ctx context.Context, req *models.Request) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("write unavailable")
	}
	return s.MemoryRequestStore.Update(ctx, req)
}

func TestSweepRetriesAfterFailedWrite(t *testing.T) {
	ctx := context.Background()
	donors := repository.NewMemoryDonorStore()
	store := &flakyRequestStore{MemoryRequestStore: repository.NewMemoryRequestStore(), failures: 1}
	rec := &recordingNotifier{}
	now := baseTime

	sweeper := cascade.NewSweeper(store,
		matching.NewSelector(donors), matching.NewDispatcher(rec), rec, time.Hour)
	sweeper.SetClock(func() time.Time { return now })

	require.NoError(t, donors.Create(ctx, &models.Donor{
		ID:          "fresh",
		Gender:      models.GenderMale,
		BloodGroup:  models.BloodAPos,
		Location:    models.Location{Longitude: 77.0, Latitude: 12.0 + 2/kmPerDegreeLat},
		IsAvailable: true,
	}))
	req := &models.Request{
		ID:            "req-1",
		ReceiverID:    "receiver-1",
		BloodGroup:    models.BloodAPos,
		Urgency:       models.UrgencyUrgent,
		UnitsRequired: 1,
		Location:      models.Location{Longitude: 77.0, Latitude: 12.0},
		Matches:       []*models.Match{pendingMatch("stale", baseTime.Add(12 * time.Hour))},
		CreatedAt:     baseTime,
	}
	req.Recompute()
	require.NoError(t, store.Create(ctx, req))

	now = baseTime.Add(13 * time.Hour)
	require.Error(t, sweeper.SweepRequest(ctx, req.ID))

	// The failed pass must not persist the expiry on its own, otherwise the
	// stale slot would never be backfilled.
	got, err := store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponsePending, got.MatchFor("stale").Response)
	assert.Len(t, got.Matches, 1)

	require.NoError(t, sweeper.SweepRequest(ctx, req.ID))
	got, err = store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseExpired, got.MatchFor("stale").Response)
	require.NotNil(t, got.MatchFor("fresh"))
	assert.Equal(t, models.ResponsePending, got.MatchFor("fresh").Response)
}

func TestSweepAllCoversActiveRequests(t *testing.T) {
	env := newSweepEnv(t)
	env.addDonor(t, "fresh", 2)

	req := env.addRequest(t, 1, pendingMatch("stale", baseTime.Add(12*time.Hour)))

	env.now = baseTime.Add(13 * time.Hour)
	env.sweeper.SweepAll(context.Background())

	got := env.reload(t, req.ID)
	assert.Equal(t, models.ResponseExpired, got.MatchFor("stale").Response)
	assert.NotNil(t, got.MatchFor("fresh"))
}
