package matching_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/notify"
)

type recordingNotifier struct {
	sent []sentEvent
}

type sentEvent struct {
	target  string
	event   notify.Event
	payload map[string]interface{}
}

func (n *recordingNotifier) Notify(targetID string, event notify.Event, payload map[string]interface{}) bool {
	n.sent = append(n.sent, sentEvent{target: targetID, event: event, payload: payload})
	return true
}

func candidateList(scores []int, distances []float64) []matching.Candidate {
	out := make([]matching.Candidate, len(scores))
	for i := range scores {
		out[i] = matching.Candidate{
			Donor:      &models.Donor{ID: fmt.Sprintf("donor-%d", i)},
			Score:      scores[i],
			DistanceKm: distances[i],
		}
	}
	return out
}

func TestAssignNotifiesUnitsPlusBuffer(t *testing.T) {
	rec := &recordingNotifier{}
	disp := matching.NewDispatcher(rec)

	req := requestAt(models.BloodAPos, models.UrgencyUrgent)
	req.UnitsRequired = 2
	// Urgent buffer is 2, so four of the six get contacted.
	cands := candidateList(
		[]int{95, 88, 80, 72, 60, 55},
		[]float64{1, 3, 5, 7, 8, 9},
	)

	created := disp.Assign(req, cands, testNow)
	require.Len(t, created, 4)
	assert.Len(t, req.Matches, 4)

	for i, m := range created {
		assert.Equal(t, cands[i].Donor.ID, m.DonorID)
		assert.Equal(t, models.ResponsePending, m.Response)
		assert.Equal(t, models.DonationScheduled, m.DonationStatus)
		assert.Equal(t, 1, m.UnitsCommitted)
		assert.Equal(t, i+1, m.Priority)
		assert.Equal(t, testNow.Add(12*time.Hour), m.ExpiresAt)
	}

	disp.Notify(req, created, false)
	require.Len(t, rec.sent, 4)
	for i, s := range rec.sent {
		assert.Equal(t, created[i].DonorID, s.target)
		assert.Equal(t, notify.EventNewMatch, s.event)
		assert.Equal(t, req.ID, s.payload["request_id"])
		assert.Equal(t, created[i].ExpiresAt, s.payload["expires_at"])
	}
}

func TestAssignWidensForSimilarCandidates(t *testing.T) {
	disp := matching.NewDispatcher(&recordingNotifier{})

	req := requestAt(models.BloodAPos, models.UrgencyModerate)
	req.UnitsRequired = 1
	// Moderate buffer is 1, target 2, but four candidates sit within five
	// score points and two km of the leader.
	cands := candidateList(
		[]int{90, 88, 87, 86, 60},
		[]float64{2.0, 2.5, 3.0, 3.5, 4.0},
	)

	created := disp.Assign(req, cands, testNow)
	assert.Len(t, created, 4)
}

func TestAssignWidensPastDissimilarCandidate(t *testing.T) {
	disp := matching.NewDispatcher(&recordingNotifier{})

	req := requestAt(models.BloodAPos, models.UrgencyModerate)
	req.UnitsRequired = 1
	// donor-2 is nearly equal to the leader but ranks below donor-1, who is
	// ten km out. Widening covers donor-2 too.
	cands := candidateList(
		[]int{90, 88, 87},
		[]float64{1.0, 10.0, 2.0},
	)

	created := disp.Assign(req, cands, testNow)
	require.Len(t, created, 3)
	assert.Equal(t, "donor-2", created[2].DonorID)
}

func TestAssignCapsAtCandidateCount(t *testing.T) {
	disp := matching.NewDispatcher(&recordingNotifier{})

	req := requestAt(models.BloodAPos, models.UrgencyCritical)
	req.UnitsRequired = 5
	cands := candidateList([]int{90, 80}, []float64{1, 2})

	created := disp.Assign(req, cands, testNow)
	assert.Len(t, created, 2)
}

func TestAssignContinuesPrioritySequence(t *testing.T) {
	disp := matching.NewDispatcher(&recordingNotifier{})

	req := requestAt(models.BloodAPos, models.UrgencyModerate)
	req.UnitsRequired = 1
	req.Matches = []*models.Match{
		{DonorID: "old-1", Priority: 1, Response: models.ResponseExpired},
		{DonorID: "old-2", Priority: 2, Response: models.ResponseExpired},
	}
	cands := candidateList([]int{90}, []float64{1})

	created := disp.Assign(req, cands, testNow)
	require.Len(t, created, 1)
	assert.Equal(t, 3, created[0].Priority)
}

func TestAssignNoCandidates(t *testing.T) {
	rec := &recordingNotifier{}
	disp := matching.NewDispatcher(rec)

	req := requestAt(models.BloodAPos, models.UrgencyModerate)
	created := disp.Assign(req, nil, testNow)
	assert.Empty(t, created)
	assert.Empty(t, req.Matches)

	disp.NotifyNoCandidates(req)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, req.ReceiverID, rec.sent[0].target)
	assert.Equal(t, notify.EventNoCandidates, rec.sent[0].event)
}

func TestNotifyCascadeEvent(t *testing.T) {
	rec := &recordingNotifier{}
	disp := matching.NewDispatcher(rec)

	req := requestAt(models.BloodAPos, models.UrgencyModerate)
	created := disp.Assign(req, candidateList([]int{90}, []float64{1}), testNow)

	disp.Notify(req, created, true)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, notify.EventCascadeMatch, rec.sent[0].event)
}
