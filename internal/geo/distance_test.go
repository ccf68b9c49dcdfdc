package geo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bloodlink/internal/geo"
	"bloodlink/internal/models"
)

func TestDistanceSamePoint(t *testing.T) {
	p := models.Location{Longitude: 77.5946, Latitude: 12.9716}
	assert.Equal(t, 0.0, geo.DistanceKm(p, p))
}

func TestDistanceOneDegreeLatitude(t *testing.T) {
	a := models.Location{Longitude: 0, Latitude: 0}
	b := models.Location{Longitude: 0, Latitude: 1}
	// One degree of latitude on a 6371 km sphere.
	assert.InDelta(t, 111.19, geo.DistanceKm(a, b), 0.05)
}

func TestDistanceSymmetric(t *testing.T) {
	a := models.Location{Longitude: 77.5946, Latitude: 12.9716}
	b := models.Location{Longitude: 77.7500, Latitude: 13.0500}
	assert.InDelta(t, geo.DistanceKm(a, b), geo.DistanceKm(b, a), 1e-9)
}

func TestDistanceKnownPair(t *testing.T) {
	// Bangalore city centre to the airport, roughly 31-32 km great circle.
	city := models.Location{Longitude: 77.5946, Latitude: 12.9716}
	airport := models.Location{Longitude: 77.7066, Latitude: 13.1986}
	d := geo.DistanceKm(city, airport)
	assert.Greater(t, d, 25.0)
	assert.Less(t, d, 35.0)
}

func TestRoundKm(t *testing.T) {
	assert.Equal(t, 3.1, geo.RoundKm(3.14159))
	assert.Equal(t, 3.3, geo.RoundKm(3.25))
	assert.Equal(t, 0.0, geo.RoundKm(0.04))
}
