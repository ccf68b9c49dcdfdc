package geo

import (
	"math"

	"bloodlink/internal/models"
)

const earthRadiusKm = 6371

// DistanceKm computes the great-circle distance between two points using the
// haversine formula, in kilometers.
func DistanceKm(a, b models.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// RoundKm rounds a distance to one decimal, the precision used everywhere a
// distance leaves this package.
func RoundKm(km float64) float64 {
	return math.Round(km*10) / 10
}
