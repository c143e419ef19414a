package eta

import "math"

// DefaultSpeedKmh is the average loaded-truck speed used when none is configured.
const DefaultSpeedKmh = 60.0

// Naive ETA: straight-line distanceKm at speedKmh, rounded to the minute.
func Minutes(distanceKm, speedKmh float64) float64 {
	if distanceKm <= 0 {
		return 0
	}
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return math.Round(distanceKm / speedKmh * 60)
}
