// Package geo holds great-circle math and the directions provider client.
package geo

import (
	"math"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
)

const earthRadiusKm = 6371.0

// DistanceKm is the haversine great-circle distance between a and b.
func DistanceKm(a, b models.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// DistanceMeters is DistanceKm in metres.
func DistanceMeters(a, b models.Point) float64 {
	return DistanceKm(a, b) * 1000
}

// HaversineSQL computes the distance in km from ($1, $2) to the lat/lng
// columns named. It runs on PostgreSQL.
func HaversineSQL(latCol, lngCol, latArg, lngArg string) string {
	return "(2 * 6371.0 * ASIN(LEAST(1.0, SQRT(" +
		"POWER(SIN(RADIANS(" + latCol + " - " + latArg + ") / 2), 2) + " +
		"COS(RADIANS(" + latArg + ")) * COS(RADIANS(" + latCol + ")) * " +
		"POWER(SIN(RADIANS(" + lngCol + " - " + lngArg + ") / 2), 2)))))"
}
