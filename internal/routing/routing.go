package routing

import (
	"context"

	"github.com/example/trip-sync/internal/geo"
	"github.com/example/trip-sync/internal/models"
)

// Place is one geocoding result.
type Place struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// Route is an ordered polyline with its totals.
type Route struct {
	Points      []models.Coord `json:"points"`
	DistanceKm  float64        `json:"distance_km"`
	DurationMin float64        `json:"duration_min"`
}

// Provider is the external geocoding/routing collaborator.
type Provider interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
	Search(ctx context.Context, text string) ([]Place, error)
	Route(ctx context.Context, origin, dest models.Coord) (Route, error)
}

// Estimate derives distance and duration from straight-line geometry at
// a default city speed, for pricing when no routing server is
// configured.
func Estimate(origin, dest models.Coord, speedKmh float64) (distanceKm, durationMin float64) {
	if speedKmh <= 0 {
		speedKmh = 28.8 // default city speed
	}
	distanceKm = geo.Haversine(origin.Lat, origin.Lng, dest.Lat, dest.Lng) / 1000.0
	durationMin = distanceKm / speedKmh * 60.0
	return distanceKm, durationMin
}
