package feed

import (
	"context"
	"sort"
	"time"

	"github.com/example/trip-sync/internal/geo"
	"github.com/example/trip-sync/internal/models"
)

// RecencyWindow bounds how old an unclaimed request may be before it
// stops being surfaced to fulfillers.
const RecencyWindow = 20 * time.Minute

// Lister is the backend subset the feed reads from.
type Lister interface {
	OpenRequests(ctx context.Context, window time.Duration) ([]*models.Trip, error)
}

// Entry is one ranked unclaimed request.
type Entry struct {
	Trip  *models.Trip `json:"trip"`
	Score float64      `json:"score"`
}

// Feed lists and ranks unclaimed requests for one fulfiller. Ranking is
// advisory only; the claim itself is arbitrated by the backend's
// conditional write.
type Feed struct {
	backend Lister
	window  time.Duration
}

func New(backend Lister) *Feed {
	return &Feed{backend: backend, window: RecencyWindow}
}

// Open returns the current feed ranked best-first for the given driver
// position and rating.
func (f *Feed) Open(ctx context.Context, driver models.DriverPresence) ([]Entry, error) {
	trips, err := f.backend.OpenRequests(ctx, f.window)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(trips))
	for _, t := range trips {
		entries = append(entries, Entry{Trip: t, Score: Score(driver, t)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	return entries, nil
}

// Score ranks a request for a driver; proximity dominates, rating
// nudges. Higher is better.
func Score(driver models.DriverPresence, t *models.Trip) float64 {
	dist := geo.Euclidean(driver.Lat, driver.Lng, t.OriginLat, t.OriginLng)
	return 100 - 1000*dist + 20*(driver.Rating-4.0)
}
