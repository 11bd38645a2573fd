package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/trip-sync/internal/models"
)

// Presence is the minimal interface the feed needs over driver locations.
type Presence interface {
	Upsert(p models.DriverPresence)
	Nearby(lat, lng float64, limit int) []models.DriverPresence
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverPresence
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverPresence)}
}

func (g *Index) Upsert(p models.DriverPresence) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.LastSeen = time.Now()
	// location samples carry no rating; keep the stored one
	if p.Rating == 0 {
		if prev, ok := g.drivers[p.DriverID]; ok {
			p.Rating = prev.Rating
		}
	}
	g.drivers[p.DriverID] = p
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lng float64, limit int) []models.DriverPresence {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.DriverPresence
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, p := range g.drivers {
		if !p.Online {
			continue
		}
		arr = append(arr, pair{p, Haversine(lat, lng, p.Lat, p.Lng)})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.DriverPresence, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out
}

// Haversine distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Euclidean distance in raw degrees, used only for advisory feed scoring
// where proximity dominates and precision does not matter.
func Euclidean(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := lat2 - lat1
	dLng := lng2 - lng1
	return math.Sqrt(dLat*dLat + dLng*dLng)
}
