package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-sync/internal/models"
)

// RedisPresence implements Presence on top of Redis GEO commands, with a
// metadata hash per driver for rating/online/last-seen.
type RedisPresence struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisPresence(addr, password, key string) *RedisPresence {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPresence{client: c, key: key, ctx: context.Background()}
}

func (r *RedisPresence) Upsert(p models.DriverPresence) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: p.Lng, Latitude: p.Lat, Name: p.DriverID}).Result()
	fields := map[string]interface{}{
		"online":    strconv.FormatBool(p.Online),
		"last_seen": time.Now().Format(time.RFC3339),
	}
	// location samples carry no rating; keep the stored one
	if p.Rating > 0 {
		fields["rating"] = fmt.Sprintf("%f", p.Rating)
	}
	_ = r.client.HSet(r.ctx, metaKey(p.DriverID), fields).Err()
}

func (r *RedisPresence) Nearby(lat, lng float64, limit int) []models.DriverPresence {
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, &redis.GeoRadiusQuery{Radius: 5000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverPresence, 0, len(res))
	for _, g := range res {
		p := models.DriverPresence{DriverID: g.Name, Lat: g.Latitude, Lng: g.Longitude}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					p.Rating = f
				}
			}
			if v, ok := m["online"]; ok {
				p.Online = v == "true"
			}
			if v, ok := m["last_seen"]; ok {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					p.LastSeen = ts
				}
			}
		}
		if !p.Online {
			continue
		}
		out = append(out, p)
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
