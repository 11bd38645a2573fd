package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/trip-sync/internal/models"
)

// OSRMClient implements Provider against an OSRM HTTP server (routing)
// with a Nominatim-compatible endpoint for geocoding.
type OSRMClient struct {
	RouteEndpoint   string
	GeocodeEndpoint string
	Client          *http.Client
}

func NewOSRMClient(routeEndpoint, geocodeEndpoint string) *OSRMClient {
	return &OSRMClient{
		RouteEndpoint:   routeEndpoint,
		GeocodeEndpoint: geocodeEndpoint,
		Client:          &http.Client{Timeout: 2 * time.Second},
	}
}

func (o *OSRMClient) Route(ctx context.Context, origin, dest models.Coord) (Route, error) {
	// /route/v1/driving/{lng1},{lat1};{lng2},{lat2}?overview=full&geometries=geojson
	u := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.RouteEndpoint, origin.Lng, origin.Lat, dest.Lng, dest.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	r := out.Routes[0]
	route := Route{DistanceKm: r.Distance / 1000.0, DurationMin: r.Duration / 60.0}
	for _, c := range r.Geometry.Coordinates {
		if len(c) == 2 {
			route.Points = append(route.Points, models.Coord{Lat: c[1], Lng: c[0]})
		}
	}
	return route, nil
}

func (o *OSRMClient) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	u := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%.6f&lon=%.6f", o.GeocodeEndpoint, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.DisplayName, nil
}

func (o *OSRMClient) Search(ctx context.Context, text string) ([]Place, error) {
	u := fmt.Sprintf("%s/search?format=jsonv2&q=%s", o.GeocodeEndpoint, url.QueryEscape(text))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	places := make([]Place, 0, len(out))
	for _, p := range out {
		var lat, lng float64
		_, _ = fmt.Sscanf(p.Lat, "%f", &lat)
		_, _ = fmt.Sscanf(p.Lon, "%f", &lng)
		places = append(places, Place{Lat: lat, Lng: lng, Address: p.DisplayName})
	}
	return places, nil
}
