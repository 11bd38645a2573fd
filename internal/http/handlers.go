package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-sync/internal/backend"
	"github.com/example/trip-sync/internal/dispatch"
	"github.com/example/trip-sync/internal/feed"
	"github.com/example/trip-sync/internal/geo"
	"github.com/example/trip-sync/internal/ingest"
	"github.com/example/trip-sync/internal/models"
	"github.com/example/trip-sync/internal/routing"
	"github.com/example/trip-sync/internal/store"
	"github.com/example/trip-sync/internal/trip"
)

// Server is the HTTP facade over the trip store's action API. The UI
// layer is whatever sits on the other side of these routes.
type Server struct {
	Store    *store.Store
	Backend  backend.Backend
	Feed     *feed.Feed
	Presence geo.Presence
	Producer *ingest.Producer // optional
	WSReg    *dispatch.WSRegistry
	Router   routing.Provider // optional
	SpeedKmh float64          // fallback estimate speed

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(st *store.Store, be backend.Backend, fd *feed.Feed, pres geo.Presence, prod *ingest.Producer, wsreg *dispatch.WSRegistry, router routing.Provider, speedKmh float64, logger *slog.Logger) *Server {
	s := &Server{
		Store:    st,
		Backend:  be,
		Feed:     fd,
		Presence: pres,
		Producer: prod,
		WSReg:    wsreg,
		Router:   router,
		SpeedKmh: speedKmh,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/trips/request", s.handleRequest).Methods("POST")
	api.HandleFunc("/trips/claim", s.handleClaim).Methods("POST")
	api.HandleFunc("/trips/arrive", s.handleArrive).Methods("POST")
	api.HandleFunc("/trips/start", s.handleStart).Methods("POST")
	api.HandleFunc("/trips/stops", s.handleAddStop).Methods("POST")
	api.HandleFunc("/trips/reach-stop", s.handleReachStop).Methods("POST")
	api.HandleFunc("/trips/wait-tick", s.handleWaitTick).Methods("POST")
	api.HandleFunc("/trips/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/trips/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/trips/active", s.handleActive).Methods("GET")
	api.HandleFunc("/feed", s.handleFeed).Methods("GET")
	api.HandleFunc("/messages", s.handleSendMessage).Methods("POST")
	api.HandleFunc("/messages", s.handleMessages).Methods("GET")
	api.HandleFunc("/messages/{id}/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/geo/search", s.handleGeoSearch).Methods("GET")
	api.HandleFunc("/geo/reverse", s.handleGeoReverse).Methods("GET")
	api.HandleFunc("/geo/route", s.handleGeoRoute).Methods("GET")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OriginAddress string  `json:"origin_address"`
		OriginLat     float64 `json:"origin_lat"`
		OriginLng     float64 `json:"origin_lng"`
		DestAddress   string  `json:"destination_address"`
		DestLat       float64 `json:"destination_lat"`
		DestLng       float64 `json:"destination_lng"`
		ServiceType   string  `json:"service_type"`
		PaymentMethod string  `json:"payment_method"`
		DistanceKm    float64 `json:"distance_km"`
		DurationMin   float64 `json:"duration_min"`
		DemandFactor  float64 `json:"demand_factor"`
		IsNight       bool    `json:"is_night"`
		IsRain        bool    `json:"is_rain"`
		SecurityPin   string  `json:"security_pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.DistanceKm <= 0 || in.DurationMin <= 0 {
		origin := models.Coord{Lat: in.OriginLat, Lng: in.OriginLng}
		dest := models.Coord{Lat: in.DestLat, Lng: in.DestLng}
		if s.Router != nil {
			if route, err := s.Router.Route(r.Context(), origin, dest); err == nil {
				in.DistanceKm, in.DurationMin = route.DistanceKm, route.DurationMin
			}
		}
		if in.DistanceKm <= 0 || in.DurationMin <= 0 {
			in.DistanceKm, in.DurationMin = routing.Estimate(origin, dest, s.SpeedKmh)
		}
	}
	out, err := s.Store.Request(r.Context(), store.RequestInput{
		OriginAddress: in.OriginAddress, OriginLat: in.OriginLat, OriginLng: in.OriginLng,
		DestAddress: in.DestAddress, DestLat: in.DestLat, DestLng: in.DestLng,
		ServiceType: in.ServiceType, PaymentMethod: in.PaymentMethod,
		DistanceKm: in.DistanceKm, DurationMin: in.DurationMin,
		DemandFactor: in.DemandFactor, IsNight: in.IsNight, IsRain: in.IsRain,
		SecurityPin: in.SecurityPin,
	})
	s.writeOutcome(w, out, err)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TripID string `json:"trip_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	candidate, err := s.Backend.GetTrip(r.Context(), in.TripID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out, err := s.Store.Claim(r.Context(), candidate)
	s.writeOutcome(w, out, err)
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
		SpeedKmh float64 `json:"speed_kmh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := s.Store.Arrive(r.Context(), in.Lat, in.Lng, in.SpeedKmh)
	s.writeOutcome(w, out, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Pin string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := s.Store.Start(r.Context(), in.Pin)
	s.writeOutcome(w, out, err)
}

func (s *Server) handleAddStop(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Address  string  `json:"address"`
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
		DeltaKm  float64 `json:"delta_km"`
		DeltaMin float64 `json:"delta_min"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := s.Store.AddStop(r.Context(), store.AddStopInput{
		Address: in.Address, Lat: in.Lat, Lng: in.Lng,
		DeltaKm: in.DeltaKm, DeltaMin: in.DeltaMin,
	})
	s.writeOutcome(w, out, err)
}

func (s *Server) handleReachStop(w http.ResponseWriter, r *http.Request) {
	out, err := s.Store.ReachStop(r.Context())
	s.writeOutcome(w, out, err)
}

func (s *Server) handleWaitTick(w http.ResponseWriter, r *http.Request) {
	out, err := s.Store.TickWaiting(r.Context())
	s.writeOutcome(w, out, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	out, err := s.Store.Complete(r.Context())
	s.writeOutcome(w, out, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := s.Store.Cancel(r.Context(), in.Reason)
	s.writeOutcome(w, out, err)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	t := s.Store.Trip()
	if t == nil {
		http.Error(w, "no active trip", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, _ := strconv.ParseFloat(q.Get("lat"), 64)
	lng, _ := strconv.ParseFloat(q.Get("lng"), 64)
	rating, _ := strconv.ParseFloat(q.Get("rating"), 64)
	entries, err := s.Feed.Open(r.Context(), models.DriverPresence{
		DriverID: s.Store.ActorID(), Lat: lat, Lng: lng, Rating: rating,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.Store.SendMessage(r.Context(), in.Content)
	if err != nil && m == nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.Messages())
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Store.MarkMessageRead(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGeoSearch(w http.ResponseWriter, r *http.Request) {
	if s.Router == nil {
		http.Error(w, "no routing provider configured", http.StatusServiceUnavailable)
		return
	}
	places, err := s.Router.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func (s *Server) handleGeoReverse(w http.ResponseWriter, r *http.Request) {
	if s.Router == nil {
		http.Error(w, "no routing provider configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	lat, _ := strconv.ParseFloat(q.Get("lat"), 64)
	lng, _ := strconv.ParseFloat(q.Get("lng"), 64)
	addr, err := s.Router.ReverseGeocode(r.Context(), lat, lng)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr})
}

func (s *Server) handleGeoRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin := models.Coord{}
	dest := models.Coord{}
	origin.Lat, _ = strconv.ParseFloat(q.Get("origin_lat"), 64)
	origin.Lng, _ = strconv.ParseFloat(q.Get("origin_lng"), 64)
	dest.Lat, _ = strconv.ParseFloat(q.Get("dest_lat"), 64)
	dest.Lng, _ = strconv.ParseFloat(q.Get("dest_lng"), 64)

	if s.Router != nil {
		if route, err := s.Router.Route(r.Context(), origin, dest); err == nil {
			writeJSON(w, http.StatusOK, route)
			return
		}
	}
	km, min := routing.Estimate(origin, dest, s.SpeedKmh)
	writeJSON(w, http.StatusOK, routing.Route{
		Points:      []models.Coord{origin, dest},
		DistanceKm:  km,
		DurationMin: min,
	})
}

// handleDriverLocation accepts a device location sample, publishes it to
// the location topic and refreshes the presence index.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var sample models.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.Producer != nil {
		if err := s.Producer.PublishLocation(r.Context(), sample); err != nil {
			s.logger.Warn("location publish failed", "error", err)
		}
	}
	if s.Presence != nil {
		s.Presence.Upsert(models.DriverPresence{
			DriverID: sample.DriverID, Online: true,
			Lat: sample.Lat, Lng: sample.Lng,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	sess := s.WSReg.Add(id, conn)

	// read pump: detect the peer closing and drop the session
	go func() {
		defer func() {
			s.WSReg.Remove(id, sess)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeOutcome(w http.ResponseWriter, out store.Outcome, err error) {
	if err != nil && out.State == "" {
		s.writeErr(w, err)
		return
	}
	code := http.StatusOK
	if out.State == store.OutcomePending {
		code = http.StatusAccepted
	}
	resp := map[string]any{"state": out.State, "trip": out.Trip}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, code, resp)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var conflict *store.ConflictError
	var transition *trip.TransitionError
	switch {
	case errors.As(err, &conflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrBusy), errors.Is(err, store.ErrQueueBlocked):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, store.ErrNoActiveTrip):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &transition),
		errors.Is(err, trip.ErrOutsideGeofence),
		errors.Is(err, trip.ErrTooFast),
		errors.Is(err, trip.ErrPinMismatch),
		errors.Is(err, trip.ErrPinFormat),
		errors.Is(err, trip.ErrNoPendingStops),
		errors.Is(err, store.ErrLowBalance),
		errors.Is(err, store.ErrActiveTrip),
		errors.Is(err, store.ErrWrongRole):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
