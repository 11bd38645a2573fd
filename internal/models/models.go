package models

import (
	"encoding/json"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role identifies which side of a trip an actor is on.
type Role string

const (
	RoleRequester Role = "requester"
	RoleFulfiller Role = "fulfiller"
)

// TripStatus is the lifecycle state of a trip. Transitions between
// statuses are validated by the trip package.
type TripStatus string

const (
	StatusRequesting TripStatus = "REQUESTING"
	StatusAccepted   TripStatus = "ACCEPTED"
	StatusArrived    TripStatus = "ARRIVED"
	StatusInProgress TripStatus = "IN_PROGRESS"
	StatusCompleted  TripStatus = "COMPLETED"
	StatusCancelled  TripStatus = "CANCELLED"
)

func (s TripStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s TripStatus) Valid() bool {
	switch s {
	case StatusRequesting, StatusAccepted, StatusArrived, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Stop is an intermediate waypoint added to an in-progress trip.
type Stop struct {
	Address    string    `json:"address"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AddedAt    time.Time `json:"added_at"`
	ImpactCost int64     `json:"impact_cost"`
	Reached    bool      `json:"reached"`
}

// Trip is the wire shape shared between client and backend. Every field
// must round-trip unchanged; version arbitrates conflicting writers.
type Trip struct {
	ID            string     `json:"id"`
	Status        TripStatus `json:"status"`
	Version       int64      `json:"version"`
	RequesterID   string     `json:"requester_id"`
	FulfillerID   string     `json:"fulfiller_id,omitempty"`
	OriginAddress string     `json:"origin_address"`
	OriginLat     float64    `json:"origin_lat"`
	OriginLng     float64    `json:"origin_lng"`
	DestAddress   string     `json:"destination_address"`
	DestLat       float64    `json:"destination_lat"`
	DestLng       float64    `json:"destination_lng"`

	Price         int64   `json:"price"`
	OriginalPrice int64   `json:"original_price"`
	DistanceKm    float64 `json:"distance_km"`
	DurationMin   float64 `json:"duration_min"`
	PaymentMethod string  `json:"payment_method"`
	ServiceType   string  `json:"service_type"`

	Stops              []Stop `json:"stops,omitempty"`
	WaitingTimeMinutes int    `json:"waiting_time_minutes"`
	WaitingTimeCost    int64  `json:"waiting_time_cost"`
	RouteAdjustCost    int64  `json:"route_adjustment_cost"`
	SecurityPin        string `json:"security_pin,omitempty"`

	// StopWait marks the in-progress sub-state entered when the
	// fulfiller reaches a pending stop.
	StopWait bool `json:"stop_wait,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingStops reports how many stops have not been reached yet.
func (t *Trip) PendingStops() int {
	n := 0
	for _, s := range t.Stops {
		if !s.Reached {
			n++
		}
	}
	return n
}

func (t *Trip) Clone() *Trip {
	cp := *t
	if t.Stops != nil {
		cp.Stops = make([]Stop, len(t.Stops))
		copy(cp.Stops, t.Stops)
	}
	return &cp
}

// TripEvent is an append-only audit record. Never mutated, never used to
// rebuild trip state.
type TripEvent struct {
	TripID    string    `json:"trip_id"`
	EventType string    `json:"event_type"`
	Actor     string    `json:"actor"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

type Message struct {
	ID        string        `json:"id"`
	TripID    string        `json:"trip_id"`
	SenderID  string        `json:"sender_id"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	Status    MessageStatus `json:"status"`
}

// OfflineQueueItem is one buffered action awaiting replay.
type OfflineQueueItem struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type DriverPresence struct {
	DriverID string    `json:"driver_id"`
	Online   bool      `json:"online"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Rating   float64   `json:"rating"`
	LastSeen time.Time `json:"last_seen"`
}

// LocationSample is one reading from the device location stream.
type LocationSample struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	SpeedKmh float64 `json:"speed_kmh"`
}

// ChangeEvent is the envelope fanned out on the change feed after every
// committed backend mutation.
type ChangeEvent struct {
	Table   string   `json:"table"` // "trips" or "messages"
	Kind    string   `json:"kind"`  // "insert" or "update"
	Trip    *Trip    `json:"trip,omitempty"`
	Message *Message `json:"message,omitempty"`
}

const (
	ChangeTableTrips    = "trips"
	ChangeTableMessages = "messages"
	ChangeInsert        = "insert"
	ChangeUpdate        = "update"
)
