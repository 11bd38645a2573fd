package trip

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/trip-sync/internal/geo"
	"github.com/example/trip-sync/internal/models"
)

// Event names a lifecycle transition attempt.
type Event string

const (
	EventClaim     Event = "claim"
	EventArrive    Event = "arrive"
	EventStart     Event = "start"
	EventReachStop Event = "reach_stop"
	EventComplete  Event = "complete"
	EventCancel    Event = "cancel"
)

// Arrival validation bounds.
const (
	ArrivalRadiusMeters = 60.0
	ArrivalMaxSpeedKmh  = 10.0
)

var (
	ErrOutsideGeofence = errors.New("fulfiller outside arrival geofence")
	ErrTooFast         = errors.New("fulfiller moving too fast to arrive")
	ErrPinMismatch     = errors.New("security pin mismatch")
	ErrNoPendingStops  = errors.New("trip has no pending stops")
	ErrAlreadyClaimed  = errors.New("trip already has a fulfiller")
	ErrNoFulfiller     = errors.New("trip has no fulfiller bound")
	ErrPinFormat       = errors.New("security pin must be four digits")
)

// TransitionError reports an edge absent from the status graph.
type TransitionError struct {
	From  models.TripStatus
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s from %s", e.Event, e.From)
}

// Next validates the status graph and the guards that depend only on the
// trip itself, and returns the target status. Guards that need external
// inputs (arrival geofence, pin) are checked separately before calling.
func Next(t *models.Trip, ev Event) (models.TripStatus, error) {
	switch {
	case t.Status == models.StatusRequesting && ev == EventClaim:
		if t.FulfillerID != "" {
			return "", ErrAlreadyClaimed
		}
		return models.StatusAccepted, nil

	case t.Status == models.StatusAccepted && ev == EventArrive:
		return models.StatusArrived, nil

	case t.Status == models.StatusArrived && ev == EventStart:
		return models.StatusInProgress, nil

	case t.Status == models.StatusInProgress && ev == EventReachStop:
		if t.PendingStops() == 0 {
			return "", ErrNoPendingStops
		}
		return models.StatusInProgress, nil

	case t.Status == models.StatusInProgress && ev == EventComplete:
		if t.FulfillerID == "" {
			return "", ErrNoFulfiller
		}
		return models.StatusCompleted, nil

	case ev == EventCancel:
		switch t.Status {
		case models.StatusRequesting, models.StatusAccepted, models.StatusArrived:
			return models.StatusCancelled, nil
		}
	}
	return "", &TransitionError{From: t.Status, Event: ev}
}

// ValidateArrival gates the arrive transition: the fulfiller must be
// within the pickup geofence and effectively stationary. Both
// comparisons are strict, the boundary values pass.
func ValidateArrival(t *models.Trip, lat, lng, speedKmh float64) error {
	if geo.Haversine(t.OriginLat, t.OriginLng, lat, lng) > ArrivalRadiusMeters {
		return ErrOutsideGeofence
	}
	if speedKmh > ArrivalMaxSpeedKmh {
		return ErrTooFast
	}
	return nil
}

// ValidatePin gates the start transition when the trip carries a
// security pin.
func ValidatePin(t *models.Trip, pin string) error {
	if t.SecurityPin == "" {
		return nil
	}
	if pin != t.SecurityPin {
		return ErrPinMismatch
	}
	return nil
}

// ValidatePinFormat gates request creation. An empty pin disables the
// start-time check; anything else must be exactly four digits.
func ValidatePinFormat(pin string) error {
	if pin == "" {
		return nil
	}
	if len(pin) != 4 {
		return ErrPinFormat
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrPinFormat
		}
	}
	return nil
}

// Apply returns a copy of the trip moved to the given status with the
// version bumped by exactly one.
func Apply(t *models.Trip, status models.TripStatus, now time.Time) *models.Trip {
	next := t.Clone()
	next.Status = status
	next.Version = t.Version + 1
	next.UpdatedAt = now
	if status != models.StatusInProgress {
		next.StopWait = false
	}
	return next
}
