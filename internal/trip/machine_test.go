package trip

import (
	"errors"
	"testing"
	"time"

	"github.com/example/trip-sync/internal/models"
)

func newTrip(status models.TripStatus) *models.Trip {
	return &models.Trip{
		ID:          "t1",
		Status:      status,
		Version:     3,
		RequesterID: "r1",
		OriginLat:   43.238949,
		OriginLng:   76.889709,
	}
}

func TestNextHappyPath(t *testing.T) {
	cases := []struct {
		status models.TripStatus
		ev     Event
		want   models.TripStatus
	}{
		{models.StatusRequesting, EventClaim, models.StatusAccepted},
		{models.StatusAccepted, EventArrive, models.StatusArrived},
		{models.StatusArrived, EventStart, models.StatusInProgress},
		{models.StatusRequesting, EventCancel, models.StatusCancelled},
		{models.StatusAccepted, EventCancel, models.StatusCancelled},
		{models.StatusArrived, EventCancel, models.StatusCancelled},
	}
	for _, c := range cases {
		tr := newTrip(c.status)
		if c.status != models.StatusRequesting {
			tr.FulfillerID = "d1"
		}
		got, err := Next(tr, c.ev)
		if err != nil {
			t.Fatalf("%s(%s): %v", c.ev, c.status, err)
		}
		if got != c.want {
			t.Fatalf("%s(%s) = %s, want %s", c.ev, c.status, got, c.want)
		}
	}
}

func TestNextRejectsInvalidEdges(t *testing.T) {
	cases := []struct {
		status models.TripStatus
		ev     Event
	}{
		{models.StatusRequesting, EventArrive},
		{models.StatusRequesting, EventComplete},
		{models.StatusAccepted, EventStart},
		{models.StatusInProgress, EventCancel},
		{models.StatusCompleted, EventCancel},
		{models.StatusCancelled, EventClaim},
		{models.StatusCompleted, EventComplete},
	}
	for _, c := range cases {
		tr := newTrip(c.status)
		tr.FulfillerID = "d1"
		if _, err := Next(tr, c.ev); err == nil {
			t.Fatalf("%s from %s unexpectedly allowed", c.ev, c.status)
		}
	}
}

func TestClaimRequiresUnboundFulfiller(t *testing.T) {
	tr := newTrip(models.StatusRequesting)
	tr.FulfillerID = "d9"
	if _, err := Next(tr, EventClaim); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestCompleteRequiresFulfiller(t *testing.T) {
	tr := newTrip(models.StatusInProgress)
	if _, err := Next(tr, EventComplete); !errors.Is(err, ErrNoFulfiller) {
		t.Fatalf("expected ErrNoFulfiller, got %v", err)
	}
}

func TestReachStopRequiresPendingStops(t *testing.T) {
	tr := newTrip(models.StatusInProgress)
	tr.FulfillerID = "d1"
	if _, err := Next(tr, EventReachStop); !errors.Is(err, ErrNoPendingStops) {
		t.Fatalf("expected ErrNoPendingStops, got %v", err)
	}
	tr.Stops = []models.Stop{{Address: "a"}}
	got, err := Next(tr, EventReachStop)
	if err != nil || got != models.StatusInProgress {
		t.Fatalf("reach-stop = (%s, %v)", got, err)
	}
}

func TestValidateArrival(t *testing.T) {
	tr := newTrip(models.StatusAccepted)

	// at the pickup point, stationary
	if err := ValidateArrival(tr, tr.OriginLat, tr.OriginLng, 0); err != nil {
		t.Fatalf("expected valid arrival, got %v", err)
	}
	// exactly the speed boundary passes (strict >)
	if err := ValidateArrival(tr, tr.OriginLat, tr.OriginLng, 10); err != nil {
		t.Fatalf("10 km/h boundary should pass, got %v", err)
	}
	if err := ValidateArrival(tr, tr.OriginLat, tr.OriginLng, 10.01); !errors.Is(err, ErrTooFast) {
		t.Fatalf("expected ErrTooFast, got %v", err)
	}
	// roughly 1.1 km north of the origin
	if err := ValidateArrival(tr, tr.OriginLat+0.01, tr.OriginLng, 0); !errors.Is(err, ErrOutsideGeofence) {
		t.Fatalf("expected ErrOutsideGeofence, got %v", err)
	}
}

func TestValidatePin(t *testing.T) {
	tr := newTrip(models.StatusArrived)
	if err := ValidatePin(tr, ""); err != nil {
		t.Fatalf("pinless trip should start freely, got %v", err)
	}
	tr.SecurityPin = "4821"
	if err := ValidatePin(tr, "0000"); !errors.Is(err, ErrPinMismatch) {
		t.Fatalf("expected ErrPinMismatch, got %v", err)
	}
	if err := ValidatePin(tr, "4821"); err != nil {
		t.Fatalf("matching pin rejected: %v", err)
	}
}

func TestValidatePinFormat(t *testing.T) {
	for _, pin := range []string{"", "0000", "4821"} {
		if err := ValidatePinFormat(pin); err != nil {
			t.Fatalf("pin %q rejected: %v", pin, err)
		}
	}
	for _, pin := range []string{"123", "12345", "12a4", "١٢٣٤", "48 1"} {
		if err := ValidatePinFormat(pin); !errors.Is(err, ErrPinFormat) {
			t.Fatalf("pin %q: expected ErrPinFormat, got %v", pin, err)
		}
	}
}

func TestApplyBumpsVersionByOne(t *testing.T) {
	tr := newTrip(models.StatusRequesting)
	now := time.Now()
	next := Apply(tr, models.StatusAccepted, now)
	if next.Version != tr.Version+1 {
		t.Fatalf("version = %d, want %d", next.Version, tr.Version+1)
	}
	if next.Status != models.StatusAccepted {
		t.Fatalf("status = %s", next.Status)
	}
	if tr.Status != models.StatusRequesting || tr.Version != 3 {
		t.Fatalf("Apply mutated its input")
	}
}
