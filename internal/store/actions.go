package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/trip-sync/internal/fare"
	"github.com/example/trip-sync/internal/models"
	"github.com/example/trip-sync/internal/observability"
	"github.com/example/trip-sync/internal/trip"
)

// Queue action names.
const (
	actionCreate  = "create"
	actionUpdate  = "update"
	actionClaim   = "claim"
	actionMessage = "message"
)

type updatePayload struct {
	Trip            *models.Trip `json:"trip"`
	ExpectedVersion int64        `json:"expected_version"`
}

type claimPayload struct {
	TripID string `json:"trip_id"`
}

// RequestInput describes a new trip request.
type RequestInput struct {
	OriginAddress string
	OriginLat     float64
	OriginLng     float64
	DestAddress   string
	DestLat       float64
	DestLng       float64
	ServiceType   string
	PaymentMethod string
	DistanceKm    float64
	DurationMin   float64
	DemandFactor  float64
	IsNight       bool
	IsRain        bool
	SecurityPin   string
}

// Request creates a trip in REQUESTING at version 1 and submits it.
func (s *Store) Request(ctx context.Context, in RequestInput) (Outcome, error) {
	if s.role != models.RoleRequester {
		return Outcome{}, ErrWrongRole
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	if err := s.ensureReplayable(); err != nil {
		return Outcome{}, err
	}
	if err := trip.ValidatePinFormat(in.SecurityPin); err != nil {
		return Outcome{}, err
	}
	if cur, _ := s.activeTrip(); cur != nil && !cur.Status.Terminal() {
		return Outcome{}, ErrActiveTrip
	}

	now := s.now()
	price := fare.Price(fare.PriceInput{
		DistanceKm:   in.DistanceKm,
		DurationMin:  in.DurationMin,
		ServiceType:  in.ServiceType,
		DemandFactor: in.DemandFactor,
		IsNight:      in.IsNight,
		IsRain:       in.IsRain,
		At:           now,
	})

	if in.PaymentMethod == "wallet" && s.wallet != nil {
		bal, err := s.wallet.Balance(ctx, s.actorID)
		if err != nil {
			return Outcome{}, fmt.Errorf("wallet balance: %w", err)
		}
		if bal < price {
			return Outcome{}, ErrLowBalance
		}
	}

	t := &models.Trip{
		ID:            uuid.NewString(),
		Status:        models.StatusRequesting,
		Version:       1,
		RequesterID:   s.actorID,
		OriginAddress: in.OriginAddress,
		OriginLat:     in.OriginLat,
		OriginLng:     in.OriginLng,
		DestAddress:   in.DestAddress,
		DestLat:       in.DestLat,
		DestLng:       in.DestLng,
		Price:         price,
		OriginalPrice: price,
		DistanceKm:    in.DistanceKm,
		DurationMin:   in.DurationMin,
		PaymentMethod: in.PaymentMethod,
		ServiceType:   in.ServiceType,
		SecurityPin:   in.SecurityPin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.setTrip(t)

	if !s.Online() {
		if err := s.enqueue(actionCreate, t); err != nil {
			return Outcome{}, err
		}
		s.armExpiry()
		observability.Actions.WithLabelValues("request", string(OutcomePending)).Inc()
		return Outcome{State: OutcomePending, Trip: t.Clone()}, nil
	}

	if err := s.backend.CreateTrip(ctx, t); err != nil {
		// infra failure after the optimistic apply: audited, not rolled back
		s.audit(ctx, t.ID, "request_unconfirmed", err.Error())
		observability.Actions.WithLabelValues("request", string(OutcomeNeedsReconciliation)).Inc()
		return Outcome{State: OutcomeNeedsReconciliation, Trip: t.Clone()}, err
	}
	s.armExpiry()
	s.audit(ctx, t.ID, "requested", "")
	observability.Actions.WithLabelValues("request", string(OutcomeConfirmed)).Inc()
	return Outcome{State: OutcomeConfirmed, Trip: t.Clone()}, nil
}

// armExpiry schedules the no-fulfiller timeout for a freshly submitted
// request. ExpireRequest re-checks every condition when the timer
// fires, so an already claimed or cancelled trip is left alone.
func (s *Store) armExpiry() {
	if s.requestTimeout <= 0 {
		return
	}
	time.AfterFunc(s.requestTimeout, func() {
		if _, err := s.ExpireRequest(context.Background()); err != nil && !errors.Is(err, ErrNoActiveTrip) {
			s.log.Warn("request expiry failed", "error", err)
		}
	})
}

// ExpireRequest cancels a request that outlived the request timeout
// with no fulfiller bound. Calling it early, late, or after a claim is
// a no-op.
func (s *Store) ExpireRequest(ctx context.Context) (Outcome, error) {
	if s.role != models.RoleRequester {
		return Outcome{}, ErrWrongRole
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	cur, err := s.activeTrip()
	if err != nil {
		return Outcome{}, err
	}
	if cur.Status != models.StatusRequesting || cur.FulfillerID != "" {
		return Outcome{}, nil
	}
	if s.requestTimeout <= 0 || s.now().Sub(cur.CreatedAt) < s.requestTimeout {
		return Outcome{}, nil
	}
	status, err := trip.Next(cur, trip.EventCancel)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.transition(ctx, "cancel", cur, trip.Apply(cur, status, s.now()))
	if err == nil && out.State == OutcomeConfirmed {
		s.audit(ctx, cur.ID, "cancelled", "no fulfiller before timeout")
	}
	return out, err
}

// Claim attempts to bind this fulfiller to an unclaimed request picked
// from the feed. Losing the conditional write drops the local claim and
// returns a ConflictError; the caller goes back to listening.
func (s *Store) Claim(ctx context.Context, candidate *models.Trip) (Outcome, error) {
	if s.role != models.RoleFulfiller {
		return Outcome{}, ErrWrongRole
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	if err := s.ensureReplayable(); err != nil {
		return Outcome{}, err
	}
	if _, err := trip.Next(candidate, trip.EventClaim); err != nil {
		return Outcome{}, err
	}

	optimistic := trip.Apply(candidate, models.StatusAccepted, s.now())
	optimistic.FulfillerID = s.actorID
	s.setTrip(optimistic)

	if !s.Online() {
		if err := s.enqueue(actionClaim, claimPayload{TripID: candidate.ID}); err != nil {
			return Outcome{}, err
		}
		observability.Actions.WithLabelValues("claim", string(OutcomePending)).Inc()
		return Outcome{State: OutcomePending, Trip: optimistic.Clone()}, nil
	}

	won, err := s.backend.ClaimTrip(ctx, candidate.ID, s.actorID)
	if err != nil {
		s.audit(ctx, candidate.ID, "claim_unconfirmed", err.Error())
		observability.Actions.WithLabelValues("claim", string(OutcomeNeedsReconciliation)).Inc()
		return Outcome{State: OutcomeNeedsReconciliation, Trip: optimistic.Clone()}, err
	}
	if !won {
		s.revertOptimistic(nil, optimistic)
		observability.Conflicts.Inc()
		observability.FeedClaims.WithLabelValues("lost").Inc()
		return Outcome{}, &ConflictError{Action: "claim"}
	}
	s.audit(ctx, candidate.ID, "claimed", "")
	observability.Actions.WithLabelValues("claim", string(OutcomeConfirmed)).Inc()
	observability.FeedClaims.WithLabelValues("won").Inc()
	return Outcome{State: OutcomeConfirmed, Trip: optimistic.Clone()}, nil
}

// Arrive moves the trip to ARRIVED after the geofence and speed gate.
func (s *Store) Arrive(ctx context.Context, lat, lng, speedKmh float64) (Outcome, error) {
	if s.role != models.RoleFulfiller {
		return Outcome{}, ErrWrongRole
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	cur, err := s.activeTrip()
	if err != nil {
		return Outcome{}, err
	}
	next, err := trip.Next(cur, trip.EventArrive)
	if err != nil {
		return Outcome{}, err
	}
	if err := trip.ValidateArrival(cur, lat, lng, speedKmh); err != nil {
		return Outcome{}, err
	}
	return s.transition(ctx, "arrive", cur, trip.Apply(cur, next, s.now()))
}

// Start moves the trip to IN_PROGRESS; trips carrying a security pin
// require the matching value.
func (s *Store) Start(ctx context.Context, pin string) (Outcome, error) {
	if s.role != models.RoleFulfiller {
		return Outcome{}, ErrWrongRole
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	cur, err := s.activeTrip()
	if err != nil {
		return Outcome{}, err
	}
	next, err := trip.Next(cur, trip.EventStart)
	if err != nil {
		return Outcome{}, err
	}
	if err := trip.ValidatePin(cur, pin); err != nil {
		return Outcome{}, err
	}
	return s.transition(ctx, "start", cur, trip.Apply(cur, next, s.now()))
}

// ReachStop marks the next pending stop reached and enters the
// stop-wait sub-state.
func (s *Store) ReachStop(ctx context.Context) (Outcome, error) {
	if s.role != models.RoleFulfiller {
		return Outcome{}, ErrWrongRole
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	cur, err := s.activeTrip()
	if err != nil {
		return Outcome{}, err
	}
	status, err := trip.Next(cur, trip.EventReachStop)
	if err != nil {
		return Outcome{}, err
	}
	next := trip.Apply(cur, status, s.now())
	next.StopWait = true
	for i := range next.Stops {
		if !next.Stops[i].Reached {
			next.Stops[i].Reached = true
			break
		}
	}
	return s.transition(ctx, "reach_stop", cur, next)
}

// AddStopInput describes a waypoint added mid-trip together with the
// route deltas it introduces.
type AddStopInput struct {
	Address  string
	Lat      float64
	Lng      float64
	DeltaKm  float64
	DeltaMin float64
}

// AddStop appends a stop and reprices the trip with its impact cost.
func (s *Store) AddStop(ctx context.Context, in AddStopInput) (Outcome, error) {
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	cur, err := s.activeTrip()
	if err != nil {
		return Outcome{}, err
	}
	switch cur.Status {
	case models.StatusAccepted, models.StatusArrived, models.StatusInProgress:
	default:
		return Outcome{}, &trip.TransitionError{From: cur.Status, Event: "add_stop"}
	}

	impact := fare.StopImpact(in.DeltaKm, in.DeltaMin, cur.ServiceType)
	next := trip.Apply(cur, cur.Status, s.now())
	next.StopWait = cur.StopWait
	next.Stops = append(next.Stops, models.Stop{
		Address:    in.Address,
		Lat:        in.Lat,
		Lng:        in.Lng,
		AddedAt:    s.now(),
		ImpactCost: impact,
	})
	next.Price += impact
	next.RouteAdjustCost += impact
	return s.transition(ctx, "add_stop", cur, next)
}

// TickWaiting accrues one minute of waiting time at 1 unit per minute.
// Waiting accrues while the fulfiller waits at the pickup point or at a
// reached stop.
func (s *Store) TickWaiting(ctx context.Context) (Outcome, error) {
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	cur, err := s.activeTrip()
	if err != nil {
		return Outcome{}, err
	}
	if cur.Status != models.StatusArrived && !(cur.Status == models.StatusInProgress && cur.StopWait) {
		return Outcome{}, &trip.TransitionError{From: cur.Status, Event: "tick_waiting"}
	}
	next := trip.Apply(cur, cur.Status, s.now())
	next.StopWait = cur.StopWait
	next.WaitingTimeMinutes++
	next.WaitingTimeCost++
	next.Price++
	return s.transition(ctx, "tick_waiting", cur, next)
}

// Complete finishes the trip and fires the two settlement calls. A
// settlement failure is audited and downgrades the outcome to
// needs-reconciliation, but never reverses the completed status.
func (s *Store) Complete(ctx context.Context) (Outcome, error) {
	if s.role != models.RoleFulfiller {
		return Outcome{}, ErrWrongRole
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	cur, err := s.activeTrip()
	if err != nil {
		return Outcome{}, err
	}
	status, err := trip.Next(cur, trip.EventComplete)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.transition(ctx, "complete", cur, trip.Apply(cur, status, s.now()))
	if err != nil || out.State != OutcomeConfirmed {
		return out, err
	}
	return s.settle(ctx, out), nil
}

// settle runs payment capture and commission deduction independently.
func (s *Store) settle(ctx context.Context, out Outcome) Outcome {
	if s.settler == nil {
		return out
	}
	if err := s.settler.CapturePayment(ctx, out.Trip); err != nil {
		s.log.Error("payment capture failed", "trip_id", out.Trip.ID, "error", err)
		s.audit(ctx, out.Trip.ID, "settlement_payment_failed", err.Error())
		observability.SettlementFailures.Inc()
		out.State = OutcomeNeedsReconciliation
	}
	if err := s.settler.DeductCommission(ctx, out.Trip); err != nil {
		s.log.Error("commission deduction failed", "trip_id", out.Trip.ID, "error", err)
		s.audit(ctx, out.Trip.ID, "settlement_commission_failed", err.Error())
		observability.SettlementFailures.Inc()
		out.State = OutcomeNeedsReconciliation
	}
	return out
}

// Cancel aborts the trip. Available to either party from REQUESTING,
// ACCEPTED and ARRIVED.
func (s *Store) Cancel(ctx context.Context, reason string) (Outcome, error) {
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	cur, err := s.activeTrip()
	if err != nil {
		return Outcome{}, err
	}
	status, err := trip.Next(cur, trip.EventCancel)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.transition(ctx, "cancel", cur, trip.Apply(cur, status, s.now()))
	if err == nil && out.State == OutcomeConfirmed {
		s.audit(ctx, cur.ID, "cancelled", reason)
	}
	return out, err
}

// transition performs the shared optimistic-then-conditional flow for a
// version-guarded status or detail change.
func (s *Store) transition(ctx context.Context, action string, prev, next *models.Trip) (Outcome, error) {
	if err := s.ensureReplayable(); err != nil {
		return Outcome{}, err
	}
	s.setTrip(next)

	if !s.Online() {
		if err := s.enqueue(actionUpdate, updatePayload{Trip: next, ExpectedVersion: prev.Version}); err != nil {
			return Outcome{}, err
		}
		observability.Actions.WithLabelValues(action, string(OutcomePending)).Inc()
		return Outcome{State: OutcomePending, Trip: next.Clone()}, nil
	}

	ok, err := s.backend.UpdateTrip(ctx, next, prev.Version)
	if err != nil {
		s.audit(ctx, next.ID, action+"_unconfirmed", err.Error())
		observability.Actions.WithLabelValues(action, string(OutcomeNeedsReconciliation)).Inc()
		return Outcome{State: OutcomeNeedsReconciliation, Trip: next.Clone()}, err
	}
	if !ok {
		// stale version: another participant committed first
		s.revertOptimistic(prev, next)
		observability.Conflicts.Inc()
		return Outcome{}, &ConflictError{Action: action}
	}
	s.audit(ctx, next.ID, action, "")
	observability.Actions.WithLabelValues(action, string(OutcomeConfirmed)).Inc()
	return Outcome{State: OutcomeConfirmed, Trip: next.Clone()}, nil
}

// revertOptimistic undoes a lost conditional write. The restore applies
// only while the optimistic copy is still the locally held row; a newer
// version merged from the change feed in the meantime is kept, so the
// local version never regresses.
func (s *Store) revertOptimistic(prev, optimistic *models.Trip) {
	s.mu.Lock()
	if s.trip == nil || s.trip.ID != optimistic.ID || s.trip.Version > optimistic.Version {
		s.mu.Unlock()
		return
	}
	s.trip = prev
	s.mu.Unlock()
	s.persist()
	if prev != nil {
		observability.TripVersion.Set(float64(prev.Version))
	}
}
