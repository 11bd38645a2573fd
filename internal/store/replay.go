package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/trip-sync/internal/models"
	"github.com/example/trip-sync/internal/observability"
)

// Replay drains the offline queue strictly in submission order. An
// infrastructure failure stops the drain and leaves the failed item and
// everything behind it queued for a later attempt. A lost conditional
// write is final: the remaining items chain off the lost version and can
// never apply, so the queue is cleared and the authoritative row is
// re-fetched. Replayed completions fire settlement on confirmation,
// since settlement never ran while offline.
func (s *Store) Replay(ctx context.Context) error {
	applied, err := s.queue.Drain(ctx, s.applyQueued)

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		s.queue.Clear()
		if cur := s.Trip(); cur != nil {
			if remote, gerr := s.backend.GetTrip(ctx, cur.ID); gerr == nil {
				s.mu.Lock()
				s.trip = remote
				s.mu.Unlock()
			}
		}
	}

	observability.QueueDepth.Set(float64(s.queue.Len()))
	s.persist()
	if err != nil {
		s.log.Warn("offline replay interrupted", "applied", applied, "remaining", s.queue.Len(), "error", err)
		return err
	}
	if applied > 0 {
		s.log.Info("offline replay drained", "applied", applied)
	}
	return nil
}

func (s *Store) applyQueued(ctx context.Context, item models.OfflineQueueItem) error {
	switch item.Action {
	case actionCreate:
		var t models.Trip
		if err := json.Unmarshal(item.Payload, &t); err != nil {
			return err
		}
		if err := s.backend.CreateTrip(ctx, &t); err != nil {
			return err
		}
		s.audit(ctx, t.ID, "requested", "replayed")
		return nil

	case actionClaim:
		var p claimPayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return err
		}
		won, err := s.backend.ClaimTrip(ctx, p.TripID, s.actorID)
		if err != nil {
			return err
		}
		if !won {
			if cur := s.Trip(); cur != nil && cur.ID == p.TripID {
				s.revertOptimistic(nil, cur)
			}
			observability.Conflicts.Inc()
			observability.FeedClaims.WithLabelValues("lost").Inc()
			return &ConflictError{Action: "claim"}
		}
		s.audit(ctx, p.TripID, "claimed", "replayed")
		observability.FeedClaims.WithLabelValues("won").Inc()
		return nil

	case actionUpdate:
		var p updatePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return err
		}
		ok, err := s.backend.UpdateTrip(ctx, p.Trip, p.ExpectedVersion)
		if err != nil {
			return err
		}
		if !ok {
			observability.Conflicts.Inc()
			return &ConflictError{Action: "replay_update"}
		}
		s.audit(ctx, p.Trip.ID, "replayed_update", string(p.Trip.Status))
		if p.Trip.Status == models.StatusCompleted {
			s.settle(ctx, Outcome{State: OutcomeConfirmed, Trip: p.Trip})
		}
		return nil

	case actionMessage:
		var m models.Message
		if err := json.Unmarshal(item.Payload, &m); err != nil {
			return err
		}
		m.Status = models.MessageSent
		if err := s.backend.InsertMessage(ctx, &m); err != nil {
			return err
		}
		s.mu.Lock()
		if local, ok := s.messages[m.ID]; ok {
			local.Status = models.MessageSent
		}
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("unknown queued action %q", item.Action)
}
