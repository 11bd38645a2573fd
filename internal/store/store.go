package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/trip-sync/internal/backend"
	"github.com/example/trip-sync/internal/models"
	"github.com/example/trip-sync/internal/observability"
	"github.com/example/trip-sync/internal/queue"
	"github.com/example/trip-sync/internal/snapshot"
)

var (
	ErrBusy         = errors.New("store: another action is in flight")
	ErrNoActiveTrip = errors.New("store: no active trip")
	ErrActiveTrip   = errors.New("store: a trip is already active")
	ErrWrongRole    = errors.New("store: action not available for this role")
	ErrLowBalance   = errors.New("store: insufficient wallet balance")
	ErrQueueBlocked = errors.New("store: offline queue has unreplayed items")
)

// ConflictError reports a lost conditional write: another participant
// committed first and the optimistic local mutation was reverted.
type ConflictError struct {
	Action string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: %s lost to a concurrent writer", e.Action)
}

// OutcomeState is the tri-state result of an action.
type OutcomeState string

const (
	// OutcomePending means the action was applied locally and queued
	// for replay; the remote write has not happened yet.
	OutcomePending OutcomeState = "pending"
	// OutcomeConfirmed means the remote conditional write committed.
	OutcomeConfirmed OutcomeState = "confirmed"
	// OutcomeNeedsReconciliation means the status transition committed
	// but a follow-up settlement call failed and must be reconciled
	// out of band.
	OutcomeNeedsReconciliation OutcomeState = "needs_reconciliation"
)

type Outcome struct {
	State OutcomeState
	Trip  *models.Trip
}

// Settler performs the two post-completion settlement calls. Each may
// fail independently of the status transition.
type Settler interface {
	CapturePayment(ctx context.Context, t *models.Trip) error
	DeductCommission(ctx context.Context, t *models.Trip) error
}

// Wallet exposes the requester's prepaid balance for wallet payments.
type Wallet interface {
	Balance(ctx context.Context, actorID string) (int64, error)
}

// Store owns the local mirror of one actor's active trip and drives
// every lifecycle action against the backend. One instance per process;
// all dependencies are injected.
type Store struct {
	backend backend.Backend
	queue   *queue.Queue
	snap    *snapshot.Store // optional
	settler Settler         // optional
	wallet  Wallet          // optional
	log     *slog.Logger
	now     func() time.Time

	// requestTimeout bounds how long a request may sit unclaimed
	// before it is auto-cancelled; zero disables expiry.
	requestTimeout time.Duration

	mu       sync.Mutex
	inFlight bool
	online   bool
	role     models.Role
	actorID  string
	trip     *models.Trip
	messages map[string]*models.Message
}

type Option func(*Store)

func WithSnapshot(s *snapshot.Store) Option { return func(st *Store) { st.snap = s } }
func WithSettler(s Settler) Option          { return func(st *Store) { st.settler = s } }
func WithWallet(w Wallet) Option            { return func(st *Store) { st.wallet = w } }
func WithClock(now func() time.Time) Option { return func(st *Store) { st.now = now } }

func WithRequestTimeout(d time.Duration) Option {
	return func(st *Store) { st.requestTimeout = d }
}

func New(b backend.Backend, role models.Role, actorID string, log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		backend:  b,
		queue:    queue.New(),
		log:      log,
		now:      time.Now,
		online:   true,
		role:     role,
		actorID:  actorID,
		messages: make(map[string]*models.Message),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Trip returns a copy of the current local trip, or nil.
func (s *Store) Trip() *models.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trip == nil {
		return nil
	}
	return s.trip.Clone()
}

func (s *Store) Role() models.Role { return s.role }
func (s *Store) ActorID() string   { return s.actorID }

// Online reports the current connectivity assumption.
func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline flips the connectivity flag. Going online with queued items
// triggers a replay; the caller gets the drain error, if any.
func (s *Store) SetOnline(ctx context.Context, online bool) error {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()
	if online && !was && s.queue.Len() > 0 {
		return s.Replay(ctx)
	}
	return nil
}

// QueueDepth reports the number of unreplayed offline items.
func (s *Store) QueueDepth() int { return s.queue.Len() }

// begin bars re-entrant actions: the client runs one action at a time
// against its trip.
func (s *Store) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrBusy
	}
	s.inFlight = true
	return nil
}

func (s *Store) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// ensureReplayable blocks new online submissions while a failed replay
// left items in the queue; writing past them would use stale versions.
func (s *Store) ensureReplayable() error {
	if s.Online() && s.queue.Len() > 0 {
		return ErrQueueBlocked
	}
	return nil
}

// activeTrip returns the local trip or ErrNoActiveTrip.
func (s *Store) activeTrip() (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trip == nil {
		return nil, ErrNoActiveTrip
	}
	return s.trip.Clone(), nil
}

func (s *Store) setTrip(t *models.Trip) {
	s.mu.Lock()
	if t != nil && s.trip != nil && s.trip.ID != t.ID {
		// new trip: the previous conversation does not carry over
		s.messages = make(map[string]*models.Message)
	}
	s.trip = t
	s.mu.Unlock()
	s.persist()
	if t != nil {
		observability.TripVersion.Set(float64(t.Version))
	}
}

// enqueue buffers an offline action and persists the snapshot so the
// item survives a restart.
func (s *Store) enqueue(action string, payload any) error {
	if _, err := s.queue.Enqueue(action, payload); err != nil {
		return err
	}
	observability.QueueDepth.Set(float64(s.queue.Len()))
	s.persist()
	return nil
}

// persist writes the restartable snapshot; best-effort.
func (s *Store) persist() {
	if s.snap == nil {
		return
	}
	s.mu.Lock()
	st := snapshot.State{
		ActorRole:    s.role,
		ActorID:      s.actorID,
		OfflineQueue: s.queue.Items(),
	}
	if s.trip != nil {
		st.Status = s.trip.Status
		st.Trip = s.trip.Clone()
		st.Version = s.trip.Version
	}
	s.mu.Unlock()
	if err := s.snap.Save(st); err != nil {
		s.log.Warn("snapshot save failed", "error", err)
	}
}

// Rehydrate restores state after a restart: the snapshot seeds the
// offline queue and a provisional trip, then the backend's active trip
// for this actor is adopted as authoritative when reachable. Terminal
// snapshots are discarded by the snapshot store on load.
func (s *Store) Rehydrate(ctx context.Context) error {
	if s.snap != nil {
		st, ok, err := s.snap.Load()
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if ok {
			s.queue.Restore(st.OfflineQueue)
			s.mu.Lock()
			s.trip = st.Trip
			s.mu.Unlock()
		}
	}

	remote, err := s.backend.ActiveTripFor(ctx, s.actorID, s.role)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		// nothing remote; restored queue items may still need replaying
	case err != nil:
		// unreachable backend: keep the snapshot copy and stay offline
		s.log.Warn("rehydrate: backend unreachable", "error", err)
		s.mu.Lock()
		s.online = false
		s.mu.Unlock()
		return nil
	default:
		s.mu.Lock()
		if s.trip == nil || remote.Version >= s.trip.Version {
			s.trip = remote
		}
		s.mu.Unlock()
		s.persist()
	}

	if s.queue.Len() > 0 {
		return s.Replay(ctx)
	}
	return nil
}

// DiscardTerminal drops the working copy of a finished trip after the
// display grace period.
func (s *Store) DiscardTerminal() {
	s.mu.Lock()
	if s.trip == nil || !s.trip.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.trip = nil
	s.messages = make(map[string]*models.Message)
	s.mu.Unlock()
	if s.snap != nil {
		_ = s.snap.Clear()
	}
}

// ApplyRemote merges an inbound trip row from the change feed under
// version arbitration: anything at or below the locally held version is
// discarded. Equal-version events are treated as stale even when their
// payload differs; the row already committed locally wins.
func (s *Store) ApplyRemote(t *models.Trip) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trip == nil || s.trip.ID != t.ID {
		return false
	}
	if t.Version <= s.trip.Version {
		observability.EventsDiscarded.Inc()
		return false
	}
	s.trip = t.Clone()
	observability.EventsApplied.Inc()
	observability.TripVersion.Set(float64(t.Version))
	return true
}

// AdoptTrip installs a trip the actor was not yet tracking, such as a
// fulfiller picking one from the request feed. It never regresses an
// already-tracked version.
func (s *Store) AdoptTrip(t *models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trip != nil && s.trip.ID == t.ID && t.Version <= s.trip.Version {
		return
	}
	if s.trip == nil || s.trip.ID != t.ID {
		s.messages = make(map[string]*models.Message)
	}
	s.trip = t.Clone()
}

func (s *Store) audit(ctx context.Context, tripID, eventType, payload string) {
	ev := models.TripEvent{
		TripID:    tripID,
		EventType: eventType,
		Actor:     string(s.role) + ":" + s.actorID,
		Payload:   payload,
		Timestamp: s.now(),
	}
	if err := s.backend.AppendEvent(ctx, ev); err != nil {
		s.log.Warn("audit append failed", "trip_id", tripID, "event", eventType, "error", err)
	}
}
