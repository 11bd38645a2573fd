package backend

import (
	"context"
	"sync"
	"time"

	"github.com/example/trip-sync/internal/models"
)

// Memory is an in-process Backend with the same conditional-write
// semantics as the Postgres store. Used by tests and offline runs.
type Memory struct {
	mu       sync.Mutex
	trips    map[string]*models.Trip
	messages map[string]*models.Message
	events   []models.TripEvent
	pub      ChangePublisher // optional
}

func NewMemory() *Memory {
	return &Memory{
		trips:    make(map[string]*models.Trip),
		messages: make(map[string]*models.Message),
	}
}

// WithPublisher attaches a change publisher; every committed mutation is
// fanned out after the write, mirroring the Postgres store.
func (m *Memory) WithPublisher(p ChangePublisher) *Memory {
	m.pub = p
	return m
}

func (m *Memory) publishTrip(ctx context.Context, kind string, t *models.Trip) {
	if m.pub == nil {
		return
	}
	_ = m.pub.PublishChange(ctx, models.ChangeEvent{Table: models.ChangeTableTrips, Kind: kind, Trip: t.Clone()})
}

func (m *Memory) CreateTrip(ctx context.Context, t *models.Trip) error {
	m.mu.Lock()
	m.trips[t.ID] = t.Clone()
	m.mu.Unlock()
	m.publishTrip(ctx, models.ChangeInsert, t)
	return nil
}

func (m *Memory) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) ActiveTripFor(ctx context.Context, actorID string, role models.Role) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.Status.Terminal() {
			continue
		}
		if (role == models.RoleRequester && t.RequesterID == actorID) ||
			(role == models.RoleFulfiller && t.FulfillerID == actorID) {
			return t.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateTrip(ctx context.Context, t *models.Trip, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	cur, ok := m.trips[t.ID]
	if !ok || cur.Version != expectedVersion {
		m.mu.Unlock()
		return false, nil
	}
	m.trips[t.ID] = t.Clone()
	m.mu.Unlock()
	m.publishTrip(ctx, models.ChangeUpdate, t)
	return true, nil
}

func (m *Memory) ClaimTrip(ctx context.Context, tripID, fulfillerID string) (bool, error) {
	m.mu.Lock()
	cur, ok := m.trips[tripID]
	if !ok || cur.Status != models.StatusRequesting || cur.FulfillerID != "" {
		m.mu.Unlock()
		return false, nil
	}
	next := cur.Clone()
	next.FulfillerID = fulfillerID
	next.Status = models.StatusAccepted
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now()
	m.trips[tripID] = next
	m.mu.Unlock()
	m.publishTrip(ctx, models.ChangeUpdate, next)
	return true, nil
}

func (m *Memory) OpenRequests(ctx context.Context, window time.Duration) ([]*models.Trip, error) {
	cutoff := time.Now().Add(-window)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Trip, 0)
	for _, t := range m.trips {
		if t.Status != models.StatusRequesting || t.FulfillerID != "" {
			continue
		}
		if t.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, t.Clone())
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *Memory) AppendEvent(ctx context.Context, ev models.TripEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the audit log, newest last.
func (m *Memory) Events() []models.TripEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TripEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) InsertMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	cp := *msg
	m.messages[msg.ID] = &cp
	m.mu.Unlock()
	if m.pub != nil {
		_ = m.pub.PublishChange(ctx, models.ChangeEvent{Table: models.ChangeTableMessages, Kind: models.ChangeInsert, Message: &cp})
	}
	return nil
}

func (m *Memory) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus) (bool, error) {
	m.mu.Lock()
	msg, ok := m.messages[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	msg.Status = status
	cp := *msg
	m.mu.Unlock()
	if m.pub != nil {
		_ = m.pub.PublishChange(ctx, models.ChangeEvent{Table: models.ChangeTableMessages, Kind: models.ChangeUpdate, Message: &cp})
	}
	return true, nil
}
