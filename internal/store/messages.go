package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/example/trip-sync/internal/models"
)

// SendMessage posts a chat message on the active trip. The message is
// shown immediately in "sending" and promoted to "sent" once the backend
// confirms; offline sends are queued like any other action.
func (s *Store) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	cur, err := s.activeTrip()
	if err != nil {
		return nil, err
	}
	m := &models.Message{
		ID:        uuid.NewString(),
		TripID:    cur.ID,
		SenderID:  s.actorID,
		Content:   content,
		CreatedAt: s.now(),
		Status:    models.MessageSending,
	}
	s.mu.Lock()
	s.messages[m.ID] = m
	s.mu.Unlock()

	if !s.Online() {
		if err := s.enqueue(actionMessage, m); err != nil {
			return nil, err
		}
		cp := *m
		return &cp, nil
	}

	sent := *m
	sent.Status = models.MessageSent
	if err := s.backend.InsertMessage(ctx, &sent); err != nil {
		// stays in "sending"; the caller may retry
		return m, err
	}
	s.mu.Lock()
	s.messages[m.ID].Status = models.MessageSent
	cp := *s.messages[m.ID]
	s.mu.Unlock()
	return &cp, nil
}

// MarkMessageRead acknowledges a received message.
func (s *Store) MarkMessageRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if m, ok := s.messages[id]; ok {
		m.Status = models.MessageRead
	}
	s.mu.Unlock()
	if !s.Online() {
		return nil
	}
	_, err := s.backend.UpdateMessageStatus(ctx, id, models.MessageRead)
	return err
}

// MarkMessageDelivered acknowledges receipt of a counterparty message
// so the sender's client sees "delivered".
func (s *Store) MarkMessageDelivered(ctx context.Context, id string) error {
	s.mu.Lock()
	if m, ok := s.messages[id]; ok && messageRank(m.Status) < messageRank(models.MessageDelivered) {
		m.Status = models.MessageDelivered
	}
	s.mu.Unlock()
	if !s.Online() {
		return nil
	}
	_, err := s.backend.UpdateMessageStatus(ctx, id, models.MessageDelivered)
	return err
}

// ApplyRemoteMessage merges an inbound message event. Status only moves
// forward: a "delivered" arriving after "read" is ignored.
func (s *Store) ApplyRemoteMessage(m *models.Message) bool {
	cur, err := s.activeTrip()
	if err != nil || cur.ID != m.TripID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.messages[m.ID]
	if !ok {
		cp := *m
		s.messages[m.ID] = &cp
		return true
	}
	if messageRank(m.Status) <= messageRank(existing.Status) {
		return false
	}
	existing.Status = m.Status
	return true
}

// Messages returns the conversation for the active trip, oldest first.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.Before(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func messageRank(s models.MessageStatus) int {
	switch s {
	case models.MessageSending:
		return 0
	case models.MessageSent:
		return 1
	case models.MessageDelivered:
		return 2
	case models.MessageRead:
		return 3
	}
	return -1
}
