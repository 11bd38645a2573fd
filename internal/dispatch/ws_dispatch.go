package dispatch

import (
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/trip-sync/internal/feed"
)

var ErrNoSession = errors.New("no ws session")

// WSSession represents one connected fulfiller.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(entry feed.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(entry)
}

// WSRegistry holds fulfiller sessions and pushes new open requests to
// them as they appear on the change feed.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[driverID] = s
	return s
}

// Remove drops the session for driverID only while s is still the
// registered one. A reconnect replaces the session, so a late removal
// from the old connection's teardown must not evict the new one.
func (r *WSRegistry) Remove(driverID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[driverID] == s {
		delete(r.sessions, driverID)
	}
}

// PushRequest delivers a feed entry to one fulfiller, best-effort.
func (r *WSRegistry) PushRequest(driverID string, entry feed.Entry) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(entry); err != nil {
		log.Printf("ws send error: %v", err)
		return err
	}
	return nil
}

// Broadcast pushes a feed entry to every connected fulfiller, dropping
// sessions whose connection is gone.
func (r *WSRegistry) Broadcast(entry feed.Entry) {
	r.mu.RLock()
	sessions := make(map[string]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		sessions[id] = s
	}
	r.mu.RUnlock()

	for id, s := range sessions {
		if err := s.Send(entry); err != nil {
			log.Printf("ws send error driver=%s: %v", id, err)
			r.Remove(id, s)
		}
	}
}
