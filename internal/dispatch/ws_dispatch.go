package dispatch

import (
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/campus-parking/internal/events"
)

var ErrNoSession = errors.New("no ws session")

// WSSession is one connected user's socket.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds user notification sessions and forwards engine
// events to whichever affected users are connected. Disconnected users
// rely on the external notification collaborator instead.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers the user's socket and watches it; the session is
// removed when the peer disconnects.
func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	r.sessions[userID] = &WSSession{conn: conn}
	r.mu.Unlock()
	go r.watch(userID, conn)
}

// watch drains inbound frames until the peer goes away. Clients only
// listen on this socket; anything they send is discarded.
func (r *WSRegistry) watch(userID string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			r.Remove(userID)
			_ = conn.Close()
			return
		}
	}
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

func (r *WSRegistry) Notify(userID string, v interface{}) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		log.Printf("ws send error: %v", err)
		return err
	}
	return nil
}

// Forward routes an engine event to the users it concerns. Best
// effort: a missing session is not an error.
func (r *WSRegistry) Forward(ev events.Event) {
	for _, uid := range recipients(ev) {
		_ = r.Notify(uid, ev)
	}
}

func recipients(ev events.Event) []string {
	switch {
	case ev.MatchFound != nil:
		return []string{ev.MatchFound.UserID}
	case ev.RentalChange != nil:
		return []string{ev.RentalChange.RenterID, ev.RentalChange.OwnerID}
	case ev.Penalty != nil:
		return []string{ev.Penalty.UserID}
	case ev.Credit != nil:
		return []string{ev.Credit.UserID}
	default:
		return nil
	}
}
