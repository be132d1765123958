package server

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// streamSession is the per-websocket state tracked by the registry. The
// subscribed route set is only mutated from the session's own receive
// loop, but broadcasts read it concurrently, hence the small lock.
type streamSession struct {
	clientID int64
	conn     *websocket.Conn

	routesMu sync.RWMutex
	routes   map[string]struct{}

	// writeMu serializes outbound text frames on the connection.
	// Control frames (pings) go through WriteControl, which gorilla
	// allows concurrently with data writes.
	writeMu sync.Mutex
	closed  bool
}

func (s *streamSession) subscribe(route string) bool {
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	if _, ok := s.routes[route]; ok {
		return false
	}
	s.routes[route] = struct{}{}
	return true
}

func (s *streamSession) unsubscribe(route string) bool {
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	if _, ok := s.routes[route]; !ok {
		return false
	}
	delete(s.routes, route)
	return true
}

func (s *streamSession) subscribed(route string) bool {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()
	_, ok := s.routes[route]
	return ok
}

func (s *streamSession) routeCount() int {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()
	return len(s.routes)
}

func (s *streamSession) routeSnapshot() []string {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()
	routes := make([]string, 0, len(s.routes))
	for r := range s.routes {
		routes = append(routes, r)
	}
	return routes
}

// StreamRegistry tracks the live websocket sessions. It is mutated by
// the accept path and each session's cleanup path, and iterated by
// broadcasts, which see a consistent snapshot of the sessions live at
// some point during the call.
type StreamRegistry struct {
	mu       sync.RWMutex
	sessions map[*streamSession]struct{}
	nextID   atomic.Int64
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		sessions: make(map[*streamSession]struct{}),
	}
}

// register inserts a new session with a fresh client id. Ids are
// assigned monotonically and never reused within the process.
func (r *StreamRegistry) register(conn *websocket.Conn) *streamSession {
	s := &streamSession{
		clientID: r.nextID.Add(1),
		conn:     conn,
		routes:   make(map[string]struct{}),
	}

	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()
	return s
}

func (r *StreamRegistry) unregister(s *streamSession) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
}

func (r *StreamRegistry) snapshot() []*streamSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*streamSession, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Size returns the number of live sessions.
func (r *StreamRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
