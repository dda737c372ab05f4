package chat

import "sort"

// Session is the server side state bound to one connection.
type Session struct {
	Name  string
	rooms map[string]struct{}
}

// SessionStore maps live connections to their declared identity and joined
// rooms. It is not safe for concurrent use; the Engine serializes access.
type SessionStore struct {
	sessions map[ConnID]*Session
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[ConnID]*Session)}
}

// SetIdentity creates the session for conn or overwrites its display name.
// It returns false, leaving the store untouched, when name is empty after
// normalization. An existing session keeps its joined rooms.
func (s *SessionStore) SetIdentity(conn ConnID, name string) bool {
	name = normalizeName(name)
	if name == "" {
		return false
	}

	if session, ok := s.sessions[conn]; ok {
		session.Name = name
		return true
	}

	s.sessions[conn] = &Session{Name: name, rooms: make(map[string]struct{})}
	return true
}

// Lookup returns the display name of conn.
func (s *SessionStore) Lookup(conn ConnID) (string, bool) {
	session, ok := s.sessions[conn]
	if !ok {
		return "", false
	}
	return session.Name, true
}

// RecordJoin adds room to the session's joined set. Unknown connections are ignored.
func (s *SessionStore) RecordJoin(conn ConnID, room string) {
	if session, ok := s.sessions[conn]; ok {
		session.rooms[room] = struct{}{}
	}
}

// RecordLeave removes room from the session's joined set.
func (s *SessionStore) RecordLeave(conn ConnID, room string) {
	if session, ok := s.sessions[conn]; ok {
		delete(session.rooms, room)
	}
}

// InRoom reports whether conn has joined room.
func (s *SessionStore) InRoom(conn ConnID, room string) bool {
	session, ok := s.sessions[conn]
	if !ok {
		return false
	}
	_, joined := session.rooms[room]
	return joined
}

// RoomsOf returns the sorted rooms joined by conn. Unknown connections have
// no rooms.
func (s *SessionStore) RoomsOf(conn ConnID) []string {
	session, ok := s.sessions[conn]
	if !ok {
		return []string{}
	}
	return sortedRooms(session.rooms)
}

// RemoveSession deletes the session of conn and returns the rooms it had
// joined, sorted by name.
func (s *SessionStore) RemoveSession(conn ConnID) []string {
	session, ok := s.sessions[conn]
	if !ok {
		return nil
	}
	delete(s.sessions, conn)
	return sortedRooms(session.rooms)
}

// Len returns the number of identified connections.
func (s *SessionStore) Len() int {
	return len(s.sessions)
}

func sortedRooms(set map[string]struct{}) []string {
	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}
