package chat

import (
	"log/slog"
	"sort"
)

// Room is an active broadcast group. A room that is not in the store is
// absent; there is no stored representation of an absent room.
type Room struct {
	Name     string
	members  map[ConnID]struct{}
	order    []ConnID
	messages []Message
}

// RoomStore maps room names to their membership and message log. Removing
// the last member deletes the room together with its log. It is not safe for
// concurrent use; the Engine serializes access.
type RoomStore struct {
	rooms  map[string]*Room
	logger *slog.Logger
}

// NewRoomStore returns an empty store. A nil logger falls back to slog.Default.
func NewRoomStore(logger *slog.Logger) *RoomStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomStore{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// EnsureRoom returns the named room, creating an empty one if absent.
func (s *RoomStore) EnsureRoom(name string) *Room {
	if room, ok := s.rooms[name]; ok {
		return room
	}

	room := &Room{Name: name, members: make(map[ConnID]struct{})}
	s.rooms[name] = room
	s.logger.Info("room created", "room", name)
	return room
}

// Exists reports whether the room is active.
func (s *RoomStore) Exists(name string) bool {
	_, ok := s.rooms[name]
	return ok
}

// IsMember reports whether conn is a member of the room.
func (s *RoomStore) IsMember(name string, conn ConnID) bool {
	room, ok := s.rooms[name]
	if !ok {
		return false
	}
	_, member := room.members[conn]
	return member
}

// AddMember adds conn to an existing room. It returns false when the room is
// absent or conn is already a member.
func (s *RoomStore) AddMember(name string, conn ConnID) bool {
	room, ok := s.rooms[name]
	if !ok {
		return false
	}
	if _, member := room.members[conn]; member {
		return false
	}

	room.members[conn] = struct{}{}
	room.order = append(room.order, conn)
	return true
}

// RemoveMember removes conn from the room. When the member set becomes empty
// the room is deleted as the final step and deleted is true.
func (s *RoomStore) RemoveMember(name string, conn ConnID) (removed, deleted bool) {
	room, ok := s.rooms[name]
	if !ok {
		return false, false
	}
	if _, member := room.members[conn]; !member {
		return false, false
	}

	delete(room.members, conn)
	for i, id := range room.order {
		if id == conn {
			room.order = append(room.order[:i], room.order[i+1:]...)
			break
		}
	}

	if len(room.members) == 0 {
		delete(s.rooms, name)
		s.logger.Info("room deleted", "room", name, "messages", len(room.messages))
		return true, true
	}
	return true, false
}

// Append adds msg to the room's log and returns the stored message. The
// timestamp is clamped so that it never precedes the previous entry. Append
// is a no-op returning false when the room is absent.
func (s *RoomStore) Append(name string, msg Message) (Message, bool) {
	room, ok := s.rooms[name]
	if !ok {
		s.logger.Warn("append to absent room dropped", "room", name, "author", msg.Author)
		return Message{}, false
	}

	msg.Room = name
	if n := len(room.messages); n > 0 {
		if last := room.messages[n-1].Timestamp; msg.Timestamp.Before(last) {
			msg.Timestamp = last
		}
	}
	room.messages = append(room.messages, msg)
	return msg, true
}

// Members returns the room's member connections in join order.
func (s *RoomStore) Members(name string) []ConnID {
	room, ok := s.rooms[name]
	if !ok {
		return nil
	}
	return append([]ConnID(nil), room.order...)
}

// Snapshot returns the members and log of the room. Unknown rooms yield an
// empty snapshot rather than an error.
func (s *RoomStore) Snapshot(name string) RoomSnapshot {
	room, ok := s.rooms[name]
	if !ok {
		return RoomSnapshot{Name: name, Members: []ConnID{}, Messages: []Message{}}
	}
	return RoomSnapshot{
		Name:     name,
		Members:  append([]ConnID{}, room.order...),
		Messages: append([]Message{}, room.messages...),
	}
}

// Summaries returns the member count and latest message of each named room,
// in the order given. Absent rooms report zero members and no message.
func (s *RoomStore) Summaries(names []string) []RoomSummary {
	summaries := make([]RoomSummary, 0, len(names))
	for _, name := range names {
		summary := RoomSummary{Name: name}
		if room, ok := s.rooms[name]; ok {
			summary.MemberCount = len(room.members)
			if n := len(room.messages); n > 0 {
				last := room.messages[n-1]
				summary.LastMessage = &last
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// Names returns the active room names, sorted.
func (s *RoomStore) Names() []string {
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of active rooms.
func (s *RoomStore) Len() int {
	return len(s.rooms)
}

// MessageCount returns the total number of messages held across all rooms.
func (s *RoomStore) MessageCount() int {
	total := 0
	for _, room := range s.rooms {
		total += len(room.messages)
	}
	return total
}
