package chat

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// State is the mutable state owned by one Engine.
type State struct {
	Sessions *SessionStore
	Rooms    *RoomStore
}

// Engine applies inbound events to its State and reports the broadcasts each
// event produces. Handle must not be called concurrently; callers process
// one event to completion before starting the next.
type Engine struct {
	state  *State
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to timestamp messages.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine returns an engine with empty stores.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state = &State{
		Sessions: NewSessionStore(),
		Rooms:    NewRoomStore(e.logger),
	}
	return e
}

// State exposes the engine stores for read-only inspection.
func (e *Engine) State() *State {
	return e.state
}

// Handle applies ev on behalf of conn and returns the broadcasts to deliver,
// in order. Events whose preconditions do not hold return no broadcasts.
func (e *Engine) Handle(conn ConnID, ev Event) []Broadcast {
	switch ev := ev.(type) {
	case Identify:
		return e.identify(conn, ev)
	case Join:
		return e.join(conn, ev)
	case Leave:
		return e.leave(conn, ev)
	case SendMessage:
		return e.sendMessage(conn, ev)
	case GetRoomList:
		return []Broadcast{e.roomList(conn)}
	case Disconnect:
		return e.disconnect(conn)
	default:
		e.logger.Debug("ignoring unsupported event", "conn", conn, "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (e *Engine) identify(conn ConnID, ev Identify) []Broadcast {
	previous, known := e.state.Sessions.Lookup(conn)
	if !e.state.Sessions.SetIdentity(conn, ev.Name) {
		e.logger.Debug("ignoring empty identity", "conn", conn)
		return nil
	}
	name, _ := e.state.Sessions.Lookup(conn)
	e.logger.Info("identity set", "conn", conn, "name", name)

	out := []Broadcast{e.roomList(conn)}
	if known && previous != name {
		for _, room := range e.state.Sessions.RoomsOf(conn) {
			out = append(out, e.roomMembers(room))
		}
	}
	return out
}

func (e *Engine) join(conn ConnID, ev Join) []Broadcast {
	name, ok := e.state.Sessions.Lookup(conn)
	if !ok {
		e.logger.Debug("ignoring join before identify", "conn", conn)
		return nil
	}
	room := normalizeName(ev.Room)
	if room == "" {
		e.logger.Debug("ignoring join with empty room", "conn", conn)
		return nil
	}

	e.state.Rooms.EnsureRoom(room)
	if !e.state.Rooms.IsMember(room, conn) {
		e.state.Rooms.AddMember(room, conn)
		e.state.Sessions.RecordJoin(conn, room)
		e.logger.Info("joined room", "conn", conn, "name", name, "room", room)

		var out []Broadcast
		if notice, ok := e.systemMessage(room, name+" has joined the room!"); ok {
			out = append(out, e.toRoom(room, notice))
		}
		snapshot := e.state.Rooms.Snapshot(room)
		out = append(out,
			direct(conn, RoomHistory{Room: room, Messages: snapshot.Messages}),
			e.roomList(conn),
			e.roomMembers(room),
		)
		return out
	}

	return []Broadcast{e.roomList(conn), e.roomMembers(room)}
}

func (e *Engine) leave(conn ConnID, ev Leave) []Broadcast {
	name, ok := e.state.Sessions.Lookup(conn)
	if !ok {
		return nil
	}
	room := normalizeName(ev.Room)
	if !e.state.Sessions.InRoom(conn, room) {
		e.logger.Debug("ignoring leave of room not joined", "conn", conn, "room", room)
		return nil
	}

	out := e.departRoom(conn, name, room, true)
	return append(out, e.roomList(conn))
}

func (e *Engine) sendMessage(conn ConnID, ev SendMessage) []Broadcast {
	name, ok := e.state.Sessions.Lookup(conn)
	if !ok {
		return nil
	}
	room := normalizeName(ev.Room)
	if strings.TrimSpace(ev.Text) == "" || !e.state.Sessions.InRoom(conn, room) {
		e.logger.Debug("ignoring message", "conn", conn, "room", room)
		return nil
	}

	e.state.Rooms.EnsureRoom(room)
	msg, ok := e.state.Rooms.Append(room, Message{Author: name, Text: ev.Text, Timestamp: e.now()})
	if !ok {
		return nil
	}
	return []Broadcast{e.toRoom(room, msg)}
}

func (e *Engine) disconnect(conn ConnID) []Broadcast {
	name, ok := e.state.Sessions.Lookup(conn)
	if !ok {
		return nil
	}
	rooms := e.state.Sessions.RemoveSession(conn)
	e.logger.Info("session closed", "conn", conn, "name", name, "rooms", len(rooms))

	var out []Broadcast
	for _, room := range rooms {
		out = append(out, e.departRoom(conn, name, room, false)...)
	}
	return out
}

// departRoom appends the leave notice while conn is still a member, then
// removes the membership from both stores. The notice goes to every member
// at append time, minus conn when it is no longer connected.
func (e *Engine) departRoom(conn ConnID, name, room string, connected bool) []Broadcast {
	recipients := e.state.Rooms.Members(room)
	if !connected {
		recipients = without(recipients, conn)
	}

	var out []Broadcast
	if e.state.Rooms.Exists(room) {
		notice, ok := e.systemMessage(room, name+" has left the room.")
		if ok && len(recipients) > 0 {
			out = append(out, Broadcast{Room: room, To: recipients, Event: notice})
		}
	}

	_, deleted := e.state.Rooms.RemoveMember(room, conn)
	e.state.Sessions.RecordLeave(conn, room)
	e.logger.Info("left room", "conn", conn, "name", name, "room", room, "deleted", deleted)

	if !deleted {
		out = append(out, e.roomMembers(room))
	}
	return out
}

func (e *Engine) systemMessage(room, text string) (Message, bool) {
	return e.state.Rooms.Append(room, Message{Author: SystemAuthor, Text: text, Timestamp: e.now()})
}

func (e *Engine) roomList(conn ConnID) Broadcast {
	return direct(conn, RoomList{Rooms: e.state.Rooms.Summaries(e.state.Sessions.RoomsOf(conn))})
}

func (e *Engine) roomMembers(room string) Broadcast {
	return e.toRoom(room, RoomMembers{Room: room, Members: e.memberNames(room)})
}

func (e *Engine) toRoom(room string, ev Outbound) Broadcast {
	return Broadcast{Room: room, To: e.state.Rooms.Members(room), Event: ev}
}

func (e *Engine) memberNames(room string) []string {
	members := e.state.Rooms.Members(room)
	names := make([]string, 0, len(members))
	for _, conn := range members {
		if name, ok := e.state.Sessions.Lookup(conn); ok {
			names = append(names, name)
		}
	}
	return names
}

// Snapshot returns the presentation view of a room. Unknown rooms yield an
// empty view.
func (e *Engine) Snapshot(room string) RoomView {
	room = normalizeName(room)
	snapshot := e.state.Rooms.Snapshot(room)
	return RoomView{
		Name:     room,
		Members:  e.memberNames(room),
		Messages: snapshot.Messages,
	}
}

// Stats reports the current number of rooms, sessions and stored messages.
func (e *Engine) Stats() Stats {
	return Stats{
		Rooms:    e.state.Rooms.Len(),
		Sessions: e.state.Sessions.Len(),
		Messages: e.state.Rooms.MessageCount(),
	}
}

func direct(conn ConnID, ev Outbound) Broadcast {
	return Broadcast{To: []ConnID{conn}, Event: ev}
}

func without(conns []ConnID, drop ConnID) []ConnID {
	kept := make([]ConnID, 0, len(conns))
	for _, c := range conns {
		if c != drop {
			kept = append(kept, c)
		}
	}
	return kept
}
