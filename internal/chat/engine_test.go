package chat

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// newTestEngine returns an engine whose clock advances one second per reading.
func newTestEngine() *Engine {
	tick := 0
	clock := func() time.Time {
		tick++
		return baseTime.Add(time.Duration(tick) * time.Second)
	}
	return NewEngine(WithClock(clock), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// requireInvariants asserts membership symmetry and room existence.
func requireInvariants(t *testing.T, e *Engine) {
	t.Helper()
	sessions := e.State().Sessions.sessions
	rooms := e.State().Rooms.rooms

	for name, room := range rooms {
		require.NotEmpty(t, room.members, "room %q exists with no members", name)
		require.Len(t, room.order, len(room.members), "room %q order out of sync", name)
		for conn := range room.members {
			session, ok := sessions[conn]
			require.True(t, ok, "room %q has member %q without a session", name, conn)
			_, joined := session.rooms[name]
			require.True(t, joined, "room %q lists %q but the session does not", name, conn)
		}
	}
	for conn, session := range sessions {
		for name := range session.rooms {
			room, ok := rooms[name]
			require.True(t, ok, "session %q joined absent room %q", conn, name)
			_, member := room.members[conn]
			require.True(t, member, "session %q joined %q but is not a member", conn, name)
		}
	}
}

func eventsNamed(out []Broadcast, name string) []Broadcast {
	var matched []Broadcast
	for _, b := range out {
		if b.Event.EventName() == name {
			matched = append(matched, b)
		}
	}
	return matched
}

func messagesFrom(out []Broadcast) []Message {
	var msgs []Message
	for _, b := range eventsNamed(out, EventMessage) {
		msgs = append(msgs, b.Event.(Message))
	}
	return msgs
}

// TestEngineScenario walks the alice and bob conversation end to end against
// the pure engine.
func TestEngineScenario(t *testing.T) {
	e := newTestEngine()
	x, y := ConnID("x"), ConnID("y")

	out := e.Handle(x, Identify{Name: "alice"})
	require.Len(t, out, 1)
	assert.Equal(t, RoomList{Rooms: []RoomSummary{}}, out[0].Event)

	out = e.Handle(x, Join{Room: "general"})
	requireInvariants(t, e)
	history := eventsNamed(out, EventRoomHistory)
	require.Len(t, history, 1)
	assert.Equal(t, []ConnID{x}, history[0].To)
	assert.Equal(t, "general", history[0].Event.(RoomHistory).Room)

	joins := messagesFrom(out)
	require.Len(t, joins, 1)
	assert.Equal(t, SystemAuthor, joins[0].Author)
	assert.Equal(t, "alice has joined the room!", joins[0].Text)
	assert.Equal(t, "general", joins[0].Room)
	assert.Equal(t, 1, e.State().Rooms.Summaries([]string{"general"})[0].MemberCount)

	e.Handle(y, Identify{Name: "bob"})
	out = e.Handle(y, Join{Room: "general"})
	requireInvariants(t, e)
	assert.Equal(t, 2, e.State().Rooms.Summaries([]string{"general"})[0].MemberCount)
	bobJoin := eventsNamed(out, EventMessage)
	require.Len(t, bobJoin, 1)
	assert.ElementsMatch(t, []ConnID{x, y}, bobJoin[0].To)
	assert.Equal(t, "bob has joined the room!", bobJoin[0].Event.(Message).Text)

	out = e.Handle(x, SendMessage{Room: "general", Text: "hi"})
	require.Len(t, out, 1)
	assert.ElementsMatch(t, []ConnID{x, y}, out[0].To)
	hi := out[0].Event.(Message)
	assert.Equal(t, "alice", hi.Author)
	assert.Equal(t, "hi", hi.Text)
	assert.Equal(t, "general", hi.Room)

	out = e.Handle(y, Disconnect{})
	requireInvariants(t, e)
	leaves := eventsNamed(out, EventMessage)
	require.Len(t, leaves, 1)
	assert.Equal(t, []ConnID{x}, leaves[0].To)
	assert.Equal(t, "bob has left the room.", leaves[0].Event.(Message).Text)
	members := eventsNamed(out, EventRoomMembers)
	require.Len(t, members, 1)
	assert.Equal(t, []string{"alice"}, members[0].Event.(RoomMembers).Members)
	assert.True(t, e.State().Rooms.Exists("general"))

	e.Handle(x, Leave{Room: "general"})
	requireInvariants(t, e)
	assert.False(t, e.State().Rooms.Exists("general"))
	assert.Equal(t, 0, e.State().Rooms.Len())
}

// TestEngineIdempotentJoin verifies that a repeated join neither duplicates
// the join notice nor the membership entry nor resends history.
func TestEngineIdempotentJoin(t *testing.T) {
	e := newTestEngine()
	e.Handle("a", Identify{Name: "alice"})
	e.Handle("a", Join{Room: "general"})

	out := e.Handle("a", Join{Room: "general"})
	requireInvariants(t, e)

	assert.Empty(t, eventsNamed(out, EventMessage))
	assert.Empty(t, eventsNamed(out, EventRoomHistory))
	assert.Len(t, eventsNamed(out, EventRoomList), 1)
	assert.Len(t, eventsNamed(out, EventRoomMembers), 1)

	snapshot := e.State().Rooms.Snapshot("general")
	assert.Equal(t, []ConnID{"a"}, snapshot.Members)
	require.Len(t, snapshot.Messages, 1)
	assert.Equal(t, "alice has joined the room!", snapshot.Messages[0].Text)
}

// TestEngineHistoryCompleteness verifies that a late joiner receives every
// message sent while the room stayed populated, in order.
func TestEngineHistoryCompleteness(t *testing.T) {
	e := newTestEngine()
	e.Handle("a", Identify{Name: "alice"})
	e.Handle("a", Join{Room: "r"})

	const n = 25
	for i := 0; i < n; i++ {
		e.Handle("a", SendMessage{Room: "r", Text: fmt.Sprintf("msg %d", i)})
	}

	e.Handle("b", Identify{Name: "bob"})
	out := e.Handle("b", Join{Room: "r"})
	history := eventsNamed(out, EventRoomHistory)
	require.Len(t, history, 1)

	var texts []string
	var last time.Time
	for _, msg := range history[0].Event.(RoomHistory).Messages {
		assert.False(t, msg.Timestamp.Before(last), "history out of order")
		last = msg.Timestamp
		if !msg.IsSystem() {
			texts = append(texts, msg.Text)
		}
	}
	require.Len(t, texts, n)
	for i, text := range texts {
		assert.Equal(t, fmt.Sprintf("msg %d", i), text)
	}
}

// TestEngineDisconnectCleanup verifies that a disconnect leaves every joined
// room exactly once and deletes rooms that become empty.
func TestEngineDisconnectCleanup(t *testing.T) {
	t.Run("remaining members notified", func(t *testing.T) {
		e := newTestEngine()
		e.Handle("a", Identify{Name: "alice"})
		e.Handle("b", Identify{Name: "bob"})
		e.Handle("c", Identify{Name: "carol"})
		e.Handle("a", Join{Room: "A"})
		e.Handle("a", Join{Room: "B"})
		e.Handle("b", Join{Room: "A"})
		e.Handle("c", Join{Room: "B"})

		out := e.Handle("a", Disconnect{})
		requireInvariants(t, e)

		leaves := eventsNamed(out, EventMessage)
		require.Len(t, leaves, 2)
		byRoom := map[string][]ConnID{}
		for _, b := range leaves {
			assert.Equal(t, "alice has left the room.", b.Event.(Message).Text)
			byRoom[b.Room] = b.To
		}
		assert.Equal(t, []ConnID{"b"}, byRoom["A"])
		assert.Equal(t, []ConnID{"c"}, byRoom["B"])
		assert.False(t, e.State().Rooms.IsMember("A", "a"))
		assert.False(t, e.State().Rooms.IsMember("B", "a"))
		assert.Equal(t, 2, e.State().Sessions.Len())
	})

	t.Run("empty rooms removed", func(t *testing.T) {
		e := newTestEngine()
		e.Handle("a", Identify{Name: "alice"})
		e.Handle("a", Join{Room: "A"})
		e.Handle("a", Join{Room: "B"})

		out := e.Handle("a", Disconnect{})
		requireInvariants(t, e)
		assert.Empty(t, out)
		assert.Equal(t, 0, e.State().Rooms.Len())
		assert.Equal(t, 0, e.State().Sessions.Len())
	})

	t.Run("unidentified connection", func(t *testing.T) {
		e := newTestEngine()
		assert.Empty(t, e.Handle("ghost", Disconnect{}))
	})
}

// TestEngineIgnoresInvalidEvents verifies that malformed input and
// precondition violations change nothing and broadcast nothing.
func TestEngineIgnoresInvalidEvents(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *Engine)
		event Event
	}{
		{name: "blank identity", event: Identify{Name: "   "}},
		{name: "join before identify", event: Join{Room: "general"}},
		{name: "send before identify", event: SendMessage{Room: "general", Text: "hi"}},
		{name: "leave before identify", event: Leave{Room: "general"}},
		{
			name:  "blank room",
			setup: func(e *Engine) { e.Handle("a", Identify{Name: "alice"}) },
			event: Join{Room: " \t"},
		},
		{
			name:  "leave room not joined",
			setup: func(e *Engine) { e.Handle("a", Identify{Name: "alice"}) },
			event: Leave{Room: "general"},
		},
		{
			name: "send to room not joined",
			setup: func(e *Engine) {
				e.Handle("a", Identify{Name: "alice"})
				e.Handle("b", Identify{Name: "bob"})
				e.Handle("b", Join{Room: "general"})
			},
			event: SendMessage{Room: "general", Text: "hi"},
		},
		{
			name: "blank text",
			setup: func(e *Engine) {
				e.Handle("a", Identify{Name: "alice"})
				e.Handle("a", Join{Room: "general"})
			},
			event: SendMessage{Room: "general", Text: "  "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			if tt.setup != nil {
				tt.setup(e)
			}
			before := e.Stats()

			out := e.Handle("a", tt.event)
			assert.Empty(t, out)
			assert.Equal(t, before, e.Stats())
			requireInvariants(t, e)
		})
	}
}

// TestEngineRoomListBeforeIdentify verifies that an unidentified connection
// receives an empty room list.
func TestEngineRoomListBeforeIdentify(t *testing.T) {
	e := newTestEngine()
	out := e.Handle("a", GetRoomList{})
	require.Len(t, out, 1)
	assert.Equal(t, []ConnID{"a"}, out[0].To)
	assert.Empty(t, out[0].Event.(RoomList).Rooms)
}

// TestEngineRoomListSummaries verifies member counts and last messages in the
// room list.
func TestEngineRoomListSummaries(t *testing.T) {
	e := newTestEngine()
	e.Handle("a", Identify{Name: "alice"})
	e.Handle("b", Identify{Name: "bob"})
	e.Handle("a", Join{Room: "general"})
	e.Handle("a", Join{Room: "random"})
	e.Handle("b", Join{Room: "general"})
	e.Handle("b", SendMessage{Room: "general", Text: "hello"})

	out := e.Handle("a", GetRoomList{})
	require.Len(t, out, 1)
	rooms := out[0].Event.(RoomList).Rooms
	require.Len(t, rooms, 2)

	assert.Equal(t, "general", rooms[0].Name)
	assert.Equal(t, 2, rooms[0].MemberCount)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "hello", rooms[0].LastMessage.Text)

	assert.Equal(t, "random", rooms[1].Name)
	assert.Equal(t, 1, rooms[1].MemberCount)
	require.NotNil(t, rooms[1].LastMessage)
	assert.True(t, rooms[1].LastMessage.IsSystem())
}

// TestEngineLeaveNotifiesLeaver verifies that an explicit leave confirms the
// action to the leaving connection and refreshes the remaining member list.
func TestEngineLeaveNotifiesLeaver(t *testing.T) {
	e := newTestEngine()
	e.Handle("a", Identify{Name: "alice"})
	e.Handle("b", Identify{Name: "bob"})
	e.Handle("a", Join{Room: "general"})
	e.Handle("b", Join{Room: "general"})

	out := e.Handle("b", Leave{Room: "general"})
	requireInvariants(t, e)

	leaves := eventsNamed(out, EventMessage)
	require.Len(t, leaves, 1)
	assert.ElementsMatch(t, []ConnID{"a", "b"}, leaves[0].To)

	members := eventsNamed(out, EventRoomMembers)
	require.Len(t, members, 1)
	assert.Equal(t, []ConnID{"a"}, members[0].To)
	assert.Equal(t, []string{"alice"}, members[0].Event.(RoomMembers).Members)

	lists := eventsNamed(out, EventRoomList)
	require.Len(t, lists, 1)
	assert.Equal(t, []ConnID{"b"}, lists[0].To)
	assert.Empty(t, lists[0].Event.(RoomList).Rooms)
}

// TestEngineRejoinAfterDeletion verifies that a room recreated after deletion
// starts without history.
func TestEngineRejoinAfterDeletion(t *testing.T) {
	e := newTestEngine()
	e.Handle("a", Identify{Name: "alice"})
	e.Handle("a", Join{Room: "general"})
	e.Handle("a", SendMessage{Room: "general", Text: "first life"})
	e.Handle("a", Leave{Room: "general"})
	require.False(t, e.State().Rooms.Exists("general"))

	out := e.Handle("a", Join{Room: "general"})
	history := eventsNamed(out, EventRoomHistory)
	require.Len(t, history, 1)
	msgs := history[0].Event.(RoomHistory).Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice has joined the room!", msgs[0].Text)
}

// TestEngineReidentify verifies that renaming keeps joined rooms and pushes
// refreshed member lists.
func TestEngineReidentify(t *testing.T) {
	e := newTestEngine()
	e.Handle("a", Identify{Name: "alice"})
	e.Handle("a", Join{Room: "general"})

	out := e.Handle("a", Identify{Name: "alicia"})
	requireInvariants(t, e)
	assert.Equal(t, []string{"general"}, e.State().Sessions.RoomsOf("a"))

	members := eventsNamed(out, EventRoomMembers)
	require.Len(t, members, 1)
	assert.Equal(t, []string{"alicia"}, members[0].Event.(RoomMembers).Members)

	out = e.Handle("a", Identify{Name: "alicia"})
	assert.Empty(t, eventsNamed(out, EventRoomMembers))
}

// TestEngineNormalizesRoomNames verifies that surrounding whitespace does not
// split a room.
func TestEngineNormalizesRoomNames(t *testing.T) {
	e := newTestEngine()
	e.Handle("a", Identify{Name: " alice "})
	e.Handle("a", Join{Room: "general"})
	e.Handle("a", Join{Room: "  general\n"})
	e.Handle("a", SendMessage{Room: " general", Text: "hi"})

	assert.Equal(t, []string{"general"}, e.State().Rooms.Names())
	view := e.Snapshot("general")
	assert.Equal(t, []string{"alice"}, view.Members)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "hi", view.Messages[1].Text)
}

// TestEngineRandomizedInvariants drives a random event stream and checks the
// membership and existence invariants after every event.
func TestEngineRandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := newTestEngine()
	conns := []ConnID{"c1", "c2", "c3", "c4", "c5"}
	rooms := []string{"alpha", "beta", "gamma"}

	for i := 0; i < 2000; i++ {
		conn := conns[rng.Intn(len(conns))]
		room := rooms[rng.Intn(len(rooms))]

		var ev Event
		switch rng.Intn(7) {
		case 0:
			ev = Identify{Name: string(conn)}
		case 1, 2:
			ev = Join{Room: room}
		case 3:
			ev = Leave{Room: room}
		case 4:
			ev = SendMessage{Room: room, Text: fmt.Sprintf("m%d", i)}
		case 5:
			ev = GetRoomList{}
		default:
			ev = Disconnect{}
		}

		for _, b := range e.Handle(conn, ev) {
			if msg, ok := b.Event.(Message); ok {
				require.NotEmpty(t, msg.Room)
			}
		}
		requireInvariants(t, e)
	}
}
