package chat

// Inbound event names.
const (
	EventIdentify    = "identify"
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSendMessage = "sendMessage"
	EventGetRoomList = "getRoomList"
	EventDisconnect  = "disconnect"
)

// Outbound event names.
const (
	EventMessage     = "message"
	EventRoomHistory = "roomHistory"
	EventRoomList    = "roomList"
	EventRoomMembers = "roomMembers"
)

// Event is one inbound client event. The set of variants is closed: Identify,
// Join, Leave, SendMessage, GetRoomList and Disconnect.
type Event interface {
	EventName() string
	inbound()
}

// Identify declares the connection's display name.
type Identify struct {
	Name string `json:"name"`
}

// Join subscribes the connection to a room, creating the room if needed.
type Join struct {
	Room string `json:"room"`
}

// Leave unsubscribes the connection from a room.
type Leave struct {
	Room string `json:"room"`
}

// SendMessage posts text to a room the connection has joined.
type SendMessage struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// GetRoomList requests the room-list summary of the connection's rooms.
type GetRoomList struct{}

// Disconnect is delivered by the transport when the connection terminates.
// It never arrives over the wire.
type Disconnect struct{}

func (Identify) EventName() string    { return EventIdentify }
func (Join) EventName() string        { return EventJoin }
func (Leave) EventName() string       { return EventLeave }
func (SendMessage) EventName() string { return EventSendMessage }
func (GetRoomList) EventName() string { return EventGetRoomList }
func (Disconnect) EventName() string  { return EventDisconnect }

func (Identify) inbound()    {}
func (Join) inbound()        {}
func (Leave) inbound()       {}
func (SendMessage) inbound() {}
func (GetRoomList) inbound() {}
func (Disconnect) inbound()  {}

// Outbound is an event pushed from the server to clients.
type Outbound interface {
	EventName() string
}

// RoomHistory carries the full log of a room to a connection that just joined it.
type RoomHistory struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// RoomList carries the summaries of the rooms a connection has joined.
type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

// RoomMembers carries the display names of a room's members.
type RoomMembers struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

func (Message) EventName() string     { return EventMessage }
func (RoomHistory) EventName() string { return EventRoomHistory }
func (RoomList) EventName() string    { return EventRoomList }
func (RoomMembers) EventName() string { return EventRoomMembers }

// Broadcast is one outbound event with its resolved recipients. Room is set
// when the event is scoped to a room and empty for direct sends.
type Broadcast struct {
	Room  string
	To    []ConnID
	Event Outbound
}
