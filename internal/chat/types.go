package chat

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// SystemAuthor is the reserved author of engine generated join and leave notices.
const SystemAuthor = "admin"

// ConnID identifies one live transport connection. It is assigned by the
// transport and stays stable for the lifetime of the socket.
type ConnID string

// Message is an immutable entry in a room's log.
type Message struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Room      string    `json:"room"`
}

// IsSystem reports whether the message was generated by the engine. Clients
// exclude system messages from unread counts.
func (m Message) IsSystem() bool {
	return m.Author == SystemAuthor
}

// RoomSummary is the room-list view of a single room.
type RoomSummary struct {
	Name        string   `json:"name"`
	MemberCount int      `json:"memberCount"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// RoomSnapshot is the raw store view of a room: member connections in join
// order and a copy of its log.
type RoomSnapshot struct {
	Name     string
	Members  []ConnID
	Messages []Message
}

// RoomView is the presentation view of a room, with members resolved to
// display names.
type RoomView struct {
	Name     string    `json:"name"`
	Members  []string  `json:"members"`
	Messages []Message `json:"messages"`
}

// Stats summarizes the engine state.
type Stats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}

// normalizeName trims surrounding whitespace and folds the name to NFC so
// that visually identical names address the same room or identity.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
