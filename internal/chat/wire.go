package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the ISO 8601 layout used for message timestamps on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrMalformedEvent is returned for frames that are not a valid envelope
	// or whose data does not match the event's payload.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for envelopes naming an event clients may not send.
	ErrUnknownEvent = errors.New("unknown event")
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent parses one inbound frame.
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Event
	switch env.Event {
	case EventIdentify:
		ev = &Identify{}
	case EventJoin:
		ev = &Join{}
	case EventLeave:
		ev = &Leave{}
	case EventSendMessage:
		ev = &SendMessage{}
	case EventGetRoomList:
		return GetRoomList{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformedEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
	}

	switch e := ev.(type) {
	case *Identify:
		return *e, nil
	case *Join:
		return *e, nil
	case *Leave:
		return *e, nil
	case *SendMessage:
		return *e, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

// EncodeOutbound wraps an outbound event in an Envelope.
func EncodeOutbound(ev Outbound) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	frame, err := json.Marshal(Envelope{Event: ev.EventName(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", ev.EventName(), err)
	}
	return frame, nil
}

type wireMessage struct {
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Room      string `json:"room"`
}

// MarshalJSON renders the timestamp in UTC with millisecond precision.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		Author:    m.Author,
		Text:      m.Text,
		Timestamp: m.Timestamp.UTC().Format(TimestampLayout),
		Room:      m.Room,
	})
}

// UnmarshalJSON accepts any RFC 3339 timestamp.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed
	}

	*m = Message{Author: w.Author, Text: w.Text, Timestamp: ts, Room: w.Room}
	return nil
}
