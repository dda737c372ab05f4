// Package server defines shared transport types and utility helpers that
// are reused across client and hub logic.
package server

import (
	"errors"
	"strings"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// ErrHubClosed is returned by hub queries issued after shutdown.
var ErrHubClosed = errors.New("hub closed")

// InboundEvent is a decoded client event tagged with the connection it came from.
type InboundEvent struct {
	Conn  chat.ConnID
	Event chat.Event
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
