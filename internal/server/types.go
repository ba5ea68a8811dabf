// Package server defines the transport errors and the JSON bodies of the
// HTTP endpoints.
package server

import (
	"errors"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/room"
)

var (
	// ErrSessionClosed is returned by Client.Send after the connection closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendBufferFull is returned by Client.Send when the peer is not
	// draining its queue. The connection is closed.
	ErrSendBufferFull = errors.New("send buffer full")
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK        bool   `json:"ok"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

type roomsResponse struct {
	Rooms []room.Stats `json:"rooms"`
}

type historyResponse struct {
	Room     string             `json:"room"`
	Messages []room.ChatPayload `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
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
