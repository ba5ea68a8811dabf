package room

import (
	"errors"
	"fmt"
)

var (
	// ErrCoordinatorStopped is returned when an event is submitted to a room
	// whose loop has exited.
	ErrCoordinatorStopped = errors.New("room coordinator stopped")
	// ErrNotConnecting is returned by Join for a session that already joined
	// or was closed.
	ErrNotConnecting = errors.New("session is not connecting")
	// ErrInvalidRoomName is returned for names that cannot address a room.
	ErrInvalidRoomName = errors.New("invalid room name")
	// ErrManagerClosed is returned by Get after Shutdown.
	ErrManagerClosed = errors.New("room manager is shut down")
)

type sendPanicError struct {
	value any
}

func (e *sendPanicError) Error() string {
	return fmt.Sprintf("send panicked: %v", e.value)
}
