package storage

import (
	"context"
	"fmt"

	"droproom/internal/room"
)

// Unavailable stands in for the store when the database could not be
// opened. Every call fails with room.ErrPersistence so the server keeps
// answering instead of crashing.
type Unavailable struct {
	cause error
}

func NewUnavailable(cause error) *Unavailable {
	return &Unavailable{cause: cause}
}

func (u *Unavailable) err() error {
	return fmt.Errorf("%w: %v", room.ErrPersistence, u.cause)
}

func (u *Unavailable) Ping(context.Context) error { return u.err() }

func (u *Unavailable) CreateRoom(context.Context) (room.Room, error) {
	return room.Room{}, u.err()
}

func (u *Unavailable) GetRoom(context.Context, string) (room.Room, error) {
	return room.Room{}, u.err()
}

func (u *Unavailable) AppendMessage(context.Context, string, room.Draft) (room.Message, error) {
	return room.Message{}, u.err()
}

func (u *Unavailable) DeleteRoom(context.Context, string) error { return u.err() }

func (u *Unavailable) ExpiredRooms(context.Context) ([]room.Room, error) {
	return nil, u.err()
}

func (u *Unavailable) Close() error { return nil }
