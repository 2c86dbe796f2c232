package room

import (
	"encoding/json"
	"time"
)

// TTL is how long a room stays readable after creation.
const TTL = 1800 * time.Second

// Room is a live, code-addressed container of messages. Messages are in
// append order.
type Room struct {
	ID        string
	CreatedAt time.Time
	Messages  []Message
}

// ExpiresAt is the instant the room stops being readable.
func (r Room) ExpiresAt() time.Time {
	return r.CreatedAt.Add(TTL)
}

// Expired reports whether the room is at least TTL old at now.
func (r Room) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt())
}

// Files returns the file references held by the room.
func (r Room) Files() []File {
	var files []File
	for _, msg := range r.Messages {
		if file, ok := msg.Body.(File); ok {
			files = append(files, file)
		}
	}
	return files
}

// Document is the JSON shape of a room returned to clients.
type Document struct {
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Messages  []Wire    `json:"messages"`
}

// Document renders the room. resolve, when non-nil, fills the download
// URL of file messages.
func (r Room) Document(resolve func(File) string) Document {
	doc := Document{
		RoomID:    r.ID,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt(),
		Messages:  make([]Wire, 0, len(r.Messages)),
	}
	for _, msg := range r.Messages {
		doc.Messages = append(doc.Messages, msg.Wire(resolve))
	}
	return doc
}

func (r Room) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document(nil))
}
