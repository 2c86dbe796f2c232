package room

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the two message shapes on the wire and in storage.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Body is either Text or File.
type Body interface {
	Kind() Kind
	isBody()
}

// Text is a plain chat line.
type Text struct {
	Content string
}

func (Text) Kind() Kind { return KindText }
func (Text) isBody()    {}

// File references an object held by the storage backend. Locator is
// opaque outside the backend that produced it.
type File struct {
	Locator      string
	OriginalName string
	MimeType     string
	Size         uint64
}

func (File) Kind() Kind { return KindFile }
func (File) isBody()    {}

// Message is a stored entry of a room. Seq is the 1-based append index
// inside the room; CreatedAt is assigned by the store.
type Message struct {
	Seq        int64
	SenderID   string
	SenderName string
	CreatedAt  time.Time
	Body       Body
}

// Wire is the JSON layout of a message. For file messages Content holds
// the locator.
type Wire struct {
	Seq          int64     `json:"seq"`
	Type         Kind      `json:"type"`
	Content      string    `json:"content"`
	OriginalName string    `json:"originalName,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	Size         *uint64   `json:"size,omitempty"`
	DownloadURL  string    `json:"downloadUrl,omitempty"`
	SenderID     string    `json:"senderId"`
	SenderName   string    `json:"senderName"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Wire flattens the message. resolve may be nil.
func (m Message) Wire(resolve func(File) string) Wire {
	w := Wire{
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		CreatedAt:  m.CreatedAt,
	}
	switch body := m.Body.(type) {
	case Text:
		w.Type = KindText
		w.Content = body.Content
	case File:
		size := body.Size
		w.Type = KindFile
		w.Content = body.Locator
		w.OriginalName = body.OriginalName
		w.MimeType = body.MimeType
		w.Size = &size
		if resolve != nil {
			w.DownloadURL = resolve(body)
		}
	}
	return w
}

// Message rebuilds the tagged form. Fields that do not belong to the
// declared type are dropped.
func (w Wire) Message() (Message, error) {
	msg := Message{
		Seq:        w.Seq,
		SenderID:   w.SenderID,
		SenderName: w.SenderName,
		CreatedAt:  w.CreatedAt,
	}
	switch w.Type {
	case KindText:
		msg.Body = Text{Content: w.Content}
	case KindFile:
		if w.Size == nil {
			return Message{}, invalid("size", "required for file messages")
		}
		msg.Body = File{
			Locator:      w.Content,
			OriginalName: w.OriginalName,
			MimeType:     w.MimeType,
			Size:         *w.Size,
		}
	default:
		return Message{}, invalid("type", fmt.Sprintf("unknown message type %q", w.Type))
	}
	return msg, nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Wire(nil))
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.Message()
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}
